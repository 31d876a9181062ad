package respparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FetchLine is the parsed shape of a `* n FETCH (..)` untagged
// response: the message sequence number plus whichever of UID, FLAGS,
// INTERNALDATE, ENVELOPE, BODYSTRUCTURE were present in the data list.
type FetchLine struct {
	SeqNum        uint32
	UID           uint32
	HasUID        bool
	Flags         []string
	HasFlags      bool
	InternalDate  time.Time
	HasInternal   bool
	Envelope      *Envelope
	BodyStructure *BodyStructure
	Sections      map[string]Token // raw leaf tokens keyed by e.g. "BODY[1]", "BODY[TEXT]"
}

// ParseFetch parses the tokens of a `* n FETCH (..)` line (tokens[0]
// == "*", tokens[1] == seq num, tokens[2] == "FETCH", tokens[3] ==
// the parenthesised data list).
func ParseFetch(tokens []Token) (FetchLine, error) {
	if len(tokens) < 4 {
		return FetchLine{}, fmt.Errorf("respparse: FETCH line too short")
	}
	if !strings.EqualFold(tokens[0].Text(), "*") {
		return FetchLine{}, fmt.Errorf("respparse: not an untagged response")
	}
	seq, err := strconv.ParseUint(tokens[1].Text(), 10, 32)
	if err != nil {
		return FetchLine{}, fmt.Errorf("respparse: bad sequence number: %w", err)
	}
	if !strings.EqualFold(tokens[2].Text(), "FETCH") {
		return FetchLine{}, fmt.Errorf("respparse: expected FETCH keyword")
	}
	data := tokens[3]
	if data.Kind != List {
		return FetchLine{}, fmt.Errorf("respparse: FETCH data is not a list")
	}

	fl := FetchLine{SeqNum: uint32(seq), Sections: map[string]Token{}}
	children := data.Children
	for i := 0; i+1 < len(children); i += 2 {
		key := strings.ToUpper(children[i].Text())
		// A section with a header-field list, e.g. BODY[HEADER.FIELDS (A B)],
		// tokenises as the opening atom, the field-name list and a closing
		// "]" atom; fold the three back into one key.
		if strings.Contains(key, "[") && !strings.Contains(key, "]") && children[i+1].Kind == List &&
			i+3 < len(children) && strings.HasPrefix(children[i+2].Text(), "]") {
			names := strings.ToUpper(strings.Join(tokensToStrings(children[i+1]), " "))
			key += " (" + names + ")" + strings.ToUpper(children[i+2].Text())
			i += 2
		}
		val := children[i+1]
		switch {
		case key == "UID":
			u, err := strconv.ParseUint(val.Text(), 10, 32)
			if err == nil {
				fl.UID = uint32(u)
				fl.HasUID = true
			}
		case key == "FLAGS":
			fl.Flags = tokensToStrings(val)
			fl.HasFlags = true
		case key == "INTERNALDATE":
			if t, err := ParseInternalDateLike(val.Text()); err == nil {
				fl.InternalDate = t
				fl.HasInternal = true
			}
		case key == "ENVELOPE":
			env, err := ParseEnvelope(val)
			if err == nil {
				fl.Envelope = &env
			}
		case key == "BODYSTRUCTURE", key == "BODY" && val.Kind == List:
			// A bare "BODY" keyword only carries a structure list when its
			// value is itself a list; "BODY[section]" data items are
			// handled by the prefix case below and never reach here
			// because their key includes the bracketed section.
			bs, err := ParseBodyStructure(val)
			if err == nil {
				fl.BodyStructure = bs
			}
		case strings.HasPrefix(key, "BODY[") || strings.HasPrefix(key, "BODY.PEEK["):
			fl.Sections[key] = val
		}
	}
	return fl, nil
}

func tokensToStrings(tok Token) []string {
	if tok.Kind != List {
		return nil
	}
	out := make([]string, 0, len(tok.Children))
	for _, c := range tok.Children {
		out = append(out, c.Text())
	}
	return out
}

// ExtractUID scans a raw `* n FETCH (..)` line's tokens for the UID
// data item without building a full FetchLine.
func ExtractUID(tokens []Token) (uint32, bool) {
	fl, err := ParseFetch(tokens)
	if err != nil {
		return 0, false
	}
	return fl.UID, fl.HasUID
}

// ExtractFlags splits a FLAGS (..) list on whitespace; system flags
// begin with a backslash.
func ExtractFlags(tok Token) []string {
	return tokensToStrings(tok)
}

// IsSystemFlag reports whether flag is a system flag (\Seen, \Answered..).
func IsSystemFlag(flag string) bool {
	return strings.HasPrefix(flag, `\`)
}

// internalDateLayout is the POSIX-locale format IMAP uses for
// INTERNALDATE and ENVELOPE date strings: "02-Jan-2006 15:04:05 -0700".
const internalDateLayout = "02-Jan-2006 15:04:05 -0700"

// ParseInternalDateLike parses an IMAP INTERNALDATE-shaped string
// (dd-MMM-yyyy HH:mm:ss ±ZZZZ). The day field may be space-padded
// rather than zero-padded (RFC 3501 allows " 1-Jan-2006").
func ParseInternalDateLike(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	// Normalise a space-padded day ("_2-Jan-2006" shape, left as a single
	// digit once trimmed) to zero-padded so a single layout string suffices.
	if len(s) > 1 && s[1] == '-' {
		s = "0" + s
	}
	return time.Parse(internalDateLayout, s)
}
