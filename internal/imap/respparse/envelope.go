package respparse

import (
	"fmt"
	"strings"
	"time"

	"github.com/inboxcore/mailcore/internal/charset"
)

// Address is one parsed ENVELOPE address tuple: (personal-name,
// source-route, mailbox, host), any of which may be absent (NIL).
type Address struct {
	Name       string
	SourceRoute string
	Mailbox    string
	Host       string
}

// String formats the address the way a mail header would:
// `"Name" <mbox@host>` when all three are present, `mbox@host` otherwise.
func (a Address) String() string {
	addr := a.Mailbox
	if a.Host != "" {
		addr = a.Mailbox + "@" + a.Host
	}
	if a.Name != "" && a.Mailbox != "" && a.Host != "" {
		return fmt.Sprintf("%q <%s>", a.Name, addr)
	}
	return addr
}

// Envelope is the ten-field ENVELOPE structure (RFC 3501 §7.4.2).
type Envelope struct {
	Date          string
	Subject       string
	From          []Address
	Sender        []Address
	ReplyTo       []Address
	To            []Address
	CC            []Address
	BCC           []Address
	InReplyTo     string
	MessageID     string
	ParsedDate    time.Time
	InReplyToIDs  []string
	ReferenceIDs  []string
}

// ParseEnvelope parses an ENVELOPE list token (the parenthesised
// ten-field structure that follows the ENVELOPE keyword in a FETCH
// response) into an Envelope. Subject and personal names are passed
// through RFC 2047 decoding before being stored.
func ParseEnvelope(tok Token) (Envelope, error) {
	if tok.Kind != List {
		return Envelope{}, fmt.Errorf("respparse: ENVELOPE is not a list")
	}
	f := tok.Children
	get := func(i int) Token {
		if i < len(f) {
			return f[i]
		}
		return Token{Kind: Atom, Atom: "NIL"}
	}

	env := Envelope{
		Date:      textOrEmpty(get(0)),
		Subject:   charset.DecodeEncodedWords(textOrEmpty(get(1))),
		From:      parseAddressList(get(2)),
		Sender:    parseAddressList(get(3)),
		ReplyTo:   parseAddressList(get(4)),
		To:        parseAddressList(get(5)),
		CC:        parseAddressList(get(6)),
		BCC:       parseAddressList(get(7)),
		InReplyTo: textOrEmpty(get(8)),
		MessageID: textOrEmpty(get(9)),
	}
	if env.Date != "" {
		if t, err := ParseInternalDateLike(env.Date); err == nil {
			env.ParsedDate = t
		} else if t, err := time.Parse(time.RFC1123Z, env.Date); err == nil {
			env.ParsedDate = t
		}
	}
	env.InReplyToIDs = splitMessageIDs(env.InReplyTo)
	return env, nil
}

func textOrEmpty(tok Token) string {
	if tok.IsNil() {
		return ""
	}
	return tok.Text()
}

func parseAddressList(tok Token) []Address {
	if tok.IsNil() || tok.Kind != List {
		return nil
	}
	addrs := make([]Address, 0, len(tok.Children))
	for _, child := range tok.Children {
		if child.Kind != List {
			continue
		}
		addrs = append(addrs, parseAddressTuple(child))
	}
	return addrs
}

func parseAddressTuple(tok Token) Address {
	f := tok.Children
	get := func(i int) string {
		if i < len(f) && !f[i].IsNil() {
			return f[i].Text()
		}
		return ""
	}
	return Address{
		Name:        charset.DecodeEncodedWords(get(0)),
		SourceRoute: get(1),
		Mailbox:     get(2),
		Host:        get(3),
	}
}

func splitMessageIDs(s string) []string {
	if s == "" {
		return nil
	}
	var ids []string
	var cur strings.Builder
	inAngle := false
	for _, r := range s {
		switch r {
		case '<':
			inAngle = true
			cur.Reset()
		case '>':
			if inAngle {
				ids = append(ids, cur.String())
				inAngle = false
			}
		default:
			if inAngle {
				cur.WriteRune(r)
			}
		}
	}
	return ids
}
