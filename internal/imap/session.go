package imap

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/inboxcore/mailcore/internal/imap/respparse"
	"github.com/inboxcore/mailcore/internal/logging"
	"github.com/inboxcore/mailcore/internal/mailerr"
	"github.com/rs/zerolog"
)

// State is a position in the session state machine:
//
//	Closed --open--> Greeted --login--> Authenticated --select--> Selected
//	                                          ^                       |
//	                                          +-------- close <-------+
//
// Any protocol-level failure drops the session straight to Closed; the
// pool is responsible for not handing out a Closed session again.
type State int

const (
	StateClosed State = iota
	StateGreeted
	StateAuthenticated
	StateSelected
)

func (s State) String() string {
	switch s {
	case StateGreeted:
		return "greeted"
	case StateAuthenticated:
		return "authenticated"
	case StateSelected:
		return "selected"
	default:
		return "closed"
	}
}

// StoreOp selects the flag mutation a UID STORE performs.
type StoreOp int

const (
	StoreAdd StoreOp = iota
	StoreRemove
	StoreReplace
)

func (op StoreOp) wireItem() string {
	switch op {
	case StoreRemove:
		return "-FLAGS.SILENT"
	case StoreReplace:
		return "FLAGS.SILENT"
	default:
		return "+FLAGS.SILENT"
	}
}

// MailboxInfo is what SELECT reports about the mailbox it just entered.
type MailboxInfo struct {
	Name           string
	Messages       uint32
	Recent         uint32
	UIDValidity    uint32
	UIDNext        uint32
	Flags          []string
	PermanentFlags []string
	ReadOnly       bool
}

// Session drives one authenticated IMAP4rev1 connection end to end:
// login, mailbox selection, UID fetch/search/store, append, logout.
// Exactly one command is ever outstanding at a time (mu serialises
// callers), matching the literal-discipline requirement that only one
// reader ever consumes the transport.
type Session struct {
	mu        sync.Mutex
	transport *Transport
	cfg       TransportConfig
	state     State
	tagN      int
	mailbox   string
	log       zerolog.Logger
}

// NewSession opens a transport and classifies the greeting into
// Greeted (plain "* OK") or Authenticated ("* PREAUTH").
func NewSession(cfg TransportConfig) (*Session, error) {
	t, greeting, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	state := StateGreeted
	if strings.HasPrefix(greeting, "* PREAUTH") {
		state = StateAuthenticated
	}
	return &Session{
		transport: t,
		cfg:       cfg,
		state:     state,
		log:       logging.WithComponent("imap-session"),
	}, nil
}

// State reports the session's current position in the state machine.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close tears down the underlying transport unconditionally.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	return s.transport.Close()
}

func (s *Session) nextTag() string {
	s.tagN++
	return fmt.Sprintf("A%04d", s.tagN)
}

func (s *Session) invalidate() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}

// commandResult is one completed tagged exchange: every untagged line
// tokenised, plus the tagged line's status word and human text.
type commandResult struct {
	status string // OK, NO, BAD
	text   string
	lines  [][]respparse.Token
}

// command sends a tagged command and collects every response line up
// to and including the tagged completion. Must be called with mu held.
func (s *Session) command(format string, args ...any) (*commandResult, error) {
	if s.state == StateClosed {
		return nil, mailerr.New(mailerr.Closed, "session is closed")
	}
	tag := s.nextTag()
	line := Fmt(tag, format, args...)
	if err := s.transport.SendLine(line); err != nil {
		s.state = StateClosed
		return nil, err
	}
	return s.collect(tag)
}

// collect reads response lines until tag's tagged completion, with mu
// already held. Shared by command() and the multi-step flows (literal
// continuations, AUTHENTICATE) that send their own lines directly.
func (s *Session) collect(tag string) (*commandResult, error) {
	res, err := s.transport.ReceiveUntil(tag, s.cfg.IdleTimeout, s.cfg.CommandTimeout, 0, 0)
	if err != nil {
		s.state = StateClosed
		return nil, err
	}
	if res.TimedOut {
		s.state = StateClosed
		return nil, mailerr.New(mailerr.ReceiveFailed, "command timed out waiting for "+tag)
	}
	if res.Truncated {
		s.state = StateClosed
		return nil, mailerr.New(mailerr.ProtocolError, "response exceeded size caps")
	}

	cr := &commandResult{}
	for _, raw := range res.Lines {
		toks, terr := tokenizeResponseLine(raw)
		if terr != nil || len(toks) == 0 {
			continue
		}
		if toks[0].Text() == tag {
			if len(toks) > 1 {
				cr.status = strings.ToUpper(toks[1].Text())
			}
			cr.text = tagTrailingText(raw, tag, cr.status)
			continue
		}
		cr.lines = append(cr.lines, toks)
	}
	if cr.status != "OK" {
		s.log.Debug().Str("tag", tag).Str("status", cr.status).Str("text", cr.text).Msg("command failed")
		return cr, mailerr.New(mailerr.ProtocolError, fmt.Sprintf("%s %s: %s", tag, cr.status, cr.text))
	}
	return cr, nil
}

// commandCtx runs fn (a command-issuing closure) in a goroutine so a
// cancelled context can return control to the caller without waiting
// for the transport's own idle/hard timeout, grounded on the teacher's
// goroutine+select pattern in SelectMailbox/GetMailboxStatus.
func (s *Session) commandCtx(ctx context.Context, fn func() (*commandResult, error)) (*commandResult, error) {
	type outcome struct {
		cr  *commandResult
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		cr, err := fn()
		ch <- outcome{cr, err}
	}()
	select {
	case <-ctx.Done():
		s.invalidate()
		return nil, ctx.Err()
	case o := <-ch:
		return o.cr, o.err
	}
}

// tagTrailingText extracts the human-readable text following the
// status word on a tagged completion line, e.g. "A0001 NO [AUTHENTICATIONFAILED] bad creds."
func tagTrailingText(raw []byte, tag, status string) string {
	prefix := tag + " " + status
	s := strings.TrimRight(string(raw), "\r\n")
	if idx := strings.Index(s, prefix); idx >= 0 {
		return strings.TrimSpace(s[idx+len(prefix):])
	}
	return s
}

// tokenizeResponseLine bridges the transport's literal-materialised
// line format (header bytes, then the literal payload appended
// in-place, then whatever trailing bytes complete the line, possibly
// repeated when more than one literal appears on the same logical
// line) to respparse's tokeniser, which expects literalOffsets naming
// exactly where in the byte stream each literal token's payload
// begins.
func tokenizeResponseLine(full []byte) ([]respparse.Token, error) {
	data := make([]byte, 0, len(full))
	literalOffsets := map[int][]byte{}

	pos := 0
	for {
		brace, n, headerEnd, ok := nextLiteralHeader(full, pos)
		if !ok {
			data = append(data, full[pos:]...)
			break
		}
		payloadStart := headerEnd + 3 // skip the closing "}" and the header's own CRLF
		if payloadStart+n > len(full) {
			// Malformed framing; treat the rest as plain text rather
			// than failing the whole line.
			data = append(data, full[pos:]...)
			break
		}
		data = append(data, full[pos:brace]...)
		payload := full[payloadStart : payloadStart+n]
		litOffset := len(data)
		data = append(data, payload...)
		literalOffsets[litOffset] = payload
		pos = payloadStart + n
	}

	data = trimTrailingCRLF(data)
	return respparse.ParseLine(data, literalOffsets)
}

// nextLiteralHeader finds the next "{n}\r\n" literal header in full at
// or after pos — not every run of digits between braces is one (a bare
// atom could coincidentally look like "{5}"), so a match is only
// trusted when the closing brace is immediately followed by CRLF,
// exactly how the transport always frames a literal. It returns the
// header's opening brace index, the literal's byte length, and the
// index of the header's closing "}" so the caller can skip past the
// header and its CRLF to reach the payload.
func nextLiteralHeader(full []byte, pos int) (brace, n, headerEnd int, ok bool) {
	for i := pos; i < len(full); i++ {
		if full[i] != '{' {
			continue
		}
		j := i + 1
		for j < len(full) && full[j] >= '0' && full[j] <= '9' {
			j++
		}
		if j == i+1 || j >= len(full) || full[j] != '}' {
			continue
		}
		if j+2 >= len(full) || full[j+1] != '\r' || full[j+2] != '\n' {
			continue
		}
		val, err := strconv.Atoi(string(full[i+1 : j]))
		if err != nil || val < 0 {
			continue
		}
		return i, val, j, true
	}
	return 0, 0, 0, false
}

func trimTrailingCRLF(b []byte) []byte {
	if n := len(b); n >= 2 && b[n-2] == '\r' && b[n-1] == '\n' {
		return b[:n-2]
	}
	return b
}

// quoteIMAPString wraps s in an IMAP quoted-string, escaping the two
// characters the grammar requires it (backslash and double quote).
// Callers passing secrets containing CR/LF would need literal syntax
// instead; that case does not arise for the login credentials this
// package handles.
func quoteIMAPString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// Login authenticates with LOGIN, falling back to AUTHENTICATE PLAIN
// when the server's capability response advertises LOGINDISABLED —
// some providers reject a plaintext LOGIN outright but still accept
// the same credentials over SASL PLAIN. Grounded on the teacher's
// loginPassword, generalised from go-imap/v2's Authenticate call to a
// hand-rolled AUTHENTICATE exchange since this package does not depend
// on go-imap/v2.
func (s *Session) Login(ctx context.Context, username, secret string) error {
	_, err := s.commandCtx(ctx, func() (*commandResult, error) {
		if s.state != StateGreeted {
			return nil, mailerr.New(mailerr.InvalidState, "login requires the greeted state")
		}
		loginDisabled, err := s.capabilityHas("LOGINDISABLED")
		if err != nil {
			return nil, err
		}
		var cr *commandResult
		if loginDisabled {
			cr, err = s.authenticatePlain(username, secret)
		} else {
			cr, err = s.command("LOGIN %s %s", quoteIMAPString(username), quoteIMAPString(secret))
		}
		if err != nil {
			return cr, err
		}
		s.state = StateAuthenticated
		return cr, nil
	})
	return err
}

// capabilityHas issues CAPABILITY and reports whether name appears in
// the response, case-insensitively. Must be called with mu held.
func (s *Session) capabilityHas(name string) (bool, error) {
	cr, err := s.command("CAPABILITY")
	if err != nil {
		return false, err
	}
	for _, line := range cr.lines {
		for _, tok := range line {
			if strings.EqualFold(tok.Text(), name) {
				return true, nil
			}
		}
	}
	return false, nil
}

// authenticatePlain runs the SASL PLAIN exchange directly over the
// transport. go-sasl's PlainClient always produces a non-empty initial
// response, so the common case needs no continuation round-trip; the
// rare server that still issues one is answered with an empty line,
// which is the standard way to decline adding anything further.
func (s *Session) authenticatePlain(username, secret string) (*commandResult, error) {
	client := sasl.NewPlainClient("", username, secret)
	_, ir, err := client.Start()
	if err != nil {
		return nil, mailerr.Wrap(mailerr.ProtocolError, "sasl plain start failed", err)
	}

	tag := s.nextTag()
	line := tag + " AUTHENTICATE PLAIN"
	if ir != nil {
		line += " " + base64.StdEncoding.EncodeToString(ir)
	}
	if err := s.transport.SendLine(line); err != nil {
		s.state = StateClosed
		return nil, err
	}

	cr, err := s.collect(tag)
	if err == nil {
		return cr, nil
	}
	// A continuation before the final tagged response only happens when
	// the server wants an explicit empty response; anything else is a
	// genuine authentication failure and collect() already classified it.
	if kind, ok := mailerr.KindOf(err); !ok || kind != mailerr.ReceiveFailed {
		return cr, err
	}
	if err := s.transport.SendLine(""); err != nil {
		s.state = StateClosed
		return nil, err
	}
	return s.collect(tag)
}

// StartTLS issues STARTTLS and, on a tagged OK, upgrades the
// connection in place, per RFC 3501 §6.2.1.
func (s *Session) StartTLS(ctx context.Context) error {
	_, err := s.commandCtx(ctx, func() (*commandResult, error) {
		if s.state != StateGreeted {
			return nil, mailerr.New(mailerr.InvalidState, "starttls requires the greeted state")
		}
		cr, err := s.command("STARTTLS")
		if err != nil {
			return cr, err
		}
		if err := s.transport.UpgradeTLS(); err != nil {
			s.state = StateClosed
			return cr, err
		}
		return cr, nil
	})
	return err
}

// Select enters a mailbox, parsing the untagged EXISTS/RECENT/FLAGS
// lines and the "* OK [UIDVALIDITY n]"-shaped response codes SELECT
// returns alongside it.
func (s *Session) Select(ctx context.Context, mailbox string) (*MailboxInfo, error) {
	var info *MailboxInfo
	_, err := s.commandCtx(ctx, func() (*commandResult, error) {
		if s.state != StateAuthenticated && s.state != StateSelected {
			return nil, mailerr.New(mailerr.InvalidState, "select requires an authenticated session")
		}
		cr, err := s.command("SELECT %s", quoteIMAPString(mailbox))
		if err != nil {
			return cr, err
		}
		info = parseSelectResponse(mailbox, cr)
		s.state = StateSelected
		s.mailbox = mailbox
		return cr, nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func parseSelectResponse(mailbox string, cr *commandResult) *MailboxInfo {
	info := &MailboxInfo{Name: mailbox}
	for _, toks := range cr.lines {
		if len(toks) < 2 || toks[0].Text() != "*" {
			continue
		}
		switch {
		case len(toks) >= 3 && strings.EqualFold(toks[2].Text(), "EXISTS"):
			if n, err := strconv.ParseUint(toks[1].Text(), 10, 32); err == nil {
				info.Messages = uint32(n)
			}
		case len(toks) >= 3 && strings.EqualFold(toks[2].Text(), "RECENT"):
			if n, err := strconv.ParseUint(toks[1].Text(), 10, 32); err == nil {
				info.Recent = uint32(n)
			}
		case strings.EqualFold(toks[1].Text(), "FLAGS") && len(toks) >= 3 && toks[2].Kind == respparse.List:
			for _, c := range toks[2].Children {
				info.Flags = append(info.Flags, c.Text())
			}
		case strings.EqualFold(toks[1].Text(), "OK"):
			parseSelectResponseCode(info, toks)
		}
	}
	return info
}

// parseSelectResponseCode picks apart a "* OK [CODE ...] text" line's
// bracketed response code, which the tokeniser hands back as an atom
// like "[UIDVALIDITY" followed by further atoms up to one ending in
// "]", since brackets are not part of the S-expression grammar proper.
func parseSelectResponseCode(info *MailboxInfo, toks []respparse.Token) {
	for i := 2; i < len(toks); i++ {
		text := toks[i].Text()
		switch {
		case strings.HasPrefix(text, "[UIDVALIDITY"):
			if i+1 < len(toks) {
				if n, err := strconv.ParseUint(strings.TrimSuffix(toks[i+1].Text(), "]"), 10, 32); err == nil {
					info.UIDValidity = uint32(n)
				}
			}
		case strings.HasPrefix(text, "[UIDNEXT"):
			if i+1 < len(toks) {
				if n, err := strconv.ParseUint(strings.TrimSuffix(toks[i+1].Text(), "]"), 10, 32); err == nil {
					info.UIDNext = uint32(n)
				}
			}
		case strings.HasPrefix(text, "[PERMANENTFLAGS"):
			// The flag list itself tokenises as a nested list right
			// after the "[PERMANENTFLAGS" atom, e.g.
			// "[PERMANENTFLAGS" (\Deleted \Seen \*) "]".
			if i+1 < len(toks) && toks[i+1].Kind == respparse.List {
				for _, c := range toks[i+1].Children {
					info.PermanentFlags = append(info.PermanentFlags, c.Text())
				}
			}
		case strings.EqualFold(text, "[READ-ONLY]"):
			info.ReadOnly = true
		}
	}
}

// Status issues STATUS without selecting the mailbox, so a caller can
// notice a UIDVALIDITY change before committing to a SELECT. Nothing in
// this module calls it.
func (s *Session) Status(ctx context.Context, mailbox string) (respparse.StatusEntry, error) {
	var entry respparse.StatusEntry
	_, err := s.commandCtx(ctx, func() (*commandResult, error) {
		if s.state != StateAuthenticated && s.state != StateSelected {
			return nil, mailerr.New(mailerr.InvalidState, "status requires an authenticated session")
		}
		cr, err := s.command("STATUS %s (MESSAGES UNSEEN UIDVALIDITY UIDNEXT)", quoteIMAPString(mailbox))
		if err != nil {
			return cr, err
		}
		for _, toks := range cr.lines {
			if len(toks) >= 2 && toks[0].Text() == "*" && strings.EqualFold(toks[1].Text(), "STATUS") {
				entry, err = respparse.ParseStatus(toks)
				if err != nil {
					return cr, mailerr.Wrap(mailerr.ParseError, "status parse failed", err)
				}
			}
		}
		return cr, nil
	})
	if err != nil {
		return respparse.StatusEntry{}, err
	}
	return entry, nil
}

// List issues LIST with the given reference/pattern (e.g. "", "*").
func (s *Session) List(ctx context.Context, reference, pattern string) ([]respparse.ListEntry, error) {
	var entries []respparse.ListEntry
	_, err := s.commandCtx(ctx, func() (*commandResult, error) {
		if s.state != StateAuthenticated && s.state != StateSelected {
			return nil, mailerr.New(mailerr.InvalidState, "list requires an authenticated session")
		}
		cr, err := s.command("LIST %s %s", quoteIMAPString(reference), quoteIMAPString(pattern))
		if err != nil {
			return cr, err
		}
		for _, toks := range cr.lines {
			if len(toks) >= 2 && toks[0].Text() == "*" && strings.EqualFold(toks[1].Text(), "LIST") {
				entry, perr := respparse.ParseList(toks)
				if perr != nil {
					continue
				}
				entries = append(entries, entry)
			}
		}
		return cr, nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// UIDFetchBodyStructure fetches and parses the BODYSTRUCTURE for uid.
func (s *Session) UIDFetchBodyStructure(ctx context.Context, uid uint32) (*respparse.BodyStructure, error) {
	var bs *respparse.BodyStructure
	_, err := s.commandCtx(ctx, func() (*commandResult, error) {
		if s.state != StateSelected {
			return nil, mailerr.New(mailerr.InvalidState, "uid fetch requires a selected mailbox")
		}
		cr, err := s.command("UID FETCH %d (BODYSTRUCTURE)", uid)
		if err != nil {
			return cr, err
		}
		for _, toks := range cr.lines {
			fl, ferr := respparse.ParseFetch(toks)
			if ferr != nil {
				continue
			}
			if fl.BodyStructure != nil {
				bs = fl.BodyStructure
			}
		}
		if bs == nil {
			return cr, mailerr.New(mailerr.ParseError, "no BODYSTRUCTURE in fetch response")
		}
		return cr, nil
	})
	if err != nil {
		return nil, err
	}
	return bs, nil
}

// UIDFetchMeta fetches ENVELOPE, FLAGS, and INTERNALDATE for uid in a
// single round trip — everything the orchestrator needs to build a
// message record before it ever looks at the body.
func (s *Session) UIDFetchMeta(ctx context.Context, uid uint32) (*respparse.FetchLine, error) {
	var fl *respparse.FetchLine
	_, err := s.commandCtx(ctx, func() (*commandResult, error) {
		if s.state != StateSelected {
			return nil, mailerr.New(mailerr.InvalidState, "uid fetch requires a selected mailbox")
		}
		cr, err := s.command("UID FETCH %d (ENVELOPE FLAGS INTERNALDATE UID)", uid)
		if err != nil {
			return cr, err
		}
		for _, toks := range cr.lines {
			parsed, ferr := respparse.ParseFetch(toks)
			if ferr != nil {
				continue
			}
			if parsed.HasUID && parsed.UID == uid {
				fl = &parsed
			}
		}
		if fl == nil {
			return cr, mailerr.New(mailerr.ParseError, "no matching FETCH data for uid")
		}
		return cr, nil
	})
	if err != nil {
		return nil, err
	}
	return fl, nil
}

// UIDFetchSections batch-fetches BODY.PEEK[<section>] for every
// section id given, returning the raw octets keyed by section id.
// PEEK is mandatory here: reading a section must never mutate \Seen.
func (s *Session) UIDFetchSections(ctx context.Context, uid uint32, sections []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(sections))
	if len(sections) == 0 {
		return out, nil
	}
	_, err := s.commandCtx(ctx, func() (*commandResult, error) {
		if s.state != StateSelected {
			return nil, mailerr.New(mailerr.InvalidState, "uid fetch requires a selected mailbox")
		}
		items := make([]string, len(sections))
		for i, sec := range sections {
			items[i] = "BODY.PEEK[" + sec + "]"
		}
		cr, err := s.command("UID FETCH %d (%s)", uid, strings.Join(items, " "))
		if err != nil {
			return cr, err
		}
		for _, toks := range cr.lines {
			fl, ferr := respparse.ParseFetch(toks)
			if ferr != nil {
				continue
			}
			for key, val := range fl.Sections {
				sec, ok := sectionFromFetchKey(key, sections)
				if !ok {
					continue
				}
				out[sec] = []byte(val.Text())
			}
		}
		return cr, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// sectionFromFetchKey matches a response data-item key like
// "BODY[1.2]" or "BODY[TEXT]" back to the section id we requested,
// since the server echoes the section without the PEEK modifier.
func sectionFromFetchKey(key string, sections []string) (string, bool) {
	prefix := "BODY["
	if strings.HasPrefix(key, "BODY.PEEK[") {
		prefix = "BODY.PEEK["
	}
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, "]") {
		return "", false
	}
	got := key[len(prefix) : len(key)-1]
	for _, sec := range sections {
		if sec == got {
			return sec, true
		}
	}
	return "", false
}

// UIDSearch issues UID SEARCH with a caller-built criteria string
// (e.g. "UNSEEN", "SINCE 01-Jan-2026") and returns the matching UIDs.
func (s *Session) UIDSearch(ctx context.Context, criteria string) ([]uint32, error) {
	var uids []uint32
	_, err := s.commandCtx(ctx, func() (*commandResult, error) {
		if s.state != StateSelected {
			return nil, mailerr.New(mailerr.InvalidState, "uid search requires a selected mailbox")
		}
		cr, err := s.command("UID SEARCH %s", criteria)
		if err != nil {
			return cr, err
		}
		for _, toks := range cr.lines {
			if len(toks) < 2 || toks[0].Text() != "*" || !strings.EqualFold(toks[1].Text(), "SEARCH") {
				continue
			}
			for _, tok := range toks[2:] {
				if n, perr := strconv.ParseUint(tok.Text(), 10, 32); perr == nil {
					uids = append(uids, uint32(n))
				}
			}
		}
		return cr, nil
	})
	if err != nil {
		return nil, err
	}
	return uids, nil
}

// UIDStore applies a flag mutation to a set of UIDs. Always issued
// .SILENT so the server does not echo a FETCH response per message.
func (s *Session) UIDStore(ctx context.Context, uids []uint32, op StoreOp, flags []string) error {
	if len(uids) == 0 {
		return nil
	}
	_, err := s.commandCtx(ctx, func() (*commandResult, error) {
		if s.state != StateSelected {
			return nil, mailerr.New(mailerr.InvalidState, "uid store requires a selected mailbox")
		}
		set := formatUIDSet(uids)
		flagList := "(" + strings.Join(flags, " ") + ")"
		return s.command("UID STORE %s %s %s", set, op.wireItem(), flagList)
	})
	return err
}

// Append uploads msg as a new message in mailbox, via the literal
// syntax, and returns the UID the server assigned (0 if the server did
// not report one — APPENDUID is optional).
func (s *Session) Append(ctx context.Context, mailbox string, flags []string, date time.Time, msg []byte) (uint32, error) {
	var uid uint32
	_, err := s.commandCtx(ctx, func() (*commandResult, error) {
		if s.state != StateAuthenticated && s.state != StateSelected {
			return nil, mailerr.New(mailerr.InvalidState, "append requires an authenticated session")
		}
		tag := s.nextTag()
		var b strings.Builder
		b.WriteString(tag)
		b.WriteString(" APPEND ")
		b.WriteString(quoteIMAPString(mailbox))
		b.WriteString(" (")
		b.WriteString(strings.Join(flags, " "))
		b.WriteString(") ")
		if !date.IsZero() {
			b.WriteString(quoteIMAPString(date.Format("02-Jan-2006 15:04:05 -0700")))
			b.WriteByte(' ')
		}
		b.WriteString(fmt.Sprintf("{%d}", len(msg)))
		if err := s.transport.SendLine(b.String()); err != nil {
			s.state = StateClosed
			return nil, err
		}

		cont, err := s.transport.ReceiveUntil("", s.cfg.IdleTimeout, s.cfg.CommandTimeout, 0, 1)
		if err != nil {
			s.state = StateClosed
			return nil, err
		}
		if cont.TimedOut || !cont.Done {
			s.state = StateClosed
			return nil, mailerr.New(mailerr.ReceiveFailed, "server did not send a literal continuation")
		}

		if err := s.transport.SendRaw(msg); err != nil {
			return nil, err
		}
		if err := s.transport.SendLine(""); err != nil {
			s.state = StateClosed
			return nil, err
		}

		cr, err := s.collect(tag)
		if err != nil {
			return cr, err
		}
		uid = parseAppendUID(cr.text)
		return cr, nil
	})
	if err != nil {
		return 0, err
	}
	return uid, nil
}

// parseAppendUID pulls the assigned UID out of an APPENDUID response
// code, e.g. "[APPENDUID 3857529045 144] APPEND completed".
func parseAppendUID(text string) uint32 {
	idx := strings.Index(text, "APPENDUID")
	if idx < 0 {
		return 0
	}
	fields := strings.Fields(text[idx:])
	if len(fields) < 3 {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSuffix(fields[2], "]"), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// Logout issues LOGOUT and closes the transport regardless of outcome.
func (s *Session) Logout(ctx context.Context) error {
	_, err := s.commandCtx(ctx, func() (*commandResult, error) {
		if s.state == StateClosed {
			return nil, nil
		}
		cr, cmdErr := s.command("LOGOUT")
		s.state = StateClosed
		return cr, cmdErr
	})
	closeErr := s.transport.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// formatUIDSet renders a sorted UID slice as an IMAP sequence set,
// collapsing consecutive runs into "a:b" ranges.
func formatUIDSet(uids []uint32) string {
	sorted := append([]uint32(nil), uids...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	var parts []string
	i := 0
	for i < len(sorted) {
		j := i
		for j+1 < len(sorted) && sorted[j+1] == sorted[j]+1 {
			j++
		}
		if j > i {
			parts = append(parts, fmt.Sprintf("%d:%d", sorted[i], sorted[j]))
		} else {
			parts = append(parts, strconv.FormatUint(uint64(sorted[i]), 10))
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}
