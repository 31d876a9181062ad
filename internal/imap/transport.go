// Package imap implements the IMAP4rev1 transport, connection pool,
// and session state machine. The wire-level response grammar itself
// (tokenising S-expressions, extracting ENVELOPE/BODYSTRUCTURE/FLAGS)
// is deliberately not delegated to an existing IMAP client library: it
// is the subsystem under study here (see DESIGN.md), implemented in
// the sibling respparse package.
package imap

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/inboxcore/mailcore/internal/logging"
	"github.com/inboxcore/mailcore/internal/mailerr"
	"github.com/rs/zerolog"
)

// TLSMode selects how the transport secures the connection.
type TLSMode string

const (
	TLSImplicit TLSMode = "implicit"
	TLSStartTLS TLSMode = "starttls"
	TLSNone     TLSMode = "none"
)

// TransportConfig configures Transport.Open.
type TransportConfig struct {
	Host           string
	Port           int
	TLS            TLSMode
	SNI            string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	IdleTimeout    time.Duration
}

func (c TransportConfig) sniHost() string {
	if c.SNI != "" {
		return c.SNI
	}
	return c.Host
}

// deadlineConn wraps a net.Conn to apply a read deadline before every
// Read, so ReceiveUntil's idle/hard timeouts are enforced at the
// socket level rather than only in a higher-level select loop. Grounded
// on the teacher's own deadlineConn (internal/imap/client.go).
type deadlineConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.Conn.Write(b)
}

// Transport is a single long-lived TCP/TLS connection carrying
// interleaved IMAP commands, literals, and untagged responses. It does
// not interpret response grammar; it only knows about lines and
// literals.
type Transport struct {
	conn   net.Conn
	reader *bufio.Reader
	log    zerolog.Logger
	cfg    TransportConfig
}

// Open resolves, connects, completes the TLS handshake for implicit
// TLS, and consumes the server greeting, which must start with "* OK"
// or "* PREAUTH" within ConnectTimeout.
func Open(cfg TransportConfig) (*Transport, string, error) {
	log := logging.WithComponent("imap-transport")
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	var (
		conn net.Conn
		err  error
	)

	switch cfg.TLS {
	case TLSImplicit:
		tlsCfg := &tls.Config{
			ServerName: cfg.sniHost(),
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS13,
		}
		rawConn, dialErr := dialer.Dial("tcp", addr)
		if dialErr != nil {
			return nil, "", classifyDialError(dialErr)
		}
		tlsConn := tls.Client(rawConn, tlsCfg)
		if err = tlsConn.SetDeadline(time.Now().Add(cfg.ConnectTimeout)); err == nil {
			err = tlsConn.Handshake()
		}
		if err != nil {
			rawConn.Close()
			return nil, "", mailerr.Wrap(mailerr.TLSHandshake, "tls handshake failed", err)
		}
		_ = tlsConn.SetDeadline(time.Time{})
		conn = tlsConn
	case TLSStartTLS, TLSNone:
		conn, err = dialer.Dial("tcp", addr)
		if err != nil {
			return nil, "", classifyDialError(err)
		}
	default:
		return nil, "", mailerr.New(mailerr.InvalidState, "unknown tls mode")
	}

	dc := &deadlineConn{Conn: conn, readTimeout: cfg.CommandTimeout, writeTimeout: cfg.CommandTimeout}
	t := &Transport{
		conn:   dc,
		reader: bufio.NewReaderSize(dc, 64*1024),
		log:    log,
		cfg:    cfg,
	}

	greeting, err := t.readGreeting()
	if err != nil {
		conn.Close()
		return nil, "", err
	}
	log.Debug().Str("host", cfg.Host).Str("greeting", greeting).Msg("connected")
	return t, greeting, nil
}

func classifyDialError(err error) error {
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return mailerr.Wrap(mailerr.ConnectTimeout, "connect timed out", err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "refused"):
		return mailerr.Wrap(mailerr.ConnectRefused, "connection refused", err)
	case strings.Contains(msg, "unreachable") || strings.Contains(msg, "no route to host"):
		return mailerr.Wrap(mailerr.NetworkUnreachable, "network unreachable", err)
	default:
		return mailerr.Wrap(mailerr.ConnectTimeout, "connect failed", err)
	}
}

func (t *Transport) readGreeting() (string, error) {
	line, err := t.readLine(t.cfg.ConnectTimeout)
	if err != nil {
		return "", mailerr.Wrap(mailerr.BadGreeting, "failed to read greeting", err)
	}
	s := string(line)
	if !(strings.HasPrefix(s, "* OK") || strings.HasPrefix(s, "* PREAUTH")) {
		return s, mailerr.New(mailerr.BadGreeting, "unexpected greeting: "+s)
	}
	return s, nil
}

// readLine reads a single CRLF-terminated line (CRLF stripped),
// enforcing the given read timeout at the socket level.
func (t *Transport) readLine(timeout time.Duration) ([]byte, error) {
	if dc, ok := t.conn.(*deadlineConn); ok {
		dc.readTimeout = timeout
	}
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		return nil, mailerr.Wrap(mailerr.ReceiveFailed, "read failed", err)
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// SendLine appends CRLF to s and writes it as a single atomic write.
func (t *Transport) SendLine(s string) error {
	if _, err := t.conn.Write([]byte(s + "\r\n")); err != nil {
		return mailerr.Wrap(mailerr.SendFailed, "send_line failed", err)
	}
	return nil
}

// SendRaw writes bytes atomically with no framing; used only for
// literal payloads.
func (t *Transport) SendRaw(data []byte) error {
	if _, err := t.conn.Write(data); err != nil {
		return mailerr.Wrap(mailerr.SendFailed, "send_raw failed", err)
	}
	return nil
}

// UpgradeTLS tears down the plaintext connection's deadline state and
// wraps it with a TLS client, completing the handshake, after a
// successful STARTTLS "OK" response.
func (t *Transport) UpgradeTLS() error {
	inner := t.conn
	if dc, ok := inner.(*deadlineConn); ok {
		inner = dc.Conn
	}
	tlsCfg := &tls.Config{
		ServerName: t.cfg.sniHost(),
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
	}
	tlsConn := tls.Client(inner, tlsCfg)
	if err := tlsConn.SetDeadline(time.Now().Add(t.cfg.ConnectTimeout)); err != nil {
		return mailerr.Wrap(mailerr.TLSHandshake, "set deadline failed", err)
	}
	if err := tlsConn.Handshake(); err != nil {
		return mailerr.Wrap(mailerr.TLSHandshake, "starttls handshake failed", err)
	}
	_ = tlsConn.SetDeadline(time.Time{})
	dc := &deadlineConn{Conn: tlsConn, readTimeout: t.cfg.CommandTimeout, writeTimeout: t.cfg.CommandTimeout}
	t.conn = dc
	t.reader = bufio.NewReaderSize(dc, 64*1024)
	return nil
}

// Close closes the underlying connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// ReceiveResult is the outcome of one ReceiveUntil call.
type ReceiveResult struct {
	Lines      [][]byte // complete lines observed, literals already substituted in place as raw bytes appended to their owning line
	Done       bool     // a tagged completion or "+ " continuation was observed
	TimedOut   bool     // idle or hard timeout elapsed with no completion
	Truncated  bool     // a byte/line cap was hit
}

// ReceiveUntil reads from the transport until a tagged completion line
// (`<tag> OK|NO|BAD `), a "+ " continuation line, an idle/hard timeout,
// or a byte/line cap is reached. Whenever a line ends in a literal
// header "{n}", exactly n more octets are read before any further
// line splitting resumes, at the byte level, untouched by UTF-8
// decoding, so a literal payload containing CRLF is never split into
// multiple "lines".
func (t *Transport) ReceiveUntil(tag string, idleTimeout, hardTimeout time.Duration, maxBytes, maxLines int) (*ReceiveResult, error) {
	res := &ReceiveResult{}
	deadline := time.Now().Add(hardTimeout)
	totalBytes := 0

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			res.TimedOut = true
			return res, nil
		}
		perReadTimeout := idleTimeout
		if hardTimeout > 0 && remaining < perReadTimeout {
			perReadTimeout = remaining
		}

		line, err := t.readLineBuffered(perReadTimeout)
		if err != nil {
			if isTimeoutErr(err) {
				res.TimedOut = true
				return res, nil
			}
			return res, err
		}

		// Literal discipline: a line ending in "{n}\r\n" (here, after
		// CRLF trimming, ending in "{n}") means the next n octets are a
		// literal payload to be consumed atomically before resuming
		// line splitting. A single logical response line can carry more
		// than one literal back to back — e.g. a FETCH whose ENVELOPE
		// subject *and* a display name are both non-ASCII, each encoded
		// as its own "{n}" literal — so the bytes completing the literal
		// are re-checked for another trailing "{n}" header and the scan
		// loops until a segment with no literal header is read.
		full := append(append([]byte{}, line...), '\r', '\n')
		current := line
		for {
			m := literalTrailingSize(current)
			if m < 0 {
				break
			}
			payload, err := t.readExactly(m, idleTimeout)
			if err != nil {
				return res, err
			}
			full = append(full, payload...)
			totalBytes += len(payload)
			// The bytes immediately following the literal (up to the
			// next CRLF) complete this same logical line — and may
			// themselves end in another literal header.
			rest, err := t.readLineBuffered(idleTimeout)
			if err != nil {
				break
			}
			full = append(full, rest...)
			full = append(full, '\r', '\n')
			current = rest
		}

		res.Lines = append(res.Lines, full)
		totalBytes += len(full)

		if maxBytes > 0 && totalBytes >= maxBytes {
			res.Truncated = true
			return res, nil
		}
		if maxLines > 0 && len(res.Lines) >= maxLines {
			res.Truncated = true
			return res, nil
		}

		s := string(line)
		if tag != "" && isTaggedCompletion(s, tag) {
			res.Done = true
			return res, nil
		}
		if tag == "" && strings.HasPrefix(s, "+ ") {
			res.Done = true
			return res, nil
		}
	}
}

func isTaggedCompletion(line, tag string) bool {
	prefix := tag + " "
	if len(line) <= len(prefix) {
		return false
	}
	if line[:len(prefix)] != prefix {
		return false
	}
	rest := line[len(prefix):]
	return strings.HasPrefix(rest, "OK ") || strings.HasPrefix(rest, "NO ") || strings.HasPrefix(rest, "BAD ") ||
		rest == "OK" || rest == "NO" || rest == "BAD"
}

// literalTrailingSize scans a line backwards for a trailing "{n}" and
// returns n, or -1 if the line doesn't end in a literal header. The
// scan works at the byte level over ASCII digits only.
func literalTrailingSize(line []byte) int {
	if len(line) == 0 || line[len(line)-1] != '}' {
		return -1
	}
	i := len(line) - 2
	for i >= 0 && line[i] >= '0' && line[i] <= '9' {
		i--
	}
	if i < 0 || line[i] != '{' || i+1 == len(line)-1 {
		return -1
	}
	digits := line[i+1 : len(line)-1]
	if len(digits) == 0 {
		return -1
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return -1
	}
	return n
}

func (t *Transport) readLineBuffered(timeout time.Duration) ([]byte, error) {
	if dc, ok := t.conn.(*deadlineConn); ok {
		dc.readTimeout = timeout
	}
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// readExactly reads exactly n bytes, regardless of how many newlines
// they contain, satisfying the literal-integrity property.
func (t *Transport) readExactly(n int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, n)
	if dc, ok := t.conn.(*deadlineConn); ok {
		dc.readTimeout = timeout
	}
	if _, err := readFull(t.reader, buf); err != nil {
		return nil, mailerr.Wrap(mailerr.ReceiveFailed, "literal read failed", err)
	}
	return buf, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func isTimeoutErr(err error) bool {
	nerr, ok := err.(net.Error)
	return ok && nerr.Timeout()
}

// Fmt is a convenience for building tagged commands: Fmt("A1", "LOGIN %s %s", user, pass).
func Fmt(tag, format string, args ...any) string {
	return tag + " " + fmt.Sprintf(format, args...)
}
