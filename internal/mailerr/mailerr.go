// Package mailerr implements the error taxonomy: a small set of
// tagged error kinds that propagate from the transport
// up through the orchestrator, plus non-fatal decode warnings that
// accumulate on render results instead of aborting a pipeline.
package mailerr

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Kind tags the class of failure so callers can branch on it without
// parsing human-readable text.
type Kind string

const (
	InvalidState       Kind = "invalid_state"
	ConnectTimeout      Kind = "connect_timeout"
	ConnectRefused      Kind = "connect_refused"
	NetworkUnreachable  Kind = "network_unreachable"
	TLSHandshake        Kind = "tls_handshake"
	BadGreeting         Kind = "bad_greeting"
	SendFailed          Kind = "send_failed"
	ReceiveFailed       Kind = "receive_failed"
	ConnectionReset     Kind = "connection_reset"
	ProtocolError       Kind = "protocol_error"
	ParseError          Kind = "parse_error"
	CacheMiss           Kind = "cache_miss"
	CacheVersionStale   Kind = "cache_version_stale"
	Closed              Kind = "closed"
)

// Error is the taxonomy's concrete error type. It wraps a cause with
// eris so the originating stack survives across package boundaries,
// while still comparing equal (via Is) to its Kind sentinel.
type Error struct {
	kind   Kind
	reason string
	cause  error
}

// New creates a kind-tagged error with a human-readable reason and no
// further cause.
func New(kind Kind, reason string) *Error {
	return &Error{kind: kind, reason: reason, cause: eris.New(reason)}
}

// Wrap tags an existing error with a kind, preserving it as the cause.
func Wrap(kind Kind, reason string, cause error) *Error {
	if cause == nil {
		return New(kind, reason)
	}
	return &Error{kind: kind, reason: reason, cause: eris.Wrap(cause, reason)}
}

func (e *Error) Error() string {
	if e.reason == "" {
		return string(e.kind)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.reason)
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's tag.
func (e *Error) Kind() Kind { return e.kind }

// Is reports whether target is a *Error of the same Kind, so callers can
// write errors.Is(err, mailerr.Sentinel(mailerr.ParseError)) against a
// *Error value built with New/Wrap. Kind itself is not an error, so we
// special-case the comparison here rather than relying on eris/errors
// machinery.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.kind == e.kind
	}
	return false
}

// KindOf extracts the Kind from err, if any, returning ok=false for
// errors outside this taxonomy.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.kind, true
	}
	return "", false
}

// Sentinel helpers so call sites can write e.g.
// errors.Is(err, mailerr.Sentinel(mailerr.Closed)).
func Sentinel(kind Kind) error {
	return &Error{kind: kind}
}

// WarningKind tags a non-fatal DecodeWarning.
type WarningKind string

const (
	WarnUnknownCharset     WarningKind = "unknown_charset"
	WarnMisencodingRepaired WarningKind = "misencoding_repaired"
	WarnCIDNotFound        WarningKind = "cid_not_found"
	WarnBlockedRemote      WarningKind = "blocked_remote"
	WarnUnknownTransferEnc WarningKind = "unknown_transfer_encoding"
	WarnMissingSection     WarningKind = "missing_section"
	WarnRemovedScript      WarningKind = "removed_script"
	WarnBoundaryRecovered  WarningKind = "boundary_recovered"
	WarnFallbackRender     WarningKind = "fallback_render"
)

// Warning is a non-fatal, accumulating note. It is never returned as an
// error — callers append Warnings to a result's Warnings slice.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}

// Warn constructs a Warning.
func Warn(kind WarningKind, format string, args ...any) Warning {
	return Warning{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
