// Package nerr defines Nucleus's closed error-kind tag set and the mapping
// from each kind to a JSON-RPC/app error code, per spec.md §7.
package nerr

import "fmt"

// Kind is a closed tag set, not a type hierarchy.
type Kind string

const (
	KindParseError        Kind = "ParseError"
	KindNotInitialized    Kind = "NotInitialized"
	KindToolNotFound      Kind = "ToolNotFound"
	KindToolNotVisible    Kind = "ToolNotVisible"
	KindPermissionDenied  Kind = "PermissionDenied"
	KindLockContended     Kind = "LockContended"
	KindTimeout           Kind = "Timeout"
	KindChildClosed       Kind = "ChildClosed"
	KindHandlerError      Kind = "HandlerError"
	KindAuditWriteFailed  Kind = "AuditWriteFailed"
	KindInvariantViolation Kind = "InvariantViolation"
	KindServerShuttingDown Kind = "ServerShuttingDown"
)

// codes maps each Kind to its JSON-RPC/app error code per spec.md §7.
var codes = map[Kind]int{
	KindParseError:         -32700,
	KindNotInitialized:     1001,
	KindToolNotFound:       1002,
	KindToolNotVisible:     1003,
	KindPermissionDenied:   1010,
	KindLockContended:      1020,
	KindTimeout:            1030,
	KindChildClosed:        1031,
	KindHandlerError:       1040,
	KindAuditWriteFailed:   1050,
	KindInvariantViolation: 1090,
	KindServerShuttingDown: 1091,
}

// maxMessageLen is the truncation limit for handler-exception messages
// before they are hashed into the audit entry (spec.md §7).
const maxMessageLen = 4096

// kindsByCode is the reverse of codes, built once at init. Several kinds
// never cross the wire as a bare code (e.g. ParseError's -32700 is shared
// with JSON-RPC's own parse-error convention) but every code a Nucleus
// envelope can legitimately carry round-trips through KindFromCode.
var kindsByCode = func() map[int]Kind {
	m := make(map[int]Kind, len(codes))
	for k, c := range codes {
		m[c] = k
	}
	return m
}()

// KindFromCode recovers the Kind for a JSON-RPC/app error code, e.g. when
// reconstructing an error from a decoded envelope whose Kind was lost on
// the wire. Returns KindHandlerError, ok=false for an unrecognized code.
func KindFromCode(code int) (Kind, bool) {
	if k, ok := kindsByCode[code]; ok {
		return k, true
	}
	return KindHandlerError, false
}

// Error is the single concrete error type for every Nucleus failure mode.
type Error struct {
	Kind        Kind
	Message     string
	Fingerprint string // set only for PermissionDenied
}

func (e *Error) Error() string {
	if e.Fingerprint != "" {
		return fmt.Sprintf("%s: %s (fingerprint=%s)", e.Kind, e.Message, e.Fingerprint)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Code returns the JSON-RPC/app error code for e's Kind.
func (e *Error) Code() int {
	return codes[e.Kind]
}

// New builds an Error of kind with a truncated message.
func New(kind Kind, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen]
	}
	return &Error{Kind: kind, Message: msg}
}

// Denied builds a PermissionDenied error carrying its grant fingerprint.
func Denied(fingerprint string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: "permission denied", Fingerprint: fingerprint}
}

// Code returns the JSON-RPC/app error code for an arbitrary error, falling
// back to -32603 (internal error) when err is not a *nerr.Error.
func Code(err error) int {
	if e, ok := err.(*Error); ok {
		return e.Code()
	}
	return -32603
}

// As reports whether err is a *Error of the given kind.
func As(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
