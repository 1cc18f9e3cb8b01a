package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures by how the agent recovers from them.
type ErrorKind string

const (
	// KindTransport covers connect failures and mid-session drops. Recovered
	// by the reconnection supervisor.
	KindTransport ErrorKind = "TRANSPORT"
	// KindProtocol covers malformed envelopes and commands. The offending
	// message is dropped.
	KindProtocol ErrorKind = "PROTOCOL"
	// KindNegotiation covers SDP and ICE apply failures.
	KindNegotiation ErrorKind = "NEGOTIATION"
	// KindExecution covers input subsystem rejections.
	KindExecution ErrorKind = "EXECUTION"
)

// Error carries a kind, the failed operation and the cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and operation name.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
