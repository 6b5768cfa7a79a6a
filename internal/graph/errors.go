package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks.
var (
	ErrNodeNotFound        = errors.New("node not found")
	ErrDuplicateNode       = errors.New("duplicate node id")
	ErrUnknownNodeType     = errors.New("unknown node type")
	ErrSelfConnection      = errors.New("cannot connect a node to itself")
	ErrDuplicateConnection = errors.New("connection already exists")
	ErrPortNotFound        = errors.New("port not found")
	ErrTypeMismatch        = errors.New("incompatible port types")
)

// ConnectionError is a rejected CreateConnection call. Kind is one of the
// sentinel errors above; Msg is suitable for showing to the user.
type ConnectionError struct {
	Kind error
	Msg  string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Msg
}

func (e *ConnectionError) Unwrap() error { return e.Kind }

func rejectf(kind error, format string, args ...any) *ConnectionError {
	return &ConnectionError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
