package types

import (
	"fmt"

	"github.com/juju/errors"
)

var (
	_ error = &FatalError{}
)

// FailureKind says how a node invocation failed.
type FailureKind string

const (
	FailureError    FailureKind = "error"
	FailurePanic    FailureKind = "panic"
	FailureTimeout  FailureKind = "timeout"
	FailureNoResult FailureKind = "no_result"
)

// NewFatalError marks a node invocation that failed in a way the node
// itself did not handle.
func NewFatalError(nodeID string, kind FailureKind, otherErr error) error {
	return &FatalError{baseError: newBaseErr(otherErr), NodeID: nodeID, Kind: kind}
}

func NewFatalErrorf(nodeID string, kind FailureKind, format string, args ...interface{}) error {
	return NewFatalError(nodeID, kind, errors.Errorf(format, args...))
}

func newBaseErr(otherErr error) *baseError {
	return &baseError{unwrapErr(otherErr)}
}

// unwrapErr strips nested local wrappers so a FatalError never wraps
// another one.
func unwrapErr(err error) error {
	if err == nil {
		return nil
	}
	if ue, ok := err.(wrappedErr); ok {
		return unwrapErr(ue.UnwrapLocal())
	}
	return err
}

type wrappedErr interface {
	UnwrapLocal() error
}

type baseError struct {
	BaseErr error
}

func (e *baseError) Error() string {
	if e.BaseErr == nil {
		return "unknown failure"
	}
	return e.BaseErr.Error()
}

func (e *baseError) UnwrapLocal() error {
	return e.BaseErr
}

func (e *baseError) Unwrap() error {
	return e.BaseErr
}

type FatalError struct {
	*baseError
	NodeID string
	Kind   FailureKind
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s on node %s: %s", e.Kind, e.NodeID, e.baseError.Error())
}

// Cause returns the innermost error the node failed with.
func (e *FatalError) Cause() error {
	return e.BaseErr
}
