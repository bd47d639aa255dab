package types

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestFatalError(t *testing.T) {
	err := NewFatalError("velocity", FailureError, errors.Annotatef(context.DeadlineExceeded, "redis"))
	assert.Equal(t, "error on node velocity: redis: context deadline exceeded", err.Error())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	var fatal *FatalError
	assert.True(t, errors.As(err, &fatal))
	assert.Equal(t, "velocity", fatal.NodeID)
	assert.Equal(t, FailureError, fatal.Kind)

	// wrapping a fatal error keeps only the innermost cause
	rewrapped := NewFatalError("decision", FailureTimeout, err)
	assert.True(t, errors.As(rewrapped, &fatal))
	assert.Equal(t, "decision", fatal.NodeID)
	assert.Equal(t, "timeout on node decision: redis: context deadline exceeded", rewrapped.Error())

	err = NewFatalErrorf("geo", FailureNoResult, "node %s returned no result", "geo")
	assert.Equal(t, "no_result on node geo: node geo returned no result", err.Error())
	assert.Equal(t, "unknown failure", NewFatalError("x", FailurePanic, nil).(*FatalError).baseError.Error())
}
