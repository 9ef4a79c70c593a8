// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelPropagatesToChildren(t *testing.T) {
	root := NewCancelRoot()
	child := root.Child()
	grandchild := child.Child()

	root.Cancel("shutdown")

	assert.True(t, root.IsCancelled())
	assert.True(t, child.IsCancelled())
	assert.True(t, grandchild.IsCancelled())
	assert.Equal(t, "shutdown", grandchild.Reason())

	select {
	case <-grandchild.Done():
	case <-time.After(50 * time.Millisecond):
		t.Fatal("grandchild done channel never closed")
	}
}

func TestCancelChildOfCancelledParent(t *testing.T) {
	root := NewCancelRoot()
	root.Cancel("too late")

	child := root.Child()
	assert.True(t, child.IsCancelled())
	assert.Equal(t, "too late", child.Reason())
}

func TestCancelIdempotentFirstReasonWins(t *testing.T) {
	token := NewCancelRoot()
	token.Cancel("first")
	token.Cancel("second")
	assert.Equal(t, "first", token.Reason())
}

func TestCancelCheck(t *testing.T) {
	token := NewCancelRoot()
	require.NoError(t, token.Check())

	token.Cancel("budget gone")
	err := token.Check()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.Contains(t, err.Error(), "budget gone")
}

func TestCancelContextBridge(t *testing.T) {
	token := NewCancelRoot()
	ctx, cancel := token.ContextFrom(context.Background())
	defer cancel()

	token.Cancel("stop")
	select {
	case <-ctx.Done():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("context not cancelled after token fired")
	}
}
