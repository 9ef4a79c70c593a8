// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"context"
	"fmt"
	"sync"
)

// CancelToken is one node in the cancellation tree. Cancelling a token
// propagates to every linked child; a child created after its parent was
// cancelled begins cancelled. Cancellation is irreversible and the first
// reason wins.
type CancelToken struct {
	mu        sync.Mutex
	done      chan struct{}
	cancelled bool
	reason    string
	children  []*CancelToken
}

// NewCancelRoot creates the root of a cancellation tree.
func NewCancelRoot() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Child links a new token under t. If t is already cancelled the child
// starts in the cancelled state with the same reason.
func (t *CancelToken) Child() *CancelToken {
	child := &CancelToken{done: make(chan struct{})}

	t.mu.Lock()
	if t.cancelled {
		reason := t.reason
		t.mu.Unlock()
		child.Cancel(reason)
		return child
	}
	t.children = append(t.children, child)
	t.mu.Unlock()
	return child
}

// Cancel marks the token and all linked children cancelled. Idempotent;
// only the first reason is retained.
func (t *CancelToken) Cancel(reason string) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	t.reason = reason
	children := t.children
	t.children = nil
	close(t.done)
	t.mu.Unlock()

	for _, child := range children {
		child.Cancel(reason)
	}
}

// IsCancelled reports whether the token has been cancelled.
func (t *CancelToken) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Reason returns the cancellation reason, empty if not cancelled.
func (t *CancelToken) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Check returns ErrCancelled (wrapped with the reason) if the token is set.
func (t *CancelToken) Check() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		if t.reason != "" {
			return fmt.Errorf("%w: %s", ErrCancelled, t.reason)
		}
		return ErrCancelled
	}
	return nil
}

// Done returns a channel closed when the token is cancelled.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

// ContextFrom derives a context cancelled when either the parent context or
// this token fires. The returned CancelFunc must be called to release the
// watcher goroutine.
func (t *CancelToken) ContextFrom(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
