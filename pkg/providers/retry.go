// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package providers

import (
	"context"
	"errors"
	"time"

	"github.com/eren23/attocode-sub003/pkg/logger"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 500 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
)

// RetryingProvider retries retryable ProviderErrors with capped exponential
// backoff. Non-retryable errors and context cancellation pass through.
type RetryingProvider struct {
	inner      Provider
	maxRetries int
	baseDelay  time.Duration
}

func NewRetryingProvider(inner Provider, maxRetries int, baseDelay time.Duration) *RetryingProvider {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &RetryingProvider{inner: inner, maxRetries: maxRetries, baseDelay: baseDelay}
}

func (p *RetryingProvider) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	var lastErr error
	delay := p.baseDelay

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
		}

		resp, err := p.inner.Chat(ctx, messages, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var pErr *ProviderError
		if !errors.As(err, &pErr) || !pErr.Retryable {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		logger.WarnCF("providers", "Retrying provider call", map[string]any{
			"attempt": attempt + 1,
			"max":     p.maxRetries,
			"error":   err.Error(),
		})
	}

	return nil, lastErr
}
