// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package providers

import (
	"context"

	"golang.org/x/time/rate"
)

// ThrottledProvider wraps a Provider with a token-bucket rate limit so a
// swarm of workers sharing one API key cannot stampede the upstream API.
type ThrottledProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewThrottledProvider limits calls to requestsPerMinute with a burst of
// burst calls. requestsPerMinute <= 0 disables throttling.
func NewThrottledProvider(inner Provider, requestsPerMinute, burst int) *ThrottledProvider {
	var limiter *rate.Limiter
	if requestsPerMinute > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
	return &ThrottledProvider{inner: inner, limiter: limiter}
}

func (p *ThrottledProvider) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, &ProviderError{Reason: "throttle wait", Err: err}
		}
	}
	return p.inner.Chat(ctx, messages, opts)
}
