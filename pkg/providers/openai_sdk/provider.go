// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

// Package openai_sdk adapts the official OpenAI SDK to the providers.Provider
// interface.
package openai_sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/eren23/attocode-sub003/pkg/providers"
)

const (
	defaultModel          = "gpt-4o"
	defaultRequestTimeout = 120 * time.Second
)

type Provider struct {
	client *openai.Client
}

type Option func(*config)

type config struct {
	timeout time.Duration
	baseURL string
}

func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *config) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *config) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func NewProvider(apiKey string, opts ...Option) *Provider {
	cfg := &config{timeout: defaultRequestTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	reqOpts := []option.RequestOption{
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	client := openai.NewClient(reqOpts...)
	return &Provider{client: &client}
}

func (p *Provider) GetDefaultModel() string { return defaultModel }

func (p *Provider) Chat(
	ctx context.Context,
	messages []providers.Message,
	opts providers.ChatOptions,
) (*providers.ChatResponse, error) {
	model := opts.Model
	if model == "" {
		model = defaultModel
	}

	params := openai.ChatCompletionNewParams{
		Model:    normalizeModel(model),
		Messages: buildChatMessages(messages, opts.System),
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Opt(int64(opts.MaxTokens))
	}
	if opts.Temperature != nil {
		params.Temperature = openai.Opt(*opts.Temperature)
	}
	if opts.ResponseFormat == "json" {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, providers.NewProviderError(apiErr.StatusCode, "openai API call",
				fmt.Errorf("OpenAI API request failed (status=%d): %s",
					apiErr.StatusCode, strings.TrimSpace(apiErr.Message)))
		}
		return nil, &providers.ProviderError{
			Retryable: true,
			Reason:    "openai transport",
			Err:       err,
		}
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, &providers.ProviderError{Reason: "openai empty response",
			Err: fmt.Errorf("OpenAI API returned no choices")}
	}

	choice := resp.Choices[0]
	return &providers.ChatResponse{
		Content:    choice.Message.Content,
		StopReason: normalizeFinishReason(choice.FinishReason),
		ToolCalls:  parseChoiceToolCalls(choice.Message.ToolCalls),
		Usage: providers.Usage{
			InputTokens:     int(resp.Usage.PromptTokens),
			OutputTokens:    int(resp.Usage.CompletionTokens),
			CacheReadTokens: int(resp.Usage.PromptTokensDetails.CachedTokens),
		},
	}, nil
}

func normalizeModel(model string) string {
	trimmed := strings.TrimSpace(model)
	if strings.HasPrefix(strings.ToLower(trimmed), "openai/") {
		return trimmed[len("openai/"):]
	}
	return trimmed
}

func normalizeFinishReason(reason string) string {
	switch reason {
	case "tool_calls", "function_call":
		return "tool_calls"
	case "length":
		return "length"
	default:
		return "stop"
	}
}

func buildChatMessages(messages []providers.Message, system string) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			out = append(out, openai.SystemMessage(msg.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func parseChoiceToolCalls(calls []openai.ChatCompletionMessageToolCallUnion) []providers.ToolCall {
	if len(calls) == 0 {
		return nil
	}

	result := make([]providers.ToolCall, 0, len(calls))
	for _, call := range calls {
		switch v := call.AsAny().(type) {
		case openai.ChatCompletionMessageFunctionToolCall:
			result = append(result, providers.ToolCall{
				ID:        v.ID,
				Name:      v.Function.Name,
				Arguments: json.RawMessage(v.Function.Arguments),
			})
		}
	}
	return result
}
