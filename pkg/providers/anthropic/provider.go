// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

// Package anthropicprovider adapts the Anthropic SDK to the providers.Provider
// interface.
package anthropicprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/eren23/attocode-sub003/pkg/providers"
)

const defaultBaseURL = "https://api.anthropic.com"

const defaultMaxTokens = 4096

type Provider struct {
	client       *anthropic.Client
	baseURL      string
	defaultModel string
}

func NewProvider(apiKey string) *Provider {
	return NewProviderWithBaseURL(apiKey, "")
}

func NewProviderWithBaseURL(apiKey, apiBase string) *Provider {
	baseURL := normalizeBaseURL(apiBase)
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	)
	return &Provider{
		client:       &client,
		baseURL:      baseURL,
		defaultModel: "claude-sonnet-4-5",
	}
}

func NewProviderWithClient(client *anthropic.Client) *Provider {
	return &Provider{client: client, baseURL: defaultBaseURL, defaultModel: "claude-sonnet-4-5"}
}

func (p *Provider) GetDefaultModel() string { return p.defaultModel }

func (p *Provider) BaseURL() string { return p.baseURL }

func (p *Provider) Chat(
	ctx context.Context,
	messages []providers.Message,
	opts providers.ChatOptions,
) (*providers.ChatResponse, error) {
	params := buildParams(messages, opts, p.defaultModel)

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}

	return parseResponse(resp), nil
}

func buildParams(messages []providers.Message, opts providers.ChatOptions, fallbackModel string) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	if opts.System != "" {
		system = append(system, anthropic.TextBlockParam{Text: opts.System})
	}

	var anthropicMessages []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case "assistant":
			anthropicMessages = append(anthropicMessages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			anthropicMessages = append(anthropicMessages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	maxTokens := int64(defaultMaxTokens)
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}

	model := opts.Model
	if model == "" {
		model = fallbackModel
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  anthropicMessages,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}

	return params
}

func parseResponse(resp *anthropic.Message) *providers.ChatResponse {
	var content strings.Builder
	var toolCalls []providers.ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			tb := block.AsText()
			content.WriteString(tb.Text)
		case "tool_use":
			tu := block.AsToolUse()
			toolCalls = append(toolCalls, providers.ToolCall{
				ID:        tu.ID,
				Name:      tu.Name,
				Arguments: json.RawMessage(tu.Input),
			})
		}
	}

	stopReason := "stop"
	switch resp.StopReason {
	case anthropic.StopReasonToolUse:
		stopReason = "tool_calls"
	case anthropic.StopReasonMaxTokens:
		stopReason = "length"
	case anthropic.StopReasonEndTurn:
		stopReason = "stop"
	}

	return &providers.ChatResponse{
		Content:    content.String(),
		StopReason: stopReason,
		ToolCalls:  toolCalls,
		Usage: providers.Usage{
			InputTokens:         int(resp.Usage.InputTokens),
			OutputTokens:        int(resp.Usage.OutputTokens),
			CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
			CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
		},
	}
}

func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return providers.NewProviderError(apiErr.StatusCode, "anthropic API call",
			fmt.Errorf("claude API call: %w", err))
	}
	// Transport and context failures are retryable by default.
	return &providers.ProviderError{
		Retryable: true,
		Reason:    "anthropic transport",
		Err:       err,
	}
}

func normalizeBaseURL(apiBase string) string {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		return defaultBaseURL
	}

	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/v1")
	if base == "" {
		return defaultBaseURL
	}

	return base
}
