// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package anthropic

import (
	"context"
	"errors"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/adviso-dev/adviso/internal/provider"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// DefaultModel is used when a request does not name one.
const DefaultModel = "claude-sonnet-4-5"

// Config holds Anthropic client configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
	Model   string
}

// Client implements provider.Completer using the Anthropic Messages API.
type Client struct {
	client anthropicsdk.Client
	config Config
	health *provider.HealthTracker
}

// Compile-time interface check.
var _ provider.Completer = (*Client)(nil)

// New creates a new Anthropic client. Returns an error if the API key is missing.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, adverr.New(adverr.CodeProviderRequestInvalid, "anthropic: missing api_key in config")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	tracker, err := provider.NewHealthTracker(provider.DefaultHealthCooldown)
	if err != nil {
		return nil, err
	}

	return &Client{
		client: anthropicsdk.NewClient(opts...),
		config: cfg,
		health: tracker,
	}, nil
}

func (c *Client) Name() string { return "anthropic" }

func (c *Client) Available(_ context.Context) bool {
	return c.health.IsHealthy()
}

// HealthMetrics exposes the tracker state for the health endpoint.
func (c *Client) HealthMetrics() provider.HealthMetrics {
	return c.health.HealthMetrics()
}

func (c *Client) Close() error { return nil }

// Complete sends one non-streaming Messages request. Segments flagged for
// caching carry an ephemeral cache marker so the vendor writes the prefix
// once and serves cache reads on subsequent calls.
func (c *Client) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	params, err := buildParams(req, c.config.Model)
	if err != nil {
		return nil, err
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		c.health.RecordFailure()
		return nil, classifyError(err)
	}
	c.health.RecordSuccess()

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, adverr.New(adverr.CodeProviderResponseInvalid, "anthropic: response contains no text content")
	}

	return &provider.Response{
		Text:  text.String(),
		Model: string(msg.Model),
		Usage: provider.Usage{
			InputTokens:      int(msg.Usage.InputTokens),
			CacheWriteTokens: int(msg.Usage.CacheCreationInputTokens),
			CacheReadTokens:  int(msg.Usage.CacheReadInputTokens),
			OutputTokens:     int(msg.Usage.OutputTokens),
		},
	}, nil
}

// buildParams converts a provider.Request into Anthropic SDK MessageNewParams.
func buildParams(req provider.Request, defaultModel string) (anthropicsdk.MessageNewParams, error) {
	msgs, err := convertMessages(req.Messages)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, err
	}

	model := req.Model
	if model == "" {
		model = defaultModel
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}

	// Each segment becomes one system block, in layer order. The cache
	// marker goes on the block itself; the vendor caches everything up to
	// and including the marked block.
	for _, seg := range req.Segments {
		block := anthropicsdk.TextBlockParam{Text: seg.Text}
		if seg.Cache {
			block.CacheControl = anthropicsdk.NewCacheControlEphemeralParam()
		}
		params.System = append(params.System, block)
	}

	return params, nil
}

func convertMessages(msgs []provider.Message) ([]anthropicsdk.MessageParam, error) {
	result := make([]anthropicsdk.MessageParam, 0, len(msgs))

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleUser:
			result = append(result, anthropicsdk.NewUserMessage(
				anthropicsdk.NewTextBlock(msg.Content),
			))
		case provider.MessageRoleAssistant:
			result = append(result, anthropicsdk.NewAssistantMessage(
				anthropicsdk.NewTextBlock(msg.Content),
			))
		default:
			return nil, adverr.Errorf(adverr.CodeProviderRequestInvalid,
				"anthropic: unsupported message role %q", msg.Role)
		}
	}

	return result, nil
}

// classifyError maps SDK failures onto the error taxonomy so callers can
// distinguish throttling and token budget problems from plain outages.
func classifyError(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return adverr.Wrap(err, adverr.CodeProviderRateLimited, "anthropic: rate limited")
		case apiErr.StatusCode == 400 && strings.Contains(strings.ToLower(err.Error()), "token"):
			return adverr.Wrap(err, adverr.CodeProviderTokenError, "anthropic: token limit")
		case apiErr.StatusCode >= 500:
			return adverr.Wrap(err, adverr.CodeProviderUpstreamFailure, "anthropic: upstream error")
		default:
			return adverr.Wrap(err, adverr.CodeProviderRequestInvalid, "anthropic: request rejected")
		}
	}
	return adverr.Wrap(err, adverr.CodeProviderUpstreamFailure, "anthropic: request failed")
}
