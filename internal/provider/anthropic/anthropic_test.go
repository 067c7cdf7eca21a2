// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package anthropic_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adviso-dev/adviso/internal/provider"
	"github.com/adviso-dev/adviso/internal/provider/anthropic"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := anthropic.New(anthropic.Config{})
	require.Error(t, err)

	c, err := anthropic.New(anthropic.Config{APIKey: "test-key"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.Name())
}

func TestBuildParams_SegmentsBecomeSystemBlocks(t *testing.T) {
	req := provider.Request{
		Segments: []provider.Segment{
			{ID: "identity", Text: "You are a financial advisor.", Cache: true},
			{ID: "knowledge", Text: "Client prefers index funds.", Cache: true},
			{ID: "session", Text: "Today's focus: retirement planning."},
		},
		Messages: []provider.Message{
			{Role: provider.MessageRoleUser, Content: "Should I rebalance?"},
		},
		MaxTokens: 1024,
	}

	params, err := anthropic.BuildParams(req, anthropic.DefaultModel)
	require.NoError(t, err)

	// Layer order is preserved and cache markers land on the flagged blocks.
	require.Len(t, params.System, 3)
	assert.Equal(t, "You are a financial advisor.", params.System[0].Text)
	assert.Equal(t, "Today's focus: retirement planning.", params.System[2].Text)

	cached, err := json.Marshal(params.System[1])
	require.NoError(t, err)
	assert.Contains(t, string(cached), "cache_control")

	uncached, err := json.Marshal(params.System[2])
	require.NoError(t, err)
	assert.NotContains(t, string(uncached), "cache_control")

	assert.Equal(t, int64(1024), params.MaxTokens)
	assert.Equal(t, anthropic.DefaultModel, string(params.Model))
	require.Len(t, params.Messages, 1)
}

func TestBuildParams_Defaults(t *testing.T) {
	params, err := anthropic.BuildParams(provider.Request{
		Messages: []provider.Message{{Role: provider.MessageRoleUser, Content: "hi"}},
	}, "claude-haiku-4-5")
	require.NoError(t, err)

	assert.Equal(t, "claude-haiku-4-5", string(params.Model))
	assert.Equal(t, int64(4096), params.MaxTokens)
	assert.Empty(t, params.System)
}

func TestConvertMessages_RejectsUnknownRole(t *testing.T) {
	_, err := anthropic.ConvertMessages([]provider.Message{
		{Role: "system", Content: "nope"},
	})
	require.Error(t, err)
}
