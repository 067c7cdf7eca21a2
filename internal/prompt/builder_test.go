// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package prompt_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adviso-dev/adviso/internal/prompt"
	"github.com/adviso-dev/adviso/internal/store"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

func contextEntry(id, content string) *store.KnowledgeEntry {
	return &store.KnowledgeEntry{
		ID:                id,
		Partition:         "client-1",
		Content:           content,
		NormalizedContent: content,
		Reliability:       90,
		CreatedAt:         time.Now(),
	}
}

func newTestBuilder(t *testing.T, ks *fakeKnowledgeStore, vs *fakeVectorStore) *prompt.Builder {
	t.Helper()
	b, err := prompt.NewBuilder(prompt.Config{
		CoreText:      "You are a cautious financial advisor. Never give legal advice.",
		DomainText:    "Current-year contribution limits and tax brackets.",
		ContextBudget: 200000,
	}, ks, vs, &fakeEmbedder{vector: []float32{1, 0, 0}}, nil)
	require.NoError(t, err)
	return b
}

func TestBuilder_Build_LayerOrderAndCacheMarkers(t *testing.T) {
	ctx := context.Background()
	ks := newFakeKnowledgeStore(
		contextEntry("e-1", "Client holds a concentrated equity position."),
		contextEntry("e-2", "Client risk tolerance is moderate."),
	)
	vs := &fakeVectorStore{results: []store.VectorResult{
		{ID: "e-1", Distance: 0.1, Partition: "client-1"},
		{ID: "e-2", Distance: 0.2, Partition: "client-1"},
	}}

	b := newTestBuilder(t, ks, vs)

	segments, err := b.Build(ctx, "client-1", "Should I sell some stock?")
	require.NoError(t, err)
	require.Len(t, segments, 3)

	assert.Equal(t, prompt.LayerCore.ID, segments[0].ID)
	assert.Equal(t, prompt.LayerDomain.ID, segments[1].ID)
	assert.Equal(t, prompt.LayerContext.ID, segments[2].ID)
	for _, seg := range segments {
		assert.True(t, seg.Cache, "every layer carries its own cache boundary")
	}

	// Context layer renders in similarity order.
	lines := strings.Split(strings.TrimSpace(segments[2].Text), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "concentrated equity")
	assert.Contains(t, lines[2], "risk tolerance")

	// Serving the entries marked them used.
	assert.Equal(t, 1, ks.used["e-1"])
	assert.Equal(t, 1, ks.used["e-2"])
}

func TestBuilder_Build_Deterministic(t *testing.T) {
	ctx := context.Background()
	ks := newFakeKnowledgeStore(
		contextEntry("e-1", "Entry one."),
		contextEntry("e-2", "Entry two."),
	)
	vs := &fakeVectorStore{results: []store.VectorResult{
		{ID: "e-1", Distance: 0.1, Partition: "client-1"},
		{ID: "e-2", Distance: 0.2, Partition: "client-1"},
	}}

	b := newTestBuilder(t, ks, vs)

	first, err := b.Build(ctx, "client-1", "same question")
	require.NoError(t, err)
	second, err := b.Build(ctx, "client-1", "same question")
	require.NoError(t, err)

	// Byte-identical segments for identical inputs: this is what the
	// vendor's cache-hit matching keys on.
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Text, second[i].Text)
		assert.Equal(t, first[i].Cache, second[i].Cache)
	}
}

func TestBuilder_Build_SkipsArchivedAndMissingEntries(t *testing.T) {
	ctx := context.Background()

	archived := contextEntry("e-archived", "Old knowledge.")
	archived.Archived = true

	ks := newFakeKnowledgeStore(archived, contextEntry("e-live", "Live knowledge."))
	vs := &fakeVectorStore{results: []store.VectorResult{
		{ID: "e-archived", Distance: 0.1, Partition: "client-1"},
		{ID: "e-gone", Distance: 0.15, Partition: "client-1"},
		{ID: "e-live", Distance: 0.2, Partition: "client-1"},
	}}

	b := newTestBuilder(t, ks, vs)

	segments, err := b.Build(ctx, "client-1", "question")
	require.NoError(t, err)
	require.Len(t, segments, 3)
	assert.Contains(t, segments[2].Text, "Live knowledge.")
	assert.NotContains(t, segments[2].Text, "Old knowledge.")
}

func TestBuilder_Build_EmptyContextOmitsLayer(t *testing.T) {
	ctx := context.Background()
	b := newTestBuilder(t, newFakeKnowledgeStore(), &fakeVectorStore{})

	segments, err := b.Build(ctx, "client-1", "question")
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, prompt.LayerCore.ID, segments[0].ID)
	assert.Equal(t, prompt.LayerDomain.ID, segments[1].ID)
}

func TestBuilder_Build_TokenBudgetExceeded(t *testing.T) {
	ctx := context.Background()
	b, err := prompt.NewBuilder(prompt.Config{
		CoreText:      strings.Repeat("constraint ", 100),
		ContextBudget: 100, // tiny budget forces the pre-flight rejection
	}, newFakeKnowledgeStore(), &fakeVectorStore{}, &fakeEmbedder{vector: []float32{1}}, nil)
	require.NoError(t, err)

	_, err = b.Build(ctx, "client-1", "question")
	require.Error(t, err)
	assert.Equal(t, adverr.CodePromptTokenLimitExceeded, adverr.CodeOf(err))
}

func TestNewBuilder_Validation(t *testing.T) {
	_, err := prompt.NewBuilder(prompt.Config{ContextBudget: 1000}, nil, nil, nil, nil)
	require.Error(t, err, "empty core text rejected")

	_, err = prompt.NewBuilder(prompt.Config{CoreText: "x"}, nil, nil, nil, nil)
	require.Error(t, err, "non-positive budget rejected")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, prompt.EstimateTokens(""))
	assert.Equal(t, 25, prompt.EstimateTokens(strings.Repeat("a", 100)))
}
