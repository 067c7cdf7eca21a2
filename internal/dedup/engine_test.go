// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package dedup_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adviso-dev/adviso/internal/dedup"
	"github.com/adviso-dev/adviso/internal/store"
	"github.com/adviso-dev/adviso/internal/store/sqlite"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := f.vectors[text]; ok {
			out[i] = v
			continue
		}
		out[i] = []float32{0, 0, 1}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) Close() error    { return nil }

func testStores(t *testing.T) (store.KnowledgeStore, store.VectorStore) {
	t.Helper()
	dir, err := os.MkdirTemp("", "adviso-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	ks, err := sqlite.NewKnowledgeStore(filepath.Join(dir, "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ks.Close() })

	vs, err := sqlite.NewVectorStore(filepath.Join(dir, "vectors.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vs.Close() })

	return ks, vs
}

func TestEngine_ExactTierIdempotent(t *testing.T) {
	ks, vs := testStores(t)
	embedder := &fakeEmbedder{vectors: map[string][]float32{}}
	engine := dedup.NewEngine(ks, vs, embedder, nil)
	ctx := context.Background()

	content := "Rebalance the portfolio quarterly to hold the target allocation."

	first, err := engine.Classify(ctx, dedup.Candidate{Partition: "client-a", Content: content})
	require.NoError(t, err)
	assert.Equal(t, dedup.TierDistinct, first.Tier)
	require.NotEmpty(t, first.EntryID)

	// Same content again, with different casing and spacing.
	second, err := engine.Classify(ctx, dedup.Candidate{
		Partition: "client-a",
		Content:   "  Rebalance the portfolio QUARTERLY to hold the target allocation. ",
	})
	require.NoError(t, err)
	assert.Equal(t, dedup.TierExact, second.Tier)
	assert.Equal(t, first.EntryID, second.EntryID)
	assert.Equal(t, 1.0, second.Similarity)

	entry, err := ks.GetEntry(ctx, first.EntryID)
	require.NoError(t, err)
	assert.Equal(t, 2, entry.UsageCount)

	entries, err := ks.FindEntries(ctx, store.EntryQuery{Partition: "client-a"})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "exact hit must not create a second entry")
}

func TestEngine_SemanticTierAbsorbs(t *testing.T) {
	ks, vs := testStores(t)
	original := "Tax-loss harvesting offsets gains by selling losing positions."
	nearDup := "Offset gains through tax-loss harvesting of losing positions."
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		original: {1, 0, 0},
		// Unit vector with cosine 0.99 against the original.
		nearDup: {0.99, float32(math.Sqrt(1 - 0.99*0.99)), 0},
	}}
	engine := dedup.NewEngine(ks, vs, embedder, nil)
	ctx := context.Background()

	first, err := engine.Classify(ctx, dedup.Candidate{Partition: "client-a", Content: original})
	require.NoError(t, err)
	require.Equal(t, dedup.TierDistinct, first.Tier)

	second, err := engine.Classify(ctx, dedup.Candidate{Partition: "client-a", Content: nearDup})
	require.NoError(t, err)
	assert.Equal(t, dedup.TierSemantic, second.Tier)
	assert.Equal(t, first.EntryID, second.EntryID)
	assert.InDelta(t, 0.99, second.Similarity, 1e-3)

	entry, err := ks.GetEntry(ctx, first.EntryID)
	require.NoError(t, err)
	assert.Equal(t, 2, entry.UsageCount)

	group, err := ks.GetGroupByRepresentative(ctx, first.EntryID)
	require.NoError(t, err)
	require.Len(t, group.DuplicateIDs, 1)
	assert.InDelta(t, 0.99, group.SimilarityScores[group.DuplicateIDs[0]], 1e-3)

	entries, err := ks.FindEntries(ctx, store.EntryQuery{Partition: "client-a"})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "semantic hit must not create a second entry")
}

func TestEngine_BelowThresholdCreatesDistinct(t *testing.T) {
	ks, vs := testStores(t)
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"first topic":  {1, 0, 0},
		"second topic": {0, 1, 0},
	}}
	engine := dedup.NewEngine(ks, vs, embedder, nil)
	ctx := context.Background()

	first, err := engine.Classify(ctx, dedup.Candidate{Partition: "client-a", Content: "first topic"})
	require.NoError(t, err)
	second, err := engine.Classify(ctx, dedup.Candidate{Partition: "client-a", Content: "second topic"})
	require.NoError(t, err)

	assert.Equal(t, dedup.TierDistinct, second.Tier)
	assert.NotEqual(t, first.EntryID, second.EntryID)

	entries, err := ks.FindEntries(ctx, store.EntryQuery{Partition: "client-a"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestEngine_PartitionsIsolated(t *testing.T) {
	ks, vs := testStores(t)
	embedder := &fakeEmbedder{vectors: map[string][]float32{}}
	engine := dedup.NewEngine(ks, vs, embedder, nil)
	ctx := context.Background()

	content := "Keep six months of expenses in an emergency fund."

	first, err := engine.Classify(ctx, dedup.Candidate{Partition: "client-a", Content: content})
	require.NoError(t, err)
	second, err := engine.Classify(ctx, dedup.Candidate{Partition: "client-b", Content: content})
	require.NoError(t, err)

	assert.Equal(t, dedup.TierDistinct, second.Tier, "identical content in another partition is distinct")
	assert.NotEqual(t, first.EntryID, second.EntryID)
}

func TestEngine_ReliabilityScoring(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name      string
		candidate dedup.Candidate
		want      int
	}{
		{"plain medium answer", dedup.Candidate{Content: "plain answer", ResponseLen: 300}, 90},
		{"edited long answer", dedup.Candidate{Content: "edited answer", Edited: true, ResponseLen: 600}, 100},
		{"short answer", dedup.Candidate{Content: "short", ResponseLen: 50}, 80},
		{"length from content", dedup.Candidate{Content: string(long)}, 95},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ks, vs := testStores(t)
			engine := dedup.NewEngine(ks, vs, &fakeEmbedder{}, nil)

			tc.candidate.Partition = "client-a"
			outcome, err := engine.Classify(context.Background(), tc.candidate)
			require.NoError(t, err)
			require.Equal(t, dedup.TierDistinct, outcome.Tier)

			entry, err := ks.GetEntry(context.Background(), outcome.EntryID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, entry.Reliability)
		})
	}
}

func TestEngine_EmptyContentRejected(t *testing.T) {
	ks, vs := testStores(t)
	engine := dedup.NewEngine(ks, vs, &fakeEmbedder{}, nil)

	_, err := engine.Classify(context.Background(), dedup.Candidate{Partition: "client-a", Content: "   "})
	require.Error(t, err)
	assert.True(t, adverr.IsInvalidInput(err))
}

func TestEngine_EmbeddingFailureSurfaces(t *testing.T) {
	ks, vs := testStores(t)
	engine := dedup.NewEngine(ks, vs, &fakeEmbedder{err: errors.New("quota exhausted")}, nil)

	_, err := engine.Classify(context.Background(), dedup.Candidate{Partition: "client-a", Content: "fresh content"})
	require.Error(t, err)
	assert.Equal(t, adverr.CodeDedupEmbeddingFailure, adverr.CodeOf(err))
}

func TestCosineFromDistance(t *testing.T) {
	assert.InDelta(t, 1.0, dedup.CosineFromDistance(0), 1e-12)
	assert.InDelta(t, 0.0, dedup.CosineFromDistance(math.Sqrt2), 1e-12)
	assert.InDelta(t, 0.95, dedup.CosineFromDistance(math.Sqrt(0.1)), 1e-12)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hello world", dedup.Normalize("  Hello\n\tWORLD  "))
	assert.Equal(t, "", dedup.Normalize("   "))
}
