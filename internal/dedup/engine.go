// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

// Package dedup classifies candidate knowledge against the existing base
// through a three-tier funnel: exact normalized match, semantic similarity,
// distinct. Tiers are ordered cheapest first so most repeat content never
// reaches the embedding API.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adviso-dev/adviso/internal/provider"
	"github.com/adviso-dev/adviso/internal/store"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// Tier names the classification outcome.
type Tier string

const (
	TierExact    Tier = "exact"
	TierSemantic Tier = "semantic"
	TierDistinct Tier = "distinct"
)

// SemanticThreshold is the minimum cosine similarity for the semantic tier.
const SemanticThreshold = 0.95

// Candidate is content proposed for promotion into the knowledge base.
type Candidate struct {
	Partition string
	Content   string
	// Edited marks content a human revised before approval.
	Edited bool
	// ResponseLen is the length of the full response the content came from.
	// Zero means use the content length.
	ResponseLen int
}

// Outcome reports how a candidate was classified. EntryID is the matched
// entry for exact/semantic tiers and the newly created entry for distinct.
type Outcome struct {
	Tier       Tier
	EntryID    string
	Similarity float64
}

// Engine runs the classification funnel.
type Engine struct {
	knowledge store.KnowledgeStore
	vectors   store.VectorStore
	embedder  provider.Embedder
	logger    *slog.Logger
	nowFunc   func() time.Time
}

// NewEngine creates a dedup engine over the knowledge and vector stores.
func NewEngine(knowledge store.KnowledgeStore, vectors store.VectorStore, embedder provider.Embedder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		knowledge: knowledge,
		vectors:   vectors,
		embedder:  embedder,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// SetNowFunc overrides the clock. Test hook.
func (e *Engine) SetNowFunc(f func() time.Time) {
	e.nowFunc = f
}

// Normalize produces the canonical form used for exact-tier equality:
// lowercased with runs of whitespace collapsed to single spaces.
func Normalize(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}

// Classify runs the candidate through the funnel. Exact and semantic hits
// update the matched entry in place; only distinct candidates create a new
// entry and store its embedding.
func (e *Engine) Classify(ctx context.Context, candidate Candidate) (*Outcome, error) {
	normalized := Normalize(candidate.Content)
	if normalized == "" {
		return nil, adverr.New(adverr.CodeStoreInvalidInput, "candidate content is empty",
			adverr.FieldPartition(candidate.Partition))
	}
	now := e.nowFunc().UTC()

	// Exact tier.
	match, err := e.knowledge.FindByNormalizedContent(ctx, candidate.Partition, normalized)
	switch {
	case err == nil:
		if err := e.knowledge.RecordUse(ctx, match.ID, now); err != nil {
			return nil, adverr.Wrap(err, adverr.CodeDedupStoreFailure, "recording exact-tier use",
				adverr.Field("entry_id", match.ID))
		}
		return &Outcome{Tier: TierExact, EntryID: match.ID, Similarity: 1.0}, nil
	case !adverr.IsNotFound(err):
		return nil, adverr.Wrap(err, adverr.CodeDedupStoreFailure, "exact-tier lookup",
			adverr.FieldPartition(candidate.Partition))
	}

	// Semantic tier.
	embeddings, err := e.embedder.Embed(ctx, []string{candidate.Content})
	if err != nil {
		return nil, adverr.Wrap(err, adverr.CodeDedupEmbeddingFailure, "embedding candidate",
			adverr.FieldPartition(candidate.Partition))
	}
	embedding := embeddings[0]

	results, err := e.vectors.Search(ctx, embedding, 1, candidate.Partition)
	if err != nil {
		return nil, adverr.Wrap(err, adverr.CodeDedupStoreFailure, "semantic-tier search",
			adverr.FieldPartition(candidate.Partition))
	}

	if len(results) > 0 {
		similarity := CosineFromDistance(results[0].Distance)
		if similarity >= SemanticThreshold {
			return e.absorb(ctx, candidate, normalized, results[0].ID, similarity, now)
		}
	}

	// Distinct: nothing close enough exists.
	entry := &store.KnowledgeEntry{
		ID:                uuid.NewString(),
		Partition:         candidate.Partition,
		Content:           candidate.Content,
		NormalizedContent: normalized,
		Category:          inferCategory(candidate.Content),
		Reliability:       reliability(candidate),
		UsageCount:        1,
		LastUsed:          now,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.knowledge.PutEntry(ctx, entry); err != nil {
		return nil, adverr.Wrap(err, adverr.CodeDedupStoreFailure, "creating knowledge entry",
			adverr.FieldPartition(candidate.Partition))
	}
	if err := e.vectors.Store(ctx, entry.ID, embedding, candidate.Partition); err != nil {
		return nil, adverr.Wrap(err, adverr.CodeDedupStoreFailure, "storing embedding",
			adverr.Field("entry_id", entry.ID))
	}
	return &Outcome{Tier: TierDistinct, EntryID: entry.ID}, nil
}

func (e *Engine) absorb(ctx context.Context, candidate Candidate, normalized, matchID string, similarity float64, now time.Time) (*Outcome, error) {
	if err := e.knowledge.RecordUse(ctx, matchID, now); err != nil {
		return nil, adverr.Wrap(err, adverr.CodeDedupStoreFailure, "recording semantic-tier use",
			adverr.Field("entry_id", matchID))
	}
	// The duplicate ID is a fingerprint of the normalized content, so
	// re-submitting the same near-duplicate updates its recorded score
	// instead of growing the group.
	dupID := contentFingerprint(candidate.Partition, normalized)
	if err := e.knowledge.AbsorbDuplicate(ctx, candidate.Partition, matchID, dupID, similarity); err != nil {
		return nil, adverr.Wrap(err, adverr.CodeDedupStoreFailure, "absorbing duplicate",
			adverr.Field("entry_id", matchID))
	}
	return &Outcome{Tier: TierSemantic, EntryID: matchID, Similarity: similarity}, nil
}

// CosineFromDistance converts a vec0 L2 distance between unit vectors into
// cosine similarity. For normalized embeddings, d² = 2(1 − cos).
func CosineFromDistance(distance float64) float64 {
	return 1 - distance*distance/2
}

func contentFingerprint(partition, normalized string) string {
	sum := sha256.Sum256([]byte(partition + "\x00" + normalized))
	return hex.EncodeToString(sum[:16])
}

// reliability computes the creation-time quality score: base 90, adjusted
// for human editing and response length, clamped to [50, 100].
func reliability(candidate Candidate) int {
	score := 90
	if candidate.Edited {
		score += 5
	}
	length := candidate.ResponseLen
	if length == 0 {
		length = len(candidate.Content)
	}
	if length > 500 {
		score += 5
	}
	if length < 100 {
		score -= 10
	}
	if score < 50 {
		score = 50
	}
	if score > 100 {
		score = 100
	}
	return score
}

// inferCategory assigns a coarse category from surface features of the
// content. Good enough for browsing and query filters; not a classifier.
func inferCategory(content string) string {
	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "1.") || strings.Contains(lower, "step") || strings.Contains(lower, "first,"):
		return "procedure"
	case strings.Contains(lower, "recommend") || strings.Contains(lower, "should") || strings.Contains(lower, "consider"):
		return "recommendation"
	case strings.Contains(lower, " is a ") || strings.Contains(lower, " means ") || strings.Contains(lower, " refers to "):
		return "definition"
	default:
		return "general"
	}
}
