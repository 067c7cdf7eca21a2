// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package prompt

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/adviso-dev/adviso/internal/provider"
	"github.com/adviso-dev/adviso/internal/store"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// approxCharsPerToken is the pre-flight estimation heuristic. It only needs
// to be conservative enough that the safety margin catches oversized prompts
// before a billed call.
const approxCharsPerToken = 4

// tokenSafetyMargin inflates the pre-flight estimate so borderline prompts
// are rejected locally instead of by the vendor.
const tokenSafetyMargin = 1.2

// contextEntryCount is how many knowledge entries Layer 3 pulls per request.
const contextEntryCount = 5

// Builder assembles the layered system prompt. Given identical layer content
// and an identical context result set it produces byte-identical segments;
// vendor cache matching depends on that determinism.
type Builder struct {
	knowledge store.KnowledgeStore
	vectors   store.VectorStore
	embedder  provider.Embedder
	logger    *slog.Logger

	// coreText and domainText are the Layer 1 and Layer 2 contents. Core is
	// fixed at construction; domain is refreshed out of band on its cadence.
	coreText   string
	domainText string

	// contextBudget is the model's context window in tokens.
	contextBudget int
}

// Config holds Builder construction parameters.
type Config struct {
	CoreText      string
	DomainText    string
	ContextBudget int
}

// NewBuilder creates a Builder. CoreText must be non-empty; it anchors the
// cache prefix every call shares.
func NewBuilder(cfg Config, knowledge store.KnowledgeStore, vectors store.VectorStore, embedder provider.Embedder, logger *slog.Logger) (*Builder, error) {
	if cfg.CoreText == "" {
		return nil, adverr.New(adverr.CodePromptLayerInvalid, "core layer text must not be empty")
	}
	if cfg.ContextBudget <= 0 {
		return nil, adverr.Errorf(adverr.CodePromptLayerInvalid, "context budget must be positive, got %d", cfg.ContextBudget)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Builder{
		knowledge:     knowledge,
		vectors:       vectors,
		embedder:      embedder,
		logger:        logger,
		coreText:      cfg.CoreText,
		domainText:    cfg.DomainText,
		contextBudget: cfg.ContextBudget,
	}, nil
}

// Build assembles the ordered segment list for one request. Layers 1 and 2
// are emitted verbatim; Layer 3 is rendered from a partition-scoped
// similarity search over the knowledge base. Every segment carries its own
// cache boundary so the vendor re-bills only below the first change.
func (b *Builder) Build(ctx context.Context, partition, question string) ([]provider.Segment, error) {
	segments := b.BaseSegments()

	contextText, err := b.buildContext(ctx, partition, question)
	if err != nil {
		return nil, err
	}
	if contextText != "" {
		segments = append(segments, provider.Segment{ID: LayerContext.ID, Text: contextText, Cache: true})
	}

	if err := b.checkBudget(segments, question); err != nil {
		return nil, err
	}
	return segments, nil
}

// BaseSegments returns the stable cache prefix (Layers 1 and 2) without a
// context layer. The warmer pings with these so the prefix stays cached
// without running a similarity search per ping.
func (b *Builder) BaseSegments() []provider.Segment {
	segments := []provider.Segment{
		{ID: LayerCore.ID, Text: b.coreText, Cache: true},
	}
	if b.domainText != "" {
		segments = append(segments, provider.Segment{ID: LayerDomain.ID, Text: b.domainText, Cache: true})
	}
	return segments
}

// buildContext renders Layer 3. The entry order is the search's similarity
// order, which is stable for an identical result set.
func (b *Builder) buildContext(ctx context.Context, partition, question string) (string, error) {
	if b.embedder == nil || b.vectors == nil {
		return "", nil
	}

	vecs, err := b.embedder.Embed(ctx, []string{question})
	if err != nil {
		return "", adverr.Wrap(err, adverr.CodeDedupEmbeddingFailure, "embedding question for context assembly",
			adverr.FieldPartition(partition))
	}
	if len(vecs) != 1 {
		return "", adverr.Errorf(adverr.CodeProviderResponseInvalid, "expected 1 embedding, got %d", len(vecs))
	}

	results, err := b.vectors.Search(ctx, vecs[0], contextEntryCount, partition)
	if err != nil {
		return "", adverr.Wrap(err, adverr.CodeDedupStoreFailure, "searching context knowledge",
			adverr.FieldPartition(partition))
	}
	if len(results) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("Relevant knowledge for this client:\n")
	now := time.Now()
	for _, r := range results {
		entry, err := b.knowledge.GetEntry(ctx, r.ID)
		if err != nil {
			if adverr.IsNotFound(err) {
				// Vector rows can outlive archived entries; skip.
				continue
			}
			return "", err
		}
		if entry.Archived {
			continue
		}

		sb.WriteString("- ")
		sb.WriteString(entry.Content)
		sb.WriteString("\n")

		// Serving an entry counts as use; keeps live knowledge out of the
		// archival sweep. Best effort.
		if err := b.knowledge.RecordUse(ctx, entry.ID, now); err != nil {
			b.logger.Warn("recording knowledge use failed", "entry_id", entry.ID, "error", err)
		}
	}

	text := sb.String()
	if text == "Relevant knowledge for this client:\n" {
		return "", nil
	}
	return text, nil
}

// checkBudget estimates total prompt tokens and rejects before any billed
// call when the margin-inflated estimate exceeds the context window.
func (b *Builder) checkBudget(segments []provider.Segment, question string) error {
	chars := len(question)
	for _, seg := range segments {
		chars += len(seg.Text)
	}

	estimate := float64(chars) / approxCharsPerToken * tokenSafetyMargin
	if int(estimate) > b.contextBudget {
		return adverr.New(adverr.CodePromptTokenLimitExceeded,
			"estimated prompt size exceeds context budget",
			adverr.Field("estimated_tokens", int(estimate)),
			adverr.Field("budget_tokens", b.contextBudget),
		)
	}
	return nil
}

// EstimateTokens exposes the heuristic for callers sizing their own inputs.
func EstimateTokens(text string) int {
	return len(text) / approxCharsPerToken
}
