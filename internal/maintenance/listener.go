// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package maintenance

import (
	"context"

	"github.com/google/uuid"

	"github.com/adviso-dev/adviso/internal/dedup"
	"github.com/adviso-dev/adviso/internal/store"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

var _ TurnListener = (*KnowledgePromoter)(nil)

// KnowledgePromoter reacts to turn events as they happen: an approval runs
// the turn through the dedup funnel immediately, an edit feeds the pattern
// analyzers. The weekly pipeline covers the same ground as a catch-all; the
// funnel's exact tier makes the overlap idempotent.
type KnowledgePromoter struct {
	engine   *dedup.Engine
	patterns store.PatternStore
}

// NewKnowledgePromoter wires the promoter over the dedup engine and the
// pattern store.
func NewKnowledgePromoter(engine *dedup.Engine, patterns store.PatternStore) *KnowledgePromoter {
	return &KnowledgePromoter{engine: engine, patterns: patterns}
}

// OnTurnApproved classifies the approved answer into the knowledge base.
func (p *KnowledgePromoter) OnTurnApproved(ctx context.Context, turn *store.Turn) error {
	content := turn.Answer
	if turn.Edited() {
		content = turn.EditedAnswer
	}
	_, err := p.engine.Classify(ctx, dedup.Candidate{
		Partition:   turn.Partition,
		Content:     content,
		Edited:      turn.Edited(),
		ResponseLen: len(content),
	})
	return err
}

// OnTurnEdited extracts behavioral patterns from the human revision.
func (p *KnowledgePromoter) OnTurnEdited(ctx context.Context, turn *store.Turn) error {
	if !turn.Edited() {
		return nil
	}
	for _, candidate := range ExtractPatterns(turn.Answer, turn.EditedAnswer) {
		pattern := &store.LearningPattern{
			ID:          uuid.NewString(),
			Partition:   turn.Partition,
			Type:        candidate.Type,
			Description: candidate.Description,
			Examples:    []string{candidate.Example},
			Confidence:  candidate.Confidence,
		}
		if err := p.patterns.Reinforce(ctx, pattern); err != nil {
			return adverr.Wrap(err, adverr.CodeStoreDatabaseFailure, "reinforcing pattern from edit",
				adverr.FieldPartition(turn.Partition))
		}
	}
	return nil
}
