// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package prompt

import "time"

// Layer is a static descriptor of one prompt cache layer. Descriptors are
// never mutated at runtime; they document the budget and cache expectations
// of each segment position.
type Layer struct {
	ID string
	// TokenBudget bounds how large the rendered segment may grow.
	TokenBudget int
	// TargetHitRate is the cache-read fraction this layer is expected to
	// sustain, used for reporting.
	TargetHitRate float64
	// UpdateCadence is how often the layer's content is expected to change.
	UpdateCadence time.Duration
}

// The three fixed layers, in prompt order. Layer 1 never changes, Layer 2
// changes on a multi-week cadence, Layer 3 is reassembled per request from
// the knowledge base.
var (
	LayerCore = Layer{
		ID:            "core_constraints",
		TokenBudget:   2000,
		TargetHitRate: 0.99,
		UpdateCadence: 0, // fixed for the lifetime of the deployment
	}

	LayerDomain = Layer{
		ID:            "domain_knowledge",
		TokenBudget:   8000,
		TargetHitRate: 0.95,
		UpdateCadence: 21 * 24 * time.Hour,
	}

	LayerContext = Layer{
		ID:            "context_knowledge",
		TokenBudget:   4000,
		TargetHitRate: 0.70,
		UpdateCadence: time.Hour,
	}
)

// Layers returns the three descriptors in prompt order.
func Layers() []Layer {
	return []Layer{LayerCore, LayerDomain, LayerContext}
}
