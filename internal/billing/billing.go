// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

// Package billing turns token counters into dollar amounts. Prices are a
// static table; this package reports costs, it never enforces budgets.
package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/adviso-dev/adviso/internal/provider"
	"github.com/adviso-dev/adviso/internal/store"
)

// Pricing holds per-million-token prices in USD.
type Pricing struct {
	Input      float64
	CacheWrite float64
	CacheRead  float64
	Output     float64
}

// DefaultPricing is the current vendor price table.
func DefaultPricing() Pricing {
	return Pricing{
		Input:      3.00,
		CacheWrite: 3.75,
		CacheRead:  0.30,
		Output:     15.00,
	}
}

// Breakdown itemizes the cost of one or more vendor calls in USD.
type Breakdown struct {
	Input      float64 `json:"input"`
	CacheWrite float64 `json:"cacheWrite"`
	CacheRead  float64 `json:"cacheRead"`
	Output     float64 `json:"output"`
	Total      float64 `json:"total"`
}

const tokensPerUnit = 1_000_000

// Cost prices the usage against the table. Total is the exact sum of the
// four components.
func (p Pricing) Cost(usage provider.Usage) Breakdown {
	b := Breakdown{
		Input:      float64(usage.InputTokens) * p.Input / tokensPerUnit,
		CacheWrite: float64(usage.CacheWriteTokens) * p.CacheWrite / tokensPerUnit,
		CacheRead:  float64(usage.CacheReadTokens) * p.CacheRead / tokensPerUnit,
		Output:     float64(usage.OutputTokens) * p.Output / tokensPerUnit,
	}
	b.Total = b.Input + b.CacheWrite + b.CacheRead + b.Output
	return b
}

// CacheHitRate is the fraction of cached-prefix tokens served from the cache
// rather than written to it. Returns 0 when no prefix tokens were processed.
func CacheHitRate(usage provider.Usage) float64 {
	denominator := usage.CacheReadTokens + usage.CacheWriteTokens
	if denominator == 0 {
		return 0
	}
	return float64(usage.CacheReadTokens) / float64(denominator)
}

// CostSavings is the amount saved by cache reads: what those tokens would
// have cost at the full input price, minus what they cost at the read price.
func (p Pricing) CostSavings(usage provider.Usage) float64 {
	return float64(usage.CacheReadTokens) * (p.Input - p.CacheRead) / tokensPerUnit
}

// Accountant persists per-call usage and reports aggregate cost.
type Accountant struct {
	pricing Pricing
	usage   store.UsageStore
	logger  *slog.Logger
}

// NewAccountant creates an accountant over the usage log.
func NewAccountant(pricing Pricing, usage store.UsageStore, logger *slog.Logger) *Accountant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accountant{pricing: pricing, usage: usage, logger: logger}
}

// Record appends one call's counters to the usage log and returns its cost.
// A write failure is logged, not returned: losing one audit row must not fail
// a request that already succeeded upstream.
func (a *Accountant) Record(ctx context.Context, sessionID, model string, usage provider.Usage) Breakdown {
	record := &store.UsageRecord{
		ID:               uuid.NewString(),
		SessionID:        sessionID,
		Model:            model,
		InputTokens:      usage.InputTokens,
		CacheWriteTokens: usage.CacheWriteTokens,
		CacheReadTokens:  usage.CacheReadTokens,
		OutputTokens:     usage.OutputTokens,
		CreatedAt:        time.Now().UTC(),
	}
	if err := a.usage.Append(ctx, record); err != nil {
		a.logger.Warn("usage record write failed",
			"session_id", sessionID, "model", model, "error", err)
	}
	return a.pricing.Cost(usage)
}

// Report aggregates usage over [from, to) into a single breakdown plus the
// cache statistics for the period.
func (a *Accountant) Report(ctx context.Context, from, to time.Time) (Breakdown, float64, float64, error) {
	sum, err := a.usage.Sum(ctx, from, to)
	if err != nil {
		return Breakdown{}, 0, 0, err
	}
	usage := provider.Usage{
		InputTokens:      sum.InputTokens,
		CacheWriteTokens: sum.CacheWriteTokens,
		CacheReadTokens:  sum.CacheReadTokens,
		OutputTokens:     sum.OutputTokens,
	}
	return a.pricing.Cost(usage), CacheHitRate(usage), a.pricing.CostSavings(usage), nil
}
