// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package sqlite

import (
	"path/filepath"

	"github.com/adviso-dev/adviso/internal/store"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// Stores bundles every SQLite-backed store opened under one data directory.
type Stores struct {
	Knowledge store.KnowledgeStore
	Patterns  store.PatternStore
	Turns     store.TurnStore
	RateLimit store.RateLimitStore
	Jobs      store.JobStore
	Audit     store.AuditStore
	Usage     store.UsageStore
	Vectors   store.VectorStore
}

// Open opens all stores under dataDir, one database file per concern.
// On partial failure every already-opened store is closed before returning.
func Open(dataDir string, vectorDims int) (*Stores, error) {
	// Track opened stores for cleanup on partial failure.
	var closers []interface{ Close() error }
	cleanup := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	ks, err := NewKnowledgeStore(filepath.Join(dataDir, "knowledge.db"))
	if err != nil {
		return nil, adverr.Wrap(err, adverr.CodeStoreDatabaseFailure, "creating knowledge store")
	}
	closers = append(closers, ks)

	ps, err := NewPatternStore(filepath.Join(dataDir, "patterns.db"))
	if err != nil {
		cleanup()
		return nil, adverr.Wrap(err, adverr.CodeStoreDatabaseFailure, "creating pattern store")
	}
	closers = append(closers, ps)

	ts, err := NewTurnStore(filepath.Join(dataDir, "turns.db"))
	if err != nil {
		cleanup()
		return nil, adverr.Wrap(err, adverr.CodeStoreDatabaseFailure, "creating turn store")
	}
	closers = append(closers, ts)

	rs, err := NewRateLimitStore(filepath.Join(dataDir, "ratelimit.db"))
	if err != nil {
		cleanup()
		return nil, adverr.Wrap(err, adverr.CodeStoreDatabaseFailure, "creating rate limit store")
	}
	closers = append(closers, rs)

	js, err := NewJobStore(filepath.Join(dataDir, "jobs.db"))
	if err != nil {
		cleanup()
		return nil, adverr.Wrap(err, adverr.CodeStoreDatabaseFailure, "creating job store")
	}
	closers = append(closers, js)

	as, err := NewAuditStore(filepath.Join(dataDir, "audit.db"))
	if err != nil {
		cleanup()
		return nil, adverr.Wrap(err, adverr.CodeStoreDatabaseFailure, "creating audit store")
	}
	closers = append(closers, as)

	us, err := NewUsageStore(filepath.Join(dataDir, "usage.db"))
	if err != nil {
		cleanup()
		return nil, adverr.Wrap(err, adverr.CodeStoreDatabaseFailure, "creating usage store")
	}
	closers = append(closers, us)

	vs, err := NewVectorStore(filepath.Join(dataDir, "vectors.db"), vectorDims)
	if err != nil {
		cleanup()
		return nil, adverr.Wrap(err, adverr.CodeStoreDatabaseFailure, "creating vector store")
	}

	return &Stores{
		Knowledge: ks,
		Patterns:  ps,
		Turns:     ts,
		RateLimit: rs,
		Jobs:      js,
		Audit:     as,
		Usage:     us,
		Vectors:   vs,
	}, nil
}

// Close closes every store, returning the combined error.
func (s *Stores) Close() error {
	return adverr.Join(
		s.Knowledge.Close(),
		s.Patterns.Close(),
		s.Turns.Close(),
		s.RateLimit.Close(),
		s.Jobs.Close(),
		s.Audit.Close(),
		s.Usage.Close(),
		s.Vectors.Close(),
	)
}
