// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package prompt_test

import (
	"context"
	"sync"
	"time"

	"github.com/adviso-dev/adviso/internal/provider"
	"github.com/adviso-dev/adviso/internal/store"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// fakeEmbedder returns a fixed vector for every input.
type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Name() string    { return "fake" }
func (f *fakeEmbedder) Dimensions() int { return len(f.vector) }
func (f *fakeEmbedder) Close() error    { return nil }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

// fakeVectorStore returns a canned result list for every search.
type fakeVectorStore struct {
	results []store.VectorResult
}

func (f *fakeVectorStore) Store(context.Context, string, []float32, string) error { return nil }
func (f *fakeVectorStore) Delete(context.Context, []string) error                 { return nil }
func (f *fakeVectorStore) Close() error                                           { return nil }

func (f *fakeVectorStore) Search(_ context.Context, _ []float32, k int, _ string) ([]store.VectorResult, error) {
	if k < len(f.results) {
		return f.results[:k], nil
	}
	return f.results, nil
}

// fakeKnowledgeStore serves entries from a map and counts RecordUse calls.
type fakeKnowledgeStore struct {
	mu      sync.Mutex
	entries map[string]*store.KnowledgeEntry
	used    map[string]int
}

func newFakeKnowledgeStore(entries ...*store.KnowledgeEntry) *fakeKnowledgeStore {
	f := &fakeKnowledgeStore{
		entries: make(map[string]*store.KnowledgeEntry),
		used:    make(map[string]int),
	}
	for _, e := range entries {
		f.entries[e.ID] = e
	}
	return f
}

func (f *fakeKnowledgeStore) GetEntry(_ context.Context, id string) (*store.KnowledgeEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[id]; ok {
		return e, nil
	}
	return nil, adverr.Wrapf(store.ErrNotFound, adverr.CodeStoreEntryNotFound, "knowledge entry %s", id)
}

func (f *fakeKnowledgeStore) RecordUse(_ context.Context, id string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.used[id]++
	return nil
}

func (f *fakeKnowledgeStore) PutEntry(context.Context, *store.KnowledgeEntry) error { return nil }
func (f *fakeKnowledgeStore) FindByNormalizedContent(context.Context, string, string) (*store.KnowledgeEntry, error) {
	return nil, store.ErrNotFound
}
func (f *fakeKnowledgeStore) FindEntries(context.Context, store.EntryQuery) ([]*store.KnowledgeEntry, error) {
	return nil, nil
}
func (f *fakeKnowledgeStore) ArchiveUnusedSince(context.Context, time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeKnowledgeStore) PutGroup(context.Context, *store.KnowledgeGroup) error { return nil }
func (f *fakeKnowledgeStore) GetGroupByRepresentative(context.Context, string) (*store.KnowledgeGroup, error) {
	return nil, store.ErrNotFound
}
func (f *fakeKnowledgeStore) AbsorbDuplicate(context.Context, string, string, string, float64) error {
	return nil
}
func (f *fakeKnowledgeStore) Close() error { return nil }

// fakeCompleter records every request it receives.
type fakeCompleter struct {
	mu       sync.Mutex
	requests []provider.Request
	err      error
}

func (f *fakeCompleter) Name() string                   { return "fake" }
func (f *fakeCompleter) Available(context.Context) bool { return true }
func (f *fakeCompleter) Close() error                   { return nil }

func (f *fakeCompleter) Complete(_ context.Context, req provider.Request) (*provider.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Response{Text: "pong", Usage: provider.Usage{CacheReadTokens: 100, OutputTokens: 1}}, nil
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeCompleter) request(i int) provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}
