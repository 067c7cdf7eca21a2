// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adviso-dev/adviso/internal/store"
	"github.com/adviso-dev/adviso/internal/store/sqlite"
)

func TestOpen_AllStores(t *testing.T) {
	ctx := context.Background()
	dir := testDir(t)

	stores, err := sqlite.Open(dir, 3)
	require.NoError(t, err)
	defer func() { _ = stores.Close() }()

	// One db file per concern under the data directory.
	for _, name := range []string{"knowledge.db", "patterns.db", "turns.db", "ratelimit.db", "jobs.db", "audit.db", "usage.db", "vectors.db"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	// Spot-check a write through each store surface.
	require.NoError(t, stores.Turns.Append(ctx, &store.Turn{
		ID: "t-1", Partition: "client-1", SessionID: "s-1",
		Question: "q", Answer: "a", Approved: true, CreatedAt: time.Now(),
	}))
	require.NoError(t, stores.Vectors.Store(ctx, "v-1", []float32{1, 0, 0}, "client-1"))

	partitions, err := stores.Turns.Partitions(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"client-1"}, partitions)
}
