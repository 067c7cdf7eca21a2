// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package openai_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adviso-dev/adviso/internal/provider/openai"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := openai.New(openai.Config{})
	require.Error(t, err)

	e, err := openai.New(openai.Config{APIKey: "test-key"})
	require.NoError(t, err)
	assert.Equal(t, "openai", e.Name())
	assert.Equal(t, openai.DefaultDimensions, e.Dimensions())
}

func TestNormalize_UnitLength(t *testing.T) {
	v := openai.Normalize([]float64{3, 4})
	require.Len(t, v, 2)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)
}

func TestNormalize_ZeroVector(t *testing.T) {
	v := openai.Normalize([]float64{0, 0, 0})
	require.Len(t, v, 3)
	for _, x := range v {
		assert.False(t, math.IsNaN(float64(x)))
		assert.Zero(t, x)
	}
}
