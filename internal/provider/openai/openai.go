// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package openai

import (
	"context"
	"math"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/adviso-dev/adviso/internal/provider"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// DefaultModel is the embedding model used when none is configured.
const DefaultModel = "text-embedding-3-small"

// DefaultDimensions is the vector width of text-embedding-3-small.
const DefaultDimensions = 1536

// Config holds OpenAI embedder configuration.
type Config struct {
	APIKey     string
	BaseURL    string // optional, useful for testing against a mock server
	Model      string
	Dimensions int
}

// Embedder implements provider.Embedder using the OpenAI Embeddings API.
type Embedder struct {
	client openaisdk.Client
	config Config
	health *provider.HealthTracker
}

// Compile-time interface check.
var _ provider.Embedder = (*Embedder)(nil)

// New creates a new OpenAI embedder. Returns an error if the API key is missing.
func New(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, adverr.New(adverr.CodeProviderRequestInvalid, "openai: missing api_key in config")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	tracker, err := provider.NewHealthTracker(provider.DefaultHealthCooldown)
	if err != nil {
		return nil, err
	}

	return &Embedder{
		client: openaisdk.NewClient(opts...),
		config: cfg,
		health: tracker,
	}, nil
}

func (e *Embedder) Name() string { return "openai" }

func (e *Embedder) Dimensions() int { return e.config.Dimensions }

func (e *Embedder) Close() error { return nil }

// Embed returns one unit-length vector per input text, in input order.
// Normalizing here keeps L2 distance and cosine similarity interchangeable
// downstream.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(e.config.Model),
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		e.health.RecordFailure()
		return nil, adverr.Wrap(err, adverr.CodeProviderUpstreamFailure, "openai: embedding request failed")
	}
	e.health.RecordSuccess()

	if len(resp.Data) != len(texts) {
		return nil, adverr.Errorf(adverr.CodeProviderResponseInvalid,
			"openai: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(vectors) {
			return nil, adverr.Errorf(adverr.CodeProviderResponseInvalid,
				"openai: embedding index %d out of range", idx)
		}
		vectors[idx] = normalize(d.Embedding)
	}

	return vectors, nil
}

func normalize(values []float64) []float32 {
	var sum float64
	for _, v := range values {
		sum += v * v
	}
	norm := math.Sqrt(sum)

	out := make([]float32, len(values))
	if norm == 0 {
		return out
	}
	for i, v := range values {
		out[i] = float32(v / norm)
	}
	return out
}
