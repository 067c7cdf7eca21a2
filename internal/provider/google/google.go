// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package google

import (
	"context"
	"math"

	"google.golang.org/genai"

	"github.com/adviso-dev/adviso/internal/provider"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// DefaultModel is the embedding model used when none is configured.
const DefaultModel = "gemini-embedding-001"

// DefaultDimensions is the requested output width.
const DefaultDimensions = 1536

// Config holds Google embedder configuration.
type Config struct {
	APIKey     string
	Model      string
	Dimensions int
}

// Embedder implements provider.Embedder using the Gemini embedding API.
// It is the alternative backend when no OpenAI key is configured.
type Embedder struct {
	client *genai.Client
	config Config
	health *provider.HealthTracker
}

// Compile-time interface check.
var _ provider.Embedder = (*Embedder)(nil)

// New creates a new Google embedder. Returns an error if the API key is missing.
func New(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, adverr.New(adverr.CodeProviderRequestInvalid, "google: missing api_key in config")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, adverr.Wrapf(err, adverr.CodeProviderUpstreamFailure, "google: creating client")
	}

	tracker, err := provider.NewHealthTracker(provider.DefaultHealthCooldown)
	if err != nil {
		return nil, err
	}

	return &Embedder{
		client: client,
		config: cfg,
		health: tracker,
	}, nil
}

func (e *Embedder) Name() string { return "google" }

func (e *Embedder) Dimensions() int { return e.config.Dimensions }

func (e *Embedder) Close() error { return nil }

// Embed returns one unit-length vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	dims := int32(e.config.Dimensions)
	resp, err := e.client.Models.EmbedContent(ctx, e.config.Model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	})
	if err != nil {
		e.health.RecordFailure()
		return nil, adverr.Wrap(err, adverr.CodeProviderUpstreamFailure, "google: embedding request failed")
	}
	e.health.RecordSuccess()

	if len(resp.Embeddings) != len(texts) {
		return nil, adverr.Errorf(adverr.CodeProviderResponseInvalid,
			"google: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, adverr.Errorf(adverr.CodeProviderResponseInvalid,
				"google: empty embedding at index %d", i)
		}
		vectors[i] = normalize(emb.Values)
	}

	return vectors, nil
}

func normalize(values []float32) []float32 {
	var sum float64
	for _, v := range values {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)

	out := make([]float32, len(values))
	if norm == 0 {
		return out
	}
	for i, v := range values {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
