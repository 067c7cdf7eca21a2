// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package provider

import (
	"context"
)

// Completer produces advisory completions from a layered prompt.
type Completer interface {
	Name() string
	Available(ctx context.Context) bool
	// Complete sends one non-streaming completion request.
	Complete(ctx context.Context, req Request) (*Response, error)
	Close() error
}

// Embedder converts text into dense vectors for semantic comparison.
type Embedder interface {
	Name() string
	// Embed returns one normalized vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions reports the width of vectors this embedder produces.
	Dimensions() int
	Close() error
}

// Segment is one system prompt layer. Segments are concatenated in order;
// segments with Cache set carry a vendor cache marker so stable prefixes are
// written once and read cheaply afterwards.
type Segment struct {
	// ID names the layer the segment came from, for logging.
	ID    string
	Text  string
	Cache bool
}

// Message is one conversation exchange in the request body.
type Message struct {
	Role    MessageRole
	Content string
}

// MessageRole defines the role of a message sender.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Request represents a completion request to the vendor.
type Request struct {
	Model     string
	Segments  []Segment
	Messages  []Message
	MaxTokens int
}

// Response is the vendor's completion plus its token accounting.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Usage tracks token consumption of one vendor call. Cache counters are
// reported separately from plain input so cost accounting can price them
// at their distinct rates.
type Usage struct {
	InputTokens      int
	CacheWriteTokens int
	CacheReadTokens  int
	OutputTokens     int
}

// Total returns the sum of all counters.
func (u Usage) Total() int {
	return u.InputTokens + u.CacheWriteTokens + u.CacheReadTokens + u.OutputTokens
}
