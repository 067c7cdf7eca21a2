// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

// Package security screens conversation input and model output against a
// fixed rule set. Detection works on NFKC-normalized text with invisible
// Unicode characters stripped, so homoglyph and zero-width evasion does not
// bypass the patterns.
package security

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/adviso-dev/adviso/internal/store"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// invisibleCharReplacer strips zero-width and other invisible Unicode
// characters before matching. Allocated once at package init.
var invisibleCharReplacer = strings.NewReplacer(
	"\u200b", "", // zero-width space
	"\u200c", "", // zero-width non-joiner
	"\u200d", "", // zero-width joiner
	"\ufeff", "", // zero-width no-break space / BOM
	"\u00ad", "", // soft hyphen
	"\u034f", "", // combining grapheme joiner
	"\u061c", "", // Arabic letter mark
	"\u180e", "", // Mongolian vowel separator
	"\u2060", "", // word joiner
	"\u2061", "", // invisible function application
	"\u2062", "", // invisible times
	"\u2063", "", // invisible separator
	"\u2064", "", // invisible plus
	"\u206a", "", // inhibit symmetric swapping
	"\u206b", "", // activate symmetric swapping
	"\u206c", "", // inhibit Arabic form shaping
	"\u206d", "", // activate Arabic form shaping
	"\u206e", "", // national digit shapes
	"\u206f", "", // nominal digit shapes
	"\ufff9", "", // interlinear annotation anchor
	"\ufffa", "", // interlinear annotation separator
	"\ufffb", "", // interlinear annotation terminator
)

// normalize applies NFKC normalization and strips invisible characters.
func normalize(s string) string {
	s = invisibleCharReplacer.Replace(s)
	return norm.NFKC.String(s)
}

// injectionPatterns match attempts to override the assistant's instructions,
// reassign its role, or probe its configuration and vendor identity.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(ignore|disregard|override|forget|do\s+not\s+follow)\s+((all|previous|prior|above|your)\s+)+(instructions|prompts|rules|guidelines)`),
	regexp.MustCompile(`(?i)you\s+are\s+(now|no\s+longer)\s+(a|an|the)?\s*\w+`),
	regexp.MustCompile(`(?i)(act|behave|respond)\s+as\s+(if\s+you\s+(are|were)|a|an)\s+`),
	regexp.MustCompile(`(?i)(reveal|show|print|repeat|output)\s+(me\s+)?(your|the)\s+(system\s+prompt|instructions|configuration|config|rules|prompt)`),
	regexp.MustCompile(`(?i)what\s+(is|are)\s+your\s+(system\s+prompt|instructions|initial\s+prompt|configuration)`),
	regexp.MustCompile(`(?i)(which|what)\s+(ai\s+model|ai|llm|language\s+model|model)\s+(are\s+you|is\s+this|powers)`),
	regexp.MustCompile(`(?i)are\s+you\s+(chatgpt|gpt-?\d|claude|gemini|an?\s+ai\b)`),
	regexp.MustCompile(`(?i)(new\s+task\s*:|from\s+now\s+on\s*[,:]|pretend\s+(the\s+)?(above|previous))`),
	regexp.MustCompile(`(?i)(?:<\|?system\|?>|\[system\]|<<SYS>>)`),
	regexp.MustCompile("(?i)```system\\b"),
}

// forbiddenOutputPatterns match responses that would leak the assistant's
// implementation: vendor or model identity, prompt internals, or references
// to training data.
var forbiddenOutputPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(i\s+am|i'?m)\s+(claude|chatgpt|gpt-?\d|gemini|an?\s+(ai|large\s+language\s+model|language\s+model|llm))\b`),
	regexp.MustCompile(`(?i)\b(as|being)\s+an?\s+(ai|large\s+language\s+model|language\s+model)\b`),
	regexp.MustCompile(`(?i)\b(anthropic|openai|google\s+deepmind)\b`),
	regexp.MustCompile(`(?i)\bmy\s+(system\s+prompt|instructions|training\s+(data|cutoff)|knowledge\s+cutoff)\b`),
	regexp.MustCompile(`(?i)\b(trained|fine-?tuned)\s+(on|by|until)\b`),
	regexp.MustCompile(`(?i)\bi\s+(was\s+)?(built|created|developed|made)\s+by\b`),
}

// DetectInjection reports whether the input contains an instruction-override,
// role-reassignment, or configuration-probe pattern. Matching runs on the
// normalized form of the input.
func DetectInjection(input string) bool {
	return matchAny(injectionPatterns, normalize(input))
}

// ValidateOutput reports whether the output is safe to return to the client.
// It returns false when the text would leak vendor identity, prompt internals,
// or training-data references.
func ValidateOutput(output string) bool {
	return !matchAny(forbiddenOutputPatterns, normalize(output))
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// Gate screens request input and response output, recording every block as an
// audit event before the error is returned.
type Gate struct {
	audit  store.AuditStore
	logger *slog.Logger
}

// NewGate creates a gate writing blocked content to the given audit store.
func NewGate(audit store.AuditStore, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{audit: audit, logger: logger}
}

// CheckInput rejects input that matches an injection pattern. The attempt is
// appended to the audit log before the error is returned; an audit write
// failure is logged but does not mask the rejection.
func (g *Gate) CheckInput(ctx context.Context, actorID, input string) error {
	if !DetectInjection(input) {
		return nil
	}
	g.record(ctx, store.SecurityEventInjectionAttempt, actorID, input)
	return adverr.New(adverr.CodeSecurityInjectionDetected,
		"input rejected by injection screen",
		adverr.Field("actor_id", actorID),
	)
}

// CheckOutput rejects output that would leak implementation details. The
// offending text is appended to the audit log before the error is returned.
func (g *Gate) CheckOutput(ctx context.Context, actorID, output string) error {
	if ValidateOutput(output) {
		return nil
	}
	g.record(ctx, store.SecurityEventForbiddenOutput, actorID, output)
	return adverr.New(adverr.CodeSecurityOutputValidationFailed,
		"response failed output validation",
		adverr.Field("actor_id", actorID),
	)
}

func (g *Gate) record(ctx context.Context, kind store.SecurityEventKind, actorID, raw string) {
	event := &store.SecurityEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		RawInput:  raw,
		ActorID:   actorID,
		Timestamp: time.Now().UTC(),
	}
	if err := g.audit.Append(ctx, event); err != nil {
		g.logger.Warn("security audit write failed",
			"kind", string(kind), "actor_id", actorID, "error", err)
	}
}
