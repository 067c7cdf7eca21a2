// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package maintenance

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/adviso-dev/adviso/internal/store"
)

// PatternCandidate is one behavioral adjustment inferred from a human edit.
// Description is deterministic for a given observation, so re-extracting the
// same edit reinforces the stored pattern instead of duplicating it.
type PatternCandidate struct {
	Type        store.PatternType
	Description string
	Example     string
	Confidence  float64
}

// ExtractPatterns runs the analyzers over one (original, edited) pair.
// Each analyzer contributes zero or more candidates independently.
func ExtractPatterns(original, edited string) []PatternCandidate {
	if strings.TrimSpace(original) == "" || strings.TrimSpace(edited) == "" {
		return nil
	}

	var candidates []PatternCandidate
	for _, analyze := range []func(string, string) []PatternCandidate{
		analyzeVocabulary,
		analyzeStructure,
		analyzeEmphasis,
		analyzeTone,
		analyzeLength,
	} {
		candidates = append(candidates, analyze(original, edited)...)
	}
	return candidates
}

var wordPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z'-]{3,}`)

var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"will": true, "your": true, "their": true, "about": true, "which": true,
	"would": true, "should": true, "could": true, "there": true, "these": true,
	"those": true, "when": true, "what": true, "then": true, "them": true,
	"been": true, "were": true, "also": true, "more": true, "such": true,
	"into": true, "over": true, "only": true, "some": true, "than": true,
}

func wordFrequencies(text string) map[string]int {
	freq := make(map[string]int)
	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if stopwords[word] {
			continue
		}
		freq[word]++
	}
	return freq
}

// analyzeVocabulary surfaces terms the editor introduced or leaned on far
// more heavily than the original draft did. Frequency-ratio scoring rather
// than true TF/IDF; there is no corpus to weigh against.
func analyzeVocabulary(original, edited string) []PatternCandidate {
	originalFreq := wordFrequencies(original)
	editedFreq := wordFrequencies(edited)

	type scored struct {
		word  string
		count int
	}
	var introduced []scored
	for word, count := range editedFreq {
		if count >= 2 && originalFreq[word] == 0 {
			introduced = append(introduced, scored{word, count})
		}
	}
	sort.Slice(introduced, func(i, j int) bool {
		if introduced[i].count != introduced[j].count {
			return introduced[i].count > introduced[j].count
		}
		return introduced[i].word < introduced[j].word
	})

	// Cap the yield; a heavy rewrite should not flood the pattern table.
	if len(introduced) > 3 {
		introduced = introduced[:3]
	}

	var candidates []PatternCandidate
	for _, s := range introduced {
		candidates = append(candidates, PatternCandidate{
			Type:        store.PatternVocabulary,
			Description: fmt.Sprintf("prefers the term %q", s.word),
			Example:     edited,
			Confidence:  0.6,
		})
	}
	return candidates
}

var (
	listLinePattern    = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+[.)])\s+`)
	headingLinePattern = regexp.MustCompile(`(?m)^\s*#{1,6}\s+|^\s*[A-Z][^\n]{0,60}:\s*$`)
)

func analyzeStructure(original, edited string) []PatternCandidate {
	originalLists := len(listLinePattern.FindAllString(original, -1))
	editedLists := len(listLinePattern.FindAllString(edited, -1))
	originalHeadings := len(headingLinePattern.FindAllString(original, -1))
	editedHeadings := len(headingLinePattern.FindAllString(edited, -1))

	var candidates []PatternCandidate
	switch {
	case originalLists == 0 && editedLists >= 2:
		candidates = append(candidates, PatternCandidate{
			Type:        store.PatternStructure,
			Description: "restructures prose into bulleted or numbered lists",
			Example:     edited,
			Confidence:  0.7,
		})
	case originalLists >= 2 && editedLists == 0:
		candidates = append(candidates, PatternCandidate{
			Type:        store.PatternStructure,
			Description: "rewrites lists as flowing prose",
			Example:     edited,
			Confidence:  0.7,
		})
	}
	if originalHeadings == 0 && editedHeadings >= 2 {
		candidates = append(candidates, PatternCandidate{
			Type:        store.PatternStructure,
			Description: "adds section headings to long answers",
			Example:     edited,
			Confidence:  0.65,
		})
	}
	return candidates
}

var emphasisPattern = regexp.MustCompile(`\*\*[^*]+\*\*|__[^_]+__|\b[A-Z]{3,}\b|!`)

func analyzeEmphasis(original, edited string) []PatternCandidate {
	originalCount := len(emphasisPattern.FindAllString(original, -1))
	editedCount := len(emphasisPattern.FindAllString(edited, -1))

	switch {
	case editedCount >= originalCount+3:
		return []PatternCandidate{{
			Type:        store.PatternEmphasis,
			Description: "adds emphasis markers to key points",
			Example:     edited,
			Confidence:  0.6,
		}}
	case originalCount >= editedCount+3:
		return []PatternCandidate{{
			Type:        store.PatternEmphasis,
			Description: "strips emphasis markers",
			Example:     edited,
			Confidence:  0.6,
		}}
	}
	return nil
}

var (
	politePattern = regexp.MustCompile(`(?i)\b(please|thank you|thanks|kindly|we recommend|you may want|you might consider|happy to)\b`)
	directPattern = regexp.MustCompile(`(?i)\b(must|do not|don't|never|always|required|immediately)\b`)
)

func analyzeTone(original, edited string) []PatternCandidate {
	politeShift := len(politePattern.FindAllString(edited, -1)) - len(politePattern.FindAllString(original, -1))
	directShift := len(directPattern.FindAllString(edited, -1)) - len(directPattern.FindAllString(original, -1))

	switch {
	case politeShift >= 2 && politeShift > directShift:
		return []PatternCandidate{{
			Type:        store.PatternTone,
			Description: "softens tone with polite phrasing",
			Example:     edited,
			Confidence:  0.55,
		}}
	case directShift >= 2 && directShift > politeShift:
		return []PatternCandidate{{
			Type:        store.PatternTone,
			Description: "shifts toward direct, imperative phrasing",
			Example:     edited,
			Confidence:  0.55,
		}}
	}
	return nil
}

func analyzeLength(original, edited string) []PatternCandidate {
	if len(original) == 0 {
		return nil
	}
	ratio := float64(len(edited)) / float64(len(original))

	switch {
	case ratio <= 0.7:
		return []PatternCandidate{{
			Type:        store.PatternLength,
			Description: "shortens answers substantially",
			Example:     edited,
			Confidence:  0.65,
		}}
	case ratio >= 1.3:
		return []PatternCandidate{{
			Type:        store.PatternLength,
			Description: "expands answers with additional detail",
			Example:     edited,
			Confidence:  0.65,
		}}
	}
	return nil
}
