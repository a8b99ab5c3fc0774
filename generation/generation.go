// Package generation defines the language-generation collaborator used by the
// buzz pipeline: batched intent classification over a closed label set,
// per-item response drafting, and reply summarization. All calls may fail
// transiently; callers leave items in their pre-call state on failure.
package generation

import (
	"context"
	"fmt"
	"strings"
)

// Kind is the closed classification of an audience chat message.
type Kind string

const (
	KindQuestion Kind = "QUESTION"
	KindConcern  Kind = "CONCERN"
	KindRequest  Kind = "REQUEST"
	KindUnknown  Kind = "UNKNOWN"
)

// ParseKind maps a label string onto the closed set; anything unrecognized is UNKNOWN.
func ParseKind(s string) Kind {
	switch Kind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindQuestion:
		return KindQuestion
	case KindConcern:
		return KindConcern
	case KindRequest:
		return KindRequest
	default:
		return KindUnknown
	}
}

// Service is the generation collaborator contract.
type Service interface {
	// Classify labels each text with one Kind, in input order.
	Classify(ctx context.Context, texts []string) ([]Kind, error)
	// Respond drafts a moderator-reviewable answer for one chat message.
	Respond(ctx context.Context, text string, kind Kind) (string, error)
	// Summarize condenses accumulated moderator replies into one short chat message.
	Summarize(ctx context.Context, text string) (string, error)
}

// parseClassification reads one label per line from a model reply. The line
// count must match the input count; a mismatch is treated as a transient
// failure by callers.
func parseClassification(reply string, want int) ([]Kind, error) {
	var labels []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// tolerate "3. QUESTION" style numbering
		if i := strings.IndexAny(line, ".):"); i >= 0 && i < 4 {
			line = strings.TrimSpace(line[i+1:])
		}
		labels = append(labels, line)
	}
	if len(labels) != want {
		return nil, fmt.Errorf("classification returned %d labels for %d messages", len(labels), want)
	}
	out := make([]Kind, len(labels))
	for i, l := range labels {
		out[i] = ParseKind(l)
	}
	return out, nil
}
