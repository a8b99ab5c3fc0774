package generation

import (
	"context"
	"fmt"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
)

// Gemini implements Service on Vertex AI.
type Gemini struct {
	client *vertexgenai.Client
	model  *vertexgenai.GenerativeModel
}

// NewGemini creates the Vertex AI client. modelName defaults to gemini-1.5-flash.
func NewGemini(ctx context.Context, projectID, location, modelName string) (*Gemini, error) {
	c, err := vertexgenai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, fmt.Errorf("vertex client: %w", err)
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &Gemini{client: c, model: c.GenerativeModel(modelName)}, nil
}

func (g *Gemini) Close() error { return g.client.Close() }

func (g *Gemini) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, vertexgenai.Text(prompt))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(vertexgenai.Text); ok {
				sb.WriteString(string(t))
			}
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("empty model response")
	}
	return out, nil
}

const classifyPrompt = `You label live-stream audience chat messages for a moderator.
For each numbered message below, answer with exactly one label per line, in order:
QUESTION (asks the streamer something), CONCERN (reports a problem or worry),
REQUEST (asks the streamer to do something), or UNKNOWN (anything else).
Output only the labels, one per line, no numbering.

Messages:
%s`

func (g *Gemini) Classify(ctx context.Context, texts []string) ([]Kind, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var sb strings.Builder
	for i, t := range texts {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.ReplaceAll(t, "\n", " "))
	}
	reply, err := g.generate(ctx, fmt.Sprintf(classifyPrompt, sb.String()))
	if err != nil {
		return nil, err
	}
	return parseClassification(reply, len(texts))
}

const respondPrompt = `You draft short replies a live-stream moderator can post to audience chat.
The message below was classified as %s. Write a single friendly reply of at most
two sentences. Do not mention that you are an AI.

Message: %s`

func (g *Gemini) Respond(ctx context.Context, text string, kind Kind) (string, error) {
	return g.generate(ctx, fmt.Sprintf(respondPrompt, kind, text))
}

const summarizePrompt = `Condense the following moderator replies into one short chat message
(at most two sentences) that covers all of them. Output only the message.

Replies:
%s`

func (g *Gemini) Summarize(ctx context.Context, text string) (string, error) {
	return g.generate(ctx, fmt.Sprintf(summarizePrompt, text))
}
