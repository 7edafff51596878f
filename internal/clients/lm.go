// Package clients holds the thin wrappers around external collaborators the
// orchestrator calls out to: the language-model highlight extractor and the
// transcript fetcher. Grounded on the teacher's OpenAIService
// (internal/services/openai.go), generalized from video-plan generation to
// highlight extraction per spec.md §4.H.
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vclip/render-pipeline/internal/types"
)

// LMClient invokes the language-model collaborator that turns a transcript
// into a Highlights manifest.
type LMClient struct {
	client *openai.Client
	model  string
}

func NewLMClient(apiKey, model string) *LMClient {
	if model == "" {
		model = "gpt-5-mini"
	}
	return &LMClient{client: openai.NewClient(apiKey), model: model}
}

const highlightSystemPrompt = `You are a video editor's assistant. Given a transcript, identify the most
shareable short-form highlights. Respond with a single JSON object matching:
{"video_url": string, "video_title": string, "highlights": [{"id": string, "title": string,
"start": "HH:MM:SS", "end": "HH:MM:SS", "pad_before": number, "pad_after": number,
"category": string|null, "reason": string|null}]}
Respond with JSON only, no prose.`

// ExtractHighlights invokes the LM collaborator and parses its reply,
// tolerating markdown code fences around the JSON body (spec.md §4.H step 2).
func (c *LMClient) ExtractHighlights(ctx context.Context, videoURL, transcript string) (*types.Highlights, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: highlightSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("video_url: %s\n\ntranscript:\n%s", videoURL, transcript)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("clients: lm request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("clients: lm returned no choices")
	}

	raw := stripCodeFences(resp.Choices[0].Message.Content)
	var highlights types.Highlights
	if err := json.Unmarshal([]byte(raw), &highlights); err != nil {
		return nil, fmt.Errorf("clients: parse lm reply: %w", err)
	}
	return &highlights, nil
}

// stripCodeFences removes a leading/trailing ```json ... ``` or ``` ... ```
// fence if present, so a chatty model reply still parses as JSON.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
