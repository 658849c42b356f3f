package extraction

import (
	"context"
	"encoding/base64"
	"strings"
)

const anthropicVersion = "2023-06-01"

type anthropicExtractor struct {
	caller httpCaller
	model  string
	url    string
	apiKey string
}

func newAnthropic(s Settings) *anthropicExtractor {
	model := s.Model
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	return &anthropicExtractor{
		caller: httpCaller{provider: ProviderClaude, settings: s},
		model:  model,
		url:    baseURL(s.BaseURL, "https://api.anthropic.com") + "/v1/messages",
		apiKey: s.APIKey,
	}
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (a *anthropicExtractor) Name() string { return ProviderClaude }

func (a *anthropicExtractor) Extract(ctx context.Context, img Image) Result {
	payload := map[string]any{
		"model":      a.model,
		"max_tokens": 1024,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{
					"type": "image",
					"source": map[string]string{
						"type":       "base64",
						"media_type": mimeOrDefault(img.MimeType),
						"data":       base64.StdEncoding.EncodeToString(img.Data),
					},
				},
				{"type": "text", "text": extractionPrompt},
			},
		}},
	}
	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	}
	var resp anthropicResponse
	if err := a.caller.post(ctx, a.url, headers, payload, &resp); err != nil {
		return ErrorResult(err.Error())
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return ErrorResult("claude returned no text content")
	}
	return ParseReply(text.String())
}
