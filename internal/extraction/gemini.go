package extraction

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"
)

type geminiExtractor struct {
	caller httpCaller
	url    string
	apiKey string
}

func newGemini(s Settings) *geminiExtractor {
	model := s.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &geminiExtractor{
		caller: httpCaller{provider: ProviderGemini, settings: s},
		url:    baseURL(s.BaseURL, "https://generativelanguage.googleapis.com") + "/v1beta/models/" + url.PathEscape(model) + ":generateContent",
		apiKey: s.APIKey,
	}
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (g *geminiExtractor) Name() string { return ProviderGemini }

// Extract sends the key as a header so it never appears in a logged URL.
func (g *geminiExtractor) Extract(ctx context.Context, img Image) Result {
	payload := map[string]any{
		"contents": []map[string]any{{
			"parts": []map[string]any{
				{"text": extractionPrompt},
				{"inline_data": map[string]string{
					"mime_type": mimeOrDefault(img.MimeType),
					"data":      base64.StdEncoding.EncodeToString(img.Data),
				}},
			},
		}},
		"generationConfig": map[string]any{"temperature": 0},
	}
	var resp geminiResponse
	if err := g.caller.post(ctx, g.url, map[string]string{"x-goog-api-key": g.apiKey}, payload, &resp); err != nil {
		return ErrorResult(err.Error())
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			text.WriteString(part.Text)
		}
		if text.Len() > 0 {
			break
		}
	}
	if text.Len() == 0 {
		return ErrorResult("gemini returned no candidates")
	}
	return ParseReply(text.String())
}
