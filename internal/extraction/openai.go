package extraction

import (
	"context"
	"encoding/base64"
)

type openAIExtractor struct {
	caller httpCaller
	model  string
	url    string
	apiKey string
}

func newOpenAI(s Settings) *openAIExtractor {
	model := s.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &openAIExtractor{
		caller: httpCaller{provider: ProviderOpenAI, settings: s},
		model:  model,
		url:    baseURL(s.BaseURL, "https://api.openai.com") + "/v1/chat/completions",
		apiKey: s.APIKey,
	}
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *openAIExtractor) Name() string { return ProviderOpenAI }

func (o *openAIExtractor) Extract(ctx context.Context, img Image) Result {
	dataURI := "data:" + mimeOrDefault(img.MimeType) + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
	payload := map[string]any{
		"model":       o.model,
		"temperature": 0,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": extractionPrompt},
				{"type": "image_url", "image_url": map[string]string{"url": dataURI}},
			},
		}},
	}
	var resp openAIResponse
	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}
	if err := o.caller.post(ctx, o.url, headers, payload, &resp); err != nil {
		return ErrorResult(err.Error())
	}
	if len(resp.Choices) == 0 {
		return ErrorResult("openai returned no choices")
	}
	return ParseReply(resp.Choices[0].Message.Content)
}
