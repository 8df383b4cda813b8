package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const perplexityBase = "https://api.perplexity.ai/chat/completions"

// Perplexity talks to the Perplexity chat completions API.
type Perplexity struct {
	Model string
	Key   string

	BaseURL    string
	HTTPClient *http.Client
}

func NewPerplexity(model, key string) *Perplexity {
	return &Perplexity{
		Model:      model,
		Key:        key,
		BaseURL:    perplexityBase,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

func (p *Perplexity) Name() string { return "perplexity:" + p.Model }

func (p *Perplexity) Local() bool { return false }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *Perplexity) Refine(ctx context.Context, req Request) (string, error) {
	if p.Key == "" {
		return "", &FatalError{Provider: p.Name(), Err: fmt.Errorf("PERPLEXITY_API_KEY is not set")}
	}

	payload := chatRequest{Model: p.Model}
	if req.System != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.System})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.Prompt})

	headers := map[string]string{"Authorization": "Bearer " + p.Key}

	body, err := postJSON(ctx, p.HTTPClient, p.Name(), p.BaseURL, headers, payload)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &TransientError{Provider: p.Name(), Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", &TransientError{Provider: p.Name(), Err: fmt.Errorf("response has no choices")}
	}

	return resp.Choices[0].Message.Content, nil
}
