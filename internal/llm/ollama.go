package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const ollamaBase = "http://localhost:11434"

// Ollama talks to a local Ollama server. Being local it needs no API key
// and keeps the transcript on this machine.
type Ollama struct {
	Model string

	BaseURL    string
	HTTPClient *http.Client
}

func NewOllama(model string) *Ollama {
	return &Ollama{
		Model:      model,
		BaseURL:    ollamaBase,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

func (o *Ollama) Name() string { return "ollama:" + o.Model }

func (o *Ollama) Local() bool { return true }

type ollamaRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (o *Ollama) Refine(ctx context.Context, req Request) (string, error) {
	payload := ollamaRequest{
		Model:  o.Model,
		System: req.System,
		Prompt: req.Prompt,
		Stream: false,
	}

	body, err := postJSON(ctx, o.HTTPClient, o.Name(), o.BaseURL+"/api/generate", nil, payload)
	if err != nil {
		return "", err
	}

	var resp ollamaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &TransientError{Provider: o.Name(), Err: fmt.Errorf("decoding response: %w", err)}
	}
	if resp.Response == "" {
		return "", &TransientError{Provider: o.Name(), Err: fmt.Errorf("empty response")}
	}

	return resp.Response, nil
}
