package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const geminiBase = "https://generativelanguage.googleapis.com/v1beta"

// Gemini talks to Google's generateContent API.
type Gemini struct {
	Model string
	Key   string

	BaseURL    string
	HTTPClient *http.Client
}

func NewGemini(model, key string) *Gemini {
	return &Gemini{
		Model:      model,
		Key:        key,
		BaseURL:    geminiBase,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

func (g *Gemini) Name() string { return "gemini:" + g.Model }

func (g *Gemini) Local() bool { return false }

type geminiRequest struct {
	SystemInstruction *geminiContent `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) Refine(ctx context.Context, req Request) (string, error) {
	if g.Key == "" {
		return "", &FatalError{Provider: g.Name(), Err: fmt.Errorf("GEMINI_API_KEY is not set")}
	}

	payload := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: req.Prompt}},
		}},
	}
	if req.System != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	endpoint := fmt.Sprintf(
		"%s/models/%s:generateContent?key=%s",
		g.BaseURL, url.PathEscape(g.Model), url.QueryEscape(g.Key),
	)

	body, err := postJSON(ctx, g.HTTPClient, g.Name(), endpoint, nil, payload)
	if err != nil {
		return "", err
	}

	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &TransientError{Provider: g.Name(), Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &TransientError{Provider: g.Name(), Err: fmt.Errorf("response has no candidates")}
	}

	texts := make([]string, 0, len(resp.Candidates[0].Content.Parts))
	for _, p := range resp.Candidates[0].Content.Parts {
		texts = append(texts, p.Text)
	}

	return strings.Join(texts, ""), nil
}

// postJSON sends a JSON payload and returns the response body, with non-200
// statuses and transport errors already classified.
func postJSON(
	ctx context.Context,
	client *http.Client,
	provider, endpoint string,
	headers map[string]string,
	payload any,
) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &InvalidInputError{Provider: provider, Err: fmt.Errorf("encoding request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, &InvalidInputError{Provider: provider, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransport(provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Provider: provider, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(provider, resp.StatusCode, string(body))
	}

	return body, nil
}
