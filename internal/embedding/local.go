package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultOllamaEndpoint is used when an ollama backend has no endpoint.
const DefaultOllamaEndpoint = "http://localhost:11434"

// LocalEncoder embeds text through an Ollama-compatible embeddings API.
type LocalEncoder struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewLocalEncoder creates a LocalEncoder.
func NewLocalEncoder(endpoint, model string, timeout time.Duration) *LocalEncoder {
	if endpoint == "" {
		endpoint = DefaultOllamaEndpoint
	}
	return &LocalEncoder{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

type localRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localResponse struct {
	Embedding []float32 `json:"embedding"`
}

// EncodeText sends text to the Ollama endpoint.
// Ollama answers an empty prompt with an empty embedding, so the empty
// string is encoded as a single space.
func (p *LocalEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		text = " "
	}
	body, err := json.Marshal(localRequest{
		Model:  p.model,
		Prompt: text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ollama: API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result localResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	return result.Embedding, nil
}
