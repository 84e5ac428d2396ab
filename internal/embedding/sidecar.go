package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"
)

// SidecarEncoder talks to a sentence-transformers style model server that
// exposes POST /encode for both text and images.
type SidecarEncoder struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewSidecarEncoder creates a SidecarEncoder. A zero timeout leaves the HTTP
// client unbounded; the request context still applies.
func NewSidecarEncoder(endpoint, model string, timeout time.Duration) *SidecarEncoder {
	return &SidecarEncoder{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

type sidecarRequest struct {
	Model string  `json:"model,omitempty"`
	Text  *string `json:"text,omitempty"`
	Image string  `json:"image,omitempty"` // base64 PNG
}

type sidecarResponse struct {
	Vector []float32 `json:"vector"`
}

// EncodeText embeds text. The empty string is sent as-is.
func (e *SidecarEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	return e.post(ctx, sidecarRequest{Model: e.model, Text: &text})
}

// EncodeImage sends img as a base64 PNG.
func (e *SidecarEncoder) EncodeImage(ctx context.Context, img *image.RGBA) ([]float32, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("sidecar: encode png: %w", err)
	}
	return e.post(ctx, sidecarRequest{Model: e.model, Image: base64.StdEncoding.EncodeToString(buf.Bytes())})
}

func (e *SidecarEncoder) post(ctx context.Context, payload sidecarRequest) ([]float32, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("sidecar: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/encode", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sidecar: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sidecar: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sidecar: server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result sidecarResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("sidecar: decode response: %w", err)
	}
	return result.Vector, nil
}
