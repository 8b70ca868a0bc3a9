package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Embedder is the external embedding collaborator: it turns text into
// fixed-length float vectors comparable by dot-product cosine
// similarity (the service normalizes its vectors).
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// HTTPEmbedder calls an embedding service over HTTP JSON.
type HTTPEmbedder struct {
	endpoint string
	client   *http.Client
}

// NewHTTPEmbedder creates an embedder bound to the given endpoint.
func NewHTTPEmbedder(endpoint string) *HTTPEmbedder {
	return &HTTPEmbedder{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Vectors [][]float64 `json:"vectors"`
}

// Embed posts the texts and returns one vector per input, in order.
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding service call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Vectors) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts", len(out.Vectors), len(texts))
	}
	return out.Vectors, nil
}
