// Package ollama provides an HTTP client for Ollama's embeddings API.
// The model is treated as a pure function text -> fixed-dimension vector;
// identical text always embeds to the same vector.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// warmupProbe is the text embedded once at startup to pull the model into
// memory and discover its output dimension.
const warmupProbe = "warmup"

// StatusError reports a non-200 response from the embeddings endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama embed: status %d", e.Code)
}

// Transient reports whether the status indicates a retryable condition.
func (e *StatusError) Transient() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Client calls Ollama's /api/embeddings endpoint.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
}

// New creates an embedding client for the given Ollama base URL and model.
func New(baseURL, model string) *Client {
	return &Client{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type embedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(embedReq{Model: c.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var result embedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embed: empty vector for model %s", c.model)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// EmbedBatch embeds each text in order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d]: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// Warmup embeds a probe string and returns the model's vector dimension.
// The first call may be slow while the model loads; callers should treat a
// warmup failure as fatal at startup.
func (c *Client) Warmup(ctx context.Context) (int, error) {
	vec, err := c.Embed(ctx, warmupProbe)
	if err != nil {
		return 0, fmt.Errorf("ollama warmup: %w", err)
	}
	return len(vec), nil
}
