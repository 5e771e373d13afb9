package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mesa-ai/carta-recs/internal/types"
)

// Client computes fixed-length vector representations of text. The primary
// retrieval path is meaningless without one, so failures propagate.
type Client interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
}

func NewClient(endpoint, apiKey, model string, timeout time.Duration) Client {
	return &client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
	}
}

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (c *client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	reqBody := embeddingRequest{
		Input: text,
		Model: c.model,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, types.NewExternalServiceError("embedding", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewExternalServiceError("embedding",
			fmt.Errorf("embedding service returned status %d", resp.StatusCode))
	}

	var embedResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, types.NewExternalServiceError("embedding",
			fmt.Errorf("failed to decode response: %w", err))
	}

	if len(embedResp.Data) == 0 {
		return nil, types.NewExternalServiceError("embedding",
			fmt.Errorf("no embedding data in response"))
	}

	return embedResp.Data[0].Embedding, nil
}
