package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mesa-ai/carta-recs/internal/types"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
)

type Message struct {
	Role         string        `json:"role"`
	Content      string        `json:"content,omitempty"`
	Name         string        `json:"name,omitempty"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type FunctionSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CallMode selects how the model may answer: free text, any declared
// function, or one forced function.
type CallMode struct {
	value any
}

func ModeAuto() CallMode { return CallMode{value: "auto"} }

func ModeNone() CallMode { return CallMode{value: "none"} }

func ForceFunction(name string) CallMode {
	return CallMode{value: map[string]string{"name": name}}
}

type CompletionRequest struct {
	Messages     []Message
	Functions    []FunctionSchema
	FunctionCall CallMode
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*Message, error)
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

type chatRequest struct {
	Model        string           `json:"model"`
	Messages     []Message        `json:"messages"`
	Functions    []FunctionSchema `json:"functions,omitempty"`
	FunctionCall any              `json:"function_call,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *client) Complete(ctx context.Context, req CompletionRequest) (*Message, error) {
	payload := chatRequest{
		Model:    c.model,
		Messages: req.Messages,
	}
	if len(req.Functions) > 0 {
		payload.Functions = req.Functions
		payload.FunctionCall = req.FunctionCall.value
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, types.NewExternalServiceError("llm", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, types.NewExternalServiceError("llm", fmt.Errorf("authentication failed"))
	case http.StatusTooManyRequests:
		return nil, types.NewExternalServiceError("llm", fmt.Errorf("rate limit exceeded"))
	default:
		return nil, types.NewExternalServiceError("llm",
			fmt.Errorf("chat service returned status %d", resp.StatusCode))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, types.NewExternalServiceError("llm",
			fmt.Errorf("failed to decode response: %w", err))
	}

	if chatResp.Error != nil {
		return nil, types.NewExternalServiceError("llm", fmt.Errorf("%s", chatResp.Error.Message))
	}

	if len(chatResp.Choices) == 0 {
		return nil, types.NewExternalServiceError("llm", fmt.Errorf("no choices in response"))
	}

	msg := chatResp.Choices[0].Message
	return &msg, nil
}
