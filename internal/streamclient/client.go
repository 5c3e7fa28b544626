package streamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/davidbz/markl/internal/domain"
)

const defaultTimeout = 300 * time.Second

// Request describes one streamed completion to run.
type Request struct {
	ModelID        string                `json:"modelId"`
	Messages       []domain.ChatMessage  `json:"messages"`
	PromptID       string                `json:"promptId,omitempty"`
	Temperature    *float64              `json:"temperature,omitempty"`
	TopP           *float64              `json:"top_p,omitempty"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	Reasoning      *domain.ReasoningSpec `json:"reasoning,omitempty"`
	FileProcessing string                `json:"fileProcessing,omitempty"`
	OCRProvider    string                `json:"ocrProvider,omitempty"`
	SaveTrace      *bool                 `json:"saveTrace,omitempty"`
	Stream         bool                  `json:"stream"`
}

// Client runs streamed completions against a relay server.
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

// NewClient creates a new streaming client.
func NewClient(baseURL, userID string) *Client {
	return &Client{
		baseURL: baseURL,
		userID:  userID,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// StreamCompletion posts the request and consumes the SSE response through
// the callbacks. Cancelling ctx aborts the transport; the abort surfaces on
// OnAborted, never OnError.
func (c *Client) StreamCompletion(ctx context.Context, req Request, callbacks Callbacks) error {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/chat/completions",
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.userID != "" {
		httpReq.Header.Set("X-User-Id", c.userID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			if callbacks.OnAborted != nil {
				callbacks.OnAborted()
			}
			return nil
		}
		if callbacks.OnError != nil {
			callbacks.OnError(err)
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		streamErr := unwrapStreamError(payload)
		if streamErr.Message == "stream error" {
			streamErr.Message = fmt.Sprintf("server returned status %d", resp.StatusCode)
		}
		if callbacks.OnError != nil {
			callbacks.OnError(streamErr)
		}
		return streamErr
	}

	NewConsumer(callbacks).Consume(ctx, resp.Body)
	return nil
}
