// Package ocr talks to the external text-extraction service. Extraction is
// never silently skipped: callers treat any failure here as fatal for the
// request that needed it.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/davidbz/markl/internal/domain"
)

// Config contains OCR service configuration. Timeout is in seconds.
type Config struct {
	BaseURL string `env:"OCR_BASE_URL"`
	APIKey  string `env:"OCR_API_KEY"`
	Timeout int    `env:"OCR_TIMEOUT" envDefault:"120"`
}

// Client implements the domain.OCRService interface over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new OCR client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("OCR base URL is required")
	}

	return &Client{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}, nil
}

type extractRequest struct {
	UserID   string `json:"userId"`
	FileID   string `json:"fileId"`
	Provider string `json:"provider,omitempty"`
}

// ExtractForFile runs OCR over a stored file and returns its text.
func (c *Client) ExtractForFile(ctx context.Context, userID, fileID string, opts domain.OCROptions) (*domain.OCRResult, error) {
	if userID == "" || fileID == "" {
		return nil, domain.ValidationError("user id and file id are required")
	}

	body, err := json.Marshal(extractRequest{
		UserID:   userID,
		FileID:   fileID,
		Provider: opts.Provider,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/ocr/extract",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("OCR request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var result domain.OCRResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode OCR response: %w", err)
	}

	return &result, nil
}

// GetSettings returns the user's OCR settings.
func (c *Client) GetSettings(ctx context.Context, userID string) (*domain.OCRSettings, error) {
	if userID == "" {
		return nil, domain.ValidationError("user id is required")
	}

	endpoint := fmt.Sprintf("%s/ocr/settings?userId=%s", c.baseURL, url.QueryEscape(userID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("OCR settings request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var settings domain.OCRSettings
	if err := json.NewDecoder(resp.Body).Decode(&settings); err != nil {
		return nil, fmt.Errorf("failed to decode OCR settings: %w", err)
	}

	return &settings, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	message := fmt.Sprintf("OCR service returned status %d: %s", resp.StatusCode, string(body))
	if resp.StatusCode == http.StatusNotFound {
		return domain.NotFoundError(message, nil)
	}
	return domain.ProviderError(message, nil)
}
