package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/carelink-health/document-intake-api/internal/utils"
)

// FaxConfig holds configuration for the HTTP fax provider.
type FaxConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// httpFaxClient transmits faxes through a Phaxio-style multipart API.
type httpFaxClient struct {
	cfg    FaxConfig
	client *http.Client
	logger *utils.Logger
}

var _ FaxClient = (*httpFaxClient)(nil)

func NewHTTPFaxClient(cfg FaxConfig, logger *utils.Logger) FaxClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.phaxio.com/v2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &httpFaxClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type faxResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		ID int64 `json:"id"`
	} `json:"data"`
}

func (c *httpFaxClient) Send(ctx context.Context, job FaxJob) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("to", job.To); err != nil {
		return "", fmt.Errorf("failed to build fax request: %w", err)
	}

	part, err := writer.CreateFormFile("file", job.Document.Filename)
	if err != nil {
		return "", fmt.Errorf("failed to build fax request: %w", err)
	}
	if _, err := part.Write(job.Document.Data); err != nil {
		return "", fmt.Errorf("failed to build fax request: %w", err)
	}

	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to build fax request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/faxes", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create fax request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send fax request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read fax response: %w", err)
	}

	if resp.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(string(body)), "caller id") {
		return "", fmt.Errorf("%w: %s", ErrUnverifiedSender, strings.TrimSpace(string(body)))
	}

	var faxResp faxResponse
	if err := json.Unmarshal(body, &faxResp); err != nil {
		c.logger.Error("Fax API error", "status", resp.StatusCode, "body", string(body))
		return "", fmt.Errorf("fax API returned status %d", resp.StatusCode)
	}

	if !faxResp.Success {
		return "", fmt.Errorf("fax API error: %s", faxResp.Message)
	}

	return fmt.Sprintf("%d", faxResp.Data.ID), nil
}
