package export

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carelink-health/document-intake-api/internal/utils"
)

// EmailConfig holds configuration for the HTTP email provider.
type EmailConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// httpEmailClient delivers mail through a Resend-style JSON API.
type httpEmailClient struct {
	cfg    EmailConfig
	client *http.Client
	logger *utils.Logger
}

var _ EmailClient = (*httpEmailClient)(nil)

func NewHTTPEmailClient(cfg EmailConfig, logger *utils.Logger) EmailClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.resend.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &httpEmailClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type emailRequest struct {
	From        string            `json:"from"`
	To          []string          `json:"to"`
	Subject     string            `json:"subject"`
	Text        string            `json:"text"`
	Attachments []emailAttachment `json:"attachments,omitempty"`
}

type emailAttachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type emailResponse struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
	Name    string `json:"name,omitempty"`
}

func (c *httpEmailClient) Send(ctx context.Context, msg EmailMessage) (string, error) {
	reqBody := emailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Text,
	}
	if msg.Attachment != nil {
		reqBody.Attachments = []emailAttachment{{
			Filename: msg.Attachment.Filename,
			Content:  base64.StdEncoding.EncodeToString(msg.Attachment.Data),
		}}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/emails", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create email request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send email request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read email response: %w", err)
	}

	if resp.StatusCode == http.StatusForbidden || isUnverifiedSenderBody(body) {
		return "", fmt.Errorf("%w: %s", ErrUnverifiedSender, strings.TrimSpace(string(body)))
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.logger.Error("Email API error", "status", resp.StatusCode, "body", string(body))
		return "", fmt.Errorf("email API returned status %d", resp.StatusCode)
	}

	var emailResp emailResponse
	if err := json.Unmarshal(body, &emailResp); err != nil {
		return "", fmt.Errorf("failed to parse email response: %w", err)
	}

	return emailResp.ID, nil
}

// isUnverifiedSenderBody matches the provider's domain/sender verification
// error regardless of status code shape.
func isUnverifiedSenderBody(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "not verified") || strings.Contains(lower, "verify a domain")
}
