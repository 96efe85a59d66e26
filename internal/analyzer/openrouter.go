package analyzer

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

	"golang.org/x/time/rate"

	"github.com/carelink-health/document-intake-api/internal/models"
	"github.com/carelink-health/document-intake-api/internal/utils"
)

// OpenRouterConfig holds configuration for the OpenRouter adapter.
type OpenRouterConfig struct {
	APIKey string
	// Model used for classification and entity extraction.
	Model string
	// VisionModel used for image OCR.
	VisionModel string
	// RequestsPerSecond caps the sustained call rate against the provider.
	RequestsPerSecond float64
	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration
}

// OpenRouterCapability implements both the reasoning Capability and the OCR
// VisionCapability against the OpenRouter chat-completions API.
type OpenRouterCapability struct {
	cfg     OpenRouterConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *utils.Logger
}

var _ Capability = (*OpenRouterCapability)(nil)

const openRouterEndpoint = "https://openrouter.ai/api/v1/chat/completions"

// Truncation bound for prompt text.
const maxPromptChars = 4000

func NewOpenRouterCapability(cfg OpenRouterConfig, logger *utils.Logger) *OpenRouterCapability {
	if cfg.Model == "" {
		cfg.Model = "openai/gpt-4o-mini"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = "openai/gpt-4o"
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2.0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &OpenRouterCapability{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role string `json:"role"`
	// Content is a string for text prompts or a part list for vision prompts.
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

const classifyPrompt = `You are a clinical document processor for a healthcare administration platform.

Analyze the following document (filename: %s) and respond ONLY with a valid JSON object (no markdown, no code blocks) with this structure:
{
  "document_type": "lab_report, referral_letter, discharge_summary, imaging_report, prescription, insurance_form, or another short label",
  "confidence": 0.0,
  "summary": "A concise 2-3 sentence summary of the document",
  "key_data": {
    "document_date": "YYYY-MM-DD or null",
    "urgency": "routine, urgent, or stat",
    "follow_up_required": true,
    "referring_provider": "name or null"
  }
}

"confidence" must be a number between 0 and 1 reflecting how certain the classification is.

Document text:
%s`

const medicalInfoPrompt = `You are a clinical entity extractor.

Extract structured medical information from the following document text. Respond ONLY with a valid JSON object (no markdown, no code blocks) with this structure; omit or null any field not present in the text:
{
  "patient_name": "full name or null",
  "patient_id": "medical record number or null",
  "date_of_birth": "YYYY-MM-DD or null",
  "diagnoses": ["..."],
  "medications": ["..."],
  "procedures": ["..."],
  "allergies": ["..."],
  "vitals": {"blood_pressure": "120/80"}
}

Document text:
%s`

const ocrPrompt = `Extract all readable text from this document image. Respond with the plain text only, preserving line breaks. Do not describe the image or add commentary.`

// Classify asks the model for a document type, summary and key data, decoded
// strictly into a Classification.
func (c *OpenRouterCapability) Classify(ctx context.Context, text, filename string) (*Classification, error) {
	prompt := fmt.Sprintf(classifyPrompt, filename, truncate(text))

	content, err := c.chat(ctx, c.cfg.Model, chatMessage{Role: "user", Content: prompt})
	if err != nil {
		return nil, err
	}

	var result Classification
	if err := decodeStrict(content, &result); err != nil {
		c.logger.Error("Failed to parse classification response", "content", content)
		return nil, err
	}

	if result.DocumentType == "" {
		return nil, fmt.Errorf("%w: missing document_type", ErrMalformedResponse)
	}

	return &result, nil
}

// ExtractMedicalInfo asks the model for the structured medical-entity block.
func (c *OpenRouterCapability) ExtractMedicalInfo(ctx context.Context, text string) (*models.MedicalInfo, error) {
	prompt := fmt.Sprintf(medicalInfoPrompt, truncate(text))

	content, err := c.chat(ctx, c.cfg.Model, chatMessage{Role: "user", Content: prompt})
	if err != nil {
		return nil, err
	}

	var result models.MedicalInfo
	if err := decodeStrict(content, &result); err != nil {
		c.logger.Error("Failed to parse medical info response", "content", content)
		return nil, err
	}

	return &result, nil
}

// ExtractImageText performs OCR through the vision model. Implements
// extractor.VisionCapability.
func (c *OpenRouterCapability) ExtractImageText(ctx context.Context, data []byte, contentType string) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))

	msg := chatMessage{
		Role: "user",
		Content: []contentPart{
			{Type: "text", Text: ocrPrompt},
			{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
		},
	}

	return c.chat(ctx, c.cfg.VisionModel, msg)
}

// chat performs one rate-limited chat-completions call and returns the
// assistant message content.
func (c *OpenRouterCapability) chat(ctx context.Context, model string, msg chatMessage) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait: %w", err)
	}

	reqBody := chatRequest{Model: model, Messages: []chatMessage{msg}}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openRouterEndpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("OpenRouter API error", "status", resp.StatusCode, "body", string(body))
		return "", fmt.Errorf("OpenRouter API returned status %d", resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("OpenRouter API error: %s", chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrMalformedResponse)
	}

	return chatResp.Choices[0].Message.Content, nil
}

// decodeStrict parses capability output into the expected structure, with a
// salvage pass for markdown code fences. Anything that still fails to decode
// is a malformed capability response.
func decodeStrict(content string, out interface{}) error {
	if err := json.Unmarshal([]byte(content), out); err != nil {
		salvaged := stripCodeFence(content)
		if err := json.Unmarshal([]byte(salvaged), out); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	return nil
}

// stripCodeFence removes a surrounding markdown code block if present.
func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return content
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}

	return strings.TrimSpace(trimmed)
}

func truncate(text string) string {
	if len(text) > maxPromptChars {
		return text[:maxPromptChars] + "..."
	}
	return text
}
