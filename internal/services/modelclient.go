package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-resty/resty/v2"

	"receipt-pipeline/server/internal/config"
	"receipt-pipeline/server/internal/errors"
)

// ModelClient wraps the large-language-model HTTP API used by the parsing
// cascade's model-text/model-vision stages and by the resolver's fallback.
// A nil-valued APIKey in config disables the client; callers check Enabled()
// before invoking it rather than taking a failure path on every call.
type ModelClient struct {
	client  *resty.Client
	apiKey  string
	enabled bool
}

func NewModelClient(cfg config.ModelConfig) *ModelClient {
	client := resty.New()
	client.SetTimeout(60 * time.Second)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(1 * time.Second)
	client.SetRetryMaxWaitTime(5 * time.Second)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	client.SetBaseURL(baseURL)

	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() >= 500
	})

	return &ModelClient{client: client, apiKey: cfg.APIKey, enabled: cfg.APIKey != ""}
}

func (m *ModelClient) Enabled() bool {
	return m != nil && m.enabled
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ParseTransactionText asks the model to structure an unparsed receipt text
// into transaction fields. Used when the regex cascade finds no matching
// dialect, or when its confidence falls below RegexConfidenceThreshold.
func (m *ModelClient) ParseTransactionText(ctx context.Context, text string) (map[string]interface{}, error) {
	if !m.Enabled() {
		return nil, errors.New(errors.VisionUnavailable, "model client not configured")
	}

	req := chatCompletionRequest{
		Model: "gpt-4o-2024-08-06",
		Messages: []chatMessage{
			{Role: "system", Content: transactionSystemPrompt},
			{Role: "user", Content: maskSensitive(text)},
		},
		Temperature: 0.1,
	}

	return m.complete(ctx, req)
}

// ParseTransactionImages asks a vision-capable model to extract transaction
// fields from rendered receipt page images, used as the cascade's last
// resort when no extractable text survives the PDF stage.
func (m *ModelClient) ParseTransactionImages(ctx context.Context, imagesB64 []string, textHint string) (map[string]interface{}, error) {
	if !m.Enabled() {
		return nil, errors.New(errors.VisionUnavailable, "vision model not configured")
	}

	content := []map[string]interface{}{
		{"type": "text", "text": "Extract the transaction from these receipt images. Hint text: " + maskSensitive(textHint)},
	}
	for _, img := range imagesB64 {
		content = append(content, map[string]interface{}{
			"type":      "image_url",
			"image_url": map[string]string{"url": "data:image/png;base64," + img},
		})
	}

	req := chatCompletionRequest{
		Model: "gpt-4o-2024-08-06",
		Messages: []chatMessage{
			{Role: "system", Content: transactionSystemPrompt},
			{Role: "user", Content: content},
		},
		Temperature: 0.1,
		MaxTokens:   600,
	}

	return m.complete(ctx, req)
}

// ResolveOperator asks the model to map a raw operator string to a known or
// new application name, used when the resolver's dictionary match fails.
func (m *ModelClient) ResolveOperator(ctx context.Context, operatorRaw, rawText string, knownApps []string, hints []string) (map[string]interface{}, error) {
	if !m.Enabled() {
		return nil, errors.New(errors.VisionUnavailable, "model client not configured")
	}

	prompt := fmt.Sprintf(
		"Operator: %s\nKnown applications: %v\nDictionary hints:\n%v\nText excerpt: %s",
		operatorRaw, knownApps, hints, maskSensitive(truncate(rawText, 4000)))

	req := chatCompletionRequest{
		Model: "gpt-4o-mini",
		Messages: []chatMessage{
			{Role: "system", Content: operatorResolveSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.15,
	}

	return m.complete(ctx, req)
}

func (m *ModelClient) complete(ctx context.Context, req chatCompletionRequest) (map[string]interface{}, error) {
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&chatCompletionResponse{}).
		Post("/chat/completions")

	if err != nil {
		slog.Error("model request failed", "error", err)
		return nil, errors.New(errors.TransportUnavailable, fmt.Sprintf("model request failed: %v", err))
	}

	if resp.StatusCode() != http.StatusOK {
		slog.Error("model service returned error", "status", resp.StatusCode(), "body", string(resp.Body()))
		return nil, errors.New(errors.TransportUnavailable, fmt.Sprintf("model service error: status %d", resp.StatusCode()))
	}

	ccr := resp.Result().(*chatCompletionResponse)
	if len(ccr.Choices) == 0 {
		return nil, errors.New(errors.ParseFailure, "model returned no choices")
	}

	return extractJSON(ccr.Choices[0].Message.Content)
}

func extractJSON(raw string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out, nil
	}

	match := jsonObjectPattern.FindString(raw)
	if match == "" {
		return nil, errors.New(errors.ParseFailure, "model response contained no JSON object")
	}
	if err := json.Unmarshal([]byte(match), &out); err != nil {
		return nil, errors.New(errors.ParseFailure, "model response JSON did not parse")
	}
	return out, nil
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

var cardPattern = regexp.MustCompile(`(?:\d[ -]?){12,19}`)
var phonePattern = regexp.MustCompile(`\+?\d[\d -]{9,14}`)

// maskSensitive redacts all but the last 4 digits of card- and phone-like
// digit runs before any text leaves this process for the model API.
func maskSensitive(text string) string {
	text = maskDigitRuns(text, cardPattern)
	text = maskDigitRuns(text, phonePattern)
	return text
}

func maskDigitRuns(text string, pattern *regexp.Regexp) string {
	return pattern.ReplaceAllStringFunc(text, func(match string) string {
		digits := 0
		for _, r := range match {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits < 4 {
			return match
		}
		kept := 4
		masked := make([]rune, 0, len(match))
		seen := 0
		total := digits
		for _, r := range match {
			if r >= '0' && r <= '9' {
				seen++
				if total-seen < kept {
					masked = append(masked, r)
				} else {
					masked = append(masked, '*')
				}
			} else {
				masked = append(masked, r)
			}
		}
		return string(masked)
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

const transactionSystemPrompt = `You extract structured payment transaction data from Uzbek banking notification text or receipt images. Card operators include Humo, Uzcard, and various P2P transfer apps. Respond with a single JSON object containing: amount, currency, transaction_date_iso, card_last_4, operator_raw, transaction_type (DEBIT, CREDIT, CONVERSION, or REVERSAL), balance_after, confidence (0 to 1).`

const operatorResolveSystemPrompt = `You map a raw payment operator string to a known application name. P2P transfers move money between individuals rather than to a merchant. Only propose a new application_name when the operator is clearly a different, identifiable app; otherwise return one of the known applications or "Unknown". Respond with a single JSON object: application_name, is_p2p, confidence (0 to 1), recommended_operator_name (optional), reasoning (optional).`
