package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/campaign-orchestrator/internal/domain"
	"github.com/ignite/campaign-orchestrator/internal/pkg/httpretry"
	"github.com/ignite/campaign-orchestrator/internal/pkg/logger"
)

const defaultSparkPostBaseURL = "https://api.sparkpost.com/api/v1"

// SparkPost sends single-recipient transmissions via the SparkPost REST API.
// Transient 5xx responses are retried inside the HTTP client; 429 responses
// surface as *RateLimitError carrying the Retry-After hint.
type SparkPost struct {
	apiKey  string
	baseURL string
	client  httpretry.HTTPDoer
}

// NewSparkPost creates a SparkPost client. An empty baseURL selects the
// public API endpoint.
func NewSparkPost(apiKey, baseURL string) *SparkPost {
	if baseURL == "" {
		baseURL = defaultSparkPostBaseURL
	}
	return &SparkPost{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 3),
	}
}

// SetHTTPClient replaces the underlying HTTP client, mainly for tests.
func (s *SparkPost) SetHTTPClient(c httpretry.HTTPDoer) { s.client = c }

// Name identifies this provider.
func (s *SparkPost) Name() string { return "sparkpost" }

type sparkPostAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sparkPostTransmission struct {
	Recipients []struct {
		Address sparkPostAddress `json:"address"`
	} `json:"recipients"`
	Content struct {
		From    sparkPostAddress  `json:"from"`
		Subject string            `json:"subject"`
		HTML    string            `json:"html,omitempty"`
		Text    string            `json:"text,omitempty"`
		ReplyTo string            `json:"reply_to,omitempty"`
		Headers map[string]string `json:"headers,omitempty"`
	} `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Options  struct {
		OpenTracking  bool `json:"open_tracking"`
		ClickTracking bool `json:"click_tracking"`
		Transactional bool `json:"transactional"`
	} `json:"options"`
}

type sparkPostResponse struct {
	Results struct {
		ID string `json:"id"`
	} `json:"results"`
	Errors []struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors,omitempty"`
}

// Send submits one transmission.
func (s *SparkPost) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if s.apiKey == "" {
		return nil, &SendError{Provider: s.Name(), Code: "not_configured", Message: "SparkPost API key not configured"}
	}

	var tx sparkPostTransmission
	tx.Recipients = []struct {
		Address sparkPostAddress `json:"address"`
	}{{Address: sparkPostAddress{Email: msg.Email}}}
	tx.Content.From = sparkPostAddress{Email: msg.FromEmail, Name: msg.FromName}
	tx.Content.Subject = msg.Subject
	tx.Content.HTML = msg.HTMLContent
	tx.Content.Text = msg.TextContent
	tx.Content.ReplyTo = msg.ReplyTo
	tx.Content.Headers = msg.Headers
	tx.Metadata = map[string]interface{}{
		"campaign_id": msg.CampaignID.String(),
		"contact_id":  msg.ContactID.String(),
	}
	tx.Options.OpenTracking = true
	tx.Options.ClickTracking = true

	body, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("marshal transmission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/transmissions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sparkpost request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read sparkpost response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		logger.Warn("sparkpost rate limited", "retry_after", retryAfter.String())
		return nil, &RateLimitError{Provider: s.Name(), RetryAfter: retryAfter}
	}

	var apiResp sparkPostResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse sparkpost response: %w (body: %s)", err, truncate(string(respBody), 200))
	}

	if resp.StatusCode >= 400 {
		code, message := "http_"+strconv.Itoa(resp.StatusCode), http.StatusText(resp.StatusCode)
		if len(apiResp.Errors) > 0 {
			code, message = apiResp.Errors[0].Code, apiResp.Errors[0].Message
		}
		logger.Error("sparkpost send rejected", "status", strconv.Itoa(resp.StatusCode), "code", code, "message", message)
		return nil, &SendError{Provider: s.Name(), Code: code, Message: message}
	}

	logger.Info("sparkpost send accepted", "email", msg.Email, "transmission_id", apiResp.Results.ID,
		"campaign_id", msg.CampaignID.String())

	return &domain.SendResult{
		MessageID: apiResp.Results.ID,
		Provider:  s.Name(),
		SentAt:    time.Now(),
	}, nil
}

// parseRetryAfter handles the delta-seconds form of Retry-After. The HTTP
// date form is rare from SparkPost and falls back to zero (no hint).
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
