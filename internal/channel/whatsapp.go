package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hirewire/whatsapp-agent/pkg/logging"
)

const (
	defaultBaseURL   = "https://graph.facebook.com/v21.0"
	defaultUserAgent = "hirewire-whatsapp-agent/0.1"
)

// WhatsAppConfig controls how the Cloud API client behaves.
type WhatsAppConfig struct {
	BaseURL          string
	Token            string
	PhoneNumberID    string
	TemplateLanguage string
	Timeout          time.Duration
	HTTPClient       *http.Client
	Logger           *logging.Logger
	UserAgent        string
}

// WhatsAppClient sends messages through the WhatsApp Business Cloud API.
type WhatsAppClient struct {
	baseURL       string
	token         string
	phoneNumberID string
	language      string
	httpClient    *http.Client
	logger        *logging.Logger
	userAgent     string
}

// NewWhatsAppClient creates a configured client with sane defaults.
func NewWhatsAppClient(cfg WhatsAppConfig) (*WhatsAppClient, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("channel: whatsapp token is required")
	}
	if strings.TrimSpace(cfg.PhoneNumberID) == "" {
		return nil, errors.New("channel: whatsapp phone number id is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	language := cfg.TemplateLanguage
	if language == "" {
		language = "es"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &WhatsAppClient{
		baseURL:       baseURL,
		token:         cfg.Token,
		phoneNumberID: cfg.PhoneNumberID,
		language:      language,
		httpClient:    httpClient,
		logger:        logger,
		userAgent:     userAgent,
	}, nil
}

type waTextPayload struct {
	MessagingProduct string     `json:"messaging_product"`
	To               string     `json:"to"`
	Type             string     `json:"type"`
	Text             waTextBody `json:"text"`
}

type waTextBody struct {
	Body string `json:"body"`
}

type waTemplatePayload struct {
	MessagingProduct string     `json:"messaging_product"`
	To               string     `json:"to"`
	Type             string     `json:"type"`
	Template         waTemplate `json:"template"`
}

type waTemplate struct {
	Name       string        `json:"name"`
	Language   waLanguage    `json:"language"`
	Components []waComponent `json:"components,omitempty"`
}

type waLanguage struct {
	Code string `json:"code"`
}

type waComponent struct {
	Type       string        `json:"type"`
	Parameters []waParameter `json:"parameters"`
}

type waParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type waResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText dispatches one free-form session message.
func (c *WhatsAppClient) SendText(ctx context.Context, destination, text string) (SendResult, error) {
	payload := waTextPayload{
		MessagingProduct: "whatsapp",
		To:               destination,
		Type:             "text",
		Text:             waTextBody{Body: text},
	}
	return c.post(ctx, payload)
}

// SendTemplate dispatches one pre-approved template with positional body
// variables.
func (c *WhatsAppClient) SendTemplate(ctx context.Context, destination, templateName string, variables []string) (SendResult, error) {
	tpl := waTemplate{
		Name:     templateName,
		Language: waLanguage{Code: c.language},
	}
	if len(variables) > 0 {
		params := make([]waParameter, 0, len(variables))
		for _, v := range variables {
			params = append(params, waParameter{Type: "text", Text: v})
		}
		tpl.Components = []waComponent{{Type: "body", Parameters: params}}
	}
	payload := waTemplatePayload{
		MessagingProduct: "whatsapp",
		To:               destination,
		Type:             "template",
		Template:         tpl,
	}
	return c.post(ctx, payload)
}

// post performs one messages call. A reachable-but-rejecting provider comes
// back as an unsuccessful SendResult, not an error.
func (c *WhatsAppClient) post(ctx context.Context, payload any) (SendResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, fmt.Errorf("channel: marshal payload: %w", err)
	}
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, fmt.Errorf("channel: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("channel: whatsapp request: %w", err)
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()

	var parsed waResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return SendResult{}, fmt.Errorf("channel: decode response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || parsed.Error != nil {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		c.logger.Warn("whatsapp send rejected", "status", resp.StatusCode, "error", msg)
		return SendResult{Success: false, Error: msg}, nil
	}
	if len(parsed.Messages) == 0 {
		return SendResult{Success: false, Error: "no message id in response"}, nil
	}
	return SendResult{Success: true, MessageID: parsed.Messages[0].ID}, nil
}
