// Package sms provides a thin client for an HTTP SMS gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"
)

// Client sends SMS messages through a JSON HTTP gateway. A nil Client is
// valid and drops messages silently (gateway not configured).
type Client struct {
	baseURL  string
	apiKey   string
	senderID string
	http     *http.Client
	log      *logger.Logger
}

type gatewayRequest struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Message string `json:"message"`
}

type gatewayResponse struct {
	MessageID string `json:"messageId"`
}

// NewClient creates a gateway client, or nil when no gateway URL is configured.
func NewClient(cfg config.SMSConfig, log *logger.Logger) *Client {
	if cfg.GetSMSGatewayURL() == "" {
		return nil
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.GetSMSGatewayURL(), "/"),
		apiKey:   cfg.GetSMSGatewayKey(),
		senderID: cfg.GetSMSSenderID(),
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

// Send delivers one SMS and returns the gateway message id.
func (c *Client) Send(ctx context.Context, phoneNumber string, message string) (string, error) {
	if c == nil {
		return "", nil
	}

	normalized := phone.NormalizeE164(phoneNumber)

	payload := gatewayRequest{
		To:      normalized,
		From:    c.senderID,
		Message: message,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal sms payload: %w", err)
	}

	url := fmt.Sprintf("%s/messages", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("sms request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed gatewayResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("parse sms gateway response: %w", err)
	}

	c.log.Info("sms sent", "phone", normalized, "providerMessageId", parsed.MessageID)
	return parsed.MessageID, nil
}
