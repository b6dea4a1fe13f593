// Package notify delivers SMS follow-ups through the OmniTech messaging
// gateway.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// SMSClient posts messages to the gateway's /sms/send endpoint. It
// satisfies the CRM notifier contract.
type SMSClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option customizes an SMSClient.
type Option func(*SMSClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *SMSClient) { c.httpClient = hc }
}

// NewSMSClient builds a client for the given gateway base URL.
func NewSMSClient(baseURL, apiKey string, opts ...Option) *SMSClient {
	c := &SMSClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type smsRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type smsError struct {
	Error string `json:"error"`
}

// SendMessage delivers one SMS. Non-2xx responses are returned as errors
// with the gateway's message when it provides one.
func (c *SMSClient) SendMessage(ctx context.Context, phone, message string) error {
	payload, err := json.Marshal(smsRequest{To: phone, Message: message})
	if err != nil {
		return fmt.Errorf("encode sms request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sms/send", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var gwErr smsError
	if json.Unmarshal(body, &gwErr) == nil && gwErr.Error != "" {
		return fmt.Errorf("sms gateway: %s (status %d)", gwErr.Error, resp.StatusCode)
	}
	return fmt.Errorf("sms gateway: unexpected status %d", resp.StatusCode)
}
