package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/evocrm/wabridge/pkg/phone"
	"github.com/sirupsen/logrus"
)

// DefaultSendTimeout bounds every outbound call; past it the send is failed,
// not hung.
const DefaultSendTimeout = 30 * time.Second

// SendOptions tune one outbound send. Zero values fall back to the client's
// configured defaults; LinkPreview defaults to enabled.
type SendOptions struct {
	DelayMs     int
	Presence    bool
	LinkPreview *bool
}

// SendResult is the gateway's answer to a send-text call.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Client talks to the Evolution API REST surface. It never retries; retry
// policy belongs to the caller.
type Client struct {
	baseURL     string
	apiKey      string
	countryCode string
	delayMs     int
	presence    bool
	httpClient  *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

func WithSendDefaults(delayMs int, presence bool) ClientOption {
	return func(c *Client) {
		c.delayMs = delayMs
		c.presence = presence
	}
}

func NewClient(baseURL, apiKey, countryCode string, timeout time.Duration, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	c := &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		countryCode: countryCode,
		httpClient:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendText submits one text message for the given instance. The destination
// is canonicalized with the same rule the identity resolver applies, so the
// two sides of the bridge agree on phone format.
func (c *Client) SendText(ctx context.Context, instance, rawPhone, text string, opts *SendOptions) (*SendResult, error) {
	number := phone.Canonicalize(rawPhone, c.countryCode)
	if number == "" {
		return &SendResult{Success: false, Error: "invalid destination phone"},
			fmt.Errorf("invalid destination phone %q", rawPhone)
	}
	if instance == "" {
		return &SendResult{Success: false, Error: "instance is required"},
			fmt.Errorf("instance is required")
	}

	delay := c.delayMs
	presence := c.presence
	linkPreview := true
	if opts != nil {
		if opts.DelayMs > 0 {
			delay = opts.DelayMs
		}
		if opts.Presence {
			presence = true
		}
		if opts.LinkPreview != nil {
			linkPreview = *opts.LinkPreview
		}
	}

	body := map[string]any{
		"number":      number,
		"text":        text,
		"linkPreview": linkPreview,
	}
	if delay > 0 {
		body["delay"] = delay
	}
	if presence {
		body["presence"] = "composing"
	}

	var resp struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
		Status string `json:"status"`
	}

	url := fmt.Sprintf("%s/message/sendText/%s", c.baseURL, instance)
	if err := c.jsonRequest(ctx, http.MethodPost, url, body, &resp); err != nil {
		logrus.WithError(err).Errorf("[EVOLUTION] sendText failed for %s via %s", number, instance)
		return &SendResult{Success: false, Error: err.Error()}, err
	}

	return &SendResult{
		Success:   true,
		MessageID: resp.Key.ID,
		Status:    resp.Status,
	}, nil
}

// ConnectionState queries the gateway for the instance connection status.
func (c *Client) ConnectionState(ctx context.Context, instance string) (string, error) {
	var resp struct {
		Instance struct {
			State string `json:"state"`
		} `json:"instance"`
	}

	url := fmt.Sprintf("%s/instance/connectionState/%s", c.baseURL, instance)
	if err := c.jsonRequest(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return "", err
	}
	return resp.Instance.State, nil
}

func (c *Client) jsonRequest(ctx context.Context, method, url string, payload, out any) error {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
