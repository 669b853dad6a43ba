package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/waktihq/notify/pkg/logger"
)

const DefaultBaseURL = "https://onesignal.com/api/v1"

// Client talks to the OneSignal REST API. Device fan-out is the provider's
// job; messages are addressed by external user id only.
type Client interface {
	Send(ctx context.Context, n *Notification) (string, error)
	Cancel(ctx context.Context, notificationID string) error
	Ready(ctx context.Context) error
}

type Config struct {
	AppID   string
	RESTKey string
	BaseURL string
	Timeout time.Duration
}

// Notification is the provider send payload. SendAfter delegates exact-time
// delivery to the provider's own scheduler.
type Notification struct {
	ExternalUserID string
	Title          string
	Body           string
	Data           map[string]interface{}
	DeepLink       string
	SendAfter      *time.Time
}

type client struct {
	cfg    Config
	http   *http.Client
	cb     *gobreaker.CircuitBreaker
	logger *logger.Logger
}

type sendRequest struct {
	AppID          string                 `json:"app_id"`
	IncludeAliases aliases                `json:"include_aliases"`
	TargetChannel  string                 `json:"target_channel"`
	Headings       map[string]string      `json:"headings"`
	Contents       map[string]string      `json:"contents"`
	Data           map[string]interface{} `json:"data,omitempty"`
	URL            string                 `json:"url,omitempty"`
	SendAfter      string                 `json:"send_after,omitempty"`
}

type aliases struct {
	ExternalID []string `json:"external_id"`
}

type sendResponse struct {
	ID     string          `json:"id"`
	Errors json.RawMessage `json:"errors,omitempty"`
}

func NewClient(cfg Config, log *logger.Logger) (Client, error) {
	if cfg.AppID == "" {
		return nil, fmt.Errorf("push: app id is required")
	}
	if cfg.RESTKey == "" {
		return nil, fmt.Errorf("push: REST key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "onesignal",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("push provider circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		cb:     cb,
		logger: log,
	}, nil
}

// Send dispatches one notification and returns the provider-assigned id.
// A 2xx response without an id means the provider matched no recipients,
// which callers treat as a failure.
func (c *client) Send(ctx context.Context, n *Notification) (string, error) {
	req := sendRequest{
		AppID:          c.cfg.AppID,
		IncludeAliases: aliases{ExternalID: []string{n.ExternalUserID}},
		TargetChannel:  "push",
		Headings:       map[string]string{"en": n.Title},
		Contents:       map[string]string{"en": n.Body},
		Data:           n.Data,
		URL:            n.DeepLink,
	}
	if n.SendAfter != nil {
		req.SendAfter = n.SendAfter.UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal send request: %w", err)
	}

	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.doSend(ctx, body)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *client) doSend(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Basic "+c.cfg.RESTKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("push send: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("push send: provider returned %d: %s", resp.StatusCode, respBody)
	}

	var out sendResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("push send: decode response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("push send: provider accepted request but returned no notification id: %s", respBody)
	}
	return out.ID, nil
}

// Cancel removes a scheduled, not-yet-delivered notification by its provider
// id. It has no effect once the provider has delivered it.
func (c *client) Cancel(ctx context.Context, notificationID string) error {
	u := fmt.Sprintf("%s/notifications/%s?app_id=%s",
		c.cfg.BaseURL, url.PathEscape(notificationID), url.QueryEscape(c.cfg.AppID))

	_, err := c.cb.Execute(func() (interface{}, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Basic "+c.cfg.RESTKey)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("push cancel: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
			return nil, fmt.Errorf("push cancel: provider returned %d: %s", resp.StatusCode, respBody)
		}
		return nil, nil
	})
	return err
}

// Ready probes the provider with a cheap authenticated request.
func (c *client) Ready(ctx context.Context) error {
	u := fmt.Sprintf("%s/notifications?app_id=%s&limit=1", c.cfg.BaseURL, url.QueryEscape(c.cfg.AppID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Basic "+c.cfg.RESTKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("push ready: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push ready: provider returned %d", resp.StatusCode)
	}
	return nil
}

// WaitReady polls Ready until it succeeds or the deadline passes. The wait is
// bounded so a provider that never comes up fails startup instead of looping
// forever.
func WaitReady(ctx context.Context, c Client, timeout, interval time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if lastErr = c.Ready(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("push provider not ready after %s: %w", timeout, lastErr)
		case <-ticker.C:
		}
	}
}
