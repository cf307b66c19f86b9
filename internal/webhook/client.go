package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelnorm/internal/id"
)

const (
	HeaderSignature = "X-Pixelnorm-Signature"
	HeaderTimestamp = "X-Pixelnorm-Timestamp"
	HeaderEvent     = "X-Pixelnorm-Event"
	HeaderDelivery  = "X-Pixelnorm-Delivery"

	userAgent = "pixelnorm-webhook/1"
)

// StatusError is a non-2xx answer from the receiver.
type StatusError struct {
	Code       int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook receiver returned %d", e.Code)
}

// Retryable reports whether the receiver may accept the same delivery later.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	http   *http.Client
	secret string

	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewClient(cfg Config) *Client {
	c := &Client{
		http:       &http.Client{Timeout: cfg.Timeout},
		secret:     cfg.SigningSecret,
		attempts:   max(cfg.MaxAttempts, 1),
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
	}
	if c.http.Timeout <= 0 {
		c.http.Timeout = 10 * time.Second
	}
	if c.backoff <= 0 {
		c.backoff = time.Second
	}
	c.maxBackoff = max(c.maxBackoff, c.backoff)
	return c
}

func (c *Client) SendJobEvent(ctx context.Context, endpoint string, event JobEvent) error {
	return c.Send(ctx, endpoint, event.Name(), event)
}

// Send signs payload once and posts it until the receiver answers 2xx, the
// attempts run out or a non-retryable status comes back. Every attempt
// carries the same delivery id so receivers can deduplicate. An empty
// endpoint is a no-op.
func (c *Client) Send(ctx context.Context, endpoint, event string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	headers := http.Header{
		"Content-Type":  {"application/json"},
		"User-Agent":    {userAgent},
		HeaderEvent:     {event},
		HeaderTimestamp: {timestamp},
		HeaderSignature: {Sign(c.secret, timestamp, body)},
		HeaderDelivery:  {id.New()},
	}

	wait := c.backoff
	for attempt := 1; ; attempt++ {
		err := c.post(ctx, endpoint, headers, body)
		if err == nil {
			return nil
		}

		statusErr, isStatus := err.(*StatusError)
		if isStatus && !statusErr.Retryable() {
			return fmt.Errorf("webhook %s rejected: %w", event, err)
		}
		if attempt == c.attempts {
			return fmt.Errorf("webhook %s failed after %d attempts: %w", event, attempt, err)
		}

		delay := wait
		if isStatus && statusErr.RetryAfter > 0 {
			delay = min(statusErr.RetryAfter, c.maxBackoff)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, c.maxBackoff)
	}
}

func (c *Client) post(ctx context.Context, endpoint string, headers http.Header, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header = headers.Clone()

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	statusErr := &StatusError{Code: resp.StatusCode}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		statusErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return statusErr
}
