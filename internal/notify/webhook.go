package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DeliveryHeader carries a per-delivery id so receivers can drop duplicates
// produced by retries.
const DeliveryHeader = "X-Warden-Delivery"

// Sender posts events to webhook endpoints. 5xx and 429 responses are
// retried with linear backoff; any other non-2xx response is final.
type Sender struct {
	Client   *http.Client
	Attempts int
	Backoff  time.Duration
}

// NewSender returns a Sender with a 5s request timeout and three attempts.
func NewSender() *Sender {
	return &Sender{
		Client:   &http.Client{Timeout: 5 * time.Second},
		Attempts: 3,
		Backoff:  time.Second,
	}
}

var errRejected = errors.New("webhook rejected")

// Send delivers event to cfg.URL.
func (s *Sender) Send(ctx context.Context, cfg WebhookConfig, event Event) error {
	body, err := FormatPayload(cfg, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	delivery := uuid.NewString()

	var lastErr error
	for attempt := 1; attempt <= s.Attempts; attempt++ {
		wait, err := s.post(ctx, cfg, delivery, body)
		if err == nil {
			return nil
		}
		if errors.Is(err, errRejected) || ctx.Err() != nil {
			return err
		}
		lastErr = err
		if attempt == s.Attempts {
			break
		}
		if wait == 0 {
			wait = time.Duration(attempt) * s.Backoff
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", s.Attempts, lastErr)
}

// post makes one attempt. A non-zero duration is the server's Retry-After.
func (s *Sender) post(ctx context.Context, cfg WebhookConfig, delivery string, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DeliveryHeader, delivery)
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return 0, nil
	case code == http.StatusTooManyRequests:
		return retryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("webhook throttled: HTTP %d", code)
	case code >= 500:
		return 0, fmt.Errorf("webhook server error: HTTP %d", code)
	default:
		return 0, fmt.Errorf("%w: HTTP %d", errRejected, code)
	}
}

func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, 30*time.Second)
}
