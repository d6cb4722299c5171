// Package gateway sends jobs to an HTTP transport gateway that fronts the
// real email/SMS/WhatsApp/Telegram providers.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"outreach/internal/dispatch"
	"outreach/internal/domain"
)

const SignatureHeader = "X-Outreach-Signature"

type Client struct {
	BaseURL string
	// Secret signs request bodies; empty disables signing.
	Secret string
	HTTP   *http.Client

	// MaxAttempts bounds in-call retries on transient failures.
	MaxAttempts int
}

type SendRequest struct {
	MessageID string         `json:"messageId"`
	TenantID  string         `json:"tenantId"`
	Channel   domain.Channel `json:"channel"`
	To        string         `json:"to"`
	Subject   string         `json:"subject,omitempty"`
	Content   string         `json:"content"`
}

type SendResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CallError carries the HTTP status of a failed gateway call.
type CallError struct {
	Status int
	Err    error
}

func (e *CallError) Error() string { return fmt.Sprintf("gateway status %d: %v", e.Status, e.Err) }
func (e *CallError) Unwrap() error { return e.Err }

// Permanent reports a rejection that resending the same job cannot fix.
func (e *CallError) Permanent() bool { return !ShouldRetry(e, e.Status) }

// Send implements dispatch.Sender. A 202 means the gateway queued the job and
// will report back; any other 2xx is a completed delivery.
func (c *Client) Send(ctx context.Context, m domain.QueueMessage) (dispatch.Outcome, error) {
	to := m.Metadata[domain.MetaPhone]
	if m.Channel == domain.ChannelEmail {
		to = m.Metadata[domain.MetaEmail]
	}
	body, err := json.Marshal(SendRequest{
		MessageID: m.ID,
		TenantID:  m.TenantID,
		Channel:   m.Channel,
		To:        to,
		Subject:   m.Subject,
		Content:   m.Content,
	})
	if err != nil {
		return dispatch.Delivered, err
	}

	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		status, err := c.post(ctx, body)
		if err == nil {
			if status == http.StatusAccepted {
				return dispatch.Accepted, nil
			}
			return dispatch.Delivered, nil
		}
		lastErr = err
		if !ShouldRetry(err, status) || attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return dispatch.Delivered, ctx.Err()
		case <-time.After(Backoff(attempt)):
		}
	}
	return dispatch.Delivered, lastErr
}

func (c *Client) post(ctx context.Context, body []byte) (int, error) {
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/v1/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(c.Secret, body))
	}

	httpc := c.HTTP
	if httpc == nil {
		httpc = http.DefaultClient
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var out SendResponse
		_ = json.Unmarshal(raw, &out)
		msg := out.Message
		if msg == "" {
			msg = "gateway send failed"
		}
		return resp.StatusCode, &CallError{Status: resp.StatusCode, Err: errors.New(msg)}
	}
	return resp.StatusCode, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a Sign value in constant time.
func VerifySignature(secret string, body []byte, provided string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(provided))
}

// ShouldRetry reports whether a failed call is transient.
func ShouldRetry(err error, httpStatus int) bool {
	if err == nil {
		return false
	}
	if httpStatus == 0 {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var ne net.Error
		return errors.As(err, &ne) && ne.Timeout()
	}
	if httpStatus == http.StatusTooManyRequests || httpStatus == http.StatusRequestTimeout {
		return true
	}
	return httpStatus >= 500 && httpStatus <= 599
}

func Backoff(attempt int) time.Duration {
	// 200ms, 600ms, 1400ms
	base := []time.Duration{200 * time.Millisecond, 600 * time.Millisecond, 1400 * time.Millisecond}
	if attempt <= 0 {
		return base[0]
	}
	if attempt >= len(base) {
		return base[len(base)-1]
	}
	return base[attempt]
}
