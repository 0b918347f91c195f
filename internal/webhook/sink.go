// Package webhook posts finished games and final arena standings to an
// external HTTP endpoint.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/obslog"
)

const (
	SignatureHeader = "X-Mill-Signature"
	EventHeader     = "X-Mill-Event"
)

type Sink struct {
	url     string
	secret  []byte
	http    *fasthttp.Client
	timeout time.Duration

	retryMax int
	backoff  func(attempt int) time.Duration
}

type Option func(*Sink)

func WithTimeout(d time.Duration) Option {
	return func(s *Sink) { s.timeout = d }
}

func WithRetry(max int) Option {
	return func(s *Sink) { s.retryMax = max }
}

// WithBackoff replaces the exponential delay between attempts.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(s *Sink) { s.backoff = fn }
}

func New(url, secret string, opts ...Option) *Sink {
	s := &Sink{
		url:      strings.TrimSpace(url),
		secret:   []byte(secret),
		http:     &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		timeout:  5 * time.Second,
		retryMax: 3,
		backoff:  backoffDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Delivery is the posted body.
type Delivery struct {
	ID      string          `json:"id"`
	Type    events.Type     `json:"type"`
	Scope   string          `json:"scope"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// Wanted reports whether env is forwarded: finished games and the final
// standings of an arena.
func Wanted(env events.Envelope) bool {
	switch env.Type {
	case events.TypeGameFinished:
		return true
	case events.TypeArenaStandingsChanged:
		var st struct {
			Final bool `json:"final"`
		}
		return env.Decode(&st) == nil && st.Final
	}
	return false
}

// Run forwards wanted envelopes until src closes or ctx is done. Failed
// deliveries are logged and dropped.
func (s *Sink) Run(ctx context.Context, src <-chan events.Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-src:
			if !ok {
				return nil
			}
			if !Wanted(env) {
				continue
			}
			if err := s.Send(ctx, env); err != nil {
				obslog.L().Warn("webhook_delivery_failed",
					zap.String("type", string(env.Type)),
					zap.String("scope", env.Scope),
					zap.Error(err),
				)
			}
		}
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	m := hmac.New(sha256.New, secret)
	m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}

func (s *Sink) Send(ctx context.Context, env events.Envelope) error {
	body, err := json.Marshal(Delivery{ID: env.ID, Type: env.Type, Scope: env.Scope, At: env.At, Payload: env.Payload})
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(s.url)
	req.Header.SetContentType("application/json")
	req.Header.Set(EventHeader, string(env.Type))
	if len(s.secret) > 0 {
		req.Header.Set(SignatureHeader, "sha256="+Sign(s.secret, body))
	}
	req.SetBody(body)

	attempts := max(s.retryMax, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := s.http.DoDeadline(req, resp, s.deadline(ctx))
		if err == nil {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				obslog.L().Debug("webhook_delivered", zap.String("type", string(env.Type)), zap.String("scope", env.Scope), zap.Int("attempt", attempt))
				return nil
			}
			err = fmt.Errorf("webhook status=%d body=%s", status, truncate(string(resp.Body()), 256))
			if !shouldRetryStatus(status) {
				return err
			}
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, s.backoff(attempt)); sleepErr != nil {
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (s *Sink) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(s.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	attempt = min(max(attempt, 1), 6)
	return time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
