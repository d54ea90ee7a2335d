package soap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vocdoni/gofirma/afipws/internal/logging"
)

const maxResponseSize = 8 << 20

// StatusError is returned for non-200 answers that carry no SOAP fault.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("unexpected status code: %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

// Client posts SOAP 1.1 requests.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

type Options struct {
	Timeout   time.Duration
	RateLimit float64 // requests per second, <= 0 disables limiting
	RateBurst int
	Transport http.RoundTripper
}

func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		limiter:    rate.NewLimiter(limit, opts.RateBurst),
		logger:     logging.OrNop(logger),
	}
}

// Call posts payload wrapped in an envelope to url and returns the raw Body
// content of the answer.
func (c *Client) Call(ctx context.Context, url, action string, payload any) ([]byte, error) {
	body, err := Marshal(payload)
	if err != nil {
		return nil, err
	}
	raw, err := c.Post(ctx, url, action, body)
	if err != nil {
		return nil, err
	}
	return Unwrap(raw)
}

// Post sends an already built envelope and returns the raw response document.
// HTTP 500 answers carrying a SOAP fault are returned as *Fault.
func (c *Client) Post(ctx context.Context, url, action string, envelope []byte) ([]byte, error) {
	callID := uuid.New().String()
	log := c.logger.With(zap.String("call_id", callID), zap.String("action", action))

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `"`+action+`"`)

	start := time.Now()
	log.Debug("soap request", zap.String("url", url), zap.Int("size", len(envelope)))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debug("soap request failed", zap.Error(err))
		return nil, fmt.Errorf("soap call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug("soap response",
		zap.Int("status", resp.StatusCode),
		zap.Int("size", len(raw)),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode == http.StatusOK {
		return raw, nil
	}
	if _, err := Unwrap(raw); err != nil {
		var fault *Fault
		if errors.As(err, &fault) {
			return nil, fault
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return nil, &StatusError{StatusCode: resp.StatusCode, Body: msg}
}
