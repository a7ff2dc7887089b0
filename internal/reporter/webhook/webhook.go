// Package webhook pushes the end-of-test summary to an HTTP endpoint.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"

	"yqhp/load-engine/internal/reporter/summary"
	"yqhp/load-engine/pkg/logger"
)

// EventTestFinished is the event name of the summary payload.
const EventTestFinished = "test.finished"

// ErrNoURL is returned when the webhook has no URL.
var ErrNoURL = errors.New("webhook URL is required")

// Config holds configuration for the Webhook reporter.
type Config struct {
	// URL is the webhook endpoint URL.
	URL string `yaml:"url"`
	// Method is the HTTP method (default: POST).
	Method string `yaml:"method"`
	// Headers are additional HTTP headers.
	Headers map[string]string `yaml:"headers,omitempty"`
	// RetryAttempts is the number of retry attempts on failure.
	RetryAttempts int `yaml:"retry_attempts"`
	// RetryDelay is the base delay between attempts, multiplied by the attempt number.
	RetryDelay time.Duration `yaml:"retry_delay"`
	// Timeout is the per-attempt request timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default Webhook reporter configuration.
func DefaultConfig() *Config {
	return &Config{
		Method:        http.MethodPost,
		Headers:       make(map[string]string),
		RetryAttempts: 3,
		RetryDelay:    time.Second,
		Timeout:       10 * time.Second,
	}
}

// Payload is the JSON body sent to the webhook.
type Payload struct {
	Event     string           `json:"event"`
	RunID     string           `json:"run_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Passed    bool             `json:"passed"`
	Summary   *summary.Summary `json:"summary"`
}

// Reporter implements the Webhook reporter.
type Reporter struct {
	config *Config
	client *fasthttp.Client
	now    func() time.Time
}

// New creates a new Webhook reporter.
func New(config *Config) (*Reporter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.URL == "" {
		return nil, ErrNoURL
	}
	if config.Method == "" {
		config.Method = http.MethodPost
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Reporter{
		config: config,
		client: &fasthttp.Client{
			Name:                "load-engine-webhook",
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 30 * time.Second,
		},
		now: time.Now,
	}, nil
}

// Name returns the reporter name.
func (r *Reporter) Name() string {
	return "webhook"
}

// GetConfig returns the reporter configuration.
func (r *Reporter) GetConfig() *Config {
	return r.config
}

// Report sends the summary, retrying failed attempts.
func (r *Reporter) Report(ctx context.Context, s *summary.Summary) error {
	payload := &Payload{
		Event:     EventTestFinished,
		RunID:     s.Meta.RunID,
		Timestamp: r.now().UTC(),
		Passed:    s.ThresholdsPassed,
		Summary:   s,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return r.sendWithRetry(ctx, data)
}

func (r *Reporter) sendWithRetry(ctx context.Context, data []byte) error {
	var lastErr error

	for attempt := 0; attempt <= r.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.config.RetryDelay * time.Duration(attempt)):
			}
		}

		err := r.send(ctx, data)
		if err == nil {
			return nil
		}
		logger.Warn("webhook 发送失败", "url", r.config.URL, "attempt", attempt+1, "error", err)
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", r.config.RetryAttempts+1, lastErr)
}

func (r *Reporter) send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.config.URL)
	req.Header.SetMethod(r.config.Method)
	req.Header.SetContentType("application/json")
	for k, v := range r.config.Headers {
		req.Header.Set(k, v)
	}
	req.SetBody(data)

	deadline := time.Now().Add(r.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := r.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("webhook returned status %d: %s", code, string(resp.Body()))
	}
	return nil
}
