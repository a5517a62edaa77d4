// Package webhook posts shaped payloads to a generic HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"alertpipe/internal/transport"
	logx "alertpipe/pkg/logx"
)

const (
	defaultTimeout = 10 * time.Second
	userAgent      = "alertpipe/1"
)

type Config struct {
	URL string
	// AuthToken, when set, is sent as a bearer token. Loading/rotating the
	// secret is the caller's problem.
	AuthToken string
	Timeout   time.Duration
}

type Sender struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

// New validates the endpoint URL and returns a sender.
func New(cfg Config, log logx.Logger) (*Sender, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("webhook: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("webhook: url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("webhook: url must include a host")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}, nil
}

// Send POSTs the shaped body. Non-2xx responses become SendError so the
// executor can classify them; the recipient travels in a header because the
// body is the sealed, size-checked encoding.
func (s *Sender) Send(ctx context.Context, recipient string, p transport.Payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(p.Body))
	if err != nil {
		return &transport.SendError{StatusCode: http.StatusBadRequest, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Alertpipe-Recipient", recipient)
	req.Header.Set("X-Alertpipe-Correlation-Id", p.CorrelationID)
	if s.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.AuthToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// Network errors and timeouts stay as-is; the executor treats
		// status-less errors as transient.
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &transport.SendError{
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("webhook: endpoint returned %s", strings.TrimSpace(resp.Status)),
	}
}
