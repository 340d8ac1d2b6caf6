// Package beacon sends the single session-end signal emitted on teardown.
// Delivery is fire-and-forget: the outcome is logged and counted, never
// returned.
package beacon

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/glimpse/pkg/async"
	"github.com/platinummonkey/glimpse/pkg/observability"
)

// Delivery statuses reported to the StatusRecorder.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Payload is the teardown signal body.
type Payload struct {
	SessionID  string    `json:"sessionId"`
	SessionEnd time.Time `json:"sessionEnd"`
	PageCount  int       `json:"pageCount"`
	Bounce     bool      `json:"bounce"`
	Duration   int64     `json:"duration"`
	ExitPath   string    `json:"exitPage"`
}

// Sink accepts a teardown signal.
type Sink interface {
	Send(ctx context.Context, p Payload)
}

// NopSink drops every signal.
type NopSink struct{}

func (NopSink) Send(context.Context, Payload) {}

// StatusRecorder counts delivery outcomes.
type StatusRecorder interface {
	RecordBeacon(ctx context.Context, status string)
}

// HTTPConfig configures an HTTPSink.
type HTTPConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

// HTTPSink POSTs the payload as JSON on a background task of group.
type HTTPSink struct {
	cfg      HTTPConfig
	client   *http.Client
	group    *async.Group
	logger   *observability.Logger
	recorder StatusRecorder
}

// NewHTTPSink creates a sink. recorder may be nil.
func NewHTTPSink(cfg HTTPConfig, group *async.Group, logger *observability.Logger, recorder StatusRecorder) *HTTPSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if group == nil {
		group = async.NewGroup(logger, cfg.Timeout)
	}
	return &HTTPSink{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		group:    group,
		logger:   logger.WithComponent("beacon"),
		recorder: recorder,
	}
}

// Send schedules delivery and returns immediately.
func (s *HTTPSink) Send(ctx context.Context, p Payload) {
	if s.cfg.URL == "" {
		s.record(ctx, StatusSkipped)
		return
	}
	s.group.Go(ctx, "session beacon", func(ctx context.Context) error {
		err := s.post(ctx, p)
		if err != nil {
			s.record(ctx, StatusFailed)
			s.logger.WithField("session_id", p.SessionID).WithError(err).Debug("session beacon not delivered")
			return nil
		}
		s.record(ctx, StatusSent)
		return nil
	})
}

func (s *HTTPSink) post(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal beacon: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Secret != "" {
		req.Header.Set("X-Glimpse-Signature", Sign(body, s.cfg.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send beacon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("beacon endpoint returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTPSink) record(ctx context.Context, status string) {
	if s.recorder != nil {
		s.recorder.RecordBeacon(ctx, status)
	}
}

// Sign returns the hex HMAC-SHA256 of payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign.
func Verify(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
