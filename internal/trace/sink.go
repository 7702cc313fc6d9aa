package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/reqforge/reqforge/internal/model"
)

// Sink receives trace payloads. Implementations must be resilient: a
// failing sink logs and continues, it never fails the pipeline.
type Sink interface {
	// Available reports whether the sink can accept payloads. Resolved
	// once at startup; callers may skip payload construction when false.
	Available() bool

	// Emit ships one payload. Errors are the sink's to log, not the
	// caller's to handle.
	Emit(ctx context.Context, payload Payload)
}

// NopSink discards every payload. Selected when no endpoint is configured.
type NopSink struct{}

// Available reports false
func (NopSink) Available() bool { return false }

// Emit discards the payload
func (NopSink) Emit(ctx context.Context, payload Payload) {}

// HTTPSink posts JSON payloads to a configured endpoint.
type HTTPSink struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPSink creates a sink posting to the given endpoint.
func NewHTTPSink(endpoint, apiKey string, logger *zap.Logger) *HTTPSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSink{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

// Available reports whether an endpoint is configured
func (s *HTTPSink) Available() bool {
	return s.endpoint != ""
}

// Emit posts the payload, logging and swallowing any failure.
func (s *HTTPSink) Emit(ctx context.Context, payload Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("trace payload marshal failed", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("trace request build failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("trace emit failed", zap.Error(err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		s.logger.Warn("trace endpoint rejected payload",
			zap.Int("status", resp.StatusCode),
			zap.String("endpoint", s.endpoint))
	}
}

// NewSink resolves the sink for the given config: an HTTP sink when an
// endpoint is configured, the no-op sink otherwise.
func NewSink(cfg model.TraceConfig, logger *zap.Logger) Sink {
	if cfg.Endpoint == "" {
		return NopSink{}
	}
	return NewHTTPSink(cfg.Endpoint, cfg.APIKey, logger)
}
