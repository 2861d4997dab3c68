package taxonomy

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	RequestIDHeader = "X-Request-ID"

	// Calls slower than this are logged at warn level.
	DEFAULT_SLOW_REQUEST = 2 * time.Second
)

// loggingTransport logs each outbound request with its duration and tags it
// with a request ID.
type loggingTransport struct {
	next http.RoundTripper
	log  *zap.Logger
	slow time.Duration
}

func NewLoggingTransport(next http.RoundTripper, log *zap.Logger) http.RoundTripper {
	if log == nil {
		log = zap.NewNop()
	}
	return &loggingTransport{next: next, log: log, slow: DEFAULT_SLOW_REQUEST}
}

func generateRequestID() string {
	return "req-" + uuid.New().String()
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {

	start := time.Now()
	requestID := generateRequestID()

	// RoundTrippers must not modify the caller's request.
	req := r.Clone(r.Context())
	req.Header.Set(RequestIDHeader, requestID)

	resp, err := t.next.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.log.Debug("Request failed",
			zap.String("request_id", requestID),
			zap.String("method", req.Method),
			zap.String("path", req.URL.EscapedPath()),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err
	}

	t.log.Debug("Request completed",
		zap.String("request_id", requestID),
		zap.String("method", req.Method),
		zap.String("path", req.URL.EscapedPath()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration),
	)

	// Log slow requests
	if duration > t.slow {
		t.log.Warn("Slow request",
			zap.String("request_id", requestID),
			zap.String("path", req.URL.EscapedPath()),
			zap.Duration("duration", duration),
		)
	}

	return resp, nil
}
