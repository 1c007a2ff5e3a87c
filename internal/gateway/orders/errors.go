package orders

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const maxErrorBodyPreview = 800

var (
	// ErrUpstream indicates an orders API failure.
	ErrUpstream = errors.New("error when trying to get response from orders api")
	// ErrNotFound indicates the upstream confirmed that a record does not exist.
	ErrNotFound = errors.New("order not found")
)

// UpstreamRequestError carries HTTP context for failed upstream calls.
type UpstreamRequestError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	Cause      error
}

func (e *UpstreamRequestError) Error() string {
	parts := []string{ErrUpstream.Error()}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	method := strings.TrimSpace(e.Method)
	url := strings.TrimSpace(e.URL)
	if method != "" || url != "" {
		parts = append(parts, strings.TrimSpace(method+" "+url))
	}
	if trimmed := compactBodyPreview(e.Body); trimmed != "" {
		parts = append(parts, fmt.Sprintf("body=%q", trimmed))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}
	return strings.Join(parts, "; ")
}

func (e *UpstreamRequestError) Unwrap() error {
	return ErrUpstream
}

// Is lets a 404 match ErrNotFound in addition to ErrUpstream.
func (e *UpstreamRequestError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsRetryable reports whether err is a transient failure worth retrying:
// transport errors, 408, 429 and 5xx. Cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var upstreamErr *UpstreamRequestError
	if !errors.As(err, &upstreamErr) {
		return false
	}
	switch {
	case upstreamErr.StatusCode == 0:
		return true
	case upstreamErr.StatusCode == http.StatusRequestTimeout,
		upstreamErr.StatusCode == http.StatusTooManyRequests:
		return true
	case upstreamErr.StatusCode >= 500:
		return true
	default:
		return false
	}
}

func compactBodyPreview(body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	body = strings.Join(strings.Fields(body), " ")
	if len(body) > maxErrorBodyPreview {
		return body[:maxErrorBodyPreview] + "..."
	}
	return body
}
