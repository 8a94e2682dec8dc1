package finnhub

import (
	"errors"
	"fmt"
)

// ErrRateLimited means every attempt was answered with HTTP 429. It is a
// retryable condition; the caller should treat the query as "no data this
// cycle", never as "no events".
var ErrRateLimited = errors.New("rate limited: retries exhausted")

// APIError is a non-429 HTTP failure. It is not retried.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("finnhub %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("finnhub %s: HTTP %d", e.Endpoint, e.StatusCode)
}

// Kind classifies a fetch error for logs and metrics.
func Kind(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.As(err, &apiErr):
		return "http"
	case errors.Is(err, errDecode):
		return "decode"
	default:
		return "transport"
	}
}

var errDecode = errors.New("malformed response")
