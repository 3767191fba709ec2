package rate_limiter_engine

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
)

var (
	_ http.Handler = &httpRateLimiterHandler{}
	_ Extractor    = &httpHeaderExtractor{}
)

const (
	headerRateLimitLimit     = "X-Ratelimit-Limit"
	headerRateLimitRemaining = "X-Ratelimit-Remaining"
	headerRetryAfter         = "Retry-After"
)

// Extractor extracts the rate limiting key from an HTTP request.
type Extractor interface {
	Extract(r *http.Request) (string, error)
}

type httpHeaderExtractor struct {
	headers []string
}

// Extract joins the values of the configured headers into the key.
func (h *httpHeaderExtractor) Extract(r *http.Request) (string, error) {
	values := make([]string, 0, len(h.headers))

	for _, key := range h.headers {
		value := strings.TrimSpace(r.Header.Get(key))
		if value == "" {
			return "", fmt.Errorf("header %v must have a value set", key)
		}
		values = append(values, value)
	}

	return strings.Join(values, "-"), nil
}

// NewHTTPHeaderExtractor creates an Extractor keyed on the given headers.
func NewHTTPHeaderExtractor(headers ...string) Extractor {
	return &httpHeaderExtractor{headers: headers}
}

type httpRateLimiterHandler struct {
	handler   http.Handler
	limiter   *Limiter
	extractor Extractor
}

// NewHTTPRateLimiterHandler wraps an existing http.Handler and performs
// admission control before forwarding the request.
func NewHTTPRateLimiterHandler(originalHandler http.Handler, limiter *Limiter, extractor Extractor) http.Handler {
	return &httpRateLimiterHandler{
		handler:   originalHandler,
		limiter:   limiter,
		extractor: extractor,
	}
}

// ServeHTTP checks the request against the limiter and forwards it if allowed.
func (h *httpRateLimiterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, err := h.extractor.Extract(r)
	if err != nil {
		h.writeResponse(w, http.StatusBadRequest, "failed to extract rate limiting key from request: %v", err)
		return
	}

	decision, err := h.limiter.Allow(r.Context(), key)
	if err != nil && !errors.Is(err, ErrStoreUnavailable) && !errors.Is(err, ErrContended) && !errors.Is(err, ErrTimeout) {
		h.writeResponse(w, http.StatusInternalServerError, "failed to run rate limiting for request: %v", err)
		return
	}
	// On store failure, contention or timeout the decision already carries
	// the configured failure policy, so it is followed either way.

	w.Header().Set(headerRateLimitLimit, strconv.Itoa(h.limiter.Limit()))
	w.Header().Set(headerRateLimitRemaining, strconv.Itoa(decision.Remaining))

	if !decision.Allowed {
		if decision.RetryAfter > 0 {
			w.Header().Set(headerRetryAfter, strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
		}
		h.writeResponse(w, http.StatusTooManyRequests, "you have sent too many requests to this service, slow down please")
		return
	}

	h.handler.ServeHTTP(w, r)
}

func (h *httpRateLimiterHandler) writeResponse(w http.ResponseWriter, status int, msg string, args ...interface{}) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(fmt.Sprintf(msg, args...))); err != nil {
		fmt.Printf("failed to write body to HTTP request: %v", err)
	}
}
