package rate_limiter_engine

import "errors"

var (
	// ErrInvalidConfig is returned by NewLimiter when the configuration is unusable.
	// It is never returned at request time.
	ErrInvalidConfig = errors.New("ratelimiter: invalid configuration")

	// ErrInvalidRequestSize is returned when AllowN is called with n <= 0.
	ErrInvalidRequestSize = errors.New("ratelimiter: request size must be positive")

	// ErrUnsatisfiable is returned when n exceeds what the strategy could ever
	// grant, even with a full bucket or an empty window. Callers should not
	// retry such a request.
	ErrUnsatisfiable = errors.New("ratelimiter: request size exceeds maximum grantable permits")

	// ErrStoreUnavailable wraps an underlying Store failure. The accompanying
	// Decision reflects the configured FailurePolicy.
	ErrStoreUnavailable = errors.New("ratelimiter: store unavailable")

	// ErrContended is returned when compare-and-swap retries are exhausted on a
	// hot key.
	ErrContended = errors.New("ratelimiter: too much contention on key")

	// ErrTimeout is returned when the caller's context expired before a
	// decision could be reached.
	ErrTimeout = errors.New("ratelimiter: deadline exceeded before decision")
)
