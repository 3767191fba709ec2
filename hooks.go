package rate_limiter_engine

import "log/slog"

// Hooks is the observability boundary of the engine: decision outcomes and
// store failures are emitted through it, wiring them to a metrics or logging
// backend is the caller's concern.
type Hooks interface {
	// OnDecision is called once per decided request.
	OnDecision(key string, d Decision)

	// OnStoreError is called whenever the Store reports a failure, including
	// when the limiter degrades to its FailurePolicy.
	OnStoreError(err error)
}

// NopHooks discards all events. It is the default when no Hooks are configured.
type NopHooks struct{}

func (NopHooks) OnDecision(string, Decision) {}
func (NopHooks) OnStoreError(error)          {}

// LogHooks emits denials and store failures through a structured logger.
type LogHooks struct {
	Logger *slog.Logger
}

func (h LogHooks) OnDecision(key string, d Decision) {
	if d.Allowed {
		return
	}
	h.Logger.Info("request denied",
		"key", key,
		"remaining", d.Remaining,
		"retry_after", d.RetryAfter,
	)
}

func (h LogHooks) OnStoreError(err error) {
	h.Logger.Error("rate limit store failure", "error", err)
}
