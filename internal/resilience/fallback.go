package resilience

// FallbackCondition is a named or anonymous predicate over the original
// error; all conditions must hold for the fallback to be
// used, otherwise the original error is re-raised.
type FallbackCondition struct {
	Name string
	Fn   func(err error) bool
}

// FallbackOptions configures WithFallback, grounded on fallback.py's
// with_fallback decorator.
type FallbackOptions struct {
	ShouldFallback    func(err error) bool
	FallbackConditions []FallbackCondition
	CircuitBreaker    *CircuitBreaker
	Logger            Logger
}

// Logger is the minimal logging surface resilience needs, kept separate
// from core.Logger to avoid an import cycle at the package boundary while
// matching its method shape.
type Logger interface {
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}

// WithFallback invokes primary; if it returns a matching error and every
// fallback condition holds, fallback is invoked instead.
func WithFallback[T any](primary func() (T, error), fallback func() (T, error), opts FallbackOptions) (T, error) {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	result, err := primary()
	if err == nil {
		return result, nil
	}
	if opts.ShouldFallback != nil && !opts.ShouldFallback(err) {
		return result, err
	}
	for _, cond := range opts.FallbackConditions {
		if !cond.Fn(err) {
			logger.Warn("fallback condition failed, re-raising original error", map[string]any{"condition": cond.Name})
			return result, err
		}
	}
	logger.Warn("using fallback due to error", map[string]any{"error": err.Error()})
	return fallback()
}

// FallbackHandler pairs a fallback function with optional result predicates
// evaluated on the primary's successful result, recording metrics on both
// the exception path and the predicate-triggered path identically.
type FallbackHandler[T any] struct {
	Fallback       func() (T, error)
	RetryPredicates []RetryPredicate
	TrackMetrics   bool
	FuncName       string
	Metrics        *Registry
}

func (h *FallbackHandler[T]) metrics() *Registry {
	if h.Metrics != nil {
		return h.Metrics
	}
	return Global()
}

// Call executes primary and falls back on error or on a triggered predicate.
func (h *FallbackHandler[T]) Call(primary func() (T, error)) (T, error) {
	m := h.metrics()
	result, err := primary()
	if err != nil {
		if h.TrackMetrics {
			m.IncRetry("attempt")
			m.IncRetryCount(h.FuncName)
			m.IncRetryError(errorClassName(err))
			m.IncRetryStat(h.FuncName, "attempt")
		}
		fallbackResult, ferr := h.Fallback()
		if h.TrackMetrics {
			m.IncRetry("success")
			m.IncRetryStat(h.FuncName, "success")
		}
		return fallbackResult, ferr
	}

	triggered, _ := evalRetryPredicates(Policy{RetryPredicates: h.RetryPredicates, TrackMetrics: h.TrackMetrics}, result, m)
	if !triggered {
		if h.TrackMetrics {
			m.IncRetry("success")
			m.IncRetryStat(h.FuncName, "success")
		}
		return result, nil
	}

	if h.TrackMetrics {
		m.IncRetry("predicate")
		m.IncRetryError("RetryPredicate")
		m.IncRetryCount(h.FuncName)
		m.IncRetryStat(h.FuncName, "attempt")
	}
	fallbackResult, ferr := h.Fallback()
	// Re-evaluate predicates on the fallback result purely for metrics.
	evalRetryPredicates(Policy{RetryPredicates: h.RetryPredicates, TrackMetrics: h.TrackMetrics}, fallbackResult, m)
	if h.TrackMetrics {
		m.IncRetry("success")
		m.IncRetryStat(h.FuncName, "success")
	}
	return fallbackResult, ferr
}
