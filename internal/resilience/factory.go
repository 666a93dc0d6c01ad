package resilience

// Dependencies bundles the optional logger/metrics a reliability primitive
// may be constructed with, via the WithLogger/WithMetrics functional-option
// pattern.
type Dependencies struct {
	Logger  Logger
	Metrics *Registry
}

// Option configures Dependencies.
type Option func(*Dependencies)

// WithLogger injects a logger.
func WithLogger(l Logger) Option {
	return func(d *Dependencies) { d.Logger = l }
}

// WithMetrics injects a metrics registry.
func WithMetrics(m *Registry) Option {
	return func(d *Dependencies) { d.Metrics = m }
}

func resolveDependencies(opts ...Option) Dependencies {
	d := Dependencies{Logger: noopLogger{}, Metrics: Global()}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// NewCircuitBreakerFor builds a named circuit breaker with sensible
// defaults, wired to the given dependencies.
func NewCircuitBreakerFor(name string, opts ...Option) *CircuitBreaker {
	deps := resolveDependencies(opts...)
	cfg := DefaultCircuitBreakerConfig(name)
	cfg.Logger = deps.Logger
	cfg.Metrics = deps.Metrics
	return NewCircuitBreaker(cfg)
}

// NewRetryPolicyFor builds a named default retry policy wired to the given
// dependencies' metrics registry.
func NewRetryPolicyFor(name string, opts ...Option) Policy {
	deps := resolveDependencies(opts...)
	p := DefaultPolicy(name)
	p.Metrics = deps.Metrics
	return p
}

// NewBulkheadFor builds a named bulkhead with the given limits; NewBulkhead
// replaces maxConcurrent <= 0 with 10 and maxQueue < 0 with 5.
func NewBulkheadFor(name string, maxConcurrent, maxQueue int) *Bulkhead {
	return NewBulkhead(name, maxConcurrent, maxQueue)
}
