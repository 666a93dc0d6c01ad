// Package resilience implements the reliability primitives: retry with
// exponential backoff, fallback, circuit breaker, bulkhead, and the shared
// metrics registry they report to.
package resilience

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry is a single handle for every reliability counter, replacing the
// Python original's module-level globals/contextvars (spec §9). Counters
// are kept in-process for synchronous querying (RetryOps, RetryCount, ...).
// The memory-ops, provider-ops, retry-ops and circuit-state counters are
// also mirrored to OpenTelemetry Int64Counters; the per-function retry
// count, per-error-type, condition-keyed and retry-stat counters are kept
// in-process only. Reset()
// clears the in-process counters for test isolation; it does not reset
// whatever the OTEL SDK has already exported.
type Registry struct {
	mu                  sync.Mutex
	memoryOps           map[string]int64
	providerOps         map[string]int64
	retryOps            map[string]int64 // outcome -> count (global)
	retryCountByFunc    map[string]int64
	retryErrorByType    map[string]int64
	retryConditionKeyed map[string]int64 // "name:trigger"/"name:suppress"
	retryStat           map[string]int64 // "func|phase"
	circuitState        map[string]int64 // "func|state"

	otel otelCounters
}

type otelCounters struct {
	memoryOps    metric.Int64Counter
	providerOps  metric.Int64Counter
	retryOps     metric.Int64Counter
	circuitState metric.Int64Counter
}

func newOtelCounters() otelCounters {
	meter := otel.Meter("github.com/devsynth/hybridmemory/internal/resilience")
	memoryOps, _ := meter.Int64Counter("hybridmemory_memory_ops_total")
	providerOps, _ := meter.Int64Counter("hybridmemory_provider_ops_total")
	retryOps, _ := meter.Int64Counter("hybridmemory_retry_ops_total")
	circuitState, _ := meter.Int64Counter("hybridmemory_circuit_breaker_state_total")
	return otelCounters{memoryOps: memoryOps, providerOps: providerOps, retryOps: retryOps, circuitState: circuitState}
}

// NewRegistry builds an empty metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		memoryOps:           make(map[string]int64),
		providerOps:         make(map[string]int64),
		retryOps:            make(map[string]int64),
		retryCountByFunc:    make(map[string]int64),
		retryErrorByType:    make(map[string]int64),
		retryConditionKeyed: make(map[string]int64),
		retryStat:           make(map[string]int64),
		circuitState:        make(map[string]int64),
		otel:                newOtelCounters(),
	}
}

// global is the default registry used when none is explicitly supplied.
var global = NewRegistry()

// Global returns the process-wide default registry.
func Global() *Registry { return global }

func (r *Registry) incr(m map[string]int64, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m[key]++
}

func (r *Registry) get(m map[string]int64, key string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return m[key]
}

// IncMemoryOp increments the memory-ops counter keyed by operation name.
func (r *Registry) IncMemoryOp(op string) {
	r.incr(r.memoryOps, op)
	r.otel.memoryOps.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", op)))
}

// IncProviderOp increments the provider-ops counter keyed by adapter name.
func (r *Registry) IncProviderOp(adapter string) {
	r.incr(r.providerOps, adapter)
	r.otel.providerOps.Add(context.Background(), 1, metric.WithAttributes(attribute.String("adapter", adapter)))
}

// IncRetry increments the global retry-ops counter for an outcome:
// attempt/success/abort/failure/invalid/predicate.
func (r *Registry) IncRetry(outcome string) {
	r.incr(r.retryOps, outcome)
	r.otel.retryOps.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// IncRetryCount increments the per-function retry-attempt counter. Retry
// increments it only on its normal attempt path, not on its
// invalid/predicate paths; FallbackHandler.Call increments it on both its
// error path and its predicate path.
func (r *Registry) IncRetryCount(funcName string) { r.incr(r.retryCountByFunc, funcName) }

// IncRetryError increments the counter keyed by exception/error class name
// (or "InvalidResult"/"RetryPredicate" for the synthetic paths).
func (r *Registry) IncRetryError(errType string) { r.incr(r.retryErrorByType, errType) }

// IncRetryCondition increments a condition/predicate counter keyed
// "name:trigger" or "name:suppress" (predicates additionally prefixed
// "predicate:").
func (r *Registry) IncRetryCondition(key string) { r.incr(r.retryConditionKeyed, key) }

// IncRetryStat increments the function x phase counter
// (phase: attempt/success/abort/failure).
func (r *Registry) IncRetryStat(funcName, phase string) {
	r.incr(r.retryStat, funcName+"|"+phase)
}

// IncCircuitBreakerState increments the function x state counter on every
// transition.
func (r *Registry) IncCircuitBreakerState(funcName, state string) {
	r.incr(r.circuitState, funcName+"|"+state)
	r.otel.circuitState.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("func", funcName), attribute.String("state", state)))
}

// RetryOps returns the current value of a retry-ops outcome counter.
func (r *Registry) RetryOps(outcome string) int64 { return r.get(r.retryOps, outcome) }

// RetryCount returns the current per-function retry count.
func (r *Registry) RetryCount(funcName string) int64 { return r.get(r.retryCountByFunc, funcName) }

// RetryError returns the current per-error-type count.
func (r *Registry) RetryError(errType string) int64 { return r.get(r.retryErrorByType, errType) }

// RetryCondition returns the current count for a condition key.
func (r *Registry) RetryCondition(key string) int64 { return r.get(r.retryConditionKeyed, key) }

// RetryStat returns the current count for a function x phase key.
func (r *Registry) RetryStat(funcName, phase string) int64 {
	return r.get(r.retryStat, funcName+"|"+phase)
}

// CircuitBreakerState returns the current count for a function x state key.
func (r *Registry) CircuitBreakerState(funcName, state string) int64 {
	return r.get(r.circuitState, funcName+"|"+state)
}

// Reset clears every counter. Used between tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memoryOps = make(map[string]int64)
	r.providerOps = make(map[string]int64)
	r.retryOps = make(map[string]int64)
	r.retryCountByFunc = make(map[string]int64)
	r.retryErrorByType = make(map[string]int64)
	r.retryConditionKeyed = make(map[string]int64)
	r.retryStat = make(map[string]int64)
	r.circuitState = make(map[string]int64)
}
