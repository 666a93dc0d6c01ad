package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/devsynth/hybridmemory/internal/core"
)

// anonymousCondition is the metrics key fragment used for unnamed
// conditions/predicates/callbacks, matching fallback.py's ANONYMOUS_CONDITION.
const anonymousCondition = "<anonymous>"

var (
	errRetryOnResultTriggered = errors.New("retry_on_result triggered")
	errRetryPredicateTriggered = errors.New("retry_predicate triggered")
)

// RetryCondition is a named or anonymous predicate over the raised error; if
// Name is empty it is treated as anonymous for metrics purposes. All
// conditions must hold (return true) for a retry to continue.
type RetryCondition struct {
	Name string
	Fn   func(err error) bool
}

// SubstringCondition builds a RetryCondition matching when the error's
// message contains substr, mirroring fallback.py's string-entry semantics.
func SubstringCondition(name, substr string) RetryCondition {
	return RetryCondition{Name: name, Fn: func(err error) bool {
		return err != nil && contains(err.Error(), substr)
	}}
}

func contains(s, substr string) bool {
	return len(substr) == 0 || (len(s) >= len(substr) && indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// ConditionCallback is a named or anonymous predicate over (error, attempt).
// A panic in the callback is recovered and treated as false.
type ConditionCallback struct {
	Name string
	Fn   func(err error, attempt int) bool
}

// RetryPredicate is a named or anonymous predicate evaluated on a successful
// result; a triggered predicate is treated as a failure.
type RetryPredicate struct {
	Name string
	Fn   func(result any) bool
}

// StatusCodePredicate builds a RetryPredicate matching when the given
// accessor reports a status for result equal to code, mirroring
// fallback.py's int-entry "status_code" match.
func StatusCodePredicate(name string, code int, statusOf func(result any) (int, bool)) RetryPredicate {
	return RetryPredicate{Name: name, Fn: func(result any) bool {
		got, ok := statusOf(result)
		return ok && got == code
	}}
}

// RetryOverride is the error_retry_map override shape: either a bare
// "retry: bool" or "{retry, max_retries}".
type RetryOverride struct {
	Retry      bool
	MaxRetries *int
}

// Policy is the full retry policy surface, grounded on fallback.py's
// retry_with_exponential_backoff.
type Policy struct {
	FuncName         string
	MaxRetries       int
	InitialDelay     time.Duration
	ExponentialBase  float64
	Jitter           bool
	MaxDelay         time.Duration
	ShouldRetry      func(err error) bool
	RetryConditions  []RetryCondition
	ConditionCallbacks []ConditionCallback
	RetryPredicates  []RetryPredicate
	RetryOnResult    func(result any) bool
	ErrorRetryMap    map[core.ErrorKind]RetryOverride
	CircuitBreaker   *CircuitBreaker
	TrackMetrics     bool
	OnRetry          func(err error, attempt int, delay time.Duration)
	Metrics          *Registry
}

// DefaultPolicy returns the conventional defaults: 3 retries, 1s initial
// delay, base 2.0, jitter on, 60s max delay, metrics tracked.
func DefaultPolicy(funcName string) Policy {
	return Policy{
		FuncName:        funcName,
		MaxRetries:      3,
		InitialDelay:    time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
		MaxDelay:        60 * time.Second,
		TrackMetrics:    true,
	}
}

func (p Policy) metrics() *Registry {
	if p.Metrics != nil {
		return p.Metrics
	}
	return Global()
}

func errorClassName(err error) string {
	var ce *core.CoreError
	if errors.As(err, &ce) {
		return string(ce.Kind) + ":" + ce.Code
	}
	return "error"
}

// Retry executes fn, retrying per policy. T is the function's result type;
// RetryOnResult/RetryPredicates receive it boxed as any.
func Retry[T any](ctx context.Context, policy Policy, fn func() (T, error)) (T, error) {
	delay := policy.InitialDelay
	maxRetries := policy.MaxRetries
	m := policy.metrics()

	var zero T
	var lastErr error

	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := fn()

		if err == nil {
			triggered, predicateName := evalRetryPredicates(policy, result, m)
			if policy.RetryOnResult != nil && policy.RetryOnResult(result) {
				triggered = true
			}
			if !triggered {
				if policy.TrackMetrics {
					m.IncRetry("success")
					m.IncRetryStat(policy.FuncName, "success")
				}
				return result, nil
			}
			// Predicate-triggered: treat as invalid/predicate outcome.
			if policy.TrackMetrics {
				outcome := "predicate"
				if predicateName == "" {
					outcome = "invalid"
				}
				m.IncRetry(outcome)
				m.IncRetryError("RetryPredicate")
				m.IncRetryStat(policy.FuncName, "attempt")
			}
			lastErr = errRetryPredicateTriggered
			if policy.RetryOnResult != nil && policy.RetryOnResult(result) && predicateName == "" {
				lastErr = errRetryOnResultTriggered
			}
			if attempt >= maxRetries {
				if policy.TrackMetrics {
					m.IncRetry("abort")
					m.IncRetryStat(policy.FuncName, "abort")
				}
				return result, lastErr
			}
			delay = sleepAndAdvance(ctx, policy, &delay)
			if policy.OnRetry != nil {
				safeOnRetry(policy.OnRetry, lastErr, attempt+1, delay)
			}
			continue
		}

		lastErr = err

		if core.IsCircuitOpen(err) {
			if policy.TrackMetrics {
				m.IncRetry("abort")
				m.IncRetryStat(policy.FuncName, "abort")
			}
			return zero, err
		}

		if policy.ShouldRetry != nil && !policy.ShouldRetry(err) {
			if policy.TrackMetrics {
				m.IncRetry("abort")
				m.IncRetryStat(policy.FuncName, "abort")
			}
			return zero, err
		}

		retry, overrideMaxRetries := applyErrorRetryMap(policy, err, m)
		if !retry {
			if policy.TrackMetrics {
				m.IncRetry("abort")
				m.IncRetryStat(policy.FuncName, "abort")
			}
			return zero, err
		}
		effectiveMax := maxRetries
		if overrideMaxRetries != nil {
			effectiveMax = *overrideMaxRetries
		}

		if !evalAllConditions(policy, err, m) {
			if policy.TrackMetrics {
				m.IncRetry("abort")
				m.IncRetryStat(policy.FuncName, "abort")
			}
			return zero, err
		}
		if !evalAllCallbacks(policy, err, attempt, m) {
			if policy.TrackMetrics {
				m.IncRetry("abort")
				m.IncRetryStat(policy.FuncName, "abort")
			}
			return zero, err
		}

		if policy.TrackMetrics {
			m.IncRetry("attempt")
			m.IncRetryCount(policy.FuncName)
			m.IncRetryError(errorClassName(err))
			m.IncRetryStat(policy.FuncName, "attempt")
		}

		if attempt >= effectiveMax {
			if policy.TrackMetrics {
				m.IncRetry("failure")
				m.IncRetryStat(policy.FuncName, "failure")
			}
			return zero, err
		}

		delay = sleepAndAdvance(ctx, policy, &delay)
		if policy.OnRetry != nil {
			safeOnRetry(policy.OnRetry, err, attempt+1, delay)
		}
	}
}

func sleepAndAdvance(ctx context.Context, policy Policy, delay *time.Duration) time.Duration {
	d := *delay
	if d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
	next := float64(*delay) * policy.ExponentialBase
	if policy.Jitter {
		next *= 0.5 + rand.Float64()
	}
	nd := time.Duration(next)
	if nd > policy.MaxDelay {
		nd = policy.MaxDelay
	}
	*delay = nd
	return d
}

func safeOnRetry(fn func(error, int, time.Duration), err error, attempt int, delay time.Duration) {
	defer func() { _ = recover() }()
	fn(err, attempt, delay)
}

func evalRetryPredicates(policy Policy, result any, m *Registry) (triggered bool, name string) {
	for _, pred := range policy.RetryPredicates {
		ok := pred.Fn(result)
		key := anonymousCondition
		if pred.Name != "" {
			key = pred.Name
		}
		suffix := "suppress"
		if ok {
			suffix = "trigger"
		}
		if policy.TrackMetrics {
			m.IncRetryCondition("predicate:" + key + ":" + suffix)
		}
		if ok && !triggered {
			triggered = true
			name = pred.Name
		}
	}
	return triggered, name
}

func applyErrorRetryMap(policy Policy, err error, m *Registry) (retry bool, maxRetries *int) {
	if policy.ErrorRetryMap == nil {
		return true, nil
	}
	var ce *core.CoreError
	if !errors.As(err, &ce) {
		return true, nil
	}
	override, ok := policy.ErrorRetryMap[ce.Kind]
	if !ok {
		return true, nil
	}
	suffix := "suppress"
	if override.Retry {
		suffix = "trigger"
	}
	if policy.TrackMetrics {
		m.IncRetryCondition("policy:" + string(ce.Kind) + ":" + suffix)
	}
	return override.Retry, override.MaxRetries
}

func evalAllConditions(policy Policy, err error, m *Registry) bool {
	ok := true
	for _, cond := range policy.RetryConditions {
		passed := cond.Fn(err)
		key := anonymousCondition
		if cond.Name != "" {
			key = cond.Name
		}
		suffix := "suppress"
		if passed {
			suffix = "trigger"
		}
		if policy.TrackMetrics {
			m.IncRetryCondition(key + ":" + suffix)
		}
		if !passed {
			ok = false
		}
	}
	return ok
}

func evalAllCallbacks(policy Policy, err error, attempt int, m *Registry) (ok bool) {
	ok = true
	for _, cb := range policy.ConditionCallbacks {
		passed := safeCallback(cb.Fn, err, attempt)
		key := anonymousCondition
		if cb.Name != "" {
			key = cb.Name
		}
		suffix := "suppress"
		if passed {
			suffix = "trigger"
		}
		if policy.TrackMetrics {
			m.IncRetryCondition(key + ":" + suffix)
		}
		if !passed {
			ok = false
		}
	}
	return ok
}

func safeCallback(fn func(error, int) bool, err error, attempt int) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			result = false
		}
	}()
	return fn(err, attempt)
}
