// Adapted from the teacher's pkg/database.CircuitBreaker: same
// Closed/Open/HalfOpen state machine and atomic counters, generalized from a
// database-call guard into a guard usable around any external dependency
// (Postgres health probes here) and switched from log.Printf to the shared
// structured logger.
package database

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/logging"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a CircuitBreaker.
type CircuitBreakerConfig struct {
	MaxFailures         int
	RecoveryTimeout     time.Duration
	RequiredSuccesses   int
	MaxHalfOpenRequests int
}

// DefaultCircuitBreakerConfig returns the defaults used to guard the
// Postgres connection in HealthChecker's periodic health probes.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		RequiredSuccesses:   3,
		MaxHalfOpenRequests: 5,
	}
}

// CircuitBreaker wraps a func(ctx) error so repeated failures stop being
// tried against a degraded dependency until a recovery timeout elapses.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	log    logging.Logger

	mutex         sync.RWMutex
	state         CircuitState
	failures      int64
	successes     int64
	lastFailTime  time.Time
	halfOpenCount int64

	requestCount int64
	successCount int64
	errorCount   int64
}

// NewCircuitBreaker creates a circuit breaker in the Closed state.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, log logging.Logger) *CircuitBreaker {
	return &CircuitBreaker{name: name, config: config, log: log, state: StateClosed}
}

// Execute runs operation if the circuit allows it, recording the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, operation func(ctx context.Context) error) error {
	atomic.AddInt64(&cb.requestCount, 1)

	if !cb.canExecute() {
		atomic.AddInt64(&cb.errorCount, 1)
		return fmt.Errorf("circuit breaker %s is open", cb.name)
	}

	err := operation(ctx)
	cb.recordResult(err)

	if err != nil {
		atomic.AddInt64(&cb.errorCount, 1)
	} else {
		atomic.AddInt64(&cb.successCount, 1)
	}
	return err
}

func (cb *CircuitBreaker) canExecute() bool {
	cb.mutex.RLock()
	state := cb.state
	lastFail := cb.lastFailTime
	cb.mutex.RUnlock()

	switch state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(lastFail) < cb.config.RecoveryTimeout {
			return false
		}
		cb.mutex.Lock()
		if cb.state == StateOpen && time.Since(cb.lastFailTime) >= cb.config.RecoveryTimeout {
			cb.state = StateHalfOpen
			cb.halfOpenCount = 0
			cb.log.Info("circuit breaker half-open", logging.String("breaker", cb.name))
		}
		state = cb.state
		cb.mutex.Unlock()
		return state == StateHalfOpen
	case StateHalfOpen:
		return atomic.LoadInt64(&cb.halfOpenCount) < int64(cb.config.MaxHalfOpenRequests)
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) onFailure() {
	atomic.AddInt64(&cb.failures, 1)
	cb.lastFailTime = time.Now()

	switch cb.state {
	case StateClosed:
		if atomic.LoadInt64(&cb.failures) >= int64(cb.config.MaxFailures) {
			cb.state = StateOpen
			cb.log.Warn("circuit breaker opened", logging.String("breaker", cb.name), logging.Int("failures", cb.config.MaxFailures))
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.log.Warn("circuit breaker re-opened during half-open trial", logging.String("breaker", cb.name))
	}
}

func (cb *CircuitBreaker) onSuccess() {
	atomic.AddInt64(&cb.successes, 1)

	if cb.state == StateHalfOpen && atomic.LoadInt64(&cb.successes) >= int64(cb.config.RequiredSuccesses) {
		cb.state = StateClosed
		atomic.StoreInt64(&cb.failures, 0)
		atomic.StoreInt64(&cb.successes, 0)
		cb.log.Info("circuit breaker closed", logging.String("breaker", cb.name))
	}
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// GetMetrics returns a snapshot suitable for exposing over /health.
func (cb *CircuitBreaker) GetMetrics() map[string]interface{} {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	return map[string]interface{}{
		"name":               cb.name,
		"state":              cb.state.String(),
		"failures":           atomic.LoadInt64(&cb.failures),
		"successes":          atomic.LoadInt64(&cb.successes),
		"half_open_requests": atomic.LoadInt64(&cb.halfOpenCount),
		"total_requests":     atomic.LoadInt64(&cb.requestCount),
		"total_successes":    atomic.LoadInt64(&cb.successCount),
		"total_errors":       atomic.LoadInt64(&cb.errorCount),
		"last_failure_time":  cb.lastFailTime,
	}
}

// Reset forces the breaker back to Closed, used by operators after a manual
// confirmation the dependency has recovered.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.state = StateClosed
	atomic.StoreInt64(&cb.failures, 0)
	atomic.StoreInt64(&cb.successes, 0)
	atomic.StoreInt64(&cb.halfOpenCount, 0)
	cb.lastFailTime = time.Time{}
	cb.log.Info("circuit breaker reset", logging.String("breaker", cb.name))
}

// CircuitBreakerManager hands out named, lazily-created breakers so callers
// in different packages can share one breaker per logical dependency
// without threading a shared constructor through every call site.
type CircuitBreakerManager struct {
	log      logging.Logger
	mutex    sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerManager creates an empty manager.
func NewCircuitBreakerManager(log logging.Logger) *CircuitBreakerManager {
	return &CircuitBreakerManager{log: log, breakers: make(map[string]*CircuitBreaker)}
}

// GetBreaker returns the named breaker, creating it with config on first use.
func (cbm *CircuitBreakerManager) GetBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	cbm.mutex.RLock()
	if breaker, ok := cbm.breakers[name]; ok {
		cbm.mutex.RUnlock()
		return breaker
	}
	cbm.mutex.RUnlock()

	cbm.mutex.Lock()
	defer cbm.mutex.Unlock()
	if breaker, ok := cbm.breakers[name]; ok {
		return breaker
	}
	breaker := NewCircuitBreaker(name, config, cbm.log)
	cbm.breakers[name] = breaker
	return breaker
}

// GetAllMetrics returns a snapshot of every breaker's metrics, keyed by name.
func (cbm *CircuitBreakerManager) GetAllMetrics() map[string]interface{} {
	cbm.mutex.RLock()
	defer cbm.mutex.RUnlock()

	metrics := make(map[string]interface{}, len(cbm.breakers))
	for name, breaker := range cbm.breakers {
		metrics[name] = breaker.GetMetrics()
	}
	return metrics
}
