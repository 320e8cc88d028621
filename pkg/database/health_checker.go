// Adapted from the teacher's pkg/database.HealthChecker: same registered-
// connection map and smoothed status transitions, with the
// connection-less performAllChecks stub replaced by storing each
// registration's *gorm.DB so the ticker loop can actually probe it, each
// probe routed through a CircuitBreaker, and log.Printf switched to the
// shared structured logger.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/logging"
)

// HealthStatus is the health of a registered database connection.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheckResult is the outcome of a single probe.
type HealthCheckResult struct {
	Status       HealthStatus  `json:"status"`
	LastCheck    time.Time     `json:"last_check"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
	Metrics      HealthMetrics `json:"metrics"`
}

// HealthMetrics is the connection-pool and server-side state gathered by a probe.
type HealthMetrics struct {
	ConnectionsActive int           `json:"connections_active"`
	ConnectionsIdle   int           `json:"connections_idle"`
	ConnectionsOpen   int           `json:"connections_open"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxConnections    int           `json:"max_connections"`
	DatabaseSize      int64         `json:"database_size,omitempty"`
	ReplicationLag    time.Duration `json:"replication_lag,omitempty"`
}

// HealthCheckerConfig tunes a HealthChecker.
type HealthCheckerConfig struct {
	CheckInterval    time.Duration `mapstructure:"check_interval"`
	CheckTimeout     time.Duration `mapstructure:"check_timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	EnableMetrics    bool          `mapstructure:"enable_metrics"`
	LogFailures      bool          `mapstructure:"log_failures"`
}

// DefaultHealthCheckerConfig returns the defaults the server starts with.
func DefaultHealthCheckerConfig() *HealthCheckerConfig {
	return &HealthCheckerConfig{
		CheckInterval:    30 * time.Second,
		CheckTimeout:     5 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		EnableMetrics:    true,
		LogFailures:      true,
	}
}

type registeredConnection struct {
	db      *gorm.DB
	result  *HealthCheckResult
	breaker *CircuitBreaker
}

// HealthChecker periodically probes every registered *gorm.DB and exposes
// the smoothed status through GetHealthStatus/IsHealthy.
type HealthChecker struct {
	config   *HealthCheckerConfig
	log      logging.Logger
	manager  *CircuitBreakerManager
	mutex    sync.RWMutex
	conns    map[string]*registeredConnection
	stopChan chan struct{}

	runningMutex sync.Mutex
	isRunning    bool
}

// NewHealthChecker creates a health checker. config may be nil to use
// DefaultHealthCheckerConfig.
func NewHealthChecker(config *HealthCheckerConfig, log logging.Logger) *HealthChecker {
	if config == nil {
		config = DefaultHealthCheckerConfig()
	}
	return &HealthChecker{
		config:   config,
		log:      log,
		manager:  NewCircuitBreakerManager(log),
		conns:    make(map[string]*registeredConnection),
		stopChan: make(chan struct{}),
	}
}

// RegisterConnection registers db under name for periodic health checking,
// guarded by its own circuit breaker.
func (hc *HealthChecker) RegisterConnection(name string, db *gorm.DB) {
	hc.mutex.Lock()
	defer hc.mutex.Unlock()

	hc.conns[name] = &registeredConnection{
		db:      db,
		result:  &HealthCheckResult{Status: HealthStatusHealthy, LastCheck: time.Now()},
		breaker: hc.manager.GetBreaker(name, DefaultCircuitBreakerConfig()),
	}
	hc.log.Info("registered database connection for health checking", logging.String("connection", name))
}

// UnregisterConnection removes name from periodic health checking.
func (hc *HealthChecker) UnregisterConnection(name string) {
	hc.mutex.Lock()
	defer hc.mutex.Unlock()

	delete(hc.conns, name)
	hc.log.Info("unregistered database connection from health checking", logging.String("connection", name))
}

// Start begins the periodic health-check loop.
func (hc *HealthChecker) Start() {
	hc.runningMutex.Lock()
	defer hc.runningMutex.Unlock()

	if hc.isRunning {
		return
	}
	hc.isRunning = true
	go hc.healthCheckLoop()
	hc.log.Info("started database health checker", logging.Duration("interval", hc.config.CheckInterval))
}

// Stop halts the periodic health-check loop.
func (hc *HealthChecker) Stop() {
	hc.runningMutex.Lock()
	defer hc.runningMutex.Unlock()

	if !hc.isRunning {
		return
	}
	hc.isRunning = false
	close(hc.stopChan)
	hc.stopChan = make(chan struct{})
	hc.log.Info("stopped database health checker")
}

func (hc *HealthChecker) healthCheckLoop() {
	ticker := time.NewTicker(hc.config.CheckInterval)
	defer ticker.Stop()

	hc.performAllChecks()
	for {
		select {
		case <-ticker.C:
			hc.performAllChecks()
		case <-hc.stopChan:
			return
		}
	}
}

func (hc *HealthChecker) performAllChecks() {
	hc.mutex.RLock()
	names := make([]string, 0, len(hc.conns))
	dbs := make([]*gorm.DB, 0, len(hc.conns))
	for name, conn := range hc.conns {
		names = append(names, name)
		dbs = append(dbs, conn.db)
	}
	hc.mutex.RUnlock()

	for i, name := range names {
		hc.CheckHealth(name, dbs[i])
	}
}

// CheckHealth probes db through name's circuit breaker and records the
// smoothed result. Returns the raw (unsmoothed) probe result.
func (hc *HealthChecker) CheckHealth(name string, db *gorm.DB) *HealthCheckResult {
	startTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), hc.config.CheckTimeout)
	defer cancel()

	result := &HealthCheckResult{LastCheck: startTime}

	hc.mutex.RLock()
	conn, registered := hc.conns[name]
	hc.mutex.RUnlock()

	probe := func(ctx context.Context) error { return Health(ctx, db) }
	var err error
	if registered {
		err = conn.breaker.Execute(ctx, probe)
	} else {
		err = probe(ctx)
	}
	result.ResponseTime = time.Since(startTime)

	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = err.Error()
		if hc.config.LogFailures {
			hc.log.Warn("health check failed", logging.String("connection", name), logging.Err(err), logging.Duration("response_time", result.ResponseTime))
		}
	} else {
		if hc.config.EnableMetrics {
			if sqlDB, sqlErr := db.DB(); sqlErr == nil {
				stats := sqlDB.Stats()
				result.Metrics = HealthMetrics{
					ConnectionsActive: stats.InUse,
					ConnectionsIdle:   stats.Idle,
					ConnectionsOpen:   stats.OpenConnections,
					WaitCount:         stats.WaitCount,
					WaitDuration:      stats.WaitDuration,
					MaxConnections:    stats.MaxOpenConnections,
				}
			}
		}
		if result.Metrics.WaitCount > 10 && result.Metrics.WaitDuration > time.Second {
			result.Status = HealthStatusDegraded
			if hc.config.LogFailures {
				hc.log.Warn("health check degraded", logging.String("connection", name), logging.Any("wait_count", result.Metrics.WaitCount), logging.Duration("wait_duration", result.Metrics.WaitDuration))
			}
		} else {
			result.Status = HealthStatusHealthy
		}
	}

	hc.mutex.Lock()
	if conn, exists := hc.conns[name]; exists {
		hc.updateStatusWithThresholds(conn.result, result)
	}
	hc.mutex.Unlock()

	return result
}

// updateStatusWithThresholds folds one probe result into the stored status.
// A single unhealthy probe marks the connection unhealthy at once; the first
// healthy probe after that marks it degraded and the next one healthy.
// FailureThreshold and SuccessThreshold are not consulted.
func (hc *HealthChecker) updateStatusWithThresholds(existing, latest *HealthCheckResult) {
	switch latest.Status {
	case HealthStatusHealthy:
		if existing.Status == HealthStatusUnhealthy {
			existing.Status = HealthStatusDegraded
		} else {
			existing.Status = HealthStatusHealthy
		}
	case HealthStatusUnhealthy:
		existing.Status = HealthStatusUnhealthy
	default:
		existing.Status = latest.Status
	}

	existing.LastCheck = latest.LastCheck
	existing.ResponseTime = latest.ResponseTime
	existing.Error = latest.Error
	existing.Metrics = latest.Metrics
}

// GetHealthStatus returns a defensive copy of every registered connection's status.
func (hc *HealthChecker) GetHealthStatus() map[string]*HealthCheckResult {
	hc.mutex.RLock()
	defer hc.mutex.RUnlock()

	out := make(map[string]*HealthCheckResult, len(hc.conns))
	for name, conn := range hc.conns {
		copyResult := *conn.result
		out[name] = &copyResult
	}
	return out
}

// GetConnectionHealth returns name's current status.
func (hc *HealthChecker) GetConnectionHealth(name string) (*HealthCheckResult, error) {
	hc.mutex.RLock()
	defer hc.mutex.RUnlock()

	if conn, ok := hc.conns[name]; ok {
		copyResult := *conn.result
		return &copyResult, nil
	}
	return nil, fmt.Errorf("connection '%s' not found", name)
}

// IsHealthy reports whether every registered connection is healthy.
func (hc *HealthChecker) IsHealthy() bool {
	hc.mutex.RLock()
	defer hc.mutex.RUnlock()

	for _, conn := range hc.conns {
		if conn.result.Status != HealthStatusHealthy {
			return false
		}
	}
	return true
}

// IsConnectionHealthy reports whether name is healthy.
func (hc *HealthChecker) IsConnectionHealthy(name string) bool {
	hc.mutex.RLock()
	defer hc.mutex.RUnlock()

	if conn, ok := hc.conns[name]; ok {
		return conn.result.Status == HealthStatusHealthy
	}
	return false
}

// GetUnhealthyConnections lists every connection not currently healthy.
func (hc *HealthChecker) GetUnhealthyConnections() []string {
	hc.mutex.RLock()
	defer hc.mutex.RUnlock()

	var unhealthy []string
	for name, conn := range hc.conns {
		if conn.result.Status != HealthStatusHealthy {
			unhealthy = append(unhealthy, name)
		}
	}
	return unhealthy
}

// PerformAdvancedHealthCheck runs CheckHealth plus Postgres-specific
// diagnostics (database size, replication lag, active connection count).
func (hc *HealthChecker) PerformAdvancedHealthCheck(name string, db *gorm.DB) (*HealthCheckResult, error) {
	result := hc.CheckHealth(name, db)

	if !hc.config.EnableMetrics {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), hc.config.CheckTimeout)
	defer cancel()

	var databaseSize sql.NullInt64
	if err := db.WithContext(ctx).Raw("SELECT pg_database_size(current_database())").Scan(&databaseSize).Error; err == nil && databaseSize.Valid {
		result.Metrics.DatabaseSize = databaseSize.Int64
	}

	var replicationLag sql.NullFloat64
	err := db.WithContext(ctx).Raw(`
		SELECT COALESCE(EXTRACT(EPOCH FROM (now() - pg_last_xact_replay_timestamp())), 0)
	`).Scan(&replicationLag).Error
	if err == nil && replicationLag.Valid && replicationLag.Float64 > 0 {
		result.Metrics.ReplicationLag = time.Duration(replicationLag.Float64 * float64(time.Second))
	}

	var activeConnections int
	if err := db.WithContext(ctx).Raw("SELECT count(*) FROM pg_stat_activity WHERE state = 'active'").Scan(&activeConnections).Error; err == nil {
		result.Metrics.ConnectionsActive = activeConnections
	}

	return result, nil
}

// ResetHealthCheck clears name back to healthy, for operator recovery after
// a manually confirmed fix.
func (hc *HealthChecker) ResetHealthCheck(name string) {
	hc.mutex.Lock()
	defer hc.mutex.Unlock()

	if conn, ok := hc.conns[name]; ok {
		conn.result.Status = HealthStatusHealthy
		conn.result.Error = ""
		conn.result.LastCheck = time.Now()
		conn.breaker.Reset()
	}
}

// ResetAllHealthChecks clears every registered connection back to healthy.
func (hc *HealthChecker) ResetAllHealthChecks() {
	hc.mutex.Lock()
	defer hc.mutex.Unlock()

	for _, conn := range hc.conns {
		conn.result.Status = HealthStatusHealthy
		conn.result.Error = ""
		conn.result.LastCheck = time.Now()
		conn.breaker.Reset()
	}
}
