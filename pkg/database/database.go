// Package database owns the GORM connection used by internal/queries and
// internal/fingerprint. Adapted from the teacher's pkg/database.Connect:
// same gorm.Config tuning (PrepareStmt disabled to avoid cached-plan
// mismatches across deploys, bounded connection pool), stripped of the
// teacher's domain-specific relationship service.
package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/config"
)

// Connect opens a GORM connection against the configured Postgres instance.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:          gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt:     false,
		CreateBatchSize: 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("database: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: acquire pool handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Health runs a minimal round trip to verify the pool is usable, called at
// startup before the server accepts traffic and periodically thereafter
// by HealthChecker's probe loop.
func Health(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
