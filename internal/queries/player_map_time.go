// Package queries holds the concrete workercore.Query implementations:
// the write-through-with-lock derived aggregate (player-map-time) and the
// read-only Light/Heavy queries supplementing the original Rust routers
// (graphs, radars, recent participants) that the distilled spec dropped.
package queries

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/cachecore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/distmutex"
	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/kvstore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/database"
	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/logging"
)

const queryNamePlayerMapTime = "player_map_time"

// lastCalculatedFingerprint is the bookkeeping row advanced after each
// successful windowed aggregation run, per the external-interface table.
type lastCalculatedFingerprint struct {
	PlayerID    string    `gorm:"column:player_id;primaryKey"`
	MapName     string    `gorm:"column:map_name;primaryKey"`
	ServerID    string    `gorm:"column:server_id;primaryKey"`
	LastSession string    `gorm:"column:last_session"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (lastCalculatedFingerprint) TableName() string { return "last_calculated_fingerprint" }

// playerMapTimeRow is the derived, windowed-additive aggregate table row
// returned to callers.
type playerMapTimeRow struct {
	PlayerID   string `gorm:"column:player_id;primaryKey" json:"player_id"`
	MapName    string `gorm:"column:map_name;primaryKey" json:"map_name"`
	ServerID   string `gorm:"column:server_id;primaryKey" json:"server_id"`
	SecondsPlayed int64 `gorm:"column:seconds_played" json:"seconds_played"`
}

func (playerMapTimeRow) TableName() string { return "player_map_time" }

// sessionWindowRow is the minimal session shape read to compute the
// windowed delta.
type sessionWindowRow struct {
	ID              string     `gorm:"column:id"`
	DurationSeconds int64      `gorm:"column:duration_seconds"`
	EndedAt         *time.Time `gorm:"column:ended_at"`
}

func (sessionWindowRow) TableName() string { return "sessions" }

// PlayerMapTimeQuery implements the write-through-with-lock derived
// aggregate: read the bookkeeping row, compute the [from, to) window, run
// the windowed additive upsert under distmutex if the window is non-empty,
// advance bookkeeping, then always read back the aggregate row.
type PlayerMapTimeQuery struct {
	DB       *gorm.DB
	KV       kvstore.Store
	Log      logging.Logger
	Metrics  *database.QueryMetrics
	PlayerID string
	MapName  string
	ServerID string
}

func (q *PlayerMapTimeQuery) Key() cachecore.CacheKey {
	return cachecore.CacheKey{
		LogicalKey:  "player-map-time:" + q.PlayerID + ":" + q.MapName + ":" + q.ServerID,
		Fingerprint: cachecore.Fingerprint{Current: "derived"},
	}
}

func (q *PlayerMapTimeQuery) Heavy() bool                 { return true }
func (q *PlayerMapTimeQuery) FreshTTL() time.Duration     { return 5 * time.Minute }
func (q *PlayerMapTimeQuery) StaleTTL() time.Duration     { return 30 * time.Minute }

func (q *PlayerMapTimeQuery) Compute(ctx context.Context) (result []byte, err error) {
	if q.Metrics != nil {
		start := time.Now()
		defer func() { q.Metrics.RecordQuery(queryNamePlayerMapTime, time.Since(start), err) }()
	}

	var bookkeeping lastCalculatedFingerprint
	err = q.DB.WithContext(ctx).
		Where("player_id = ? AND map_name = ? AND server_id = ?", q.PlayerID, q.MapName, q.ServerID).
		Find(&bookkeeping).Error
	if err != nil {
		return nil, err
	}

	lockKey := "lock:player-map-time:" + q.PlayerID + ":" + q.MapName + ":" + q.ServerID
	err = distmutex.WithLock(ctx, q.KV, q.Log, lockKey, 5*time.Minute, 60, func(ctx context.Context) error {
		var sessions []sessionWindowRow
		windowQuery := q.DB.WithContext(ctx).
			Where("player_id = ? AND map_name = ? AND server_id = ? AND ended_at IS NOT NULL", q.PlayerID, q.MapName, q.ServerID)
		if bookkeeping.LastSession != "" {
			windowQuery = windowQuery.Where("id > ?", bookkeeping.LastSession)
		}
		if err := windowQuery.Order("id ASC").Find(&sessions).Error; err != nil {
			return err
		}
		if len(sessions) == 0 {
			return nil
		}

		var delta int64
		latest := bookkeeping.LastSession
		for _, s := range sessions {
			delta += s.DurationSeconds
			latest = s.ID
		}

		if err := q.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}, {Name: "map_name"}, {Name: "server_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"seconds_played": gorm.Expr("player_map_time.seconds_played + ?", delta)}),
		}).Create(&playerMapTimeRow{PlayerID: q.PlayerID, MapName: q.MapName, ServerID: q.ServerID, SecondsPlayed: delta}).Error; err != nil {
			return err
		}

		return q.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}, {Name: "map_name"}, {Name: "server_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_session", "updated_at"}),
		}).Create(&lastCalculatedFingerprint{
			PlayerID: q.PlayerID, MapName: q.MapName, ServerID: q.ServerID,
			LastSession: latest, UpdatedAt: time.Now(),
		}).Error
	})
	if err != nil && err != distmutex.ErrLockUnavailable {
		return nil, err
	}

	var row playerMapTimeRow
	if err := q.DB.WithContext(ctx).
		Where("player_id = ? AND map_name = ? AND server_id = ?", q.PlayerID, q.MapName, q.ServerID).
		Find(&row).Error; err != nil {
		return nil, err
	}

	return json.Marshal(row)
}
