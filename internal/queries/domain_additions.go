package queries

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/cachecore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/database"
)

const (
	queryNameActivityGraph       = "activity_graph"
	queryNameMapRadar            = "map_radar"
	queryNameRecentParticipants  = "recent_participants"
)

// activityBucketRow is one time-bucketed player/session count point,
// grounded on original_source/src/routers/graphs.rs.
type activityBucketRow struct {
	Bucket        time.Time `gorm:"column:bucket" json:"bucket"`
	PlayerCount   int64     `gorm:"column:player_count" json:"player_count"`
	SessionCount  int64     `gorm:"column:session_count" json:"session_count"`
}

// ActivityGraphQuery is a Light query: small, fast, short-lived cache,
// run through workercore's synchronous admission-free path.
type ActivityGraphQuery struct {
	DB         *gorm.DB
	Metrics    *database.QueryMetrics
	ServerID   string
	BucketSize time.Duration
	Since      time.Time
}

func (q *ActivityGraphQuery) Key() cachecore.CacheKey {
	return cachecore.CacheKey{
		LogicalKey:  "activity-graph:" + q.ServerID,
		Fingerprint: cachecore.Fingerprint{Current: q.Since.Format(time.RFC3339)},
	}
}

func (q *ActivityGraphQuery) Heavy() bool             { return false }
func (q *ActivityGraphQuery) FreshTTL() time.Duration { return 30 * time.Second }
func (q *ActivityGraphQuery) StaleTTL() time.Duration { return 5 * time.Minute }

func (q *ActivityGraphQuery) Compute(ctx context.Context) (result []byte, err error) {
	if q.Metrics != nil {
		start := time.Now()
		defer func() { q.Metrics.RecordQuery(queryNameActivityGraph, time.Since(start), err) }()
	}

	var rows []activityBucketRow
	err = q.DB.WithContext(ctx).
		Table("sessions").
		Select("date_trunc('hour', started_at) AS bucket, count(distinct player_id) AS player_count, count(*) AS session_count").
		Where("server_id = ? AND started_at >= ?", q.ServerID, q.Since).
		Group("bucket").
		Order("bucket ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return json.Marshal(rows)
}

// mapRadarPoint is one heatmap-ish aggregate point for a map, grounded on
// original_source/src/routers/radars.rs.
type mapRadarPoint struct {
	X          float64 `gorm:"column:pos_x" json:"x"`
	Y          float64 `gorm:"column:pos_y" json:"y"`
	Intensity  int64   `gorm:"column:intensity" json:"intensity"`
}

// MapRadarQuery is a Heavy query: bounded by the worker's admission
// semaphore since the underlying spatial aggregation scans raw position
// samples.
type MapRadarQuery struct {
	DB       *gorm.DB
	Metrics  *database.QueryMetrics
	MapName  string
	ServerID string
}

func (q *MapRadarQuery) Key() cachecore.CacheKey {
	return cachecore.CacheKey{
		LogicalKey:  "map-radar:" + q.MapName + ":" + q.ServerID,
		Fingerprint: cachecore.Fingerprint{Current: "latest"},
	}
}

func (q *MapRadarQuery) Heavy() bool             { return true }
func (q *MapRadarQuery) FreshTTL() time.Duration { return 10 * time.Minute }
func (q *MapRadarQuery) StaleTTL() time.Duration { return time.Hour }

func (q *MapRadarQuery) Compute(ctx context.Context) (result []byte, err error) {
	if q.Metrics != nil {
		start := time.Now()
		defer func() { q.Metrics.RecordQuery(queryNameMapRadar, time.Since(start), err) }()
	}

	var points []mapRadarPoint
	err = q.DB.WithContext(ctx).
		Table("position_samples").
		Select("round(pos_x / 64) * 64 AS pos_x, round(pos_y / 64) * 64 AS pos_y, count(*) AS intensity").
		Where("map_name = ? AND server_id = ?", q.MapName, q.ServerID).
		Group("pos_x, pos_y").
		Find(&points).Error
	if err != nil {
		return nil, err
	}
	return json.Marshal(points)
}

// recentParticipantRow is one entry in the "most recently relevant"
// listing, grounded on original_source/src/routers/misc.rs, and feeds
// SweeperCore's recent-participant sweeper.
type recentParticipantRow struct {
	PlayerID  string    `gorm:"column:player_id" json:"player_id"`
	ServerID  string    `gorm:"column:server_id" json:"server_id"`
	LastSeen  time.Time `gorm:"column:last_seen" json:"last_seen"`
}

// RecentParticipantsQuery lists players active in the last window,
// primarily consumed by the sweeper rather than directly by HTTP callers.
type RecentParticipantsQuery struct {
	DB      *gorm.DB
	Metrics *database.QueryMetrics
	Window  time.Duration
}

func (q *RecentParticipantsQuery) Key() cachecore.CacheKey {
	return cachecore.CacheKey{
		LogicalKey:  "recent-participants",
		Fingerprint: cachecore.Fingerprint{Current: "latest"},
	}
}

func (q *RecentParticipantsQuery) Heavy() bool             { return false }
func (q *RecentParticipantsQuery) FreshTTL() time.Duration { return time.Minute }
func (q *RecentParticipantsQuery) StaleTTL() time.Duration { return 10 * time.Minute }

func (q *RecentParticipantsQuery) Compute(ctx context.Context) (result []byte, err error) {
	if q.Metrics != nil {
		start := time.Now()
		defer func() { q.Metrics.RecordQuery(queryNameRecentParticipants, time.Since(start), err) }()
	}

	var rows []recentParticipantRow
	since := time.Now().Add(-q.Window)
	err = q.DB.WithContext(ctx).
		Table("sessions").
		Select("player_id, server_id, max(ended_at) AS last_seen").
		Where("ended_at >= ?", since).
		Group("player_id, server_id").
		Order("last_seen DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return json.Marshal(rows)
}
