// Package fingerprint resolves the session-epoch fingerprint every cache
// key is keyed against. Resolvers run through workercore.Core.RunExact —
// the synchronous path — because fingerprint derivation sits underneath
// every other cache lookup and must never itself report "calculating".
package fingerprint

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/cachecore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/workercore"
)

// FirstTime is the sentinel current-fingerprint value for an entity with
// no prior history.
const FirstTime = "first-time"

// Fingerprint pairs the current epoch with the previous one, if any.
type Fingerprint struct {
	Current  string `json:"current"`
	Previous string `json:"previous"`
}

// Resolver derives the current fingerprint for an entity pair: an entity
// (player or map) on a server.
type Resolver interface {
	Current(ctx context.Context, entityID, serverID string) (Fingerprint, error)
}

// query adapts a resolve function into workercore.Query so resolution goes
// through the same cache/compute plumbing as every other read.
type query struct {
	key     cachecore.CacheKey
	ttl     time.Duration
	resolve func(ctx context.Context) (Fingerprint, error)
}

func (q *query) Key() cachecore.CacheKey     { return q.key }
func (q *query) Heavy() bool                 { return false }
func (q *query) FreshTTL() time.Duration     { return q.ttl }
func (q *query) StaleTTL() time.Duration     { return q.ttl }
func (q *query) Compute(ctx context.Context) ([]byte, error) {
	fp, err := q.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fp)
}

func runCached(ctx context.Context, worker *workercore.Core, key cachecore.CacheKey, ttl time.Duration, resolve func(ctx context.Context) (Fingerprint, error)) (Fingerprint, error) {
	q := &query{key: key, ttl: ttl, resolve: resolve}
	payload, err := worker.RunExact(ctx, q)
	if err != nil {
		return Fingerprint{}, err
	}
	var fp Fingerprint
	if err := json.Unmarshal(payload, &fp); err != nil {
		return Fingerprint{}, err
	}
	return fp, nil
}

// sessionRow is the minimal shape fingerprint queries read from the
// sessions table; the rest of that table's columns belong to internal/queries.
type sessionRow struct {
	ID        string `gorm:"column:id"`
	PlayerID  string `gorm:"column:player_id"`
	ServerID  string `gorm:"column:server_id"`
	EndedAt   *time.Time `gorm:"column:ended_at"`
}

func (sessionRow) TableName() string { return "sessions" }

// PlayerServerResolver's current fingerprint is the id of the most recent
// completed session for (player, server).
type PlayerServerResolver struct {
	db     *gorm.DB
	worker *workercore.Core
	ttl    time.Duration
}

func NewPlayerServerResolver(db *gorm.DB, worker *workercore.Core, ttl time.Duration) *PlayerServerResolver {
	return &PlayerServerResolver{db: db, worker: worker, ttl: ttl}
}

func (r *PlayerServerResolver) Current(ctx context.Context, playerID, serverID string) (Fingerprint, error) {
	key := cachecore.CacheKey{
		LogicalKey:  "fingerprint:player-server:" + playerID + ":" + serverID,
		Fingerprint: cachecore.Fingerprint{Current: "resolver"},
	}
	return runCached(ctx, r.worker, key, r.ttl, func(ctx context.Context) (Fingerprint, error) {
		var row sessionRow
		err := r.db.WithContext(ctx).
			Where("player_id = ? AND server_id = ? AND ended_at IS NOT NULL", playerID, serverID).
			Order("ended_at DESC").
			Limit(1).
			Find(&row).Error
		if err != nil {
			return Fingerprint{}, err
		}
		if row.ID == "" {
			return Fingerprint{Current: FirstTime}, nil
		}
		return Fingerprint{Current: row.ID}, nil
	})
}

// rotationRow is the minimal shape for the most recent completed rotation
// of a (map, server) pair.
type rotationRow struct {
	MapName  string     `gorm:"column:map_name"`
	ServerID string     `gorm:"column:server_id"`
	EndedAt  *time.Time `gorm:"column:ended_at"`
}

func (rotationRow) TableName() string { return "map_rotations" }

// MapServerResolver's current fingerprint is the RFC 3339 timestamp of the
// most recent completed rotation for (map, server).
type MapServerResolver struct {
	db     *gorm.DB
	worker *workercore.Core
	ttl    time.Duration
}

func NewMapServerResolver(db *gorm.DB, worker *workercore.Core, ttl time.Duration) *MapServerResolver {
	return &MapServerResolver{db: db, worker: worker, ttl: ttl}
}

func (r *MapServerResolver) Current(ctx context.Context, mapName, serverID string) (Fingerprint, error) {
	key := cachecore.CacheKey{
		LogicalKey:  "fingerprint:map-server:" + mapName + ":" + serverID,
		Fingerprint: cachecore.Fingerprint{Current: "resolver"},
	}
	return runCached(ctx, r.worker, key, r.ttl, func(ctx context.Context) (Fingerprint, error) {
		var row rotationRow
		err := r.db.WithContext(ctx).
			Where("map_name = ? AND server_id = ? AND ended_at IS NOT NULL", mapName, serverID).
			Order("ended_at DESC").
			Limit(1).
			Find(&row).Error
		if err != nil {
			return Fingerprint{}, err
		}
		if row.EndedAt == nil {
			return Fingerprint{Current: FirstTime}, nil
		}
		return Fingerprint{Current: row.EndedAt.Format(time.RFC3339)}, nil
	})
}
