package queries

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/kvstore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/logging"
)

func newTestKV(t *testing.T) kvstore.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return kvstore.NewRedisStore(client, logging.New(logging.DefaultConfig()))
}

func TestPlayerMapTimeQuery_Compute_NoNewSessions_ReadsBackExisting(t *testing.T) {
	db, mock := setupMockDB(t)
	kv := newTestKV(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "last_calculated_fingerprint"`)).
		WillReturnRows(sqlmock.NewRows([]string{"player_id", "map_name", "server_id", "last_session", "updated_at"}).
			AddRow("p1", "de_dust2", "s1", "sess-9", time.Now()))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "sessions"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "duration_seconds", "ended_at"}))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "player_map_time"`)).
		WillReturnRows(sqlmock.NewRows([]string{"player_id", "map_name", "server_id", "seconds_played"}).
			AddRow("p1", "de_dust2", "s1", 120))

	q := &PlayerMapTimeQuery{DB: db, KV: kv, Log: logging.New(logging.DefaultConfig()), PlayerID: "p1", MapName: "de_dust2", ServerID: "s1"}

	payload, err := q.Compute(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"seconds_played":120`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlayerMapTimeQuery_Heavy_IsTrue(t *testing.T) {
	q := &PlayerMapTimeQuery{}
	assert.True(t, q.Heavy())
}

func TestMapRadarQuery_Compute(t *testing.T) {
	db, mock := setupMockDB(t)
	q := &MapRadarQuery{DB: db, MapName: "de_dust2", ServerID: "s1"}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT round(pos_x / 64) * 64 AS pos_x, round(pos_y / 64) * 64 AS pos_y, count(*) AS intensity FROM "position_samples"`)).
		WillReturnRows(sqlmock.NewRows([]string{"pos_x", "pos_y", "intensity"}).
			AddRow(64.0, 128.0, 42))

	payload, err := q.Compute(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"intensity":42`)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.True(t, q.Heavy())
}
