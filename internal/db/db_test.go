package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/das-waterfall/internal/das/driver"
	"github.com/banshee-data/das-waterfall/internal/das/session"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrations(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	defer db.Close()

	v, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateUp(MigrationsFS()))
	require.NoError(t, db.MigrateUp(MigrationsFS()), "second up is a no-op")
	v, _, err = db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	require.NoError(t, db.MigrateDown(MigrationsFS()))
	v, _, err = db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	_, err = db.Exec(`SELECT buffers FROM sessions`)
	assert.Error(t, err, "counter columns removed")

	require.NoError(t, db.MigrateUp(MigrationsFS()))
	_, err = db.Exec(`SELECT buffers FROM sessions`)
	assert.NoError(t, err)

	assert.Error(t, db.MigrateUp(nil))
}

func sampleRecord(id string, started time.Time) session.Record {
	return session.Record{
		ID:        id,
		Driver:    "mock",
		Params:    driver.DefaultParams(),
		State:     session.StateRunning,
		StartedAt: started,
	}
}

func TestSessionStoreLifecycle(t *testing.T) {
	store := NewSessionStore(newTestDB(t))
	ctx := context.Background()
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rec := sampleRecord("a", started)
	require.NoError(t, store.Begin(ctx, rec))
	got, err := store.GetSession(ctx, "a")
	require.NoError(t, err)
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("after Begin (-want +got):\n%s", diff)
	}

	rec.State = session.StateIdle
	rec.StoppedAt = started.Add(90 * time.Second)
	rec.Buffers, rec.Decoded, rec.DecodeFailures = 100, 97, 3
	rec.Drops, rec.Rejected, rec.Discarded = 5, 0, 2
	require.NoError(t, store.Finish(ctx, rec))
	got, err = store.GetSession(ctx, "a")
	require.NoError(t, err)
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("after Finish (-want +got):\n%s", diff)
	}
}

func TestSessionStoreFailedStart(t *testing.T) {
	store := NewSessionStore(newTestDB(t))
	ctx := context.Background()
	rec := sampleRecord("b", time.Unix(100, 0).UTC())
	require.NoError(t, store.Begin(ctx, rec))
	rec.State = session.StateFailed
	rec.Error = "device not found: open: no card"
	require.NoError(t, store.Finish(ctx, rec))

	got, err := store.GetSession(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, session.StateFailed, got.State)
	assert.Equal(t, rec.Error, got.Error)
	assert.True(t, got.StoppedAt.IsZero())
}

func TestSessionStoreNotFound(t *testing.T) {
	store := NewSessionStore(newTestDB(t))
	_, err := store.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	err = store.Finish(context.Background(), sampleRecord("missing", time.Now()))
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestListSessionsNewestFirst(t *testing.T) {
	store := NewSessionStore(newTestDB(t))
	ctx := context.Background()
	base := time.Unix(1000, 0).UTC()
	for i, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, store.Begin(ctx, sampleRecord(id, base.Add(time.Duration(i)*time.Minute))))
	}
	all, err := store.ListSessions(ctx, 0)
	require.NoError(t, err)
	ids := make([]string, len(all))
	for i, r := range all {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"s3", "s2", "s1"}, ids)

	two, err := store.ListSessions(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	store := NewSessionStore(db)
	require.NoError(t, store.Begin(context.Background(), sampleRecord("x", time.Unix(5, 0).UTC())))

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/sessions?limit=10", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []session.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].ID)

	req = httptest.NewRequest(http.MethodGet, "/debug/sessions?limit=abc", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
