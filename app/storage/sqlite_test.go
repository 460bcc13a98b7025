package storage

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	e "nuclight.org/video-relay-bot/pkg/entities"
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()

	db, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "db", "relay.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestSQLite_MarkSeenOnce(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	first, err := db.MarkSeen(ctx, 42)
	require.NoError(t, err)
	assert.True(t, first)

	for i := 0; i < 3; i++ {
		first, err = db.MarkSeen(ctx, 42)
		require.NoError(t, err)
		assert.False(t, first)
	}

	first, err = db.MarkSeen(ctx, 43)
	require.NoError(t, err)
	assert.True(t, first)

	n, err := db.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLite_MarkSeenConcurrent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	var firsts int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := db.MarkSeen(ctx, 7)
			assert.NoError(t, err)
			if first {
				atomic.AddInt32(&firsts, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), firsts)
}

func TestSQLite_ReopenKeepsUsers(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.sqlite")

	db, err := NewSQLite(ctx, path)
	require.NoError(t, err)
	_, err = db.MarkSeen(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewSQLite(ctx, path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	first, err := db.MarkSeen(ctx, 1)
	require.NoError(t, err)
	assert.False(t, first)
}

func TestSQLite_ImportUsers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.MarkSeen(ctx, 100)
	require.NoError(t, err)

	n, err := db.ImportUsers(ctx, strings.NewReader(`{"100": true, "200": true, "300": false}`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	first, err := db.MarkSeen(ctx, 200)
	require.NoError(t, err)
	assert.False(t, first)

	first, err = db.MarkSeen(ctx, 300)
	require.NoError(t, err)
	assert.True(t, first)
}

func TestSQLite_ImportUsersInvalid(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.ImportUsers(ctx, strings.NewReader(`{"abc": true}`))
	assert.Error(t, err)

	_, err = db.ImportUsers(ctx, strings.NewReader(`[1, 2]`))
	assert.Error(t, err)

	n, err := db.CountUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_Requests(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	msg := e.Message{ID: 5, Sender: e.User{ID: 9}, Chat: e.Chat{ID: -100}}

	okID, err := db.SaveRequest(ctx, msg, "https://youtu.be/a")
	require.NoError(t, err)
	require.NoError(t, db.SaveOutcome(ctx, okID, e.StageDone, ""))

	failID, err := db.SaveRequest(ctx, msg, "https://youtu.be/b")
	require.NoError(t, err)
	require.NoError(t, db.SaveOutcome(ctx, failID, e.StageDownload, "exit status 1"))

	deniedID, err := db.SaveRequest(ctx, msg, "https://youtu.be/c")
	require.NoError(t, err)
	require.NoError(t, db.SaveOutcome(ctx, deniedID, e.StageAccess, "user is denied"))

	reqs, err := db.ListRequests(ctx, 9)
	require.NoError(t, err)
	require.Len(t, reqs, 3)

	assert.Equal(t, "https://youtu.be/a", reqs[0].URL)
	require.NotNil(t, reqs[0].Stage)
	assert.Equal(t, "done", *reqs[0].Stage)
	assert.Nil(t, reqs[0].Error)

	assert.Equal(t, int64(-100), reqs[1].ChatID)
	require.NotNil(t, reqs[1].Error)
	assert.Equal(t, "exit status 1", *reqs[1].Error)

	require.NotNil(t, reqs[2].Stage)
	assert.Equal(t, string(e.StageAccess), *reqs[2].Stage)

	others, err := db.ListRequests(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, others)
}
