package app

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haiyiyun/sessionstore"
	"github.com/haiyiyun/sessionstore/redisstore"
	"github.com/haiyiyun/sessionstore/sqlitestore"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	orig := int64(3600000)
	rec := &sessionstore.Record{
		Values: map[string]any{"user": "a"},
		Cookie: &sessionstore.RawCookie{
			Expires:        time.Now().Add(30 * time.Minute),
			OriginalMaxAge: &orig,
			Path:           "/",
			HTTPOnly:       true,
		},
	}
	require.NoError(t, redisstore.New(client).Set(context.Background(), "sid-1", rec))
	return mr
}

func TestGet(t *testing.T) {
	mr := seedRedis(t)

	out, err := run(t, "get", "sid-1", "--redis-addr", mr.Addr())
	require.NoError(t, err)

	var view sessionView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "sid-1", view.ID)
	assert.Equal(t, "a", view.Data["user"])
	assert.Equal(t, int64(3600000), *view.OriginalMaxAge)
	require.NotNil(t, view.Expires)
}

func TestGetMissing(t *testing.T) {
	mr := seedRedis(t)

	_, err := run(t, "get", "nope", "--redis-addr", mr.Addr())
	assert.ErrorIs(t, err, errNotFound)
}

func TestListAndDestroy(t *testing.T) {
	mr := seedRedis(t)

	out, err := run(t, "list", "--redis-addr", mr.Addr())
	require.NoError(t, err)
	assert.Equal(t, "sid-1\n", out)

	out, err = run(t, "destroy", "sid-1", "--redis-addr", mr.Addr())
	require.NoError(t, err)
	assert.Contains(t, out, "destroyed sid-1")
	assert.False(t, mr.Exists("sess:sid-1"))
}

func TestTouch(t *testing.T) {
	mr := seedRedis(t)
	mr.SetTTL("sess:sid-1", time.Minute)

	out, err := run(t, "touch", "sid-1", "--redis-addr", mr.Addr())
	require.NoError(t, err)
	assert.Contains(t, out, "sid-1 expires")
	assert.InDelta(t, float64(time.Hour), float64(mr.TTL("sess:sid-1")), float64(2*time.Second))
}

func TestRegenerateKeepsData(t *testing.T) {
	mr := seedRedis(t)

	out, err := run(t, "regenerate", "sid-1", "--redis-addr", mr.Addr(), "--id-format", "random")
	require.NoError(t, err)

	newID := strings.TrimSpace(out)
	assert.Len(t, newID, 43)
	assert.False(t, mr.Exists("sess:sid-1"))

	data, err := mr.Get("sess:" + newID)
	require.NoError(t, err)
	assert.Contains(t, data, `"user":"a"`)
	assert.Contains(t, data, `"originalMaxAge":3600000`)
	assert.Contains(t, data, `"httpOnly":true`)
	assert.InDelta(t, float64(time.Hour), float64(mr.TTL("sess:"+newID)), float64(2*time.Second))
}

func TestFailedCommandClosesStore(t *testing.T) {
	mr := seedRedis(t)

	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"get", "nope", "--redis-addr", mr.Addr()})
	require.ErrorIs(t, root.ExecuteContext(context.Background()), errNotFound)

	getCmd, _, err := root.Find([]string{"get"})
	require.NoError(t, err)
	store := storeFrom(getCmd)
	require.NotNil(t, store)
	_, err = store.Get(context.Background(), "sid-1")
	assert.ErrorIs(t, err, sessionstore.ErrStoreClosed)
}

func TestWatchRejectsNonPositiveInterval(t *testing.T) {
	mr := seedRedis(t)

	_, err := run(t, "watch", "--interval", "0s", "--redis-addr", mr.Addr())
	assert.ErrorContains(t, err, "--interval must be positive")
}

func TestUnknownBackend(t *testing.T) {
	_, err := run(t, "list", "--backend", "etcd")
	assert.ErrorContains(t, err, "unknown backend")
}

func TestBackendFromEnvironment(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	t.Setenv("SESSIONCTL_BACKEND", "sqlite")
	t.Setenv("SESSIONCTL_SQLITE_PATH", dbPath)

	ctx := context.Background()
	backend, err := sqlitestore.Open(ctx, "file:"+dbPath)
	require.NoError(t, err)
	rec := &sessionstore.Record{
		Values: map[string]any{},
		Cookie: &sessionstore.RawCookie{Expires: time.Now().Add(-time.Minute), Path: "/"},
	}
	require.NoError(t, backend.Set(ctx, "stale", rec))
	require.NoError(t, backend.Close())

	out, err := run(t, "prune")
	require.NoError(t, err)
	assert.Equal(t, "pruned 1 sessions\n", out)
}

func TestPruneUnsupported(t *testing.T) {
	mr := seedRedis(t)

	_, err := run(t, "prune", "--redis-addr", mr.Addr())
	assert.ErrorContains(t, err, "backend redis")
}
