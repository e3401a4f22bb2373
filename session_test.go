package sessionstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haiyiyun/sessionstore"
	"github.com/haiyiyun/sessionstore/memstore"
)

func newMemStore(t *testing.T, opts ...sessionstore.Option) (*sessionstore.Store, *memstore.Store) {
	t.Helper()
	backend := memstore.New()
	store, err := sessionstore.New(backend, opts...)
	require.NoError(t, err)
	return store, backend
}

func TestSessionSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemStore(t, sessionstore.WithCookieOptions(sessionstore.CookieOptions{
		Path: "/", HTTPOnly: true, MaxAge: time.Hour,
	}))

	req := &sessionstore.Request{}
	require.NoError(t, store.Generate(req))
	req.Session.Set("user", "a")
	require.NoError(t, req.Session.Save(ctx))

	loaded, err := store.Load(ctx, req.SessionID)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	user, ok := loaded.Get("user")
	assert.True(t, ok)
	assert.Equal(t, "a", user)
	assert.Equal(t, int64(3600000), *loaded.Cookie.OriginalMaxAge)
	assert.WithinDuration(t, *req.Session.Cookie.Expires, *loaded.Cookie.Expires, time.Millisecond)
}

// 文本形式的 expires 经过 Load 变成结构化时间
func TestLoadCoercesExpiresFromTextBackend(t *testing.T) {
	ctx := context.Background()
	store, backend := newMemStore(t)

	orig := int64(3600000)
	require.NoError(t, backend.Set(ctx, "sid", &sessionstore.Record{
		Values: map[string]any{"user": "a"},
		Cookie: &sessionstore.RawCookie{
			Expires:        time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
			OriginalMaxAge: &orig,
		},
	}))

	sess, err := store.Load(ctx, "sid")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.True(t, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).Equal(*sess.Cookie.Expires))
	assert.Equal(t, int64(3600000), *sess.Cookie.OriginalMaxAge)
}

func TestSessionReload(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemStore(t)

	req := &sessionstore.Request{}
	require.NoError(t, store.Generate(req))
	req.Session.Set("count", 1.0)
	require.NoError(t, req.Session.Save(ctx))

	other, err := store.Load(ctx, req.SessionID)
	require.NoError(t, err)
	other.Set("count", 2.0)
	require.NoError(t, other.Save(ctx))

	sess := req.Session
	require.NoError(t, sess.Reload(ctx))
	count, _ := sess.Get("count")
	assert.Equal(t, 2.0, count)
	assert.Same(t, sess, req.Session)
}

func TestSessionReloadMissing(t *testing.T) {
	store, _ := newMemStore(t)

	req := &sessionstore.Request{}
	require.NoError(t, store.Generate(req))

	err := req.Session.Reload(context.Background())
	assert.ErrorIs(t, err, sessionstore.ErrSessionNotFound)
}

func TestSessionDestroy(t *testing.T) {
	ctx := context.Background()
	store, backend := newMemStore(t)

	req := &sessionstore.Request{}
	require.NoError(t, store.Generate(req))
	require.NoError(t, req.Session.Save(ctx))
	require.Equal(t, 1, backend.Len())

	require.NoError(t, req.Session.Destroy(ctx))
	assert.Nil(t, req.Session)
	assert.Zero(t, backend.Len())
}

func TestSessionRegenerateDiscardsOldRecord(t *testing.T) {
	ctx := context.Background()
	store, backend := newMemStore(t)

	req := &sessionstore.Request{}
	require.NoError(t, store.Generate(req))
	req.Session.Set("user", "a")
	require.NoError(t, req.Session.Save(ctx))
	oldID := req.SessionID

	require.NoError(t, req.Session.Regenerate(ctx))
	assert.NotEqual(t, oldID, req.SessionID)
	assert.Empty(t, req.Session.Keys())

	old, err := backend.Get(ctx, oldID)
	require.NoError(t, err)
	assert.Nil(t, old)
}

func TestSessionTouchResetsExpiry(t *testing.T) {
	ctx := context.Background()
	store, backend := newMemStore(t, sessionstore.WithCookieOptions(sessionstore.CookieOptions{
		Path: "/", MaxAge: time.Hour,
	}))

	req := &sessionstore.Request{}
	require.NoError(t, store.Generate(req))
	require.NoError(t, req.Session.Save(ctx))

	past := time.Now().Add(time.Minute)
	req.Session.Cookie.Expires = &past
	require.NoError(t, req.Session.Touch(ctx))

	assert.WithinDuration(t, time.Now().Add(time.Hour), *req.Session.Cookie.Expires, 2*time.Second)

	rec, err := backend.Get(ctx, req.SessionID)
	require.NoError(t, err)
	exp, ok, err := rec.Cookie.ExpiresAt()
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, *req.Session.Cookie.Expires, exp, time.Millisecond)
}

func TestSessionWithoutStore(t *testing.T) {
	store, _ := newMemStore(t)
	sess, err := store.CreateSession(&sessionstore.Request{SessionID: "sid"}, &sessionstore.Record{
		Cookie: &sessionstore.RawCookie{},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, sess.Save(context.Background()), sessionstore.ErrNoStore)
}

func TestSessionValues(t *testing.T) {
	store, _ := newMemStore(t)
	req := &sessionstore.Request{}
	require.NoError(t, store.Generate(req))

	s := req.Session
	s.Set("b", 1)
	s.Set("a", 2)
	assert.Equal(t, []string{"a", "b"}, s.Keys())

	s.Delete("b")
	_, ok := s.Get("b")
	assert.False(t, ok)

	rec := s.Record()
	assert.Equal(t, map[string]any{"a": 2}, rec.Values)
	require.NotNil(t, rec.Cookie)
}
