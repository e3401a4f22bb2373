package redisstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/haiyiyun/sessionstore"
)

type RedisStoreTestSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *redis.Client
	store  *Store
	ctx    context.Context
}

func (s *RedisStoreTestSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.store = New(s.client, WithPrefix("test:"), WithTTL(time.Hour))
	s.ctx = context.Background()
}

func (s *RedisStoreTestSuite) TearDownTest() {
	_ = s.client.Close()
}

func newRecord(expires any, maxAge int64) *sessionstore.Record {
	return &sessionstore.Record{
		Values: map[string]any{"user": "a"},
		Cookie: &sessionstore.RawCookie{
			Expires:        expires,
			OriginalMaxAge: &maxAge,
			Path:           "/",
			HTTPOnly:       true,
		},
	}
}

func (s *RedisStoreTestSuite) TestSetStoresJSONWithCookieTTL() {
	exp := time.Now().Add(10 * time.Minute)
	s.Require().NoError(s.store.Set(s.ctx, "sid-1", newRecord(exp, 600000)))

	s.True(s.mr.Exists("test:sid-1"))
	ttl := s.mr.TTL("test:sid-1")
	s.InDelta(10*time.Minute, ttl, float64(2*time.Second))

	rec, err := s.store.Get(s.ctx, "sid-1")
	s.Require().NoError(err)
	s.Require().NotNil(rec)
	_, textual := rec.Cookie.Expires.(string)
	s.True(textual)
	s.Equal(int64(600000), *rec.Cookie.OriginalMaxAge)
}

func (s *RedisStoreTestSuite) TestSetWithoutExpiresUsesDefaultTTL() {
	s.Require().NoError(s.store.Set(s.ctx, "sid-2", newRecord(nil, 0)))
	s.Equal(time.Hour, s.mr.TTL("test:sid-2"))
}

func (s *RedisStoreTestSuite) TestExpiredRecordIsDeleted() {
	s.Require().NoError(s.store.Set(s.ctx, "sid-3", newRecord(nil, 0)))
	s.Require().NoError(s.store.Set(s.ctx, "sid-3", newRecord(time.Now().Add(-time.Second), 0)))
	s.False(s.mr.Exists("test:sid-3"))
}

func (s *RedisStoreTestSuite) TestGetMissingAndExpired() {
	rec, err := s.store.Get(s.ctx, "missing")
	s.NoError(err)
	s.Nil(rec)

	s.Require().NoError(s.store.Set(s.ctx, "sid-4", newRecord(time.Now().Add(time.Minute), 60000)))
	s.mr.FastForward(2 * time.Minute)

	rec, err = s.store.Get(s.ctx, "sid-4")
	s.NoError(err)
	s.Nil(rec)
}

func (s *RedisStoreTestSuite) TestGetCorruptData() {
	s.Require().NoError(s.mr.Set("test:bad", "not json"))

	_, err := s.store.Get(s.ctx, "bad")
	s.Error(err)
}

func (s *RedisStoreTestSuite) TestDestroy() {
	s.Require().NoError(s.store.Set(s.ctx, "sid-5", newRecord(nil, 0)))
	s.Require().NoError(s.store.Destroy(s.ctx, "sid-5"))
	s.Require().NoError(s.store.Destroy(s.ctx, "sid-5"))
	s.False(s.mr.Exists("test:sid-5"))
}

func (s *RedisStoreTestSuite) TestTouchOnlyRefreshesTTL() {
	s.Require().NoError(s.store.Set(s.ctx, "sid-6", newRecord(time.Now().Add(time.Minute), 60000)))
	before, err := s.mr.Get("test:sid-6")
	s.Require().NoError(err)

	touch := newRecord(time.Now().Add(30*time.Minute), 1800000)
	touch.Values = map[string]any{"user": "other"}
	s.Require().NoError(s.store.Touch(s.ctx, "sid-6", touch))

	after, err := s.mr.Get("test:sid-6")
	s.Require().NoError(err)
	s.Equal(before, after)
	s.InDelta(30*time.Minute, s.mr.TTL("test:sid-6"), float64(2*time.Second))
}

func (s *RedisStoreTestSuite) TestIDsLenClear() {
	for _, id := range []string{"a", "b", "c"} {
		s.Require().NoError(s.store.Set(s.ctx, id, newRecord(nil, 0)))
	}
	s.Require().NoError(s.mr.Set("other:x", "1"))

	ids, err := s.store.IDs(s.ctx)
	s.Require().NoError(err)
	sort.Strings(ids)
	s.Equal([]string{"a", "b", "c"}, ids)

	n, err := s.store.Len(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, n)

	s.Require().NoError(s.store.Clear(s.ctx))
	n, err = s.store.Len(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
	s.True(s.mr.Exists("other:x"))
}

func (s *RedisStoreTestSuite) TestBackendErrorSurfacesThroughLoad() {
	store, err := sessionstore.New(s.store)
	s.Require().NoError(err)

	s.mr.SetError("boom")
	defer s.mr.SetError("")

	sess, err := store.Load(s.ctx, "sid")
	s.Error(err)
	s.Nil(sess)
}

// 连接状态变化通过编排器的事件中心发布
func (s *RedisStoreTestSuite) TestWatchEmitsConnectionEvents() {
	store, err := sessionstore.New(s.store)
	s.Require().NoError(err)

	var mu sync.Mutex
	var events []string
	var lastErr error
	record := func(name string) sessionstore.Listener {
		return func(args ...any) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, name)
			if name == sessionstore.EventError && len(args) > 0 {
				lastErr, _ = args[0].(error)
			}
		}
	}
	store.On(sessionstore.EventConnect, record("connect"))
	store.On(sessionstore.EventDisconnect, record("disconnect"))
	store.On(sessionstore.EventError, record("error"))

	seen := func(name string) func() bool {
		return func() bool {
			mu.Lock()
			defer mu.Unlock()
			for _, e := range events {
				if e == name {
					return true
				}
			}
			return false
		}
	}

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.NoError(s.store.Watch(ctx, 20*time.Millisecond))
	}()

	s.Eventually(seen("connect"), 5*time.Second, 10*time.Millisecond)

	s.mr.Close()
	s.Eventually(seen("disconnect"), 10*time.Second, 10*time.Millisecond)
	s.Eventually(seen("error"), 10*time.Second, 10*time.Millisecond)

	mu.Lock()
	s.Error(lastErr)
	s.False(errors.Is(lastErr, context.Canceled))
	mu.Unlock()

	cancel()
	<-done
}

func (s *RedisStoreTestSuite) TestWatchRejectsNonPositiveInterval() {
	for _, interval := range []time.Duration{0, -time.Second} {
		err := s.store.Watch(s.ctx, interval)
		s.ErrorContains(err, "interval must be positive")
	}
}

func TestRedisStoreTestSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreTestSuite))
}
