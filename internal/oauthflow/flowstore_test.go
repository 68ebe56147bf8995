package oauthflow

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datasync/pkg/secrets"
)

func newTestRedisFlowStore(t *testing.T, key string) (*RedisFlowStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisFlowStore(rdb, secrets.NewSealer(key)), mr
}

func sampleFlow() FlowState {
	return FlowState{
		Connector:   "quickbooks",
		TenantID:    "t1",
		UserID:      "u1",
		Metadata:    map[string]string{"realm": "r1"},
		State:       "st",
		RedirectURI: "https://app.example.com/cb",
		CustomApp:   &OAuthInfo{ClientID: "cid", ClientSecret: "top-secret"},
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestRedisFlowStore_SaveLoadDelete(t *testing.T) {
	s, mr := newTestRedisFlowStore(t, "k3y")
	ctx := context.Background()

	_, err := s.Load(ctx, "quickbooks", "u1")
	require.ErrorIs(t, err, ErrFlowNotFound)

	fs := sampleFlow()
	require.NoError(t, s.Save(ctx, fs, time.Minute))

	raw, err := mr.Get(flowKey("quickbooks", "u1"))
	require.NoError(t, err)
	assert.NotContains(t, raw, "top-secret", "flow state is sealed at rest")

	got, err := s.Load(ctx, "quickbooks", "u1")
	require.NoError(t, err)
	assert.Equal(t, fs, got)

	require.NoError(t, s.Delete(ctx, "quickbooks", "u1"))
	_, err = s.Load(ctx, "quickbooks", "u1")
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestRedisFlowStore_Expires(t *testing.T) {
	s, mr := newTestRedisFlowStore(t, "")
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleFlow(), time.Minute))
	assert.Equal(t, time.Minute, mr.TTL(flowKey("quickbooks", "u1")))

	mr.FastForward(2 * time.Minute)
	_, err := s.Load(ctx, "quickbooks", "u1")
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestMemoryFlowStore_Expires(t *testing.T) {
	s := NewMemoryFlowStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleFlow(), time.Minute))
	_, err := s.Load(ctx, "quickbooks", "u1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Load(ctx, "quickbooks", "u1")
	assert.ErrorIs(t, err, ErrFlowNotFound)
}
