package oauthflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"datasync/pkg/secrets"
)

// FlowState bridges the authorization start and the callback for one
// (connector, user) pair.
type FlowState struct {
	Connector   string            `json:"connector"`
	TenantID    string            `json:"tenant_id"`
	UserID      string            `json:"user_id"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	State       string            `json:"state"`
	RedirectURI string            `json:"redirect_uri"`
	CustomApp   *OAuthInfo        `json:"custom_oauth_info,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// FlowStore keeps FlowState for a bounded time. Save replaces any flow already
// in progress for the same pair.
type FlowStore interface {
	Save(ctx context.Context, fs FlowState, ttl time.Duration) error
	Load(ctx context.Context, connector, userID string) (FlowState, error)
	Delete(ctx context.Context, connector, userID string) error
}

func flowKey(connector, userID string) string {
	return "datasync:oauthflow:" + connector + ":" + userID
}

// RedisFlowStore stores sealed FlowState values under a per-pair key with a
// Redis TTL, so abandoned flows expire on their own.
type RedisFlowStore struct {
	rdb    redis.UniversalClient
	sealer *secrets.Sealer
}

func NewRedisFlowStore(rdb redis.UniversalClient, sealer *secrets.Sealer) *RedisFlowStore {
	return &RedisFlowStore{rdb: rdb, sealer: sealer}
}

func (s *RedisFlowStore) Save(ctx context.Context, fs FlowState, ttl time.Duration) error {
	blob, err := s.sealer.Seal(fs)
	if err != nil {
		return fmt.Errorf("seal flow state: %w", err)
	}
	return s.rdb.Set(ctx, flowKey(fs.Connector, fs.UserID), blob, ttl).Err()
}

func (s *RedisFlowStore) Load(ctx context.Context, connector, userID string) (FlowState, error) {
	blob, err := s.rdb.Get(ctx, flowKey(connector, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return FlowState{}, ErrFlowNotFound
	}
	if err != nil {
		return FlowState{}, err
	}
	var fs FlowState
	if err := s.sealer.Open(blob, &fs); err != nil {
		return FlowState{}, fmt.Errorf("open flow state: %w", err)
	}
	return fs, nil
}

func (s *RedisFlowStore) Delete(ctx context.Context, connector, userID string) error {
	return s.rdb.Del(ctx, flowKey(connector, userID)).Err()
}

type memoryFlow struct {
	fs        FlowState
	expiresAt time.Time
}

// MemoryFlowStore is the single-process FlowStore used without REDIS_URL.
type MemoryFlowStore struct {
	mu    sync.Mutex
	flows map[string]memoryFlow
	now   func() time.Time
}

func NewMemoryFlowStore() *MemoryFlowStore {
	return &MemoryFlowStore{flows: map[string]memoryFlow{}, now: time.Now}
}

func (s *MemoryFlowStore) Save(_ context.Context, fs FlowState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, f := range s.flows {
		if now.After(f.expiresAt) {
			delete(s.flows, k)
		}
	}
	s.flows[flowKey(fs.Connector, fs.UserID)] = memoryFlow{fs: fs, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryFlowStore) Load(_ context.Context, connector, userID string) (FlowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := flowKey(connector, userID)
	f, ok := s.flows[k]
	if !ok {
		return FlowState{}, ErrFlowNotFound
	}
	if s.now().After(f.expiresAt) {
		delete(s.flows, k)
		return FlowState{}, ErrFlowNotFound
	}
	return f.fs, nil
}

func (s *MemoryFlowStore) Delete(_ context.Context, connector, userID string) error {
	s.mu.Lock()
	delete(s.flows, flowKey(connector, userID))
	s.mu.Unlock()
	return nil
}
