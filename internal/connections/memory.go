package connections

import (
	"context"
	"sort"
	"sync"
	"time"
)

type key struct{ tenant, connector string }

// MemoryStore keeps records in process. Used when DATABASE_URL is unset and in
// tests.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[key]Record
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: map[key]Record{}, now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, tenantID, connector string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recs[key{tenantID, connector}]
	if !ok {
		return Record{}, ErrNotConnected
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Upsert(_ context.Context, rec Record) error {
	rec = rec.Clone()
	rec.UpdatedAt = s.now().UTC()
	s.mu.Lock()
	s.recs[key{rec.TenantID, rec.Connector}] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantID, connector string) error {
	s.mu.Lock()
	delete(s.recs, key{tenantID, connector})
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListByTenant(_ context.Context, tenantID string) ([]Record, error) {
	s.mu.RLock()
	out := []Record{}
	for k, r := range s.recs {
		if k.tenant == tenantID {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Connector < out[j].Connector })
	return out, nil
}
