package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clinicdesk/frontdesk/internal/platform/db"
	"github.com/clinicdesk/frontdesk/internal/platform/reconcile"
)

// SelectionStore keeps the catalog lines chosen for a visit between desk
// round-trips. A visit with nothing stored reads as an empty set.
type SelectionStore interface {
	Get(ctx context.Context, visitID string) (reconcile.SelectionSet, error)
	Save(ctx context.Context, visitID string, sel reconcile.SelectionSet) error
	Delete(ctx context.Context, visitID string) error
}

const selectionKeyPrefix = "frontdesk:selection"

// selectionKey scopes visit ids by clinic, since clinics number visits independently.
func selectionKey(ctx context.Context, visitID string) string {
	clinic := db.ClinicFromContext(ctx)
	if clinic == "" {
		clinic = "default"
	}
	return fmt.Sprintf("%s:%s:%s", selectionKeyPrefix, clinic, visitID)
}

// -- Redis --

type RedisSelectionStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisSelectionStore(client redis.Cmdable, ttl time.Duration) *RedisSelectionStore {
	return &RedisSelectionStore{client: client, ttl: ttl}
}

func (s *RedisSelectionStore) Get(ctx context.Context, visitID string) (reconcile.SelectionSet, error) {
	data, err := s.client.Get(ctx, selectionKey(ctx, visitID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return reconcile.NewSelectionSet(), nil
	}
	if err != nil {
		return reconcile.SelectionSet{}, fmt.Errorf("redis get selection: %w", err)
	}
	var sel reconcile.SelectionSet
	if err := json.Unmarshal(data, &sel); err != nil {
		return reconcile.SelectionSet{}, fmt.Errorf("decode selection: %w", err)
	}
	return sel, nil
}

func (s *RedisSelectionStore) Save(ctx context.Context, visitID string, sel reconcile.SelectionSet) error {
	data, err := json.Marshal(sel)
	if err != nil {
		return fmt.Errorf("encode selection: %w", err)
	}
	if err := s.client.Set(ctx, selectionKey(ctx, visitID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set selection: %w", err)
	}
	return nil
}

func (s *RedisSelectionStore) Delete(ctx context.Context, visitID string) error {
	if err := s.client.Del(ctx, selectionKey(ctx, visitID)).Err(); err != nil {
		return fmt.Errorf("redis delete selection: %w", err)
	}
	return nil
}

// -- In-memory --

type memoryEntry struct {
	sel     reconcile.SelectionSet
	expires time.Time
}

// MemorySelectionStore is the single-process store used in development and
// tests. Entries expire after ttl like their Redis counterparts.
type MemorySelectionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemorySelectionStore(ttl time.Duration) *MemorySelectionStore {
	return &MemorySelectionStore{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemorySelectionStore) Get(ctx context.Context, visitID string) (reconcile.SelectionSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := selectionKey(ctx, visitID)
	e, ok := s.entries[key]
	if !ok {
		return reconcile.NewSelectionSet(), nil
	}
	if s.ttl > 0 && !s.now().Before(e.expires) {
		delete(s.entries, key)
		return reconcile.NewSelectionSet(), nil
	}
	return e.sel, nil
}

func (s *MemorySelectionStore) Save(ctx context.Context, visitID string, sel reconcile.SelectionSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[selectionKey(ctx, visitID)] = memoryEntry{sel: sel, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemorySelectionStore) Delete(ctx context.Context, visitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, selectionKey(ctx, visitID))
	return nil
}
