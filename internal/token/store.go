package token

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Filter narrows List results.
type Filter struct {
	Type       Type
	CreatedFor string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// Store is the durable token record. Consume must be atomic per token:
// under concurrent validation attempts the usage ceiling holds exactly.
type Store interface {
	Insert(ctx context.Context, t Token) (Token, error)
	GetByValue(ctx context.Context, value string) (Token, error)
	GetByID(ctx context.Context, id string) (Token, error)
	// Consume performs the usage increment and possible deactivation as a
	// single conditional read-modify-write. It returns ErrNotConsumable
	// when the validity predicate does not hold at now, and ErrNotFound
	// when no token has the value.
	Consume(ctx context.Context, value string, now time.Time) (Token, error)
	Deactivate(ctx context.Context, id string) (Token, error)
	List(ctx context.Context, f Filter) ([]Token, int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// MemoryStore keeps tokens in process memory behind a mutex. It backs
// tests and the dev queue-less mode; production uses Postgres.
type MemoryStore struct {
	mu    sync.Mutex
	byVal map[string]*Token
	byID  map[string]*Token
}

// NewMemoryStore creates an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byVal: make(map[string]*Token),
		byID:  make(map[string]*Token),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, t Token) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byVal[t.Value]; exists {
		return Token{}, ErrConflict
	}
	cp := t
	s.byVal[t.Value] = &cp
	s.byID[t.ID] = &cp
	return t, nil
}

func (s *MemoryStore) GetByValue(ctx context.Context, value string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byVal[value]
	if !ok {
		return Token{}, ErrNotFound
	}
	return *t, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return Token{}, ErrNotFound
	}
	return *t, nil
}

func (s *MemoryStore) Consume(ctx context.Context, value string, now time.Time) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byVal[value]
	if !ok {
		return Token{}, ErrNotFound
	}
	if !t.Usable(now) {
		return Token{}, ErrNotConsumable
	}
	t.UsageCount++
	used := now
	t.LastUsedAt = &used
	if t.MaxUsage > 0 && t.UsageCount >= t.MaxUsage {
		t.IsActive = false
	}
	return *t, nil
}

func (s *MemoryStore) Deactivate(ctx context.Context, id string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return Token{}, ErrNotFound
	}
	t.IsActive = false
	return *t, nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]Token, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []Token
	for _, t := range s.byVal {
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.CreatedFor != "" && t.CreatedFor != f.CreatedFor {
			continue
		}
		if f.ActiveOnly && !t.IsActive {
			continue
		}
		all = append(all, *t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if f.Offset > 0 {
		if f.Offset >= len(all) {
			all = nil
		} else {
			all = all[f.Offset:]
		}
	}
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for val, t := range s.byVal {
		if t.ExpiresAt.Before(now) {
			delete(s.byVal, val)
			delete(s.byID, t.ID)
			n++
		}
	}
	return n, nil
}
