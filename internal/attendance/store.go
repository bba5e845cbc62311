package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the durable attendance record. Upsert enforces the one-mark-
// per-(session, student) invariant.
type Store interface {
	Upsert(ctx context.Context, m Mark) (Mark, error)
	Get(ctx context.Context, id string) (Mark, error)
	ListBySession(ctx context.Context, sessionID string) ([]Mark, error)
	// ListForSessions returns marks across the given sessions, optionally
	// narrowed to one student.
	ListForSessions(ctx context.Context, sessionIDs []string, studentID string) ([]Mark, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)
}

// MemoryStore keeps marks in memory for tests and dev mode.
type MemoryStore struct {
	mu    sync.Mutex
	marks map[string]*Mark // keyed by sessionID+"/"+studentID
	byID  map[string]*Mark
}

// NewMemoryStore creates an empty in-memory attendance store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		marks: make(map[string]*Mark),
		byID:  make(map[string]*Mark),
	}
}

func pairKey(sessionID, studentID string) string { return sessionID + "/" + studentID }

func (s *MemoryStore) Upsert(ctx context.Context, m Mark) (Mark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(m.SessionID, m.StudentID)
	if existing, ok := s.marks[key]; ok {
		m.ID = existing.ID
		m.CreatedAt = existing.CreatedAt
	} else if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.UpdatedAt = time.Now()
	cp := m
	s.marks[key] = &cp
	s.byID[m.ID] = &cp
	return m, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Mark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return Mark{}, ErrNotFound
	}
	return *m, nil
}

func (s *MemoryStore) ListBySession(ctx context.Context, sessionID string) ([]Mark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []Mark
	for _, m := range s.marks {
		if m.SessionID == sessionID {
			res = append(res, *m)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StudentID < res[j].StudentID })
	return res, nil
}

func (s *MemoryStore) ListForSessions(ctx context.Context, sessionIDs []string, studentID string) ([]Mark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		wanted[id] = true
	}
	var res []Mark
	for _, m := range s.marks {
		if !wanted[m.SessionID] {
			continue
		}
		if studentID != "" && m.StudentID != studentID {
			continue
		}
		res = append(res, *m)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].SessionID != res[j].SessionID {
			return res[i].SessionID < res[j].SessionID
		}
		return res[i].StudentID < res[j].StudentID
	})
	return res, nil
}

func (s *MemoryStore) CountBySession(ctx context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.marks {
		if m.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}
