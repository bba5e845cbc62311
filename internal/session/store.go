package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Filter narrows session listings.
type Filter struct {
	ClassID      string
	CourseID     string
	SubjectID    string
	TeacherID    string
	CollegeID    string
	DepartmentID string
	StudentID    string // matches expected_students membership
	Status       Status
	Date         *time.Time
	StartDate    *time.Time
	EndDate      *time.Time
	Limit        int
	Offset       int
}

// SweepResult counts the transitions a sweep applied. Completed sessions
// are carried so the caller can refresh their cohort aggregates.
type SweepResult struct {
	Started           int64
	Completed         int64
	CompletedSessions []Session
}

// Store is the durable session record.
type Store interface {
	Insert(ctx context.Context, s Session) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	Update(ctx context.Context, s Session) (Session, error)
	// SetStatus applies a conditional status update keyed on the expected
	// prior status, so a sweep that started before an explicit action
	// cannot silently overwrite it.
	SetStatus(ctx context.Context, id string, from, to Status, updatedBy string) (Session, error)
	SetQRCode(ctx context.Context, id string, qr QRCode, updatedBy string) (Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f Filter) ([]Session, int, error)
	// ListCohort returns the non-cancelled sessions sharing the key.
	ListCohort(ctx context.Context, key CohortKey) ([]Session, error)
	// AdvanceStatuses moves scheduled/in-progress sessions forward as
	// wall-clock time passes, using conditional updates per row.
	AdvanceStatuses(ctx context.Context, now time.Time) (SweepResult, error)
}

// ErrStatusConflict is returned by SetStatus when the prior status no
// longer matches.
type errStatusConflict struct{}

func (errStatusConflict) Error() string { return "session status changed concurrently" }

// ErrStatusConflict is the conditional-update failure from SetStatus.
var ErrStatusConflict = errStatusConflict{}

// MemoryStore keeps sessions in memory for tests and dev mode.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Insert(ctx context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := s
	m.sessions[s.ID] = &cp
	return s, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *s, nil
}

func (m *MemoryStore) Update(ctx context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return Session{}, ErrNotFound
	}
	s.UpdatedAt = time.Now()
	cp := s
	m.sessions[s.ID] = &cp
	return s, nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, id string, from, to Status, updatedBy string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.Status != from {
		return Session{}, ErrStatusConflict
	}
	s.Status = to
	s.UpdatedBy = updatedBy
	s.UpdatedAt = time.Now()
	return *s, nil
}

func (m *MemoryStore) SetQRCode(ctx context.Context, id string, qr QRCode, updatedBy string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	s.QRCode = &qr
	s.UpdatedBy = updatedBy
	s.UpdatedAt = time.Now()
	return *s, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, f Filter) ([]Session, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Session
	for _, s := range m.sessions {
		if !matches(*s, f) {
			continue
		}
		all = append(all, *s)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Date.Equal(all[j].Date) {
			return all[i].Date.After(all[j].Date)
		}
		return all[i].StartTime < all[j].StartTime
	})
	total := len(all)
	if f.Limit < 0 {
		return all, total, nil
	}
	if f.Offset > 0 {
		if f.Offset >= len(all) {
			all = nil
		} else {
			all = all[f.Offset:]
		}
	}
	limit := f.Limit
	if limit == 0 {
		limit = 50
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func matches(s Session, f Filter) bool {
	if f.ClassID != "" && s.ClassID != f.ClassID {
		return false
	}
	if f.CourseID != "" && s.CourseID != f.CourseID {
		return false
	}
	if f.SubjectID != "" && s.SubjectID != f.SubjectID {
		return false
	}
	if f.TeacherID != "" && s.TeacherID != f.TeacherID {
		return false
	}
	if f.CollegeID != "" && s.CollegeID != f.CollegeID {
		return false
	}
	if f.DepartmentID != "" && s.DepartmentID != f.DepartmentID {
		return false
	}
	if f.StudentID != "" && !s.Expects(f.StudentID) {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.Date != nil {
		y1, mo1, d1 := s.Date.Date()
		y2, mo2, d2 := f.Date.Date()
		if y1 != y2 || mo1 != mo2 || d1 != d2 {
			return false
		}
	}
	if f.StartDate != nil && s.Date.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && s.Date.After(*f.EndDate) {
		return false
	}
	return true
}

func (m *MemoryStore) ListCohort(ctx context.Context, key CohortKey) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Session
	for _, s := range m.sessions {
		if s.Status != StatusCancelled && s.Cohort() == key {
			res = append(res, *s)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Date.Before(res[j].Date) })
	return res, nil
}

func (m *MemoryStore) AdvanceStatuses(ctx context.Context, now time.Time) (SweepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res SweepResult
	for _, s := range m.sessions {
		switch s.Status {
		case StatusScheduled:
			if !now.Before(s.StartAt) && now.Before(s.EndAt) {
				s.Status = StatusInProgress
				res.Started++
			} else if !now.Before(s.EndAt) {
				s.Status = StatusCompleted
				res.Completed++
				res.CompletedSessions = append(res.CompletedSessions, *s)
			}
		case StatusInProgress:
			if !now.Before(s.EndAt) {
				s.Status = StatusCompleted
				res.Completed++
				res.CompletedSessions = append(res.CompletedSessions, *s)
			}
		}
	}
	return res, nil
}
