package record

import (
	"context"
	"sort"
	"sync"

	"attendly/internal/session"
)

// Filter narrows record listings.
type Filter struct {
	ClassID   string
	CourseID  string
	SubjectID string
	TeacherID string
	StudentID string // matches a contained student record
	Semester  int
	Year      int
	Batch     string
	Limit     int
	Offset    int
}

// Store is the durable record table, keyed by cohort.
type Store interface {
	GetByKey(ctx context.Context, key session.CohortKey) (Record, error)
	GetByID(ctx context.Context, id string) (Record, error)
	// Save upserts by cohort key, replacing the student records wholesale.
	Save(ctx context.Context, r Record) (Record, error)
	List(ctx context.Context, f Filter) ([]Record, int, error)
}

// MemoryStore keeps records in memory for tests and dev mode.
type MemoryStore struct {
	mu      sync.Mutex
	records map[session.CohortKey]*Record
	byID    map[string]*Record
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[session.CohortKey]*Record),
		byID:    make(map[string]*Record),
	}
}

func (s *MemoryStore) GetByKey(ctx context.Context, key session.CohortKey) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *r, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *r, nil
}

func (s *MemoryStore) Save(ctx context.Context, r Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[r.Key]; ok {
		r.ID = existing.ID
		r.CreatedAt = existing.CreatedAt
	}
	cp := r
	s.records[r.Key] = &cp
	s.byID[r.ID] = &cp
	return r, nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]Record, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []Record
	for _, r := range s.records {
		if f.ClassID != "" && r.Key.ClassID != f.ClassID {
			continue
		}
		if f.CourseID != "" && r.Key.CourseID != f.CourseID {
			continue
		}
		if f.SubjectID != "" && r.Key.SubjectID != f.SubjectID {
			continue
		}
		if f.TeacherID != "" && r.TeacherID != f.TeacherID {
			continue
		}
		if f.Semester != 0 && r.Key.Semester != f.Semester {
			continue
		}
		if f.Year != 0 && r.Key.Year != f.Year {
			continue
		}
		if f.Batch != "" && r.Key.Batch != f.Batch {
			continue
		}
		if f.StudentID != "" && !containsStudent(*r, f.StudentID) {
			continue
		}
		all = append(all, *r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastUpdated.After(all[j].LastUpdated) })
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

func containsStudent(r Record, studentID string) bool {
	for _, sr := range r.StudentRecords {
		if sr.StudentID == studentID {
			return true
		}
	}
	return false
}
