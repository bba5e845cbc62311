package record

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"attendly/internal/attendance"
	"attendly/internal/metrics"
	"attendly/internal/session"
)

// Aggregator recomputes cohort records from source data. Recompute is
// idempotent: with unchanged sessions and marks it produces an identical
// record, so concurrent runs for the same cohort may serialize in any
// order.
type Aggregator struct {
	records  Store
	sessions session.Store
	marks    attendance.Store
	log      zerolog.Logger
	now      func() time.Time
}

// NewAggregator wires the record aggregator.
func NewAggregator(records Store, sessions session.Store, marks attendance.Store, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		records:  records,
		sessions: sessions,
		marks:    marks,
		log:      log.With().Str("component", "record").Logger(),
		now:      time.Now,
	}
}

// Recompute rebuilds the record for a cohort key from every non-cancelled
// session sharing the key and all of their marks. The student breakdown
// is replaced wholesale.
func (a *Aggregator) Recompute(ctx context.Context, key session.CohortKey) (Record, error) {
	rec, err := a.records.GetByKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		rec = Record{ID: uuid.NewString(), Key: key}
	} else if err != nil {
		return Record{}, err
	}

	sessions, err := a.sessions.ListCohort(ctx, key)
	if err != nil {
		return Record{}, err
	}

	rec.TotalSessions = len(sessions)
	sessionIDs := make([]string, 0, len(sessions))
	roster := make(map[string]bool)
	for i, s := range sessions {
		sessionIDs = append(sessionIDs, s.ID)
		for _, studentID := range s.ExpectedStudents {
			roster[studentID] = true
		}
		if i == 0 || s.Date.Before(rec.StartDate) {
			rec.StartDate = s.Date
		}
		if i == 0 || s.Date.After(rec.EndDate) {
			rec.EndDate = s.Date
		}
		// Cohort metadata rides along from the sessions.
		rec.CollegeID = s.CollegeID
		rec.DepartmentID = s.DepartmentID
		rec.TeacherID = s.TeacherID
	}

	marks, err := a.marks.ListForSessions(ctx, sessionIDs, "")
	if err != nil {
		return Record{}, err
	}
	type counts struct{ present, absent, late, excused int }
	byStudent := make(map[string]*counts)
	for _, m := range marks {
		c := byStudent[m.StudentID]
		if c == nil {
			c = &counts{}
			byStudent[m.StudentID] = c
		}
		switch m.Status {
		case attendance.StatusPresent:
			c.present++
		case attendance.StatusAbsent:
			c.absent++
		case attendance.StatusLate:
			c.late++
		case attendance.StatusExcused:
			c.excused++
		}
	}

	students := make([]string, 0, len(roster))
	for studentID := range roster {
		students = append(students, studentID)
	}
	sort.Strings(students)

	rec.StudentRecords = make([]StudentRecord, 0, len(students))
	for _, studentID := range students {
		sr := StudentRecord{StudentID: studentID, TotalSessions: len(sessions)}
		if c := byStudent[studentID]; c != nil {
			sr.Attended = c.present + c.late + c.excused
			sr.Absent = c.absent
			sr.Late = c.late
			sr.Excused = c.excused
			if marked := sr.Attended + sr.Absent; marked > 0 {
				sr.AttendancePercentage = float64(sr.Attended) / float64(marked) * 100
			}
		}
		rec.StudentRecords = append(rec.StudentRecords, sr)
	}
	rec.LastUpdated = a.now()

	saved, err := a.records.Save(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	metrics.RecordRecomputes.Inc()
	a.log.Debug().
		Str("class_id", key.ClassID).
		Str("subject_id", key.SubjectID).
		Int("sessions", rec.TotalSessions).
		Int("students", len(rec.StudentRecords)).
		Msg("record recomputed")
	return saved, nil
}

// Regenerate re-runs the recomputation for an existing record, for data
// repair.
func (a *Aggregator) Regenerate(ctx context.Context, recordID string) (Record, error) {
	rec, err := a.records.GetByID(ctx, recordID)
	if err != nil {
		return Record{}, err
	}
	return a.Recompute(ctx, rec.Key)
}

// Get returns a record by id.
func (a *Aggregator) Get(ctx context.Context, id string) (Record, error) {
	return a.records.GetByID(ctx, id)
}

// GetByKey returns the record for a cohort key.
func (a *Aggregator) GetByKey(ctx context.Context, key session.CohortKey) (Record, error) {
	return a.records.GetByKey(ctx, key)
}

// List returns records matching the filter plus the unpaginated total.
func (a *Aggregator) List(ctx context.Context, f Filter) ([]Record, int, error) {
	return a.records.List(ctx, f)
}

// StudentSummary rolls up one student's standing across matching records.
func (a *Aggregator) StudentSummary(ctx context.Context, studentID string, f Filter) (StudentSummary, error) {
	f.StudentID = studentID
	records, _, err := a.records.List(ctx, f)
	if err != nil {
		return StudentSummary{}, err
	}

	summary := StudentSummary{StudentID: studentID}
	for _, rec := range records {
		for _, sr := range rec.StudentRecords {
			if sr.StudentID != studentID {
				continue
			}
			summary.Records = append(summary.Records, StudentRecordInList{
				RecordID:             rec.ID,
				Key:                  rec.Key,
				StartDate:            rec.StartDate,
				EndDate:              rec.EndDate,
				TotalSessions:        rec.TotalSessions,
				Attended:             sr.Attended,
				Absent:               sr.Absent,
				Late:                 sr.Late,
				Excused:              sr.Excused,
				AttendancePercentage: sr.AttendancePercentage,
			})
			summary.Totals.TotalSessions += rec.TotalSessions
			summary.Totals.TotalAttended += sr.Attended
			summary.Totals.TotalAbsent += sr.Absent
			summary.Totals.TotalLate += sr.Late
			summary.Totals.TotalExcused += sr.Excused
		}
	}
	if summary.Totals.TotalSessions > 0 {
		summary.Totals.OverallPercentage =
			float64(summary.Totals.TotalAttended) / float64(summary.Totals.TotalSessions) * 100
	}
	return summary, nil
}

// ClassStatistics summarizes attendance bands for a class's record.
func (a *Aggregator) ClassStatistics(ctx context.Context, classID string) (Statistics, error) {
	records, _, err := a.records.List(ctx, Filter{ClassID: classID, Limit: 1})
	if err != nil {
		return Statistics{}, err
	}
	if len(records) == 0 {
		return Statistics{}, ErrNotFound
	}
	rec := records[0]

	stats := Statistics{
		ClassID:       classID,
		CourseID:      rec.Key.CourseID,
		SubjectID:     rec.Key.SubjectID,
		TotalSessions: rec.TotalSessions,
		TotalStudents: len(rec.StudentRecords),
	}
	var sum float64
	for _, sr := range rec.StudentRecords {
		p := sr.AttendancePercentage
		sum += p
		switch {
		case p >= 90:
			stats.Excellent++
		case p >= 75:
			stats.Good++
		}
		if p < 60 {
			stats.Poor++
		}
		if p == 100 {
			stats.Perfect++
		}
		if p < 50 {
			stats.Critical++
		}
	}
	if stats.TotalStudents > 0 {
		stats.AveragePercentage = sum / float64(stats.TotalStudents)
	}
	return stats, nil
}
