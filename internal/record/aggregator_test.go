package record

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendly/internal/attendance"
	"attendly/internal/session"
)

var cohort = session.CohortKey{
	ClassID:   "c1",
	CourseID:  "crs1",
	SubjectID: "sub1",
	Semester:  3,
	Year:      2026,
	Batch:     "A",
}

type fixture struct {
	agg      *Aggregator
	sessions *session.MemoryStore
	marks    *attendance.MemoryStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	sessions := session.NewMemoryStore()
	marks := attendance.NewMemoryStore()
	agg := NewAggregator(NewMemoryStore(), sessions, marks, zerolog.Nop())
	return fixture{agg: agg, sessions: sessions, marks: marks}
}

func (f fixture) addSession(t *testing.T, id string, day int, status session.Status, students ...string) {
	t.Helper()
	date := time.Date(2026, 3, day, 0, 0, 0, 0, time.Local)
	_, err := f.sessions.Insert(context.Background(), session.Session{
		ID:               id,
		ClassID:          cohort.ClassID,
		CourseID:         cohort.CourseID,
		SubjectID:        cohort.SubjectID,
		Semester:         cohort.Semester,
		Year:             cohort.Year,
		Batch:            cohort.Batch,
		TeacherID:        "t1",
		Date:             date,
		Status:           status,
		ExpectedStudents: students,
	})
	require.NoError(t, err)
}

func (f fixture) mark(t *testing.T, sessionID, studentID string, status attendance.Status) {
	t.Helper()
	_, err := f.marks.Upsert(context.Background(), attendance.Mark{
		ID:        sessionID + "-" + studentID,
		SessionID: sessionID,
		StudentID: studentID,
		Status:    status,
		MarkedAt:  time.Now(),
	})
	require.NoError(t, err)
}

func TestRecomputeFiftyPercent(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "s1", 10, session.StatusCompleted, "stu1")
	f.addSession(t, "s2", 11, session.StatusCompleted, "stu1")
	f.mark(t, "s1", "stu1", attendance.StatusPresent)
	f.mark(t, "s2", "stu1", attendance.StatusAbsent)

	rec, err := f.agg.Recompute(context.Background(), cohort)
	require.NoError(t, err)

	assert.Equal(t, 2, rec.TotalSessions)
	require.Len(t, rec.StudentRecords, 1)
	sr := rec.StudentRecords[0]
	assert.Equal(t, "stu1", sr.StudentID)
	assert.Equal(t, 1, sr.Attended)
	assert.Equal(t, 1, sr.Absent)
	assert.InDelta(t, 50.0, sr.AttendancePercentage, 0.001)
}

func TestRecomputeLeniency(t *testing.T) {
	// late and excused marks count toward attended
	f := newFixture(t)
	f.addSession(t, "s1", 10, session.StatusCompleted, "stu1")
	f.addSession(t, "s2", 11, session.StatusCompleted, "stu1")
	f.addSession(t, "s3", 12, session.StatusCompleted, "stu1")
	f.addSession(t, "s4", 13, session.StatusCompleted, "stu1")
	f.mark(t, "s1", "stu1", attendance.StatusPresent)
	f.mark(t, "s2", "stu1", attendance.StatusLate)
	f.mark(t, "s3", "stu1", attendance.StatusExcused)
	f.mark(t, "s4", "stu1", attendance.StatusAbsent)

	rec, err := f.agg.Recompute(context.Background(), cohort)
	require.NoError(t, err)

	require.Len(t, rec.StudentRecords, 1)
	sr := rec.StudentRecords[0]
	assert.Equal(t, 3, sr.Attended)
	assert.Equal(t, 1, sr.Absent)
	assert.Equal(t, 1, sr.Late)
	assert.Equal(t, 1, sr.Excused)
	assert.InDelta(t, 75.0, sr.AttendancePercentage, 0.001)
}

func TestRecomputeIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "s1", 10, session.StatusCompleted, "stu1", "stu2")
	f.addSession(t, "s2", 11, session.StatusCompleted, "stu2", "stu3")
	f.mark(t, "s1", "stu1", attendance.StatusPresent)
	f.mark(t, "s2", "stu2", attendance.StatusLate)

	first, err := f.agg.Recompute(context.Background(), cohort)
	require.NoError(t, err)
	second, err := f.agg.Recompute(context.Background(), cohort)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.TotalSessions, second.TotalSessions)
	assert.Equal(t, first.StudentRecords, second.StudentRecords)
	// roster is the union across sessions, sorted
	ids := make([]string, 0, len(second.StudentRecords))
	for _, sr := range second.StudentRecords {
		ids = append(ids, sr.StudentID)
	}
	assert.Equal(t, []string{"stu1", "stu2", "stu3"}, ids)
}

func TestRecomputeExcludesCancelled(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "s1", 10, session.StatusCompleted, "stu1")
	f.addSession(t, "s2", 11, session.StatusCancelled, "stu1")
	f.mark(t, "s1", "stu1", attendance.StatusPresent)
	// mark recorded before the cancellation stays in the store
	f.mark(t, "s2", "stu1", attendance.StatusPresent)

	rec, err := f.agg.Recompute(context.Background(), cohort)
	require.NoError(t, err)

	assert.Equal(t, 1, rec.TotalSessions)
	require.Len(t, rec.StudentRecords, 1)
	assert.Equal(t, 1, rec.StudentRecords[0].Attended)
	assert.InDelta(t, 100.0, rec.StudentRecords[0].AttendancePercentage, 0.001)

	// the cancelled session's marks remain queryable
	marks, err := f.marks.ListBySession(context.Background(), "s2")
	require.NoError(t, err)
	assert.Len(t, marks, 1)
}

func TestRecomputeDateRange(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "s2", 14, session.StatusCompleted, "stu1")
	f.addSession(t, "s1", 10, session.StatusCompleted, "stu1")
	f.addSession(t, "s3", 12, session.StatusCompleted, "stu1")

	rec, err := f.agg.Recompute(context.Background(), cohort)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.Local), rec.StartDate)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.Local), rec.EndDate)
}

func TestRegenerate(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "s1", 10, session.StatusCompleted, "stu1")

	rec, err := f.agg.Recompute(context.Background(), cohort)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TotalSessions)

	f.addSession(t, "s2", 11, session.StatusCompleted, "stu1")
	regen, err := f.agg.Regenerate(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, regen.ID)
	assert.Equal(t, 2, regen.TotalSessions)
}

func TestStudentSummary(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "s1", 10, session.StatusCompleted, "stu1")
	f.addSession(t, "s2", 11, session.StatusCompleted, "stu1")
	f.mark(t, "s1", "stu1", attendance.StatusPresent)
	f.mark(t, "s2", "stu1", attendance.StatusPresent)

	_, err := f.agg.Recompute(context.Background(), cohort)
	require.NoError(t, err)

	summary, err := f.agg.StudentSummary(context.Background(), "stu1", Filter{})
	require.NoError(t, err)
	require.Len(t, summary.Records, 1)
	assert.Equal(t, 2, summary.Totals.TotalSessions)
	assert.Equal(t, 2, summary.Totals.TotalAttended)
	assert.InDelta(t, 100.0, summary.Totals.OverallPercentage, 0.001)
}

func TestClassStatistics(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "s1", 10, session.StatusCompleted, "a", "b", "c", "d")
	f.addSession(t, "s2", 11, session.StatusCompleted, "a", "b", "c", "d")
	// a: 100%, b: 50%, c: 0%, d: unmarked (0%)
	f.mark(t, "s1", "a", attendance.StatusPresent)
	f.mark(t, "s2", "a", attendance.StatusPresent)
	f.mark(t, "s1", "b", attendance.StatusPresent)
	f.mark(t, "s2", "b", attendance.StatusAbsent)
	f.mark(t, "s1", "c", attendance.StatusAbsent)
	f.mark(t, "s2", "c", attendance.StatusAbsent)

	_, err := f.agg.Recompute(context.Background(), cohort)
	require.NoError(t, err)

	stats, err := f.agg.ClassStatistics(context.Background(), cohort.ClassID)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalStudents)
	assert.Equal(t, 1, stats.Excellent)
	assert.Equal(t, 1, stats.Perfect)
	assert.Equal(t, 3, stats.Poor)
	assert.Equal(t, 2, stats.Critical)
	assert.InDelta(t, 37.5, stats.AveragePercentage, 0.001)
}
