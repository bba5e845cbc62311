package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendly/internal/session"
)

type fakeBiometric struct {
	verified bool
	err      error
}

func (f fakeBiometric) Verify(context.Context, string, string) (bool, error) {
	return f.verified, f.err
}

type fakeTrigger struct {
	cohorts []session.CohortKey
}

func (f *fakeTrigger) TriggerRecompute(_ context.Context, s session.Session) {
	f.cohorts = append(f.cohorts, s.Cohort())
}

func testSession(t *testing.T, sessions session.Store) session.Session {
	t.Helper()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.Local)
	sess := session.Session{
		ID:        "sess1",
		ClassID:   "c1",
		CourseID:  "crs1",
		SubjectID: "sub1",
		TeacherID: "t1",
		Semester:  3,
		Year:      2026,
		Batch:     "A",
		Date:      date,
		StartTime: "10:00",
		EndTime:   "11:00",
		StartAt:   date.Add(10 * time.Hour),
		EndAt:     date.Add(11 * time.Hour),
		Window: session.Window{
			OpenTime:  date.Add(9*time.Hour + 45*time.Minute),
			CloseTime: date.Add(11*time.Hour + 15*time.Minute),
		},
		Status:           session.StatusInProgress,
		ExpectedStudents: []string{"stu1", "stu2"},
	}
	_, err := sessions.Insert(context.Background(), sess)
	require.NoError(t, err)
	return sess
}

func newTestMarker(t *testing.T, bio BiometricVerifier) (*Marker, session.Store, *fakeTrigger) {
	t.Helper()
	sessions := session.NewMemoryStore()
	trigger := &fakeTrigger{}
	m := NewMarker(sessions, NewMemoryStore(), bio, trigger, zerolog.Nop())
	m.now = func() time.Time { return time.Date(2026, 3, 10, 10, 30, 0, 0, time.Local) }
	return m, sessions, trigger
}

func TestMarkPreconditionOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("session must exist", func(t *testing.T) {
		m, _, _ := newTestMarker(t, nil)
		_, err := m.Mark(ctx, MarkRequest{SessionID: "nope", StudentID: "stu1"}, session.Actor{ID: "stu1", Role: "student"})
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("window must be open", func(t *testing.T) {
		m, sessions, _ := newTestMarker(t, nil)
		sess := testSession(t, sessions)

		m.now = func() time.Time { return time.Date(2026, 3, 10, 9, 44, 0, 0, time.Local) }
		_, err := m.Mark(ctx, MarkRequest{SessionID: sess.ID, StudentID: "not-enrolled"}, session.Actor{ID: "t1", Role: "teacher"})
		var notOpen *session.WindowNotOpenError
		assert.ErrorAs(t, err, &notOpen)

		m.now = func() time.Time { return time.Date(2026, 3, 10, 11, 16, 0, 0, time.Local) }
		_, err = m.Mark(ctx, MarkRequest{SessionID: sess.ID, StudentID: "not-enrolled"}, session.Actor{ID: "t1", Role: "teacher"})
		var closed *session.WindowClosedError
		assert.ErrorAs(t, err, &closed)
	})

	t.Run("student must be on the roster", func(t *testing.T) {
		m, sessions, _ := newTestMarker(t, nil)
		sess := testSession(t, sessions)
		_, err := m.Mark(ctx, MarkRequest{SessionID: sess.ID, StudentID: "intruder"}, session.Actor{ID: "intruder", Role: "student"})
		assert.ErrorIs(t, err, ErrNotEligible)
	})
}

func TestMarkDefaultsAndValidation(t *testing.T) {
	ctx := context.Background()
	m, sessions, trigger := newTestMarker(t, nil)
	sess := testSession(t, sessions)

	mark, err := m.Mark(ctx, MarkRequest{SessionID: sess.ID, StudentID: "stu1"}, session.Actor{ID: "stu1", Role: "student"})
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, mark.Status)
	assert.Equal(t, MethodManual, mark.Method)
	require.Len(t, trigger.cohorts, 1)
	assert.Equal(t, sess.Cohort(), trigger.cohorts[0])

	_, err = m.Mark(ctx, MarkRequest{SessionID: sess.ID, StudentID: "stu1", Status: "vanished"}, session.Actor{ID: "stu1", Role: "student"})
	assert.ErrorIs(t, err, ErrBadStatus)
}

func TestMarkMethodArbitration(t *testing.T) {
	ctx := context.Background()
	actor := session.Actor{ID: "stu1", Role: "student"}

	t.Run("qr token matching the session", func(t *testing.T) {
		m, sessions, _ := newTestMarker(t, nil)
		sess := testSession(t, sessions)
		_, err := sessions.SetQRCode(ctx, sess.ID, session.QRCode{
			Value:      "rotating-code",
			ExpiryTime: time.Date(2026, 3, 10, 10, 30, 4, 0, time.Local),
		}, "t1")
		require.NoError(t, err)

		mark, err := m.Mark(ctx, MarkRequest{SessionID: sess.ID, StudentID: "stu1", QRToken: "rotating-code"}, actor)
		require.NoError(t, err)
		assert.True(t, mark.QRVerified)
		assert.Equal(t, MethodQR, mark.Method)
	})

	t.Run("expired qr token degrades to manual", func(t *testing.T) {
		m, sessions, _ := newTestMarker(t, nil)
		sess := testSession(t, sessions)
		_, err := sessions.SetQRCode(ctx, sess.ID, session.QRCode{
			Value:      "rotating-code",
			ExpiryTime: time.Date(2026, 3, 10, 10, 29, 0, 0, time.Local),
		}, "t1")
		require.NoError(t, err)

		mark, err := m.Mark(ctx, MarkRequest{SessionID: sess.ID, StudentID: "stu1", QRToken: "rotating-code"}, actor)
		require.NoError(t, err)
		assert.False(t, mark.QRVerified)
		assert.Equal(t, MethodManual, mark.Method)
	})

	t.Run("biometric outranks qr", func(t *testing.T) {
		m, sessions, _ := newTestMarker(t, fakeBiometric{verified: true})
		sess := testSession(t, sessions)

		mark, err := m.Mark(ctx, MarkRequest{
			SessionID:      sess.ID,
			StudentID:      "stu1",
			QRVerified:     true,
			BiometricToken: "bio-token",
		}, actor)
		require.NoError(t, err)
		assert.True(t, mark.QRVerified)
		assert.True(t, mark.BiometricVerified)
		assert.Equal(t, MethodBiometric, mark.Method)
	})

	t.Run("biometric outage degrades", func(t *testing.T) {
		m, sessions, _ := newTestMarker(t, fakeBiometric{err: errors.New("service down")})
		sess := testSession(t, sessions)

		mark, err := m.Mark(ctx, MarkRequest{
			SessionID:      sess.ID,
			StudentID:      "stu1",
			QRVerified:     true,
			BiometricToken: "bio-token",
		}, actor)
		require.NoError(t, err)
		assert.False(t, mark.BiometricVerified)
		assert.Equal(t, MethodQR, mark.Method)
	})
}

func TestMarkUpsert(t *testing.T) {
	ctx := context.Background()
	m, sessions, _ := newTestMarker(t, nil)
	sess := testSession(t, sessions)
	actor := session.Actor{ID: "stu1", Role: "student"}

	first, err := m.Mark(ctx, MarkRequest{SessionID: sess.ID, StudentID: "stu1", Status: StatusLate}, actor)
	require.NoError(t, err)
	second, err := m.Mark(ctx, MarkRequest{SessionID: sess.ID, StudentID: "stu1", Status: StatusPresent}, actor)
	require.NoError(t, err)

	// exactly one record per (session, student), latest status wins
	assert.Equal(t, first.ID, second.ID)
	marks, err := m.BySession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, marks, 1)
	assert.Equal(t, StatusPresent, marks[0].Status)
}

func TestCorrect(t *testing.T) {
	ctx := context.Background()
	m, sessions, trigger := newTestMarker(t, nil)
	sess := testSession(t, sessions)

	mark, err := m.Mark(ctx, MarkRequest{SessionID: sess.ID, StudentID: "stu1", QRVerified: true}, session.Actor{ID: "stu1", Role: "student"})
	require.NoError(t, err)

	t.Run("students may not correct", func(t *testing.T) {
		_, err := m.Correct(ctx, mark.ID, StatusExcused, "", session.Actor{ID: "stu1", Role: "student"})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("non-owning teacher may not correct", func(t *testing.T) {
		_, err := m.Correct(ctx, mark.ID, StatusExcused, "", session.Actor{ID: "t2", Role: "teacher"})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("owning teacher corrects", func(t *testing.T) {
		before := len(trigger.cohorts)
		corrected, err := m.Correct(ctx, mark.ID, StatusExcused, "medical certificate", session.Actor{ID: "t1", Role: "teacher"})
		require.NoError(t, err)
		assert.Equal(t, StatusExcused, corrected.Status)
		assert.Equal(t, "medical certificate", corrected.Remarks)
		assert.Equal(t, MethodManual, corrected.Method)
		assert.Equal(t, "t1", corrected.MarkedBy)
		assert.Len(t, trigger.cohorts, before+1)
	})
}

func TestBulkMark(t *testing.T) {
	ctx := context.Background()
	m, sessions, trigger := newTestMarker(t, nil)
	sess := testSession(t, sessions)

	res, err := m.BulkMark(ctx, sess.ID, []BulkEntry{
		{StudentID: "stu1", Status: StatusPresent},
		{StudentID: "stu2", Status: StatusAbsent},
		{StudentID: "ghost", Status: StatusPresent},
		{StudentID: "stu2", Status: "nonsense"},
	}, session.Actor{ID: "t1", Role: "teacher"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "ghost", res.Errors[0].StudentID)
	// one recompute for the whole batch
	assert.Len(t, trigger.cohorts, 1)

	marks, err := m.BySession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, marks, 2)
}

func TestBulkMarkForbidden(t *testing.T) {
	ctx := context.Background()
	m, sessions, _ := newTestMarker(t, nil)
	sess := testSession(t, sessions)

	_, err := m.BulkMark(ctx, sess.ID, []BulkEntry{{StudentID: "stu1"}}, session.Actor{ID: "t2", Role: "teacher"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestHasMarks(t *testing.T) {
	ctx := context.Background()
	m, sessions, _ := newTestMarker(t, nil)
	sess := testSession(t, sessions)

	has, err := m.HasMarks(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = m.Mark(ctx, MarkRequest{SessionID: sess.ID, StudentID: "stu1"}, session.Actor{ID: "stu1", Role: "student"})
	require.NoError(t, err)

	has, err = m.HasMarks(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, has)
}
