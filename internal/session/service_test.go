package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIssuer struct {
	value string
	err   error
	calls int
}

func (f *fakeIssuer) IssueAttendance(_ context.Context, _ Session, _ string) (string, time.Time, error) {
	f.calls++
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	return f.value, time.Now().Add(4 * time.Second), nil
}

type fakeTrigger struct {
	cohorts []CohortKey
}

func (f *fakeTrigger) TriggerRecompute(_ context.Context, s Session) {
	f.cohorts = append(f.cohorts, s.Cohort())
}

type fakeChecker struct {
	has bool
}

func (f fakeChecker) HasMarks(context.Context, string) (bool, error) { return f.has, nil }

func newTestSessionService(t *testing.T, checker AttendanceChecker) (*Service, *MemoryStore, *fakeTrigger) {
	t.Helper()
	store := NewMemoryStore()
	trigger := &fakeTrigger{}
	svc := NewService(store, &fakeIssuer{value: "qr-value"}, trigger, checker, DefaultWindowMargin, zerolog.Nop())
	// Pin the clock to the day before createReq's date so sessions are
	// born scheduled regardless of when the suite runs. Tests that need
	// a different instant override svc.now themselves.
	svc.now = func() time.Time { return time.Date(2026, 3, 9, 12, 0, 0, 0, time.Local) }
	return svc, store, trigger
}

func createReq() CreateRequest {
	return CreateRequest{
		ClassID:          "c1",
		CourseID:         "crs1",
		SubjectID:        "sub1",
		TeacherID:        "t1",
		Semester:         3,
		Year:             2026,
		Batch:            "A",
		Date:             "2026-03-10",
		StartTime:        "10:00",
		EndTime:          "11:00",
		ExpectedStudents: []string{"stu1", "stu2"},
	}
}

func teacher() Actor { return Actor{ID: "t1", Role: "teacher"} }

func TestCreateInitialStatus(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want Status
	}{
		{"before start", time.Date(2026, 3, 10, 9, 0, 0, 0, time.Local), StatusScheduled},
		{"during", time.Date(2026, 3, 10, 10, 30, 0, 0, time.Local), StatusInProgress},
		{"after end", time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local), StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestSessionService(t, fakeChecker{})
			svc.now = func() time.Time { return tt.now }

			sess, err := svc.Create(context.Background(), createReq(), teacher())
			require.NoError(t, err)
			assert.Equal(t, tt.want, sess.Status)
			assert.Equal(t, time.Date(2026, 3, 10, 9, 45, 0, 0, time.Local), sess.Window.OpenTime)
			assert.Equal(t, time.Date(2026, 3, 10, 11, 15, 0, 0, time.Local), sess.Window.CloseTime)
		})
	}
}

func TestCreateRejectsBadDate(t *testing.T) {
	svc, _, _ := newTestSessionService(t, fakeChecker{})
	req := createReq()
	req.Date = "10-03-2026"
	_, err := svc.Create(context.Background(), req, teacher())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateRecomputesWindow(t *testing.T) {
	svc, _, _ := newTestSessionService(t, fakeChecker{})
	svc.now = func() time.Time { return time.Date(2026, 3, 9, 12, 0, 0, 0, time.Local) }
	ctx := context.Background()

	sess, err := svc.Create(ctx, createReq(), teacher())
	require.NoError(t, err)

	newStart := "14:00"
	newEnd := "15:30"
	updated, err := svc.Update(ctx, sess.ID, UpdateRequest{StartTime: &newStart, EndTime: &newEnd}, teacher())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 10, 13, 45, 0, 0, time.Local), updated.Window.OpenTime)
	assert.Equal(t, time.Date(2026, 3, 10, 15, 45, 0, 0, time.Local), updated.Window.CloseTime)
	assert.Equal(t, StatusScheduled, updated.Status)
}

func TestUpdateForbiddenForOtherTeacher(t *testing.T) {
	svc, _, _ := newTestSessionService(t, fakeChecker{})
	ctx := context.Background()
	sess, err := svc.Create(ctx, createReq(), teacher())
	require.NoError(t, err)

	topic := "algebra"
	_, err = svc.Update(ctx, sess.ID, UpdateRequest{Topic: &topic}, Actor{ID: "t2", Role: "teacher"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels and triggers recompute", func(t *testing.T) {
		svc, _, trigger := newTestSessionService(t, fakeChecker{})
		sess, err := svc.Create(ctx, createReq(), teacher())
		require.NoError(t, err)

		cancelled, err := svc.Cancel(ctx, sess.ID, "teacher ill", teacher())
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)
		assert.Equal(t, "teacher ill", cancelled.Description)
		require.Len(t, trigger.cohorts, 1)
		assert.Equal(t, sess.Cohort(), trigger.cohorts[0])
	})

	t.Run("already cancelled", func(t *testing.T) {
		svc, _, _ := newTestSessionService(t, fakeChecker{})
		sess, err := svc.Create(ctx, createReq(), teacher())
		require.NoError(t, err)
		_, err = svc.Cancel(ctx, sess.ID, "", teacher())
		require.NoError(t, err)

		_, err = svc.Cancel(ctx, sess.ID, "", teacher())
		assert.ErrorIs(t, err, ErrTerminal)
	})

	t.Run("completed sessions can still be cancelled", func(t *testing.T) {
		svc, store, _ := newTestSessionService(t, fakeChecker{})
		sess, err := svc.Create(ctx, createReq(), teacher())
		require.NoError(t, err)
		_, err = store.SetStatus(ctx, sess.ID, sess.Status, StatusCompleted, "sweep")
		require.NoError(t, err)

		cancelled, err := svc.Cancel(ctx, sess.ID, "", teacher())
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)
	})

	t.Run("survives a concurrent sweep", func(t *testing.T) {
		svc, store, _ := newTestSessionService(t, fakeChecker{})
		sess, err := svc.Create(ctx, createReq(), teacher())
		require.NoError(t, err)
		require.Equal(t, StatusScheduled, sess.Status)

		// Simulate the sweep advancing the status between read and update.
		_, err = store.SetStatus(ctx, sess.ID, StatusScheduled, StatusInProgress, "sweep")
		require.NoError(t, err)

		// The service read "scheduled" paths would conflict; cancel from the
		// service still succeeds via its retry.
		cancelled, err := svc.Cancel(ctx, sess.ID, "", teacher())
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("blocked once attendance exists", func(t *testing.T) {
		svc, _, _ := newTestSessionService(t, fakeChecker{has: true})
		sess, err := svc.Create(ctx, createReq(), teacher())
		require.NoError(t, err)

		err = svc.Delete(ctx, sess.ID, teacher())
		assert.ErrorIs(t, err, ErrHasAttendance)
	})

	t.Run("allowed without attendance", func(t *testing.T) {
		svc, _, _ := newTestSessionService(t, fakeChecker{has: false})
		sess, err := svc.Create(ctx, createReq(), teacher())
		require.NoError(t, err)

		require.NoError(t, svc.Delete(ctx, sess.ID, teacher()))
		_, err = svc.Get(ctx, sess.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGenerateQR(t *testing.T) {
	ctx := context.Background()

	t.Run("requires in-progress", func(t *testing.T) {
		svc, _, _ := newTestSessionService(t, fakeChecker{})
		svc.now = func() time.Time { return time.Date(2026, 3, 9, 12, 0, 0, 0, time.Local) }
		sess, err := svc.Create(ctx, createReq(), teacher())
		require.NoError(t, err)

		_, err = svc.GenerateQR(ctx, sess.ID, teacher())
		assert.ErrorIs(t, err, ErrNotActive)
	})

	t.Run("stores the rotating code", func(t *testing.T) {
		svc, store, _ := newTestSessionService(t, fakeChecker{})
		svc.now = func() time.Time { return time.Date(2026, 3, 10, 10, 30, 0, 0, time.Local) }
		sess, err := svc.Create(ctx, createReq(), teacher())
		require.NoError(t, err)
		assert.Equal(t, StatusInProgress, sess.Status)

		qr, err := svc.GenerateQR(ctx, sess.ID, teacher())
		require.NoError(t, err)
		assert.Equal(t, "qr-value", qr.Value)

		stored, err := store.Get(ctx, sess.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.QRCode)
		assert.Equal(t, "qr-value", stored.QRCode.Value)
	})
}

func TestSweep(t *testing.T) {
	svc, store, trigger := newTestSessionService(t, fakeChecker{})
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.Local)

	mk := func(id string, status Status, start, end time.Time) {
		_, err := store.Insert(ctx, Session{ID: id, ClassID: "c1", Status: status, StartAt: start, EndAt: end})
		require.NoError(t, err)
	}
	mk("due-to-start", StatusScheduled, base.Add(9*time.Hour), base.Add(10*time.Hour))
	mk("due-to-complete", StatusInProgress, base.Add(7*time.Hour), base.Add(8*time.Hour))
	mk("not-yet", StatusScheduled, base.Add(12*time.Hour), base.Add(13*time.Hour))
	mk("cancelled", StatusCancelled, base.Add(7*time.Hour), base.Add(8*time.Hour))

	svc.now = func() time.Time { return base.Add(9*time.Hour + 30*time.Minute) }
	res, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Started)
	assert.Equal(t, int64(1), res.Completed)

	status := func(id string) Status {
		s, err := store.Get(ctx, id)
		require.NoError(t, err)
		return s.Status
	}
	assert.Equal(t, StatusInProgress, status("due-to-start"))
	assert.Equal(t, StatusCompleted, status("due-to-complete"))
	assert.Equal(t, StatusScheduled, status("not-yet"))
	assert.Equal(t, StatusCancelled, status("cancelled"))

	// the completed session's cohort gets one recompute
	require.Len(t, trigger.cohorts, 1)
	assert.Equal(t, "c1", trigger.cohorts[0].ClassID)
}
