package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDate = time.Date(2026, 3, 10, 0, 0, 0, 0, time.Local)

func TestComputeWindow(t *testing.T) {
	startAt, endAt, w, err := ComputeWindow(testDate, "10:00", "11:00", DefaultWindowMargin)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 10, 10, 0, 0, 0, time.Local), startAt)
	assert.Equal(t, time.Date(2026, 3, 10, 11, 0, 0, 0, time.Local), endAt)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 45, 0, 0, time.Local), w.OpenTime)
	assert.Equal(t, time.Date(2026, 3, 10, 11, 15, 0, 0, time.Local), w.CloseTime)
}

func TestComputeWindowRejectsBadInput(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
	}{
		{"garbage start", "ten", "11:00"},
		{"hour out of range", "25:00", "11:00"},
		{"minute out of range", "10:61", "11:00"},
		{"start equals end", "10:00", "10:00"},
		{"start after end", "11:00", "10:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := ComputeWindow(testDate, tt.start, tt.end, DefaultWindowMargin)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCheckWindow(t *testing.T) {
	_, _, w, err := ComputeWindow(testDate, "10:00", "11:00", DefaultWindowMargin)
	require.NoError(t, err)

	at := func(hour, min int) time.Time {
		return time.Date(2026, 3, 10, hour, min, 0, 0, time.Local)
	}

	t.Run("before open", func(t *testing.T) {
		err := CheckWindow(w, at(9, 44))
		var notOpen *WindowNotOpenError
		require.ErrorAs(t, err, &notOpen)
		assert.Equal(t, w.OpenTime, notOpen.OpensAt)
		assert.True(t, IsWindowError(err))
	})

	t.Run("inside", func(t *testing.T) {
		assert.NoError(t, CheckWindow(w, at(9, 46)))
		assert.NoError(t, CheckWindow(w, at(10, 30)))
		assert.NoError(t, CheckWindow(w, at(11, 14)))
	})

	t.Run("boundaries inclusive", func(t *testing.T) {
		assert.NoError(t, CheckWindow(w, w.OpenTime))
		assert.NoError(t, CheckWindow(w, w.CloseTime))
	})

	t.Run("after close", func(t *testing.T) {
		err := CheckWindow(w, at(11, 16))
		var closed *WindowClosedError
		require.ErrorAs(t, err, &closed)
		assert.Equal(t, w.CloseTime, closed.ClosedAt)
		assert.True(t, IsWindowError(err))
	})
}

func TestStatusAt(t *testing.T) {
	startAt := time.Date(2026, 3, 10, 10, 0, 0, 0, time.Local)
	endAt := time.Date(2026, 3, 10, 11, 0, 0, 0, time.Local)

	assert.Equal(t, StatusScheduled, StatusAt(startAt, endAt, startAt.Add(-time.Minute)))
	assert.Equal(t, StatusInProgress, StatusAt(startAt, endAt, startAt))
	assert.Equal(t, StatusInProgress, StatusAt(startAt, endAt, startAt.Add(30*time.Minute)))
	assert.Equal(t, StatusCompleted, StatusAt(startAt, endAt, endAt.Add(time.Minute)))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusScheduled.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestActorCanManage(t *testing.T) {
	sess := Session{TeacherID: "t1"}

	assert.True(t, Actor{ID: "t1", Role: "teacher"}.CanManage(sess))
	assert.False(t, Actor{ID: "t2", Role: "teacher"}.CanManage(sess))
	assert.True(t, Actor{ID: "anyone", Role: "admin"}.CanManage(sess))
	assert.True(t, Actor{ID: "anyone", Role: "college_admin"}.CanManage(sess))
	assert.False(t, Actor{ID: "t1", Role: "student"}.CanManage(sess))
}
