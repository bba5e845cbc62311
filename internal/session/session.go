package session

import (
	"errors"
	"fmt"
	"time"
)

// Status is a session's lifecycle state. Transitions are monotonic
// (scheduled -> in-progress -> completed) except for cancel, which is
// reachable from any non-terminal state and is terminal.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Window is the interval during which attendance marks are accepted.
type Window struct {
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
}

// QRCode is the rotating attendance code currently attached to a session.
type QRCode struct {
	Value      string    `json:"value"`
	ExpiryTime time.Time `json:"expiry_time"`
}

// CohortKey identifies a recurring class offering for aggregation.
type CohortKey struct {
	ClassID   string `json:"class_id"`
	CourseID  string `json:"course_id"`
	SubjectID string `json:"subject_id"`
	Semester  int    `json:"semester"`
	Year      int    `json:"year"`
	Batch     string `json:"batch"`
}

// Session is a single teaching session.
type Session struct {
	ID           string `json:"id"`
	ClassID      string `json:"class_id"`
	CourseID     string `json:"course_id"`
	SubjectID    string `json:"subject_id"`
	TeacherID    string `json:"teacher_id"`
	CollegeID    string `json:"college_id"`
	DepartmentID string `json:"department_id"`
	Semester     int    `json:"semester"`
	Year         int    `json:"year"`
	Batch        string `json:"batch"`

	Room        string `json:"room,omitempty"`
	Topic       string `json:"topic,omitempty"`
	Description string `json:"description,omitempty"`

	Date      time.Time `json:"date"`
	StartTime string    `json:"start_time"` // HH:MM wall clock
	EndTime   string    `json:"end_time"`   // HH:MM wall clock

	// StartAt/EndAt are the combined date+time instants; recomputed,
	// never patched, whenever date or times change.
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
	Window  Window    `json:"attendance_window"`

	QRCode           *QRCode  `json:"qr_code,omitempty"`
	Status           Status   `json:"status"`
	ExpectedStudents []string `json:"expected_students"`

	CreatedBy string    `json:"created_by"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cohort returns the aggregation key for this session.
func (s Session) Cohort() CohortKey {
	return CohortKey{
		ClassID:   s.ClassID,
		CourseID:  s.CourseID,
		SubjectID: s.SubjectID,
		Semester:  s.Semester,
		Year:      s.Year,
		Batch:     s.Batch,
	}
}

// Expects reports whether the student is on the session's roster.
func (s Session) Expects(studentID string) bool {
	for _, id := range s.ExpectedStudents {
		if id == studentID {
			return true
		}
	}
	return false
}

// DefaultWindowMargin is how far the attendance window extends beyond the
// scheduled start and end.
const DefaultWindowMargin = 15 * time.Minute

// CombineClock anchors an HH:MM wall-clock time on the given date.
func CombineClock(date time.Time, clock string) (time.Time, error) {
	var hour, min int
	if _, err := fmt.Sscanf(clock, "%d:%d", &hour, &min); err != nil {
		return time.Time{}, fmt.Errorf("%w: bad time %q, want HH:MM", ErrValidation, clock)
	}
	if hour < 0 || hour > 23 || min < 0 || min > 59 {
		return time.Time{}, fmt.Errorf("%w: bad time %q", ErrValidation, clock)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, min, 0, 0, date.Location()), nil
}

// ComputeWindow derives the session instants and attendance window from
// the scheduled date and HH:MM times. Pure; re-invoked on every edit of
// date/startTime/endTime.
func ComputeWindow(date time.Time, startTime, endTime string, margin time.Duration) (startAt, endAt time.Time, w Window, err error) {
	startAt, err = CombineClock(date, startTime)
	if err != nil {
		return
	}
	endAt, err = CombineClock(date, endTime)
	if err != nil {
		return
	}
	if !startAt.Before(endAt) {
		err = fmt.Errorf("%w: start time must be before end time", ErrValidation)
		return
	}
	w = Window{OpenTime: startAt.Add(-margin), CloseTime: endAt.Add(margin)}
	return
}

// StatusAt is the time-driven state machine: the status a session should
// hold at now, absent an explicit cancel.
func StatusAt(startAt, endAt, now time.Time) Status {
	switch {
	case now.Before(startAt):
		return StatusScheduled
	case now.After(endAt):
		return StatusCompleted
	default:
		return StatusInProgress
	}
}

// CheckWindow returns a typed error when now falls outside the window.
func CheckWindow(w Window, now time.Time) error {
	if now.Before(w.OpenTime) {
		return &WindowNotOpenError{OpensAt: w.OpenTime}
	}
	if now.After(w.CloseTime) {
		return &WindowClosedError{ClosedAt: w.CloseTime}
	}
	return nil
}

// WindowNotOpenError means the attendance window has not opened yet.
type WindowNotOpenError struct {
	OpensAt time.Time
}

func (e *WindowNotOpenError) Error() string {
	return "attendance window not open until " + e.OpensAt.Format("15:04")
}

// WindowClosedError means the attendance window has already closed.
type WindowClosedError struct {
	ClosedAt time.Time
}

func (e *WindowClosedError) Error() string {
	return "attendance window closed at " + e.ClosedAt.Format("15:04")
}

// IsWindowError reports whether err is either window violation.
func IsWindowError(err error) bool {
	var notOpen *WindowNotOpenError
	var closed *WindowClosedError
	return errors.As(err, &notOpen) || errors.As(err, &closed)
}

var (
	// ErrNotFound is returned when no session matches.
	ErrNotFound = errors.New("session not found")
	// ErrNotActive is returned when an operation needs an in-progress session.
	ErrNotActive = errors.New("session is not in progress")
	// ErrForbidden is returned when the actor does not own the session.
	ErrForbidden = errors.New("not allowed for this session")
	// ErrHasAttendance blocks hard deletion once marks exist.
	ErrHasAttendance = errors.New("session has attendance records; cancel instead of deleting")
	// ErrTerminal is returned when a terminal session is mutated.
	ErrTerminal = errors.New("session is in a terminal state")
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation error")
)
