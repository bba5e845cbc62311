package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"attendly/internal/metrics"
)

// Actor is the authenticated caller of a session operation.
type Actor struct {
	ID   string
	Role string
}

// CanManage reports whether the actor may mutate the session: the owning
// teacher, or an admin role.
func (a Actor) CanManage(s Session) bool {
	switch a.Role {
	case "admin", "college_admin":
		return true
	case "teacher":
		return s.TeacherID == a.ID
	default:
		return false
	}
}

// AttendanceTokenIssuer mints the short-lived attendance token a session's
// QR code carries.
type AttendanceTokenIssuer interface {
	IssueAttendance(ctx context.Context, s Session, createdBy string) (value string, expiresAt time.Time, err error)
}

// RecomputeTrigger schedules an attendance-record recomputation for the
// session's cohort. Fire-and-forget for the caller, at-least-once overall.
type RecomputeTrigger interface {
	TriggerRecompute(ctx context.Context, s Session)
}

// AttendanceChecker reports whether marks exist for a session; hard
// deletion is blocked while they do.
type AttendanceChecker interface {
	HasMarks(ctx context.Context, sessionID string) (bool, error)
}

// Service coordinates session lifecycle, QR rotation and the sweep.
type Service struct {
	store   Store
	issuer  AttendanceTokenIssuer
	trigger RecomputeTrigger
	marks   AttendanceChecker
	margin  time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// NewService builds a session service. margin <= 0 falls back to the
// 15-minute default.
func NewService(store Store, issuer AttendanceTokenIssuer, trigger RecomputeTrigger, marks AttendanceChecker, margin time.Duration, log zerolog.Logger) *Service {
	if margin <= 0 {
		margin = DefaultWindowMargin
	}
	return &Service{
		store:   store,
		issuer:  issuer,
		trigger: trigger,
		marks:   marks,
		margin:  margin,
		log:     log.With().Str("component", "session").Logger(),
		now:     time.Now,
	}
}

// CreateRequest describes a new session.
type CreateRequest struct {
	ClassID          string   `json:"class_id" binding:"required"`
	CourseID         string   `json:"course_id" binding:"required"`
	SubjectID        string   `json:"subject_id" binding:"required"`
	TeacherID        string   `json:"teacher_id" binding:"required"`
	CollegeID        string   `json:"college_id"`
	DepartmentID     string   `json:"department_id"`
	Semester         int      `json:"semester"`
	Year             int      `json:"year"`
	Batch            string   `json:"batch"`
	Room             string   `json:"room"`
	Topic            string   `json:"topic"`
	Description      string   `json:"description"`
	Date             string   `json:"date" binding:"required"` // YYYY-MM-DD
	StartTime        string   `json:"start_time" binding:"required"`
	EndTime          string   `json:"end_time" binding:"required"`
	ExpectedStudents []string `json:"expected_students"`
}

// Create computes the attendance window and the time-appropriate initial
// status, then persists the session.
func (s *Service) Create(ctx context.Context, req CreateRequest, actor Actor) (Session, error) {
	date, err := time.ParseInLocation("2006-01-02", req.Date, time.Local)
	if err != nil {
		return Session{}, fmt.Errorf("%w: bad date %q, want YYYY-MM-DD", ErrValidation, req.Date)
	}
	startAt, endAt, window, err := ComputeWindow(date, req.StartTime, req.EndTime, s.margin)
	if err != nil {
		return Session{}, err
	}

	now := s.now()
	sess := Session{
		ID:               uuid.NewString(),
		ClassID:          req.ClassID,
		CourseID:         req.CourseID,
		SubjectID:        req.SubjectID,
		TeacherID:        req.TeacherID,
		CollegeID:        req.CollegeID,
		DepartmentID:     req.DepartmentID,
		Semester:         req.Semester,
		Year:             req.Year,
		Batch:            req.Batch,
		Room:             req.Room,
		Topic:            req.Topic,
		Description:      req.Description,
		Date:             date,
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		StartAt:          startAt,
		EndAt:            endAt,
		Window:           window,
		Status:           StatusAt(startAt, endAt, now),
		ExpectedStudents: req.ExpectedStudents,
		CreatedBy:        actor.ID,
	}
	return s.store.Insert(ctx, sess)
}

// Get returns a session by id.
func (s *Service) Get(ctx context.Context, id string) (Session, error) {
	return s.store.Get(ctx, id)
}

// List returns sessions matching the filter plus the unpaginated total.
func (s *Service) List(ctx context.Context, f Filter) ([]Session, int, error) {
	return s.store.List(ctx, f)
}

// UpdateRequest carries partial session edits. Nil fields are untouched.
type UpdateRequest struct {
	Room             *string   `json:"room"`
	Topic            *string   `json:"topic"`
	Description      *string   `json:"description"`
	Date             *string   `json:"date"`
	StartTime        *string   `json:"start_time"`
	EndTime          *string   `json:"end_time"`
	ExpectedStudents *[]string `json:"expected_students"`
}

// Update applies edits. Any change to date/startTime/endTime recomputes
// the window and session instants wholesale.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest, actor Actor) (Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !actor.CanManage(sess) {
		return Session{}, ErrForbidden
	}

	if req.Room != nil {
		sess.Room = *req.Room
	}
	if req.Topic != nil {
		sess.Topic = *req.Topic
	}
	if req.Description != nil {
		sess.Description = *req.Description
	}
	if req.ExpectedStudents != nil {
		sess.ExpectedStudents = *req.ExpectedStudents
	}

	timeEdited := req.Date != nil || req.StartTime != nil || req.EndTime != nil
	if timeEdited {
		if req.Date != nil {
			date, err := time.ParseInLocation("2006-01-02", *req.Date, time.Local)
			if err != nil {
				return Session{}, fmt.Errorf("%w: bad date %q", ErrValidation, *req.Date)
			}
			sess.Date = date
		}
		if req.StartTime != nil {
			sess.StartTime = *req.StartTime
		}
		if req.EndTime != nil {
			sess.EndTime = *req.EndTime
		}
		sess.StartAt, sess.EndAt, sess.Window, err = ComputeWindow(sess.Date, sess.StartTime, sess.EndTime, s.margin)
		if err != nil {
			return Session{}, err
		}
		if !sess.Status.Terminal() {
			sess.Status = StatusAt(sess.StartAt, sess.EndAt, s.now())
		}
	}

	sess.UpdatedBy = actor.ID
	return s.store.Update(ctx, sess)
}

// Cancel moves a non-terminal session to cancelled and re-triggers the
// cohort's record recomputation. Marks already recorded stay untouched.
func (s *Service) Cancel(ctx context.Context, id, reason string, actor Actor) (Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !actor.CanManage(sess) {
		return Session{}, ErrForbidden
	}
	if sess.Status == StatusCancelled {
		return Session{}, fmt.Errorf("%w: already cancelled", ErrTerminal)
	}

	cancelled, err := s.store.SetStatus(ctx, id, sess.Status, StatusCancelled, actor.ID)
	if errors.Is(err, ErrStatusConflict) {
		// The sweep advanced it underneath us; retry from the new status.
		sess, err = s.store.Get(ctx, id)
		if err != nil {
			return Session{}, err
		}
		if sess.Status == StatusCancelled {
			return sess, nil
		}
		cancelled, err = s.store.SetStatus(ctx, id, sess.Status, StatusCancelled, actor.ID)
	}
	if err != nil {
		return Session{}, err
	}
	if reason != "" {
		cancelled.Description = reason
		cancelled.UpdatedBy = actor.ID
		if cancelled, err = s.store.Update(ctx, cancelled); err != nil {
			return Session{}, err
		}
	}

	s.log.Info().Str("session_id", id).Str("by", actor.ID).Msg("session cancelled")
	if s.trigger != nil {
		s.trigger.TriggerRecompute(ctx, cancelled)
	}
	return cancelled, nil
}

// Delete removes a session outright; blocked once attendance exists.
func (s *Service) Delete(ctx context.Context, id string, actor Actor) error {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !actor.CanManage(sess) {
		return ErrForbidden
	}
	if s.marks != nil {
		has, err := s.marks.HasMarks(ctx, id)
		if err != nil {
			return err
		}
		if has {
			return ErrHasAttendance
		}
	}
	return s.store.Delete(ctx, id)
}

// GenerateQR mints a fresh rotating attendance code for an in-progress
// session with an open window, and stores it on the session.
func (s *Service) GenerateQR(ctx context.Context, id string, actor Actor) (QRCode, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return QRCode{}, err
	}
	if !actor.CanManage(sess) {
		return QRCode{}, ErrForbidden
	}
	if sess.Status != StatusInProgress {
		return QRCode{}, ErrNotActive
	}
	if err := CheckWindow(sess.Window, s.now()); err != nil {
		return QRCode{}, err
	}
	if s.issuer == nil {
		return QRCode{}, errors.New("no token issuer configured")
	}

	value, expiresAt, err := s.issuer.IssueAttendance(ctx, sess, actor.ID)
	if err != nil {
		return QRCode{}, fmt.Errorf("issue attendance token: %w", err)
	}
	qr := QRCode{Value: value, ExpiryTime: expiresAt}
	if _, err := s.store.SetQRCode(ctx, id, qr, actor.ID); err != nil {
		return QRCode{}, err
	}
	return qr, nil
}

// Sweep advances session statuses as wall-clock time passes. Conditional
// per-row updates keep it from clobbering explicit cancels.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	res, err := s.store.AdvanceStatuses(ctx, s.now())
	if err != nil {
		return res, err
	}
	if res.Started > 0 {
		metrics.SessionsTransitioned.WithLabelValues(string(StatusInProgress)).Add(float64(res.Started))
	}
	if res.Completed > 0 {
		metrics.SessionsTransitioned.WithLabelValues(string(StatusCompleted)).Add(float64(res.Completed))
	}
	if res.Started > 0 || res.Completed > 0 {
		s.log.Info().
			Int64("started", res.Started).
			Int64("completed", res.Completed).
			Msg("session statuses advanced")
	}

	// Completed sessions change their cohort's aggregate; trigger one
	// recompute per cohort.
	if s.trigger != nil {
		seen := make(map[CohortKey]struct{})
		for _, sess := range res.CompletedSessions {
			key := sess.Cohort()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			s.trigger.TriggerRecompute(ctx, sess)
		}
	}
	return res, nil
}
