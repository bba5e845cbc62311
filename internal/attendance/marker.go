package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"attendly/internal/metrics"
	"attendly/internal/session"
	"attendly/internal/token"
)

// BiometricVerifier checks a biometric token for a user with a bounded
// timeout. Failure degrades the mark to QR or manual verification.
type BiometricVerifier interface {
	Verify(ctx context.Context, biometricToken, userID string) (bool, error)
}

// Marker records and corrects attendance, arbitrating between QR,
// biometric and manual evidence.
type Marker struct {
	sessions  session.Store
	marks     Store
	biometric BiometricVerifier
	trigger   session.RecomputeTrigger
	log       zerolog.Logger
	now       func() time.Time
}

// NewMarker wires the attendance marker.
func NewMarker(sessions session.Store, marks Store, biometric BiometricVerifier, trigger session.RecomputeTrigger, log zerolog.Logger) *Marker {
	return &Marker{
		sessions:  sessions,
		marks:     marks,
		biometric: biometric,
		trigger:   trigger,
		log:       log.With().Str("component", "attendance").Logger(),
		now:       time.Now,
	}
}

// MarkRequest is one attendance submission.
type MarkRequest struct {
	SessionID         string
	StudentID         string
	Status            Status // defaults to present
	QRToken           string
	BiometricToken    string
	QRVerified        bool // pre-verified upstream by the token validator
	BiometricVerified bool
	Location          *Location
	Device            string
	IPAddress         string
	Remarks           string
}

// Mark records a student's attendance. Preconditions are checked in
// order, each with a distinct failure: session exists, window open,
// student on the roster. On success the cohort recomputation is
// triggered without blocking the caller.
func (m *Marker) Mark(ctx context.Context, req MarkRequest, actor session.Actor) (Mark, error) {
	sess, err := m.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return Mark{}, err
	}
	now := m.now()
	if err := session.CheckWindow(sess.Window, now); err != nil {
		return Mark{}, err
	}
	if !sess.Expects(req.StudentID) {
		return Mark{}, ErrNotEligible
	}

	status := req.Status
	if status == "" {
		status = StatusPresent
	} else if _, err := ParseStatus(string(status)); err != nil {
		return Mark{}, err
	}

	qrVerified := req.QRVerified
	if !qrVerified && req.QRToken != "" && sess.QRCode != nil &&
		sess.QRCode.Value == req.QRToken && now.Before(sess.QRCode.ExpiryTime) {
		qrVerified = true
	}

	biometricVerified := req.BiometricVerified
	if !biometricVerified && req.BiometricToken != "" && m.biometric != nil {
		verified, err := m.biometric.Verify(ctx, req.BiometricToken, req.StudentID)
		if err != nil {
			m.log.Warn().Err(err).Str("student_id", req.StudentID).Msg("biometric verification unavailable")
		} else {
			biometricVerified = verified
		}
	}

	method := MethodManual
	switch {
	case biometricVerified:
		method = MethodBiometric
	case qrVerified:
		method = MethodQR
	}

	mark := Mark{
		ID:                uuid.NewString(),
		SessionID:         req.SessionID,
		StudentID:         req.StudentID,
		Status:            status,
		MarkedAt:          now,
		MarkedBy:          actor.ID,
		QRVerified:        qrVerified,
		BiometricVerified: biometricVerified,
		Method:            method,
		Location:          req.Location,
		Device:            req.Device,
		IPAddress:         req.IPAddress,
		Remarks:           req.Remarks,
	}
	saved, err := m.marks.Upsert(ctx, mark)
	if err != nil {
		return Mark{}, err
	}

	metrics.AttendanceMarks.WithLabelValues(string(method)).Inc()
	if m.trigger != nil {
		m.trigger.TriggerRecompute(ctx, sess)
	}
	return saved, nil
}

// RecordVerified implements token.Recorder: the attendance-validation
// path hands a consumed QR scan here. The scanning student is the actor.
func (m *Marker) RecordVerified(ctx context.Context, vm token.VerifiedMark) error {
	_, err := m.Mark(ctx, MarkRequest{
		SessionID:         vm.SessionID,
		StudentID:         vm.StudentID,
		Status:            StatusPresent,
		QRVerified:        vm.QRVerified,
		BiometricVerified: vm.BiometricVerified,
		Device:            vm.Device,
		IPAddress:         vm.IPAddress,
	}, session.Actor{ID: vm.StudentID, Role: "student"})
	return err
}

// Correct updates an existing mark's status and remarks. Teacher/admin
// only; the method becomes manual and the aggregation is re-triggered.
func (m *Marker) Correct(ctx context.Context, id string, status Status, remarks string, actor session.Actor) (Mark, error) {
	if actor.Role != "teacher" && actor.Role != "admin" && actor.Role != "college_admin" {
		return Mark{}, ErrForbidden
	}
	if _, err := ParseStatus(string(status)); err != nil {
		return Mark{}, err
	}
	existing, err := m.marks.Get(ctx, id)
	if err != nil {
		return Mark{}, err
	}
	sess, err := m.sessions.Get(ctx, existing.SessionID)
	if err != nil {
		return Mark{}, err
	}
	if !actor.CanManage(sess) {
		return Mark{}, ErrForbidden
	}

	existing.Status = status
	if remarks != "" {
		existing.Remarks = remarks
	}
	existing.MarkedBy = actor.ID
	existing.MarkedAt = m.now()
	existing.Method = MethodManual
	saved, err := m.marks.Upsert(ctx, existing)
	if err != nil {
		return Mark{}, err
	}
	if m.trigger != nil {
		m.trigger.TriggerRecompute(ctx, sess)
	}
	return saved, nil
}

// BulkEntry is one row of a bulk manual marking.
type BulkEntry struct {
	StudentID string `json:"student_id"`
	Status    Status `json:"status"`
	Remarks   string `json:"remarks,omitempty"`
}

// BulkError reports why one bulk entry failed.
type BulkError struct {
	StudentID string `json:"student_id"`
	Error     string `json:"error"`
}

// BulkResult summarizes a bulk marking.
type BulkResult struct {
	Success int         `json:"success"`
	Failed  int         `json:"failed"`
	Errors  []BulkError `json:"errors,omitempty"`
}

// BulkMark records manual marks for many students at once. Ineligible
// students fail individually without aborting the batch. Teachers may
// mark outside the window; bulk marking is their correction tool.
func (m *Marker) BulkMark(ctx context.Context, sessionID string, entries []BulkEntry, actor session.Actor) (BulkResult, error) {
	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return BulkResult{}, err
	}
	if !actor.CanManage(sess) {
		return BulkResult{}, ErrForbidden
	}

	var res BulkResult
	now := m.now()
	for _, entry := range entries {
		if !sess.Expects(entry.StudentID) {
			res.Failed++
			res.Errors = append(res.Errors, BulkError{StudentID: entry.StudentID, Error: ErrNotEligible.Error()})
			continue
		}
		status := entry.Status
		if status == "" {
			status = StatusPresent
		} else if _, err := ParseStatus(string(status)); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, BulkError{StudentID: entry.StudentID, Error: err.Error()})
			continue
		}
		_, err := m.marks.Upsert(ctx, Mark{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			StudentID: entry.StudentID,
			Status:    status,
			MarkedAt:  now,
			MarkedBy:  actor.ID,
			Method:    MethodManual,
			Remarks:   entry.Remarks,
		})
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, BulkError{StudentID: entry.StudentID, Error: err.Error()})
			continue
		}
		res.Success++
		metrics.AttendanceMarks.WithLabelValues(string(MethodManual)).Inc()
	}

	if res.Success > 0 && m.trigger != nil {
		m.trigger.TriggerRecompute(ctx, sess)
	}
	return res, nil
}

// BySession lists the marks recorded for a session.
func (m *Marker) BySession(ctx context.Context, sessionID string) ([]Mark, error) {
	if _, err := m.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.marks.ListBySession(ctx, sessionID)
}

// StudentMark pairs a mark with its session for student history views.
type StudentMark struct {
	Mark    Mark            `json:"mark"`
	Session session.Session `json:"session"`
}

// ByStudent lists a student's marks across sessions matching the filter.
func (m *Marker) ByStudent(ctx context.Context, studentID string, f session.Filter) ([]StudentMark, error) {
	f.Limit = -1 // unpaginated; caller filters
	f.StudentID = studentID
	sessions, _, err := m.sessions.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	byID := make(map[string]session.Session, len(sessions))
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}
	marks, err := m.marks.ListForSessions(ctx, ids, studentID)
	if err != nil {
		return nil, err
	}
	res := make([]StudentMark, 0, len(marks))
	for _, mark := range marks {
		res = append(res, StudentMark{Mark: mark, Session: byID[mark.SessionID]})
	}
	return res, nil
}

// HasMarks implements session.AttendanceChecker.
func (m *Marker) HasMarks(ctx context.Context, sessionID string) (bool, error) {
	n, err := m.marks.CountBySession(ctx, sessionID)
	return n > 0, err
}
