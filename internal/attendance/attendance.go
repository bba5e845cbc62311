package attendance

import (
	"errors"
	"time"
)

// Status is the recorded outcome for a student in a session.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
	StatusExcused Status = "excused"
)

var validStatuses = map[Status]bool{
	StatusPresent: true,
	StatusAbsent:  true,
	StatusLate:    true,
	StatusExcused: true,
}

// ParseStatus validates an attendance status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !validStatuses[st] {
		return "", ErrBadStatus
	}
	return st, nil
}

// Method is the evidentiary channel that justified a mark.
// Precedence when arbitrating evidence: biometric > qr > manual.
type Method string

const (
	MethodQR        Method = "qr"
	MethodBiometric Method = "biometric"
	MethodManual    Method = "manual"
	MethodSystem    Method = "system"
)

// Location is an optional GPS fix captured at marking time.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// Mark is one student's attendance for one session. Exactly one mark
// exists per (session, student) pair; re-marking updates it in place.
type Mark struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"session_id"`
	StudentID         string    `json:"student_id"`
	Status            Status    `json:"status"`
	MarkedAt          time.Time `json:"marked_at"`
	MarkedBy          string    `json:"marked_by"`
	QRVerified        bool      `json:"qr_verified"`
	BiometricVerified bool      `json:"biometric_verified"`
	Method            Method    `json:"verification_method"`
	Location          *Location `json:"location,omitempty"`
	Device            string    `json:"device,omitempty"`
	IPAddress         string    `json:"ip_address,omitempty"`
	Remarks           string    `json:"remarks,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

var (
	// ErrNotFound is returned when no mark matches.
	ErrNotFound = errors.New("attendance record not found")
	// ErrNotEligible is returned when the student is not on the roster.
	ErrNotEligible = errors.New("student not registered for this session")
	// ErrForbidden is returned when the actor may not perform the action.
	ErrForbidden = errors.New("insufficient permissions")
	// ErrBadStatus is returned for an unknown attendance status.
	ErrBadStatus = errors.New("invalid attendance status")
)
