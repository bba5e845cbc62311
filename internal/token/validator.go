package token

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Recorder is the attendance-marking collaborator the attendance
// validator hands verified scans to.
type Recorder interface {
	RecordVerified(ctx context.Context, mark VerifiedMark) error
}

// VerifiedMark is the evidence forwarded after a successful scan.
type VerifiedMark struct {
	SessionID         string
	StudentID         string
	QRVerified        bool
	BiometricVerified bool
	Device            string
	IPAddress         string
}

// BiometricVerifier checks a biometric token for a user. Implementations
// bound the call with their own timeout; failure is non-fatal.
type BiometricVerifier interface {
	Verify(ctx context.Context, biometricToken, userID string) (bool, error)
}

// DeviceInfo is the scanning device's metadata.
type DeviceInfo struct {
	Device    string
	IPAddress string
}

// AttendanceResult is the outcome of an attendance scan.
type AttendanceResult struct {
	Valid     bool      `json:"valid"`
	Reason    Reason    `json:"reason,omitempty"`
	Message   string    `json:"message"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// AttendanceValidator layers attendance semantics on top of plain token
// validation: the payload must be an attendance payload, an optional
// biometric token upgrades the verification method, and the verified scan
// is forwarded to the attendance recorder.
type AttendanceValidator struct {
	tokens    *Service
	recorder  Recorder
	biometric BiometricVerifier
	log       zerolog.Logger
	now       func() time.Time
}

// NewAttendanceValidator wires the attendance validation path.
func NewAttendanceValidator(tokens *Service, recorder Recorder, biometric BiometricVerifier, log zerolog.Logger) *AttendanceValidator {
	return &AttendanceValidator{
		tokens:    tokens,
		recorder:  recorder,
		biometric: biometric,
		log:       log.With().Str("component", "attendance-validator").Logger(),
		now:       time.Now,
	}
}

// Validate consumes the token and records attendance for the student.
func (v *AttendanceValidator) Validate(ctx context.Context, value, studentID, biometricToken string, device DeviceInfo) (AttendanceResult, error) {
	res, err := v.tokens.Validate(ctx, value)
	if err != nil {
		return AttendanceResult{}, err
	}
	if !res.Valid {
		return AttendanceResult{Valid: false, Reason: res.Reason, Message: res.Message}, nil
	}
	payload, ok := res.Payload.(AttendancePayload)
	if !ok {
		return AttendanceResult{Valid: false, Reason: ReasonWrongType, Message: "not an attendance token"}, nil
	}

	biometricVerified := false
	if biometricToken != "" && v.biometric != nil {
		verified, err := v.biometric.Verify(ctx, biometricToken, studentID)
		if err != nil {
			// Degrade to QR verification rather than failing the scan.
			v.log.Warn().Err(err).Str("student_id", studentID).Msg("biometric verification unavailable")
		} else {
			biometricVerified = verified
		}
	}

	mark := VerifiedMark{
		SessionID:         payload.SessionID,
		StudentID:         studentID,
		QRVerified:        true,
		BiometricVerified: biometricVerified,
		Device:            device.Device,
		IPAddress:         device.IPAddress,
	}
	if err := v.recorder.RecordVerified(ctx, mark); err != nil {
		v.log.Error().Err(err).
			Str("session_id", payload.SessionID).
			Str("student_id", studentID).
			Msg("attendance recording failed")
		return AttendanceResult{Valid: false, Reason: ReasonMarkingFailed, Message: err.Error()}, nil
	}

	return AttendanceResult{
		Valid:     true,
		Message:   "attendance recorded successfully",
		SessionID: payload.SessionID,
		Timestamp: v.now(),
	}, nil
}
