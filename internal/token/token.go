package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type classifies a token and selects its payload shape and default policy.
type Type string

const (
	TypeAttendance   Type = "attendance"
	TypeAccess       Type = "access"
	TypeInformation  Type = "information"
	TypeVerification Type = "verification"
)

var validTypes = map[Type]bool{
	TypeAttendance:   true,
	TypeAccess:       true,
	TypeInformation:  true,
	TypeVerification: true,
}

// ParseType validates a token type string.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !validTypes[t] {
		return "", fmt.Errorf("%w: unknown token type %q", ErrValidation, s)
	}
	return t, nil
}

// Token is a time- and usage-bounded credential. The payload is persisted
// only as ciphertext; the plaintext form is carried in memory for callers.
type Token struct {
	ID         string     `json:"id"`
	Value      string     `json:"value"`
	Type       Type       `json:"type"`
	Payload    Payload    `json:"payload,omitempty"`
	Encrypted  string     `json:"-"`
	CreatedFor string     `json:"created_for"`
	CreatedBy  string     `json:"created_by"`
	ExpiresAt  time.Time  `json:"expires_at"`
	IsActive   bool       `json:"is_active"`
	UsageCount int        `json:"usage_count"`
	MaxUsage   int        `json:"max_usage"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Usable reports whether the token passes the validity predicate at now.
// The authoritative check is the store's atomic consume; this is the
// read-only form used for early rejection and the validity probe.
func (t Token) Usable(now time.Time) bool {
	return t.IsActive && now.Before(t.ExpiresAt) && (t.MaxUsage == 0 || t.UsageCount < t.MaxUsage)
}

// InvalidReason explains why Usable is false. Callers get a precise
// reason rather than a generic "invalid".
func (t Token) InvalidReason(now time.Time) Reason {
	switch {
	case !t.IsActive:
		return ReasonInactive
	case !now.Before(t.ExpiresAt):
		return ReasonExpired
	case t.MaxUsage > 0 && t.UsageCount >= t.MaxUsage:
		return ReasonUsageExceeded
	default:
		return ""
	}
}

// Reason is a typed validation-failure reason.
type Reason string

const (
	ReasonNotFound      Reason = "not-found"
	ReasonInactive      Reason = "inactive"
	ReasonExpired       Reason = "expired"
	ReasonUsageExceeded Reason = "usage-exceeded"
	ReasonWrongType     Reason = "wrong-type"
	ReasonUndecryptable Reason = "undecryptable"
	ReasonWrongLocation Reason = "wrong-location"
	ReasonForbidden     Reason = "forbidden"
	ReasonMarkingFailed Reason = "marking-failed"
)

// Message returns the user-facing text for a reason.
func (r Reason) Message() string {
	switch r {
	case ReasonNotFound:
		return "token not found"
	case ReasonInactive:
		return "token is inactive"
	case ReasonExpired:
		return "token has expired"
	case ReasonUsageExceeded:
		return "token has reached its usage limit"
	case ReasonWrongType:
		return "token is not of the expected type"
	case ReasonUndecryptable:
		return "token payload could not be decrypted"
	case ReasonWrongLocation:
		return "token is not valid for this location"
	case ReasonForbidden:
		return "insufficient permissions"
	case ReasonMarkingFailed:
		return "failed to record attendance"
	default:
		return "invalid token"
	}
}

// Result is the outcome of a validation attempt. Invalid tokens are an
// expected, frequent outcome, so this is a value, not an error.
type Result struct {
	Valid   bool    `json:"valid"`
	Reason  Reason  `json:"reason,omitempty"`
	Message string  `json:"message"`
	Type    Type    `json:"type,omitempty"`
	Payload Payload `json:"payload,omitempty"`
}

func invalid(reason Reason) Result {
	return Result{Valid: false, Reason: reason, Message: reason.Message()}
}

// Payload is the tagged union of per-type token payloads.
type Payload interface {
	Kind() Type
}

// AttendancePayload binds an attendance token to a session.
type AttendancePayload struct {
	SessionID string `json:"session_id"`
	ClassID   string `json:"class_id,omitempty"`
	CourseID  string `json:"course_id,omitempty"`
	SubjectID string `json:"subject_id,omitempty"`
	TeacherID string `json:"teacher_id,omitempty"`
	Date      string `json:"date,omitempty"`
}

func (AttendancePayload) Kind() Type { return TypeAttendance }

// AccessPayload grants location entry subject to permissions.
type AccessPayload struct {
	UserID      string   `json:"user_id"`
	LocationID  string   `json:"location_id"`
	Permissions []string `json:"permissions,omitempty"`
}

func (AccessPayload) Kind() Type { return TypeAccess }

// HasAll reports whether the payload carries every required permission.
func (p AccessPayload) HasAll(required []string) bool {
	held := make(map[string]bool, len(p.Permissions))
	for _, perm := range p.Permissions {
		held[perm] = true
	}
	for _, perm := range required {
		if !held[perm] {
			return false
		}
	}
	return true
}

// InformationPayload carries static content behind an information token.
type InformationPayload struct {
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
	URL     string `json:"url,omitempty"`
}

func (InformationPayload) Kind() Type { return TypeInformation }

// VerificationPayload identifies a user for out-of-band verification.
type VerificationPayload struct {
	UserID  string `json:"user_id"`
	Purpose string `json:"purpose,omitempty"`
}

func (VerificationPayload) Kind() Type { return TypeVerification }

type payloadEnvelope struct {
	Kind Type            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalPayload encodes a payload with its kind tag.
func MarshalPayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: payload required", ErrValidation)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(payloadEnvelope{Kind: p.Kind(), Data: data})
}

// UnmarshalPayload decodes a tagged payload into its concrete type.
func UnmarshalPayload(raw []byte) (Payload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case TypeAttendance:
		var p AttendancePayload
		err := json.Unmarshal(env.Data, &p)
		return p, err
	case TypeAccess:
		var p AccessPayload
		err := json.Unmarshal(env.Data, &p)
		return p, err
	case TypeInformation:
		var p InformationPayload
		err := json.Unmarshal(env.Data, &p)
		return p, err
	case TypeVerification:
		var p VerificationPayload
		err := json.Unmarshal(env.Data, &p)
		return p, err
	default:
		return nil, fmt.Errorf("unknown payload kind %q", env.Kind)
	}
}

// DecodePayload builds a typed payload for t from loosely-typed input,
// e.g. a JSON request body.
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: payload required", ErrValidation)
	}
	var (
		p   Payload
		err error
	)
	switch t {
	case TypeAttendance:
		var v AttendancePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TypeAccess:
		var v AccessPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TypeInformation:
		var v InformationPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TypeVerification:
		var v VerificationPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: unknown token type %q", ErrValidation, t)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return p, nil
}

var (
	// ErrNotFound is returned when no token matches the lookup.
	ErrNotFound = errors.New("token not found")
	// ErrConflict is returned on a duplicate token value.
	ErrConflict = errors.New("token value already exists")
	// ErrNotConsumable is returned by Consume when the validity predicate
	// fails at the store, including when a concurrent consume won the race.
	ErrNotConsumable = errors.New("token not consumable")
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation error")
)
