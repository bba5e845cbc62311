package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"attendly/internal/metrics"
)

// Policy is the default expiry and usage limit for a token type.
type Policy struct {
	TTL      time.Duration
	MaxUsage int
}

// Defaults maps token types to their issue policy. Attendance codes are
// deliberately short-lived and unlimited: one rotating value is shared by
// the whole class within its few-second lifetime.
type Defaults map[Type]Policy

// DefaultPolicies returns the stock policies with the configured
// attendance/access/information/verification TTLs.
func DefaultPolicies(attendance, access, information, verification time.Duration) Defaults {
	return Defaults{
		TypeAttendance:   {TTL: attendance, MaxUsage: 0},
		TypeAccess:       {TTL: access, MaxUsage: 1},
		TypeInformation:  {TTL: information, MaxUsage: 0},
		TypeVerification: {TTL: verification, MaxUsage: 1},
	}
}

// Service issues, validates and retires tokens.
type Service struct {
	store    Store
	codec    *Codec
	defaults Defaults
	log      zerolog.Logger
	now      func() time.Time
}

// NewService builds a token service.
func NewService(store Store, codec *Codec, defaults Defaults, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		codec:    codec,
		defaults: defaults,
		log:      log.With().Str("component", "token").Logger(),
		now:      time.Now,
	}
}

// IssueRequest describes a token to mint. TTL and MaxUsage override the
// type's default policy when set.
type IssueRequest struct {
	Type       Type
	Payload    Payload
	ExpiresAt  *time.Time
	TTL        *time.Duration
	MaxUsage   *int
	CreatedFor string
	CreatedBy  string
}

// Issue encrypts the payload, generates a collision-checked unique value
// and persists the token.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (Token, error) {
	if req.Payload == nil {
		return Token{}, fmt.Errorf("%w: payload required", ErrValidation)
	}
	if req.Payload.Kind() != req.Type {
		return Token{}, fmt.Errorf("%w: payload kind %q does not match token type %q",
			ErrValidation, req.Payload.Kind(), req.Type)
	}
	if req.CreatedFor == "" {
		return Token{}, fmt.Errorf("%w: createdFor required", ErrValidation)
	}

	policy, ok := s.defaults[req.Type]
	if !ok {
		return Token{}, fmt.Errorf("%w: unknown token type %q", ErrValidation, req.Type)
	}
	now := s.now()
	expiresAt := now.Add(policy.TTL)
	if req.ExpiresAt != nil {
		expiresAt = *req.ExpiresAt
	} else if req.TTL != nil {
		expiresAt = now.Add(*req.TTL)
	}
	if !expiresAt.After(now) {
		return Token{}, fmt.Errorf("%w: expiry must be in the future", ErrValidation)
	}
	maxUsage := policy.MaxUsage
	if req.MaxUsage != nil {
		if *req.MaxUsage < 0 {
			return Token{}, fmt.Errorf("%w: maxUsage must be >= 0", ErrValidation)
		}
		maxUsage = *req.MaxUsage
	}

	plain, err := MarshalPayload(req.Payload)
	if err != nil {
		return Token{}, err
	}
	encrypted, err := s.codec.Encrypt(plain)
	if err != nil {
		s.log.Error().Err(err).Msg("payload encryption failed")
		return Token{}, fmt.Errorf("encrypt payload: %w", err)
	}

	t := Token{
		ID:         uuid.NewString(),
		Type:       req.Type,
		Payload:    req.Payload,
		Encrypted:  encrypted,
		CreatedFor: req.CreatedFor,
		CreatedBy:  req.CreatedBy,
		ExpiresAt:  expiresAt,
		IsActive:   true,
		MaxUsage:   maxUsage,
	}

	// Random values virtually never collide, but the store enforces
	// uniqueness; retry a few times on the off chance.
	for attempt := 0; attempt < 5; attempt++ {
		t.Value, err = NewValue()
		if err != nil {
			return Token{}, err
		}
		issued, err := s.store.Insert(ctx, t)
		if err == nil {
			metrics.TokensIssued.WithLabelValues(string(t.Type)).Inc()
			return issued, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Token{}, err
		}
	}
	return Token{}, ErrConflict
}

// Validate looks up, checks, decrypts and atomically consumes a token.
// Invalid tokens come back as Result values with a typed reason.
func (s *Service) Validate(ctx context.Context, value string) (Result, error) {
	now := s.now()
	t, err := s.store.GetByValue(ctx, value)
	if errors.Is(err, ErrNotFound) {
		metrics.TokenValidations.WithLabelValues(string(ReasonNotFound)).Inc()
		return invalid(ReasonNotFound), nil
	}
	if err != nil {
		return Result{}, err
	}
	if !t.Usable(now) {
		reason := t.InvalidReason(now)
		metrics.TokenValidations.WithLabelValues(string(reason)).Inc()
		return invalid(reason), nil
	}

	payload, err := s.decrypt(t)
	if err != nil {
		metrics.TokenValidations.WithLabelValues(string(ReasonUndecryptable)).Inc()
		return invalid(ReasonUndecryptable), nil
	}

	consumed, err := s.store.Consume(ctx, value, now)
	switch {
	case errors.Is(err, ErrNotFound):
		metrics.TokenValidations.WithLabelValues(string(ReasonNotFound)).Inc()
		return invalid(ReasonNotFound), nil
	case errors.Is(err, ErrNotConsumable):
		// Lost a race since the read above; re-read for the precise reason.
		reason := ReasonUsageExceeded
		if cur, getErr := s.store.GetByValue(ctx, value); getErr == nil {
			if r := cur.InvalidReason(now); r != "" {
				reason = r
			}
		}
		metrics.TokenValidations.WithLabelValues(string(reason)).Inc()
		return invalid(reason), nil
	case err != nil:
		return Result{}, err
	}

	metrics.TokenValidations.WithLabelValues("ok").Inc()
	return Result{
		Valid:   true,
		Message: "token is valid",
		Type:    consumed.Type,
		Payload: payload,
	}, nil
}

// CheckValidity is the read-only probe: it reports validity and type
// without consuming usage.
func (s *Service) CheckValidity(ctx context.Context, value string) (Result, error) {
	t, err := s.store.GetByValue(ctx, value)
	if errors.Is(err, ErrNotFound) {
		return invalid(ReasonNotFound), nil
	}
	if err != nil {
		return Result{}, err
	}
	now := s.now()
	if !t.Usable(now) {
		res := invalid(t.InvalidReason(now))
		res.Type = t.Type
		return res, nil
	}
	return Result{Valid: true, Message: "token is valid", Type: t.Type}, nil
}

// AccessResult is the outcome of validating an access token.
type AccessResult struct {
	Valid       bool      `json:"valid"`
	Reason      Reason    `json:"reason,omitempty"`
	Message     string    `json:"message"`
	UserID      string    `json:"user_id,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

// ValidateAccess validates an access token against a location and the
// permissions the location requires.
func (s *Service) ValidateAccess(ctx context.Context, value, locationID string, required []string) (AccessResult, error) {
	res, err := s.Validate(ctx, value)
	if err != nil {
		return AccessResult{}, err
	}
	if !res.Valid {
		return AccessResult{Valid: false, Reason: res.Reason, Message: res.Message}, nil
	}
	payload, ok := res.Payload.(AccessPayload)
	if !ok {
		return AccessResult{Valid: false, Reason: ReasonWrongType, Message: "not an access token"}, nil
	}
	if payload.LocationID != locationID {
		return AccessResult{Valid: false, Reason: ReasonWrongLocation, Message: ReasonWrongLocation.Message()}, nil
	}
	if !payload.HasAll(required) {
		return AccessResult{Valid: false, Reason: ReasonForbidden, Message: ReasonForbidden.Message()}, nil
	}
	s.log.Info().
		Str("user_id", payload.UserID).
		Str("location_id", locationID).
		Msg("access granted")
	return AccessResult{
		Valid:       true,
		Message:     "access granted",
		UserID:      payload.UserID,
		Permissions: payload.Permissions,
		Timestamp:   s.now(),
	}, nil
}

// InfoResult carries the content of an information token.
type InfoResult struct {
	Valid   bool               `json:"valid"`
	Reason  Reason             `json:"reason,omitempty"`
	Message string             `json:"message,omitempty"`
	Info    InformationPayload `json:"info,omitempty"`
}

// Info validates an information token and returns its content.
func (s *Service) Info(ctx context.Context, value string) (InfoResult, error) {
	res, err := s.Validate(ctx, value)
	if err != nil {
		return InfoResult{}, err
	}
	if !res.Valid {
		return InfoResult{Valid: false, Reason: res.Reason, Message: res.Message}, nil
	}
	payload, ok := res.Payload.(InformationPayload)
	if !ok {
		return InfoResult{Valid: false, Reason: ReasonWrongType, Message: "not an information token"}, nil
	}
	return InfoResult{Valid: true, Info: payload}, nil
}

// Get returns a token by id.
func (s *Service) Get(ctx context.Context, id string) (Token, error) {
	return s.store.GetByID(ctx, id)
}

// Deactivate turns a token off ahead of its expiry.
func (s *Service) Deactivate(ctx context.Context, id string) (Token, error) {
	return s.store.Deactivate(ctx, id)
}

// List returns tokens matching the filter plus the unpaginated total.
func (s *Service) List(ctx context.Context, f Filter) ([]Token, int, error) {
	return s.store.List(ctx, f)
}

// CleanupExpired deletes tokens past their expiry and reports the count.
// Deletion is idempotent, so overlapping sweeps are harmless.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.TokensCleaned.Add(float64(n))
		s.log.Info().Int64("deleted", n).Msg("expired tokens cleaned up")
	}
	return n, nil
}

func (s *Service) decrypt(t Token) (Payload, error) {
	plain, err := s.codec.Decrypt(t.Encrypted)
	if err != nil {
		s.log.Error().Err(err).Str("token_id", t.ID).Msg("payload decryption failed")
		return nil, err
	}
	payload, err := UnmarshalPayload(plain)
	if err != nil {
		s.log.Error().Err(err).Str("token_id", t.ID).Msg("payload decode failed")
		return nil, err
	}
	return payload, nil
}
