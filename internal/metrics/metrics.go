package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokensIssued counts issued tokens by type.
	TokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendly_tokens_issued_total",
		Help: "Tokens issued, by token type.",
	}, []string{"type"})

	// TokenValidations counts validation outcomes. The reason label is
	// "ok" for successful validations.
	TokenValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendly_token_validations_total",
		Help: "Token validation attempts, by outcome reason.",
	}, []string{"reason"})

	// AttendanceMarks counts successful marks by verification method.
	AttendanceMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendly_attendance_marks_total",
		Help: "Attendance marks recorded, by verification method.",
	}, []string{"method"})

	// RecordRecomputes counts aggregate recomputations.
	RecordRecomputes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendly_record_recomputes_total",
		Help: "Attendance record recomputations.",
	})

	// TokensCleaned counts tokens removed by the expiry sweep.
	TokensCleaned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendly_tokens_cleaned_total",
		Help: "Expired tokens deleted by the cleanup sweep.",
	})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendly_rate_limited_total",
		Help: "Requests rejected by the per-client rate limiter.",
	})

	// SessionsTransitioned counts sweep-driven status transitions.
	SessionsTransitioned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendly_sessions_transitioned_total",
		Help: "Session status transitions applied by the sweep.",
	}, []string{"to"})
)
