package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"attendly/internal/attendance"
	"attendly/internal/auth"
	"attendly/internal/config"
	"attendly/internal/httpmiddleware"
	"attendly/internal/record"
	"attendly/internal/session"
	"attendly/internal/store"
	"attendly/internal/token"
)

// Server carries the wired services behind the HTTP handlers.
type Server struct {
	cfg          config.App
	tokens       *token.Service
	attValidator *token.AttendanceValidator
	sessions     *session.Service
	marker       *attendance.Marker
	records      *record.Aggregator
	db           *store.DB
	redis        *store.Redis
	log          zerolog.Logger
}

// NewServer builds the HTTP server around the wired services.
func NewServer(cfg config.App, tokens *token.Service, attValidator *token.AttendanceValidator,
	sessions *session.Service, marker *attendance.Marker, records *record.Aggregator,
	db *store.DB, redis *store.Redis, log zerolog.Logger) *Server {
	return &Server{
		cfg:          cfg,
		tokens:       tokens,
		attValidator: attValidator,
		sessions:     sessions,
		marker:       marker,
		records:      records,
		db:           db,
		redis:        redis,
		log:          log.With().Str("component", "api").Logger(),
	}
}

// Router assembles the gin engine with middleware and all routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(s.cfg.RateLimitPerMin, s.cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.healthz)

	// Scan endpoints are unauthenticated: the token itself is the
	// credential being checked.
	v1 := r.Group("/v1")
	v1.POST("/tokens/validate", s.validateToken)
	v1.POST("/tokens/validate/attendance", s.validateAttendanceToken)
	v1.POST("/tokens/validate/access", s.validateAccessToken)
	v1.GET("/tokens/check", s.checkToken)
	v1.GET("/tokens/info", s.tokenInfo)

	authed := v1.Group("", auth.UserAuth(s.cfg.JWTSigningKey, s.cfg.JWTIssuer))
	staff := authed.Group("", auth.RequireRoles(auth.RoleTeacher, auth.RoleAdmin, auth.RoleCollegeAdmin))

	staff.POST("/tokens", s.issueToken)
	staff.GET("/tokens", s.listTokens)
	staff.GET("/tokens/:id", s.getToken)
	staff.DELETE("/tokens/:id", s.deactivateToken)

	staff.POST("/sessions", s.createSession)
	authed.GET("/sessions", s.listSessions)
	authed.GET("/sessions/:id", s.getSession)
	staff.PUT("/sessions/:id", s.updateSession)
	staff.POST("/sessions/:id/cancel", s.cancelSession)
	staff.DELETE("/sessions/:id", s.deleteSession)
	staff.POST("/sessions/:id/qr", s.generateSessionQR)
	authed.GET("/sessions/:id/qr.png", s.sessionQRImage)

	authed.POST("/attendance", s.markAttendance)
	staff.PUT("/attendance/:id", s.correctAttendance)
	staff.POST("/sessions/:id/attendance/bulk", s.bulkMarkAttendance)
	staff.GET("/sessions/:id/attendance", s.sessionAttendance)
	authed.GET("/students/:id/attendance", s.studentAttendance)

	authed.GET("/records", s.listRecords)
	authed.GET("/records/:id", s.getRecord)
	staff.POST("/records/:id/regenerate", s.regenerateRecord)
	staff.POST("/records/recompute", s.recomputeRecord)
	authed.GET("/students/:id/summary", s.studentSummary)
	staff.GET("/classes/:id/statistics", s.classStatistics)

	internal := r.Group("/internal", auth.InternalKey(s.cfg.InternalAPIKey))
	internal.POST("/tokens/cleanup", s.cleanupTokens)
	internal.POST("/sessions/sweep", s.sweepSessions)
	internal.POST("/auth/token", s.mintCredentials)

	return r
}

func (s *Server) healthz(c *gin.Context) {
	dbHealthy := s.db.Healthy(c.Request.Context())
	redisHealthy := s.redis.Healthy(c.Request.Context())
	status := http.StatusOK
	if !dbHealthy || !redisHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": "ok", "db": dbHealthy, "redis": redisHealthy})
}

// actorFrom maps the authenticated claims to a session actor.
func actorFrom(c *gin.Context) session.Actor {
	claims, _ := auth.ClaimsFrom(c)
	return session.Actor{ID: claims.Subject, Role: claims.Role}
}
