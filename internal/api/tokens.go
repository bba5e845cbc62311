package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"attendly/internal/auth"
	"attendly/internal/token"
)

type issueTokenRequest struct {
	Type       string          `json:"type" binding:"required"`
	Payload    json.RawMessage `json:"payload" binding:"required"`
	CreatedFor string          `json:"created_for" binding:"required"`
	ExpiresAt  *time.Time      `json:"expires_at"`
	TTLSeconds *int            `json:"ttl_seconds"`
	MaxUsage   *int            `json:"max_usage"`
}

func (s *Server) issueToken(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	typ, err := token.ParseType(req.Type)
	if err != nil {
		fail(c, err)
		return
	}
	payload, err := token.DecodePayload(typ, req.Payload)
	if err != nil {
		fail(c, err)
		return
	}

	claims, _ := auth.ClaimsFrom(c)
	issue := token.IssueRequest{
		Type:       typ,
		Payload:    payload,
		CreatedFor: req.CreatedFor,
		CreatedBy:  claims.Subject,
		ExpiresAt:  req.ExpiresAt,
		MaxUsage:   req.MaxUsage,
	}
	if req.TTLSeconds != nil {
		ttl := time.Duration(*req.TTLSeconds) * time.Second
		issue.TTL = &ttl
	}

	issued, err := s.tokens.Issue(c.Request.Context(), issue)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, issued)
}

type validateTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (s *Server) validateToken(c *gin.Context) {
	var req validateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.tokens.Validate(c.Request.Context(), req.Token)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type validateAttendanceRequest struct {
	Token          string `json:"token" binding:"required"`
	StudentID      string `json:"student_id" binding:"required"`
	BiometricToken string `json:"biometric_token"`
	Device         string `json:"device"`
}

func (s *Server) validateAttendanceToken(c *gin.Context) {
	var req validateAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.attValidator.Validate(c.Request.Context(), req.Token, req.StudentID, req.BiometricToken,
		token.DeviceInfo{Device: req.Device, IPAddress: c.ClientIP()})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type validateAccessRequest struct {
	Token       string   `json:"token" binding:"required"`
	LocationID  string   `json:"location_id" binding:"required"`
	Permissions []string `json:"required_permissions"`
}

func (s *Server) validateAccessToken(c *gin.Context) {
	var req validateAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.tokens.ValidateAccess(c.Request.Context(), req.Token, req.LocationID, req.Permissions)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// checkToken is the non-consuming probe.
func (s *Server) checkToken(c *gin.Context) {
	value := c.Query("token")
	if value == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token query parameter required"})
		return
	}
	res, err := s.tokens.CheckValidity(c.Request.Context(), value)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) tokenInfo(c *gin.Context) {
	value := c.Query("token")
	if value == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token query parameter required"})
		return
	}
	res, err := s.tokens.Info(c.Request.Context(), value)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listTokens(c *gin.Context) {
	f := token.Filter{
		CreatedFor: c.Query("created_for"),
		ActiveOnly: c.Query("active") == "true",
		Limit:      intQuery(c, "limit", 50),
		Offset:     intQuery(c, "offset", 0),
	}
	if typ := c.Query("type"); typ != "" {
		parsed, err := token.ParseType(typ)
		if err != nil {
			fail(c, err)
			return
		}
		f.Type = parsed
	}
	tokens, total, err := s.tokens.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens, "total": total})
}

func (s *Server) getToken(c *gin.Context) {
	t, err := s.tokens.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) deactivateToken(c *gin.Context) {
	t, err := s.tokens.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) cleanupTokens(c *gin.Context) {
	n, err := s.tokens.CleanupExpired(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
