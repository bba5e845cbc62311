package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"attendly/internal/auth"
)

type mintCredentialsRequest struct {
	Subject   string `json:"subject" binding:"required"`
	Role      string `json:"role" binding:"required"`
	CollegeID string `json:"college_id"`
}

// mintCredentials issues a JWT pair for a user. Identity itself lives in
// an upstream service; this endpoint lets it (and operators) mint API
// credentials without sharing the signing key.
func (s *Server) mintCredentials(c *gin.Context) {
	var req mintCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !auth.ValidRole(req.Role) {
		badRequest(c, errors.New("unknown role: "+req.Role))
		return
	}

	pair, err := auth.Issue(req.Subject, req.Role, req.CollegeID,
		s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.AccessTTL, s.cfg.RefreshTTL)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, pair)
}
