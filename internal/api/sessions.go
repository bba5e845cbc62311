package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"

	"attendly/internal/session"
)

func (s *Server) createSession(c *gin.Context) {
	var req session.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := s.sessions.Create(c.Request.Context(), req, actorFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) listSessions(c *gin.Context) {
	f := session.Filter{
		ClassID:      c.Query("class_id"),
		CourseID:     c.Query("course_id"),
		SubjectID:    c.Query("subject_id"),
		TeacherID:    c.Query("teacher_id"),
		CollegeID:    c.Query("college_id"),
		DepartmentID: c.Query("department_id"),
		StudentID:    c.Query("student_id"),
		Status:       session.Status(c.Query("status")),
		Limit:        intQuery(c, "limit", 50),
		Offset:       intQuery(c, "offset", 0),
	}
	for key, dst := range map[string]**time.Time{
		"date": &f.Date, "start_date": &f.StartDate, "end_date": &f.EndDate,
	} {
		if v := c.Query(key); v != "" {
			parsed, err := time.ParseInLocation("2006-01-02", v, time.Local)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "bad " + key + ", want YYYY-MM-DD"})
				return
			}
			*dst = &parsed
		}
	}
	sessions, total, err := s.sessions.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "total": total})
}

func (s *Server) updateSession(c *gin.Context) {
	var req session.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := s.sessions.Update(c.Request.Context(), c.Param("id"), req, actorFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) cancelSession(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req) // reason is optional; an empty body is fine
	sess, err := s.sessions.Cancel(c.Request.Context(), c.Param("id"), req.Reason, actorFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.sessions.Delete(c.Request.Context(), c.Param("id"), actorFrom(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// generateSessionQR rotates the session's attendance code.
func (s *Server) generateSessionQR(c *gin.Context) {
	qr, err := s.sessions.GenerateQR(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"qr_token": qr.Value, "expiry_time": qr.ExpiryTime})
}

// sessionQRImage renders the current attendance code as a PNG for
// classroom projection. 404 until a code has been generated; 410 once
// the code has expired and needs rotating.
func (s *Server) sessionQRImage(c *gin.Context) {
	sess, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if sess.QRCode == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no QR code generated for this session"})
		return
	}
	if time.Now().After(sess.QRCode.ExpiryTime) {
		c.JSON(http.StatusGone, gin.H{"error": "QR code expired, generate a new one"})
		return
	}
	png, err := qrcode.Encode(sess.QRCode.Value, qrcode.Medium, 256)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "QR encoding failed"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) sweepSessions(c *gin.Context) {
	res, err := s.sessions.Sweep(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": res.Started, "completed": res.Completed})
}
