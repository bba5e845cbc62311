package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"attendly/internal/attendance"
	"attendly/internal/session"
)

type markRequest struct {
	SessionID      string               `json:"session_id" binding:"required"`
	StudentID      string               `json:"student_id" binding:"required"`
	Status         string               `json:"status"`
	QRToken        string               `json:"qr_token"`
	BiometricToken string               `json:"biometric_token"`
	Location       *attendance.Location `json:"location"`
	Device         string               `json:"device"`
	Remarks        string               `json:"remarks"`
}

func (s *Server) markAttendance(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	mark, err := s.marker.Mark(c.Request.Context(), attendance.MarkRequest{
		SessionID:      req.SessionID,
		StudentID:      req.StudentID,
		Status:         attendance.Status(req.Status),
		QRToken:        req.QRToken,
		BiometricToken: req.BiometricToken,
		Location:       req.Location,
		Device:         req.Device,
		IPAddress:      c.ClientIP(),
		Remarks:        req.Remarks,
	}, actorFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, mark)
}

type correctRequest struct {
	Status  string `json:"status" binding:"required"`
	Remarks string `json:"remarks"`
}

func (s *Server) correctAttendance(c *gin.Context) {
	var req correctRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	mark, err := s.marker.Correct(c.Request.Context(), c.Param("id"), attendance.Status(req.Status), req.Remarks, actorFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, mark)
}

type bulkMarkRequest struct {
	Entries []attendance.BulkEntry `json:"entries" binding:"required,min=1"`
}

func (s *Server) bulkMarkAttendance(c *gin.Context) {
	var req bulkMarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.marker.BulkMark(c.Request.Context(), c.Param("id"), req.Entries, actorFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) sessionAttendance(c *gin.Context) {
	marks, err := s.marker.BySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marks": marks, "total": len(marks)})
}

func (s *Server) studentAttendance(c *gin.Context) {
	f := session.Filter{
		ClassID:   c.Query("class_id"),
		CourseID:  c.Query("course_id"),
		SubjectID: c.Query("subject_id"),
	}
	marks, err := s.marker.ByStudent(c.Request.Context(), c.Param("id"), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marks": marks, "total": len(marks)})
}
