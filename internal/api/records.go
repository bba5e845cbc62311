package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"attendly/internal/record"
	"attendly/internal/session"
)

func (s *Server) listRecords(c *gin.Context) {
	f := record.Filter{
		ClassID:   c.Query("class_id"),
		CourseID:  c.Query("course_id"),
		SubjectID: c.Query("subject_id"),
		TeacherID: c.Query("teacher_id"),
		StudentID: c.Query("student_id"),
		Semester:  intQuery(c, "semester", 0),
		Year:      intQuery(c, "year", 0),
		Batch:     c.Query("batch"),
		Limit:     intQuery(c, "limit", 50),
		Offset:    intQuery(c, "offset", 0),
	}
	records, total, err := s.records.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "total": total})
}

func (s *Server) getRecord(c *gin.Context) {
	rec, err := s.records.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// regenerateRecord forces a full recomputation of one record.
func (s *Server) regenerateRecord(c *gin.Context) {
	rec, err := s.records.Regenerate(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type recomputeRequest struct {
	ClassID   string `json:"class_id" binding:"required"`
	CourseID  string `json:"course_id" binding:"required"`
	SubjectID string `json:"subject_id" binding:"required"`
	Semester  int    `json:"semester"`
	Year      int    `json:"year"`
	Batch     string `json:"batch"`
}

// recomputeRecord rebuilds the record for a cohort, creating it when
// absent.
func (s *Server) recomputeRecord(c *gin.Context) {
	var req recomputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := s.records.Recompute(c.Request.Context(), session.CohortKey{
		ClassID:   req.ClassID,
		CourseID:  req.CourseID,
		SubjectID: req.SubjectID,
		Semester:  req.Semester,
		Year:      req.Year,
		Batch:     req.Batch,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) studentSummary(c *gin.Context) {
	f := record.Filter{
		ClassID:   c.Query("class_id"),
		CourseID:  c.Query("course_id"),
		SubjectID: c.Query("subject_id"),
	}
	summary, err := s.records.StudentSummary(c.Request.Context(), c.Param("id"), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) classStatistics(c *gin.Context) {
	stats, err := s.records.ClassStatistics(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
