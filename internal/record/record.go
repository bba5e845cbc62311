package record

import (
	"errors"
	"time"

	"attendly/internal/session"
)

// StudentRecord is one student's aggregated attendance in a cohort.
// Attended counts present + late + excused marks; the percentage is
// attended over all marked statuses. This leniency policy mirrors the
// institutional formula as documented, pending product confirmation.
type StudentRecord struct {
	StudentID            string  `json:"student_id"`
	TotalSessions        int     `json:"total_sessions"`
	Attended             int     `json:"attended"`
	Absent               int     `json:"absent"`
	Late                 int     `json:"late"`
	Excused              int     `json:"excused"`
	AttendancePercentage float64 `json:"attendance_percentage"`
}

// Record is the derived per-cohort attendance summary. It is always
// fully recomputable from sessions and marks; never patched in place.
type Record struct {
	ID             string            `json:"id"`
	Key            session.CohortKey `json:"cohort"`
	CollegeID      string            `json:"college_id,omitempty"`
	DepartmentID   string            `json:"department_id,omitempty"`
	TeacherID      string            `json:"teacher_id,omitempty"`
	StartDate      time.Time         `json:"start_date"`
	EndDate        time.Time         `json:"end_date"`
	TotalSessions  int               `json:"total_sessions"`
	StudentRecords []StudentRecord   `json:"student_records"`
	LastUpdated    time.Time         `json:"last_updated"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Statistics summarizes a record's attendance distribution.
type Statistics struct {
	ClassID           string  `json:"class_id"`
	CourseID          string  `json:"course_id"`
	SubjectID         string  `json:"subject_id"`
	TotalSessions     int     `json:"total_sessions"`
	TotalStudents     int     `json:"total_students"`
	AveragePercentage float64 `json:"average_attendance_percentage"`
	Excellent         int     `json:"excellent"` // >= 90%
	Good              int     `json:"good"`      // 75–90%
	Poor              int     `json:"poor"`      // < 60%
	Perfect           int     `json:"perfect"`   // exactly 100%
	Critical          int     `json:"critical"`  // < 50%
}

// StudentSummary aggregates one student's standing across records.
type StudentSummary struct {
	StudentID string                `json:"student_id"`
	Records   []StudentRecordInList `json:"records"`
	Totals    SummaryTotals         `json:"summary"`
}

// StudentRecordInList is a student's slice of one cohort record.
type StudentRecordInList struct {
	RecordID             string            `json:"record_id"`
	Key                  session.CohortKey `json:"cohort"`
	StartDate            time.Time         `json:"start_date"`
	EndDate              time.Time         `json:"end_date"`
	TotalSessions        int               `json:"total_sessions"`
	Attended             int               `json:"attended"`
	Absent               int               `json:"absent"`
	Late                 int               `json:"late"`
	Excused              int               `json:"excused"`
	AttendancePercentage float64           `json:"attendance_percentage"`
}

// SummaryTotals is the cross-record rollup for a student.
type SummaryTotals struct {
	TotalSessions     int     `json:"total_sessions"`
	TotalAttended     int     `json:"total_attended"`
	TotalAbsent       int     `json:"total_absent"`
	TotalLate         int     `json:"total_late"`
	TotalExcused      int     `json:"total_excused"`
	OverallPercentage float64 `json:"overall_attendance_percentage"`
}

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("record not found")
