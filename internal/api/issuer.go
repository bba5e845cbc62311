package api

import (
	"context"
	"time"

	"attendly/internal/session"
	"attendly/internal/token"
)

// QRIssuer mints the short-lived attendance token a session's QR code
// carries. It implements session.AttendanceTokenIssuer.
type QRIssuer struct {
	Tokens *token.Service
}

func (i QRIssuer) IssueAttendance(ctx context.Context, s session.Session, createdBy string) (string, time.Time, error) {
	t, err := i.Tokens.Issue(ctx, token.IssueRequest{
		Type: token.TypeAttendance,
		Payload: token.AttendancePayload{
			SessionID: s.ID,
			ClassID:   s.ClassID,
			CourseID:  s.CourseID,
			SubjectID: s.SubjectID,
			TeacherID: s.TeacherID,
			Date:      s.Date.Format("2006-01-02"),
		},
		CreatedFor: s.ID,
		CreatedBy:  createdBy,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return t.Value, t.ExpiresAt, nil
}
