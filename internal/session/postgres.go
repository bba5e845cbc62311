package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists sessions in Postgres. The expected-student roster
// is a JSONB column; status changes go through conditional updates.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a session store over db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `id, class_id, course_id, subject_id, teacher_id, college_id, department_id,
	semester, year, batch, room, topic, description,
	date, start_time, end_time, start_at, end_at, window_open, window_close,
	qr_value, qr_expiry, status, expected_students, created_by, updated_by, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var (
		s        Session
		students []byte
		qrValue  sql.NullString
		qrExpiry sql.NullTime
		updBy    sql.NullString
	)
	err := row.Scan(&s.ID, &s.ClassID, &s.CourseID, &s.SubjectID, &s.TeacherID, &s.CollegeID, &s.DepartmentID,
		&s.Semester, &s.Year, &s.Batch, &s.Room, &s.Topic, &s.Description,
		&s.Date, &s.StartTime, &s.EndTime, &s.StartAt, &s.EndAt, &s.Window.OpenTime, &s.Window.CloseTime,
		&qrValue, &qrExpiry, &s.Status, &students, &s.CreatedBy, &updBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Session{}, err
	}
	if len(students) > 0 {
		if err := json.Unmarshal(students, &s.ExpectedStudents); err != nil {
			return Session{}, fmt.Errorf("decode expected students: %w", err)
		}
	}
	if qrValue.Valid {
		s.QRCode = &QRCode{Value: qrValue.String, ExpiryTime: qrExpiry.Time}
	}
	if updBy.Valid {
		s.UpdatedBy = updBy.String
	}
	return s, nil
}

func (p *PostgresStore) Insert(ctx context.Context, s Session) (Session, error) {
	students, err := json.Marshal(s.ExpectedStudents)
	if err != nil {
		return Session{}, err
	}
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, class_id, course_id, subject_id, teacher_id, college_id, department_id,
			semester, year, batch, room, topic, description,
			date, start_time, end_time, start_at, end_at, window_open, window_close,
			status, expected_students, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		RETURNING created_at, updated_at
	`, s.ID, s.ClassID, s.CourseID, s.SubjectID, s.TeacherID, s.CollegeID, s.DepartmentID,
		s.Semester, s.Year, s.Batch, s.Room, s.Topic, s.Description,
		s.Date, s.StartTime, s.EndTime, s.StartAt, s.EndAt, s.Window.OpenTime, s.Window.CloseTime,
		s.Status, students, s.CreatedBy)
	if err := row.Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Session, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, err
}

func (p *PostgresStore) Update(ctx context.Context, s Session) (Session, error) {
	students, err := json.Marshal(s.ExpectedStudents)
	if err != nil {
		return Session{}, err
	}
	var qrValue, qrExpiry any
	if s.QRCode != nil {
		qrValue, qrExpiry = s.QRCode.Value, s.QRCode.ExpiryTime
	}
	row := p.db.QueryRowContext(ctx, `
		UPDATE sessions SET
			class_id=$2, course_id=$3, subject_id=$4, teacher_id=$5, college_id=$6, department_id=$7,
			semester=$8, year=$9, batch=$10, room=$11, topic=$12, description=$13,
			date=$14, start_time=$15, end_time=$16, start_at=$17, end_at=$18,
			window_open=$19, window_close=$20, qr_value=$21, qr_expiry=$22,
			status=$23, expected_students=$24, updated_by=$25, updated_at=NOW()
		WHERE id=$1
		RETURNING `+sessionColumns,
		s.ID, s.ClassID, s.CourseID, s.SubjectID, s.TeacherID, s.CollegeID, s.DepartmentID,
		s.Semester, s.Year, s.Batch, s.Room, s.Topic, s.Description,
		s.Date, s.StartTime, s.EndTime, s.StartAt, s.EndAt,
		s.Window.OpenTime, s.Window.CloseTime, qrValue, qrExpiry,
		s.Status, students, s.UpdatedBy)
	updated, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return updated, err
}

func (p *PostgresStore) SetStatus(ctx context.Context, id string, from, to Status, updatedBy string) (Session, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE sessions SET status=$3, updated_by=$4, updated_at=NOW()
		WHERE id=$1 AND status=$2
		RETURNING `+sessionColumns, id, from, to, updatedBy)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := p.Get(ctx, id); errors.Is(getErr, ErrNotFound) {
			return Session{}, ErrNotFound
		}
		return Session{}, ErrStatusConflict
	}
	return s, err
}

func (p *PostgresStore) SetQRCode(ctx context.Context, id string, qr QRCode, updatedBy string) (Session, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE sessions SET qr_value=$2, qr_expiry=$3, updated_by=$4, updated_at=NOW()
		WHERE id=$1
		RETURNING `+sessionColumns, id, qr.Value, qr.ExpiryTime, updatedBy)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, err
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, f Filter) ([]Session, int, error) {
	where := ""
	args := []any{}
	add := func(clause string, val any) {
		args = append(args, val)
		cond := fmt.Sprintf(clause, len(args))
		if where == "" {
			where = " WHERE " + cond
		} else {
			where += " AND " + cond
		}
	}
	if f.ClassID != "" {
		add("class_id = $%d", f.ClassID)
	}
	if f.CourseID != "" {
		add("course_id = $%d", f.CourseID)
	}
	if f.SubjectID != "" {
		add("subject_id = $%d", f.SubjectID)
	}
	if f.TeacherID != "" {
		add("teacher_id = $%d", f.TeacherID)
	}
	if f.CollegeID != "" {
		add("college_id = $%d", f.CollegeID)
	}
	if f.DepartmentID != "" {
		add("department_id = $%d", f.DepartmentID)
	}
	if f.StudentID != "" {
		add("expected_students @> to_jsonb(ARRAY[$%d::text])", f.StudentID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Date != nil {
		add("date = $%d::date", *f.Date)
	}
	if f.StartDate != nil {
		add("date >= $%d::date", *f.StartDate)
	}
	if f.EndDate != nil {
		add("date <= $%d::date", *f.EndDate)
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions` + where + ` ORDER BY date DESC, start_time ASC`
	if f.Limit >= 0 {
		// Negative limit means unpaginated (internal callers).
		limit := f.Limit
		if limit == 0 {
			limit = 50
		}
		args = append(args, limit, f.Offset)
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, s)
	}
	return res, total, rows.Err()
}

func (p *PostgresStore) ListCohort(ctx context.Context, key CohortKey) ([]Session, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE class_id=$1 AND course_id=$2 AND subject_id=$3
		  AND semester=$4 AND year=$5 AND batch=$6
		  AND status <> 'cancelled'
		ORDER BY date ASC
	`, key.ClassID, key.CourseID, key.SubjectID, key.Semester, key.Year, key.Batch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (p *PostgresStore) AdvanceStatuses(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult

	started, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET status='in-progress', updated_at=NOW()
		WHERE status='scheduled' AND start_at <= $1 AND end_at > $1
	`, now)
	if err != nil {
		return res, err
	}
	res.Started, _ = started.RowsAffected()

	rows, err := p.db.QueryContext(ctx, `
		UPDATE sessions SET status='completed', updated_at=NOW()
		WHERE status IN ('scheduled','in-progress') AND end_at <= $1
		RETURNING `+sessionColumns, now)
	if err != nil {
		return res, err
	}
	defer rows.Close()
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return res, err
		}
		res.Completed++
		res.CompletedSessions = append(res.CompletedSessions, s)
	}
	return res, rows.Err()
}
