package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"attendly/internal/session"
)

// PostgresStore persists records in Postgres with the student breakdown
// as a JSONB column, replaced wholesale on every save.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a record store over db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, class_id, course_id, subject_id, semester, year, batch,
	college_id, department_id, teacher_id, start_date, end_date, total_sessions,
	student_records, last_updated, created_at`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var (
		r        Record
		students []byte
	)
	err := row.Scan(&r.ID, &r.Key.ClassID, &r.Key.CourseID, &r.Key.SubjectID,
		&r.Key.Semester, &r.Key.Year, &r.Key.Batch,
		&r.CollegeID, &r.DepartmentID, &r.TeacherID,
		&r.StartDate, &r.EndDate, &r.TotalSessions,
		&students, &r.LastUpdated, &r.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	if len(students) > 0 {
		if err := json.Unmarshal(students, &r.StudentRecords); err != nil {
			return Record{}, fmt.Errorf("decode student records: %w", err)
		}
	}
	return r, nil
}

func (s *PostgresStore) GetByKey(ctx context.Context, key session.CohortKey) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE class_id=$1 AND course_id=$2 AND subject_id=$3 AND semester=$4 AND year=$5 AND batch=$6
	`, key.ClassID, key.CourseID, key.SubjectID, key.Semester, key.Year, key.Batch)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM attendance_records WHERE id = $1`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (s *PostgresStore) Save(ctx context.Context, r Record) (Record, error) {
	students, err := json.Marshal(r.StudentRecords)
	if err != nil {
		return Record{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, class_id, course_id, subject_id, semester, year, batch,
			college_id, department_id, teacher_id, start_date, end_date, total_sessions,
			student_records, last_updated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (class_id, course_id, subject_id, semester, year, batch) DO UPDATE SET
			college_id = EXCLUDED.college_id,
			department_id = EXCLUDED.department_id,
			teacher_id = EXCLUDED.teacher_id,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			total_sessions = EXCLUDED.total_sessions,
			student_records = EXCLUDED.student_records,
			last_updated = EXCLUDED.last_updated
		RETURNING `+recordColumns,
		r.ID, r.Key.ClassID, r.Key.CourseID, r.Key.SubjectID, r.Key.Semester, r.Key.Year, r.Key.Batch,
		r.CollegeID, r.DepartmentID, r.TeacherID, r.StartDate, r.EndDate, r.TotalSessions,
		students, r.LastUpdated)
	return scanRecord(row)
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Record, int, error) {
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
	if f.Semester != 0 {
		add("semester = $%d", f.Semester)
	}
	if f.Year != 0 {
		add("year = $%d", f.Year)
	}
	if f.Batch != "" {
		add("batch = $%d", f.Batch)
	}
	if f.StudentID != "" {
		add(`student_records @> jsonb_build_array(jsonb_build_object('student_id', $%d::text))`, f.StudentID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance_records`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM attendance_records`+where+
			fmt.Sprintf(` ORDER BY last_updated DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, r)
	}
	return res, total, rows.Err()
}
