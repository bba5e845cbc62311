package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PostgresStore persists marks in Postgres. The (session_id, student_id)
// unique constraint plus ON CONFLICT upsert keeps exactly one mark per
// pair under concurrent submissions.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates an attendance store over db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const markColumns = `id, session_id, student_id, status, marked_at, marked_by,
	qr_verified, biometric_verified, verification_method, location, device, ip_address, remarks,
	created_at, updated_at`

func scanMark(row interface{ Scan(...any) error }) (Mark, error) {
	var (
		m        Mark
		location []byte
		device   sql.NullString
		ip       sql.NullString
		remarks  sql.NullString
	)
	err := row.Scan(&m.ID, &m.SessionID, &m.StudentID, &m.Status, &m.MarkedAt, &m.MarkedBy,
		&m.QRVerified, &m.BiometricVerified, &m.Method, &location, &device, &ip, &remarks,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return Mark{}, err
	}
	if len(location) > 0 {
		var loc Location
		if err := json.Unmarshal(location, &loc); err != nil {
			return Mark{}, fmt.Errorf("decode location: %w", err)
		}
		m.Location = &loc
	}
	m.Device = device.String
	m.IPAddress = ip.String
	m.Remarks = remarks.String
	return m, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, m Mark) (Mark, error) {
	var location any
	if m.Location != nil {
		data, err := json.Marshal(m.Location)
		if err != nil {
			return Mark{}, err
		}
		location = data
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO attendance_marks (id, session_id, student_id, status, marked_at, marked_by,
			qr_verified, biometric_verified, verification_method, location, device, ip_address, remarks)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (session_id, student_id) DO UPDATE SET
			status = EXCLUDED.status,
			marked_at = EXCLUDED.marked_at,
			marked_by = EXCLUDED.marked_by,
			qr_verified = EXCLUDED.qr_verified,
			biometric_verified = EXCLUDED.biometric_verified,
			verification_method = EXCLUDED.verification_method,
			location = COALESCE(EXCLUDED.location, attendance_marks.location),
			device = COALESCE(EXCLUDED.device, attendance_marks.device),
			ip_address = COALESCE(EXCLUDED.ip_address, attendance_marks.ip_address),
			remarks = COALESCE(EXCLUDED.remarks, attendance_marks.remarks),
			updated_at = NOW()
		RETURNING `+markColumns,
		m.ID, m.SessionID, m.StudentID, m.Status, m.MarkedAt, m.MarkedBy,
		m.QRVerified, m.BiometricVerified, m.Method, location,
		nullable(m.Device), nullable(m.IPAddress), nullable(m.Remarks))
	return scanMark(row)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Mark, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+markColumns+` FROM attendance_marks WHERE id = $1`, id)
	m, err := scanMark(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Mark{}, ErrNotFound
	}
	return m, err
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string) ([]Mark, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+markColumns+` FROM attendance_marks WHERE session_id = $1 ORDER BY student_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMarks(rows)
}

func (s *PostgresStore) ListForSessions(ctx context.Context, sessionIDs []string, studentID string) ([]Mark, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(sessionIDs))
	args := make([]any, 0, len(sessionIDs)+1)
	for i, id := range sessionIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, id)
	}
	query := `SELECT ` + markColumns + ` FROM attendance_marks WHERE session_id IN (` +
		strings.Join(placeholders, ",") + `)`
	if studentID != "" {
		args = append(args, studentID)
		query += fmt.Sprintf(" AND student_id = $%d", len(args))
	}
	query += " ORDER BY session_id, student_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMarks(rows)
}

func (s *PostgresStore) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attendance_marks WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}

func collectMarks(rows *sql.Rows) ([]Mark, error) {
	var res []Mark
	for rows.Next() {
		m, err := scanMark(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
