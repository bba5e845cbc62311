package store

import "database/sql"

// Migrate applies the schema. Everything is IF NOT EXISTS so both the
// api and worker binaries can run it safely at startup.
func Migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tokens (
		id                TEXT PRIMARY KEY,
		value             TEXT NOT NULL UNIQUE,
		type              TEXT NOT NULL,
		encrypted_payload TEXT NOT NULL,
		created_for       TEXT NOT NULL,
		created_by        TEXT NOT NULL DEFAULT '',
		expires_at        TIMESTAMPTZ NOT NULL,
		is_active         BOOLEAN NOT NULL DEFAULT TRUE,
		usage_count       INTEGER NOT NULL DEFAULT 0,
		max_usage         INTEGER NOT NULL DEFAULT 0,
		last_used_at      TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_tokens_expires_at ON tokens (expires_at);
	CREATE INDEX IF NOT EXISTS idx_tokens_created_for ON tokens (created_for);

	CREATE TABLE IF NOT EXISTS sessions (
		id                TEXT PRIMARY KEY,
		class_id          TEXT NOT NULL,
		course_id         TEXT NOT NULL,
		subject_id        TEXT NOT NULL,
		teacher_id        TEXT NOT NULL,
		college_id        TEXT NOT NULL DEFAULT '',
		department_id     TEXT NOT NULL DEFAULT '',
		semester          INTEGER NOT NULL DEFAULT 0,
		year              INTEGER NOT NULL DEFAULT 0,
		batch             TEXT NOT NULL DEFAULT '',
		room              TEXT NOT NULL DEFAULT '',
		topic             TEXT NOT NULL DEFAULT '',
		description       TEXT NOT NULL DEFAULT '',
		date              DATE NOT NULL,
		start_time        TEXT NOT NULL,
		end_time          TEXT NOT NULL,
		start_at          TIMESTAMPTZ NOT NULL,
		end_at            TIMESTAMPTZ NOT NULL,
		window_open       TIMESTAMPTZ NOT NULL,
		window_close      TIMESTAMPTZ NOT NULL,
		qr_value          TEXT,
		qr_expiry         TIMESTAMPTZ,
		status            TEXT NOT NULL DEFAULT 'scheduled',
		expected_students JSONB NOT NULL DEFAULT '[]',
		created_by        TEXT NOT NULL DEFAULT '',
		updated_by        TEXT,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_cohort
		ON sessions (class_id, course_id, subject_id, semester, year, batch);
	CREATE INDEX IF NOT EXISTS idx_sessions_teacher ON sessions (teacher_id, date);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions (status, start_at, end_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_students ON sessions USING GIN (expected_students);

	CREATE TABLE IF NOT EXISTS attendance_marks (
		id                  TEXT PRIMARY KEY,
		session_id          TEXT NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
		student_id          TEXT NOT NULL,
		status              TEXT NOT NULL DEFAULT 'present',
		marked_at           TIMESTAMPTZ NOT NULL,
		marked_by           TEXT NOT NULL DEFAULT '',
		qr_verified         BOOLEAN NOT NULL DEFAULT FALSE,
		biometric_verified  BOOLEAN NOT NULL DEFAULT FALSE,
		verification_method TEXT NOT NULL DEFAULT 'manual',
		location            JSONB,
		device              TEXT,
		ip_address          TEXT,
		remarks             TEXT,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (session_id, student_id)
	);
	CREATE INDEX IF NOT EXISTS idx_marks_student ON attendance_marks (student_id, marked_at);

	CREATE TABLE IF NOT EXISTS attendance_records (
		id              TEXT PRIMARY KEY,
		class_id        TEXT NOT NULL,
		course_id       TEXT NOT NULL,
		subject_id      TEXT NOT NULL,
		semester        INTEGER NOT NULL DEFAULT 0,
		year            INTEGER NOT NULL DEFAULT 0,
		batch           TEXT NOT NULL DEFAULT '',
		college_id      TEXT NOT NULL DEFAULT '',
		department_id   TEXT NOT NULL DEFAULT '',
		teacher_id      TEXT NOT NULL DEFAULT '',
		start_date      TIMESTAMPTZ NOT NULL,
		end_date        TIMESTAMPTZ NOT NULL,
		total_sessions  INTEGER NOT NULL DEFAULT 0,
		student_records JSONB NOT NULL DEFAULT '[]',
		last_updated    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (class_id, course_id, subject_id, semester, year, batch)
	);
	CREATE INDEX IF NOT EXISTS idx_records_students ON attendance_records USING GIN (student_records);
	`
	_, err := db.Exec(schema)
	return err
}
