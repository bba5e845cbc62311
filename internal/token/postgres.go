package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore persists tokens in Postgres. Consume relies on a
// conditional UPDATE so the usage ceiling holds across replicas.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a token store over db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tokenColumns = `id, value, type, encrypted_payload, created_for, created_by,
	expires_at, is_active, usage_count, max_usage, last_used_at, created_at`

func scanToken(row interface{ Scan(...any) error }) (Token, error) {
	var t Token
	var lastUsed sql.NullTime
	err := row.Scan(&t.ID, &t.Value, &t.Type, &t.Encrypted, &t.CreatedFor, &t.CreatedBy,
		&t.ExpiresAt, &t.IsActive, &t.UsageCount, &t.MaxUsage, &lastUsed, &t.CreatedAt)
	if err != nil {
		return Token{}, err
	}
	if lastUsed.Valid {
		t.LastUsedAt = &lastUsed.Time
	}
	return t, nil
}

func (s *PostgresStore) Insert(ctx context.Context, t Token) (Token, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO tokens (id, value, type, encrypted_payload, created_for, created_by,
			expires_at, is_active, usage_count, max_usage)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at
	`, t.ID, t.Value, t.Type, t.Encrypted, t.CreatedFor, t.CreatedBy,
		t.ExpiresAt, t.IsActive, t.UsageCount, t.MaxUsage)
	if err := row.Scan(&t.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Token{}, ErrConflict
		}
		return Token{}, err
	}
	return t, nil
}

func (s *PostgresStore) GetByValue(ctx context.Context, value string) (Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE value = $1`, value)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNotFound
	}
	return t, err
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE id = $1`, id)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNotFound
	}
	return t, err
}

// Consume increments usage and deactivates at the ceiling in one
// conditional update. Zero rows means the predicate failed; the caller
// re-reads to learn why.
func (s *PostgresStore) Consume(ctx context.Context, value string, now time.Time) (Token, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE tokens
		SET usage_count = usage_count + 1,
		    last_used_at = $2,
		    is_active = CASE
		        WHEN max_usage > 0 AND usage_count + 1 >= max_usage THEN FALSE
		        ELSE is_active
		    END
		WHERE value = $1
		  AND is_active
		  AND expires_at > $2
		  AND (max_usage = 0 OR usage_count < max_usage)
		RETURNING `+tokenColumns, value, now)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetByValue(ctx, value); errors.Is(getErr, ErrNotFound) {
			return Token{}, ErrNotFound
		}
		return Token{}, ErrNotConsumable
	}
	return t, err
}

func (s *PostgresStore) Deactivate(ctx context.Context, id string) (Token, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE tokens SET is_active = FALSE WHERE id = $1
		RETURNING `+tokenColumns, id)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNotFound
	}
	return t, err
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Token, int, error) {
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
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.CreatedFor != "" {
		add("created_for = $%d", f.CreatedFor)
	}
	if f.ActiveOnly {
		if where == "" {
			where = " WHERE is_active"
		} else {
			where += " AND is_active"
		}
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tokens`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens`+where+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, t)
	}
	return res, total, rows.Err()
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
