package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/users"
	_ "modernc.org/sqlite"
)

// Store is a users.UserRepo backed by SQLite.
type Store struct {
	db  *sql.DB
	dsn string
}

var _ users.UserRepo = (*Store)(nil)

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// modernc connections don't share an in-memory database, and SQLite allows one writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, dsn: dsn}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, username, email, password_hash, security_stamp, blocked, date_joined, last_login`

func (s *Store) Upsert(ctx context.Context, user *users.User) error {
	if user == nil {
		return errors.New("user is required")
	}
	if user.ID == "" {
		return fmt.Errorf("%w: user id is required", apperrors.ErrInvalidArgs)
	}
	if user.DateJoined.IsZero() {
		user.DateJoined = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, username_normalized, email, password_hash, security_stamp, blocked, date_joined, last_login)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			username_normalized = excluded.username_normalized,
			email = excluded.email,
			password_hash = excluded.password_hash,
			security_stamp = excluded.security_stamp,
			blocked = excluded.blocked,
			last_login = excluded.last_login`,
		user.ID,
		user.Username,
		users.NormalizeUsername(user.Username),
		user.Email,
		user.PasswordHash,
		user.SecurityStamp,
		user.Blocked,
		user.DateJoined.UTC(),
		mapOptionalTime(user.LastLogin),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperrors.ErrUserExists
		}
		return fmt.Errorf("sqlite.Upsert: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite.Delete: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.ErrUserNotFound
	}
	return nil
}

func (s *Store) GetByUsername(ctx context.Context, username string) (*users.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username_normalized = ?`,
		users.NormalizeUsername(username))
	return scanUser(row)
}

func (s *Store) GetByID(ctx context.Context, id string) (*users.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite.Count: %w", err)
	}
	return count, nil
}

func (s *Store) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, `UPDATE users SET last_login = ? WHERE id = ?`, at.UTC(), id)
}

func (s *Store) SetBlocked(ctx context.Context, id string, blocked bool) error {
	return s.exec(ctx, `UPDATE users SET blocked = ? WHERE id = ?`, blocked, id)
}

func (s *Store) SetPassword(ctx context.Context, id, passwordHash, securityStamp string) error {
	return s.exec(ctx, `UPDATE users SET password_hash = ?, security_stamp = ? WHERE id = ?`, passwordHash, securityStamp, id)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.ErrUserNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*users.User, error) {
	var (
		u         users.User
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.SecurityStamp, &u.Blocked, &u.DateJoined, &lastLogin)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if lastLogin.Valid {
		u.LastLogin = lastLogin.Time
	}
	return &u, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.ErrUserNotFound
	}
	return err
}

func mapOptionalTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
