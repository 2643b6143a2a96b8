package content

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the Postgres-backed content store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("content: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("content: ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate applies the embedded schema and seed migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("content: set dialect: %w", err)
	}
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("content: run migrations: %w", err)
	}
	return nil
}

// ListWritings returns all writings in display order, excerpt only.
func (s *Store) ListWritings(ctx context.Context) ([]Writing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, category, posted_label, excerpt
		FROM writings
		ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("content: list writings: %w", err)
	}
	defer rows.Close()

	var out []Writing
	for rows.Next() {
		var w Writing
		if err := rows.Scan(&w.ID, &w.Title, &w.Category, &w.PostedLabel, &w.Excerpt); err != nil {
			return nil, fmt.Errorf("content: scan writing: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// GetWriting returns one writing with its full body.
func (s *Store) GetWriting(ctx context.Context, id uuid.UUID) (*Writing, error) {
	var w Writing
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, category, posted_label, excerpt, body
		FROM writings
		WHERE id = $1`, id).
		Scan(&w.ID, &w.Title, &w.Category, &w.PostedLabel, &w.Excerpt, &w.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("content: get writing: %w", err)
	}
	return &w, nil
}

// ListTracks returns the playlist in play order.
func (s *Store) ListTracks(ctx context.Context) ([]Track, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, artist, audio_url, cover_url, position
		FROM tracks
		ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("content: list tracks: %w", err)
	}
	defer rows.Close()

	var out []Track
	for rows.Next() {
		var t Track
		if err := rows.Scan(&t.ID, &t.Title, &t.Artist, &t.AudioURL, &t.CoverURL, &t.Position); err != nil {
			return nil, fmt.Errorf("content: scan track: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateSession persists a new login session.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, email, name, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, sess.UserID, sess.Email, sess.Name, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("content: create session: %w", err)
	}
	return nil
}

// GetSession returns a session by id; expired sessions are deleted and
// reported as not found.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, email, name, created_at, expires_at
		FROM sessions
		WHERE id = $1`, id).
		Scan(&sess.ID, &sess.UserID, &sess.Email, &sess.Name, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("content: get session: %w", err)
	}
	if sess.Expired(time.Now()) {
		_ = s.DeleteSession(ctx, id)
		return nil, ErrNotFound
	}
	return &sess, nil
}

// DeleteSession removes a session. Deleting an absent session is not an
// error.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("content: delete session: %w", err)
	}
	return nil
}
