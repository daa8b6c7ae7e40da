// Package snooze keeps the list of pull requests the user has hidden from
// the ranked list, either indefinitely or until a deadline.
package snooze

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Entry is one snoozed pull request.
type Entry struct {
	SnoozedAt time.Time
	Until     time.Time // zero for an indefinite snooze
	URL       string
}

// Indefinite reports whether the snooze has no deadline.
func (e Entry) Indefinite() bool { return e.Until.IsZero() }

// Active reports whether the pull request is still hidden at now.
func (e Entry) Active(now time.Time) bool {
	return e.Indefinite() || now.Before(e.Until)
}

// Remaining describes the time left, e.g. "3d left".
func (e Entry) Remaining(now time.Time) string {
	if e.Indefinite() {
		return "indefinite"
	}
	d := e.Until.Sub(now)
	switch {
	case d <= 0:
		return "expired"
	case d >= 7*24*time.Hour:
		return fmt.Sprintf("%dw left", int(d/(7*24*time.Hour)))
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd left", int(d/(24*time.Hour)))
	case d >= time.Hour:
		return fmt.Sprintf("%dh left", int(d/time.Hour))
	case d >= time.Minute:
		return fmt.Sprintf("%dm left", int(d/time.Minute))
	default:
		return "<1m left"
	}
}

// Set is a point-in-time copy of the snooze list keyed by URL.
type Set map[string]Entry

// IsSnoozed reports whether url is hidden at now. Expired entries count as
// not snoozed.
func (s Set) IsSnoozed(url string, now time.Time) bool {
	e, ok := s[url]
	return ok && e.Active(now)
}

// Store persists snoozes in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create snooze dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snooze db: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snoozes (
			url TEXT PRIMARY KEY,
			snoozed_at INTEGER NOT NULL,
			until_at INTEGER
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to migrate snooze db: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Snooze hides url for d, or indefinitely when d is zero. Snoozing an
// already snoozed pull request replaces its deadline.
func (s *Store) Snooze(ctx context.Context, url string, d time.Duration) (Entry, error) {
	if url == "" {
		return Entry{}, errors.New("snooze: empty url")
	}
	if d < 0 {
		return Entry{}, fmt.Errorf("snooze: negative duration %s", d)
	}
	now := s.now()
	e := Entry{URL: url, SnoozedAt: now}
	var until sql.NullInt64
	if d > 0 {
		e.Until = now.Add(d)
		until = sql.NullInt64{Int64: e.Until.UnixMilli(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snoozes (url, snoozed_at, until_at)
		VALUES (?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			snoozed_at = excluded.snoozed_at,
			until_at = excluded.until_at
	`, url, now.UnixMilli(), until)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to snooze: %w", err)
	}
	slog.Info("Snoozed pull request", "component", "snooze", "url", url, "for", d)
	return e, nil
}

// Unsnooze removes url and reports whether it was snoozed.
func (s *Store) Unsnooze(ctx context.Context, url string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snoozes WHERE url = ?`, url)
	if err != nil {
		return false, fmt.Errorf("failed to unsnooze: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to unsnooze: %w", err)
	}
	return n > 0, nil
}

// List returns every entry, including expired ones, oldest snooze first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url, snoozed_at, until_at FROM snoozes ORDER BY snoozed_at, url`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snoozes: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Debug("Failed to close rows", "component", "snooze", "error", err)
		}
	}()

	var out []Entry
	for rows.Next() {
		var (
			url       string
			snoozedAt int64
			until     sql.NullInt64
		)
		if err := rows.Scan(&url, &snoozedAt, &until); err != nil {
			return nil, fmt.Errorf("failed to read snooze: %w", err)
		}
		e := Entry{URL: url, SnoozedAt: time.UnixMilli(snoozedAt)}
		if until.Valid {
			e.Until = time.UnixMilli(until.Int64)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list snoozes: %w", err)
	}
	return out, nil
}

// Snapshot returns the current entries as a Set.
func (s *Store) Snapshot(ctx context.Context) (Set, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	set := make(Set, len(entries))
	for _, e := range entries {
		set[e.URL] = e
	}
	return set, nil
}

// CleanExpired deletes timed snoozes whose deadline has passed.
func (s *Store) CleanExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snoozes WHERE until_at IS NOT NULL AND until_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to clean snoozes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to clean snoozes: %w", err)
	}
	if n > 0 {
		slog.Info("Removed expired snoozes", "component", "snooze", "removed", n)
	}
	return int(n), nil
}
