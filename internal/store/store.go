// Package store persists screening sessions and CRM sync marks in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/spigell/hh-screener/internal/ai"
	"github.com/spigell/hh-screener/internal/categorize"
	"github.com/spigell/hh-screener/internal/pipeline"
)

var ErrNotFound = errors.New("session not found")

// Fixed-width UTC timestamps keep created_at sortable as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db *sql.DB
}

// SessionInfo is a session header without its results.
type SessionInfo struct {
	ID         string
	CreatedAt  time.Time
	Thresholds categorize.Thresholds
	Results    int
}

// Open opens the database with WAL mode enabled and creates the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	reject REAL NOT NULL,
	accept REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
	session_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	document TEXT NOT NULL,
	probability REAL NOT NULL,
	category TEXT NOT NULL,
	class INTEGER NOT NULL,
	comment TEXT NOT NULL,
	red_flag INTEGER NOT NULL,
	profile TEXT NOT NULL,
	text TEXT NOT NULL,
	error TEXT NOT NULL,
	review TEXT,
	contact_id INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY(session_id, position),
	FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS synced (
	document TEXT PRIMARY KEY,
	contact_id INTEGER NOT NULL,
	synced_at TEXT NOT NULL
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// SaveSession writes the session and replaces all of its results.
func (s *Store) SaveSession(ctx context.Context, session *pipeline.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO sessions (id, created_at, reject, accept) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET reject = excluded.reject, accept = excluded.accept`,
		session.ID, session.CreatedAt.UTC().Format(timeLayout), session.Thresholds.Reject, session.Thresholds.Accept)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", session.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE session_id = ?`, session.ID); err != nil {
		return fmt.Errorf("clearing results of %s: %w", session.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO results (session_id, position, document, probability, category, class, comment, red_flag, profile, text, error, review, contact_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range session.Results {
		profile, err := json.Marshal(r.Profile)
		if err != nil {
			return err
		}

		var review sql.NullString
		if r.Review != nil {
			data, err := json.Marshal(r.Review)
			if err != nil {
				return err
			}
			review = sql.NullString{String: string(data), Valid: true}
		}

		_, err = stmt.ExecContext(ctx,
			session.ID, i, r.Document,
			r.Prediction.Probability, r.Prediction.Category.String(), r.Prediction.Class,
			r.Prediction.Comment, r.Prediction.RedFlag,
			string(profile), r.Text, r.Error, review, r.ContactID,
		)
		if err != nil {
			return fmt.Errorf("saving result %s: %w", r.Document, err)
		}
	}

	return tx.Commit()
}

// LoadSession reads a session by id; an empty id means the latest one.
func (s *Store) LoadSession(ctx context.Context, id string) (*pipeline.Session, error) {
	if id == "" {
		latest, err := s.LatestSessionID(ctx)
		if err != nil {
			return nil, err
		}
		id = latest
	}

	var (
		session   = &pipeline.Session{ID: id}
		createdAt string
	)

	err := s.db.QueryRowContext(ctx, `SELECT created_at, reject, accept FROM sessions WHERE id = ?`, id).
		Scan(&createdAt, &session.Thresholds.Reject, &session.Thresholds.Accept)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if session.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("session %s: bad created_at: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT document, probability, category, class, comment, red_flag, profile, text, error, review, contact_id
FROM results WHERE session_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", id, err)
		}
		session.Add(r)
	}

	return session, rows.Err()
}

func scanResult(rows *sql.Rows) (*pipeline.Result, error) {
	var (
		r        pipeline.Result
		category string
		profile  string
		review   sql.NullString
	)

	err := rows.Scan(&r.Document, &r.Prediction.Probability, &category, &r.Prediction.Class,
		&r.Prediction.Comment, &r.Prediction.RedFlag, &profile, &r.Text, &r.Error, &review, &r.ContactID)
	if err != nil {
		return nil, err
	}

	if r.Prediction.Category, err = categorize.ParseCategory(category); err != nil {
		return nil, fmt.Errorf("%s: %w", r.Document, err)
	}

	if err := json.Unmarshal([]byte(profile), &r.Profile); err != nil {
		return nil, fmt.Errorf("%s: profile: %w", r.Document, err)
	}

	if review.Valid {
		r.Review = &ai.Assessment{}
		if err := json.Unmarshal([]byte(review.String), r.Review); err != nil {
			return nil, fmt.Errorf("%s: review: %w", r.Document, err)
		}
	}

	return &r, nil
}

func (s *Store) LatestSessionID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM sessions ORDER BY created_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: no sessions stored", ErrNotFound)
	}
	return id, err
}

// Sessions lists session headers, newest first.
func (s *Store) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.id, s.created_at, s.reject, s.accept, COUNT(r.document)
FROM sessions s LEFT JOIN results r ON r.session_id = s.id
GROUP BY s.id ORDER BY s.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var (
			info      SessionInfo
			createdAt string
		)
		if err := rows.Scan(&info.ID, &createdAt, &info.Thresholds.Reject, &info.Thresholds.Accept, &info.Results); err != nil {
			return nil, err
		}
		if info.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("session %s: bad created_at: %w", info.ID, err)
		}
		sessions = append(sessions, info)
	}

	return sessions, rows.Err()
}

// MarkSynced records the CRM contact created for a document.
func (s *Store) MarkSynced(ctx context.Context, sessionID, document string, contactID int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE results SET contact_id = ? WHERE session_id = ? AND document = ?`,
		contactID, sessionID, document); err != nil {
		return fmt.Errorf("marking %s synced: %w", document, err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO synced (document, contact_id, synced_at) VALUES (?, ?, ?)
ON CONFLICT(document) DO UPDATE SET contact_id = excluded.contact_id, synced_at = excluded.synced_at`,
		document, contactID, time.Now().UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("marking %s synced: %w", document, err)
	}

	return tx.Commit()
}

// SyncedDocuments returns the contact id of every document pushed to the CRM
// in any session.
func (s *Store) SyncedDocuments(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document, contact_id FROM synced`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	synced := make(map[string]int)
	for rows.Next() {
		var (
			document string
			id       int
		)
		if err := rows.Scan(&document, &id); err != nil {
			return nil, err
		}
		synced[document] = id
	}

	return synced, rows.Err()
}
