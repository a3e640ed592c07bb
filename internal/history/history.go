// Package history persists mission outcomes and risk attempts in SQLite
// and produces the aggregate snapshots the recommender consumes.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/thoretheking/Junosixteen-sub001/internal/guard"
	"github.com/thoretheking/Junosixteen-sub001/internal/logging"
	"github.com/thoretheking/Junosixteen-sub001/internal/types"
)

// recentWindow is how many of the latest mission scores feed the snapshot.
const recentWindow = 5

// Result is one finished mission.
type Result struct {
	UserID     string      `json:"user_id"`
	World      types.World `json:"world"`
	Score      float64     `json:"score"` // fraction of correct answers, 0..1
	Points     int         `json:"points"`
	Success    bool        `json:"success"`
	HelpUsed   bool        `json:"help_used"`
	Grade      types.Grade `json:"grade"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Store is the SQLite-backed history store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (and migrates) the history database. Use ":memory:" for an
// ephemeral store in tests.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryHistory, "open history store")
	defer timer.Stop()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}

	// Single connection keeps SQLite happy under concurrent use.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.History("history store ready at %s", path)
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS mission_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		world TEXT NOT NULL,
		score REAL NOT NULL,
		points INTEGER NOT NULL,
		success INTEGER NOT NULL,
		help_used INTEGER NOT NULL,
		grade TEXT NOT NULL,
		finished_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_mission_results_user
		ON mission_results(user_id, finished_at);

	CREATE TABLE IF NOT EXISTS risk_attempts (
		user_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		attempts_used INTEGER NOT NULL,
		max_attempts INTEGER NOT NULL,
		locked_until TIMESTAMP,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, question_id)
	);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return nil
}

// RecordResult stores a finished mission.
func (s *Store) RecordResult(ctx context.Context, r Result) error {
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mission_results (user_id, world, score, points, success, help_used, grade, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, string(r.World), r.Score, r.Points, boolToInt(r.Success), boolToInt(r.HelpUsed), string(r.Grade), r.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to record mission result: %w", err)
	}
	logging.History("recorded mission for %s: score=%.2f success=%v", r.UserID, r.Score, r.Success)
	return nil
}

// SaveAttempt upserts the guard state for a risk question.
func (s *Store) SaveAttempt(ctx context.Context, info *guard.AttemptInfo) error {
	if info == nil {
		return nil
	}
	var lockedUntil interface{}
	if info.LockUntil != nil {
		lockedUntil = *info.LockUntil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_attempts (user_id, question_id, attempts_used, max_attempts, locked_until, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, question_id) DO UPDATE SET
			attempts_used = excluded.attempts_used,
			max_attempts = excluded.max_attempts,
			locked_until = excluded.locked_until,
			updated_at = excluded.updated_at`,
		info.UserID, info.QuestionID, info.AttemptsUsed, info.MaxAttempts, lockedUntil, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save risk attempt: %w", err)
	}
	return nil
}

// Snapshot aggregates the user's mission history for the recommender.
// An empty history yields a zero snapshot, not an error.
func (s *Store) Snapshot(ctx context.Context, userID string) (types.HistorySnapshot, error) {
	timer := logging.StartTimer(logging.CategoryHistory, "history snapshot")
	defer timer.Stop()

	snap := types.HistorySnapshot{UserID: userID}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(success), 0), COALESCE(AVG(score), 0), COALESCE(AVG(help_used), 0)
		FROM mission_results WHERE user_id = ?`, userID)
	if err := row.Scan(&snap.Missions, &snap.SuccessRate, &snap.AvgScore, &snap.HelpRate); err != nil {
		return snap, fmt.Errorf("failed to aggregate history: %w", err)
	}
	if snap.Missions == 0 {
		return snap, nil
	}

	// Latest world, streak of consecutive successes, recent scores.
	rows, err := s.db.QueryContext(ctx, `
		SELECT world, score, success FROM mission_results
		WHERE user_id = ? ORDER BY finished_at DESC, id DESC`, userID)
	if err != nil {
		return snap, fmt.Errorf("failed to read history rows: %w", err)
	}
	defer rows.Close()

	streakBroken := false
	var recentNewestFirst []float64
	first := true
	for rows.Next() {
		var world string
		var score float64
		var success int
		if err := rows.Scan(&world, &score, &success); err != nil {
			return snap, fmt.Errorf("failed to scan history row: %w", err)
		}
		if first {
			snap.World = types.World(world)
			first = false
		}
		if !streakBroken {
			if success == 1 {
				snap.Streak++
			} else {
				streakBroken = true
			}
		}
		if len(recentNewestFirst) < recentWindow {
			recentNewestFirst = append(recentNewestFirst, score)
		}
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("failed to iterate history rows: %w", err)
	}

	// Oldest first for the trend check.
	snap.RecentScores = make([]float64, len(recentNewestFirst))
	for i, score := range recentNewestFirst {
		snap.RecentScores[len(recentNewestFirst)-1-i] = score
	}
	return snap, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
