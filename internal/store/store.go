// Package store persists per-track practice settings and completed cycles
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/google/uuid"

	"github.com/icco/abcd/internal/practice"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store wraps SQLite access.
type Store struct {
	db *sql.DB
}

// TrackState is the saved state of one track.
type TrackState struct {
	ID              string
	Name            string
	LoopStart       float64
	LoopEnd         float64
	UseFullTrack    bool
	Duration        float64
	BPMOriginal     float64
	BPMCurrent      float64
	FirstBeatOffset float64
	ManualOffsetMs  float64
	Semitones       float64
	Phases          practice.Phases
	UpdatedAt       time.Time
}

// Session is one completed practice cycle.
type Session struct {
	ID         int64
	TrackID    string
	StartedAt  time.Time
	FinishedAt time.Time
	BPM        float64
	Phases     practice.Phases
}

// TrackID derives a stable identifier from the file contents, so the same
// audio gets its settings back under any file name.
func TrackID(raw []byte) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, raw).String()
}

// Open opens or creates the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fault.Wrap(err, fmsg.With("create store directory"))
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("open store"))
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fault.Wrap(err, fmsg.With("migrate store"))
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tracks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			loop_start REAL NOT NULL,
			loop_end REAL NOT NULL,
			use_full_track INTEGER NOT NULL,
			duration REAL NOT NULL,
			bpm_original REAL NOT NULL,
			bpm_current REAL NOT NULL,
			first_beat_offset REAL NOT NULL,
			manual_offset_ms REAL NOT NULL,
			semitones REAL NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS phase_configs (
			track_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			repetitions INTEGER NOT NULL,
			speed_percent INTEGER NOT NULL,
			PRIMARY KEY (track_id, phase)
		);`,
		`CREATE TABLE IF NOT EXISTS practice_sessions (
			id INTEGER PRIMARY KEY,
			track_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			bpm REAL NOT NULL,
			reps_a INTEGER NOT NULL,
			reps_b INTEGER NOT NULL,
			reps_c INTEGER NOT NULL,
			reps_d INTEGER NOT NULL,
			speed_a INTEGER NOT NULL,
			speed_b INTEGER NOT NULL,
			speed_c INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_practice_sessions_track ON practice_sessions(track_id, finished_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveTrack inserts or replaces the saved state of a track.
func (s *Store) SaveTrack(ctx context.Context, t TrackState) (err error) {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fault.Wrap(err, fmsg.With("begin save"))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tracks (id, name, loop_start, loop_end, use_full_track, duration, bpm_original, bpm_current, first_beat_offset, manual_offset_ms, semitones, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			loop_start = excluded.loop_start,
			loop_end = excluded.loop_end,
			use_full_track = excluded.use_full_track,
			duration = excluded.duration,
			bpm_original = excluded.bpm_original,
			bpm_current = excluded.bpm_current,
			first_beat_offset = excluded.first_beat_offset,
			manual_offset_ms = excluded.manual_offset_ms,
			semitones = excluded.semitones,
			updated_at = excluded.updated_at`,
		t.ID, t.Name, t.LoopStart, t.LoopEnd, boolInt(t.UseFullTrack), t.Duration,
		t.BPMOriginal, t.BPMCurrent, t.FirstBeatOffset, t.ManualOffsetMs, t.Semitones,
		t.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fault.Wrap(err, fmsg.With("save track"))
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO phase_configs (track_id, phase, repetitions, speed_percent) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fault.Wrap(err, fmsg.With("prepare phase save"))
	}
	defer func() { _ = stmt.Close() }()
	for _, c := range t.Phases {
		if _, err = stmt.ExecContext(ctx, t.ID, c.Key.String(), c.Repetitions, c.SpeedPercent); err != nil {
			return fault.Wrap(err, fmsg.With("save phase"))
		}
	}

	if err = tx.Commit(); err != nil {
		return fault.Wrap(err, fmsg.With("commit save"))
	}
	return nil
}

// LoadTrack returns the saved state for id. ok is false when nothing is saved.
func (s *Store) LoadTrack(ctx context.Context, id string) (t TrackState, ok bool, err error) {
	var (
		full      int
		updatedAt string
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT id, name, loop_start, loop_end, use_full_track, duration, bpm_original, bpm_current, first_beat_offset, manual_offset_ms, semitones, updated_at
		 FROM tracks WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.LoopStart, &t.LoopEnd, &full, &t.Duration,
		&t.BPMOriginal, &t.BPMCurrent, &t.FirstBeatOffset, &t.ManualOffsetMs, &t.Semitones, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return TrackState{}, false, nil
	}
	if err != nil {
		return TrackState{}, false, fault.Wrap(err, fmsg.With("load track"))
	}
	t.UseFullTrack = full != 0
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return TrackState{}, false, fault.Wrap(err, fmsg.With("parse updated_at"))
	}

	t.Phases = practice.DefaultPhases()
	rows, err := s.db.QueryContext(ctx,
		`SELECT phase, repetitions, speed_percent FROM phase_configs WHERE track_id = ?`, id)
	if err != nil {
		return TrackState{}, false, fault.Wrap(err, fmsg.With("load phases"))
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			name      string
			reps, spd int
		)
		if err := rows.Scan(&name, &reps, &spd); err != nil {
			return TrackState{}, false, fault.Wrap(err, fmsg.With("scan phase"))
		}
		key, err := practice.ParsePhaseKey(name)
		if err != nil {
			continue
		}
		t.Phases[key] = practice.PhaseConfig{Key: key, Repetitions: reps, SpeedPercent: spd}
	}
	if err := rows.Err(); err != nil {
		return TrackState{}, false, fault.Wrap(err, fmsg.With("load phases"))
	}
	t.Phases = t.Phases.Normalize()
	return t, true, nil
}

// InsertSession records a completed cycle and returns its id.
func (s *Store) InsertSession(ctx context.Context, sess Session) (int64, error) {
	p := sess.Phases
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO practice_sessions (track_id, started_at, finished_at, bpm, reps_a, reps_b, reps_c, reps_d, speed_a, speed_b, speed_c)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.TrackID,
		sess.StartedAt.Format(time.RFC3339Nano),
		sess.FinishedAt.Format(time.RFC3339Nano),
		sess.BPM,
		p[practice.PhaseA].Repetitions, p[practice.PhaseB].Repetitions,
		p[practice.PhaseC].Repetitions, p[practice.PhaseD].Repetitions,
		p[practice.PhaseA].SpeedPercent, p[practice.PhaseB].SpeedPercent, p[practice.PhaseC].SpeedPercent,
	)
	if err != nil {
		return 0, fault.Wrap(err, fmsg.With("insert session"))
	}
	return res.LastInsertId()
}

// ListSessions returns the most recent sessions for a track, newest first.
func (s *Store) ListSessions(ctx context.Context, trackID string, limit int) ([]Session, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, track_id, started_at, finished_at, bpm, reps_a, reps_b, reps_c, reps_d, speed_a, speed_b, speed_c
		 FROM practice_sessions
		 WHERE track_id = ?
		 ORDER BY finished_at DESC, id DESC
		 LIMIT ?`, trackID, limit)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("list sessions"))
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		var (
			sess              Session
			started, finished string
		)
		p := practice.DefaultPhases()
		if err := rows.Scan(&sess.ID, &sess.TrackID, &started, &finished, &sess.BPM,
			&p[practice.PhaseA].Repetitions, &p[practice.PhaseB].Repetitions,
			&p[practice.PhaseC].Repetitions, &p[practice.PhaseD].Repetitions,
			&p[practice.PhaseA].SpeedPercent, &p[practice.PhaseB].SpeedPercent, &p[practice.PhaseC].SpeedPercent,
		); err != nil {
			return nil, fault.Wrap(err, fmsg.With("scan session"))
		}
		if sess.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, err
		}
		if sess.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, err
		}
		sess.Phases = p
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(err, fmsg.With("list sessions"))
	}
	return sessions, nil
}

// FromEvent converts an engine notification into a saved state.
func FromEvent(ev practice.StateChanged) TrackState {
	return TrackState{
		ID:              ev.TrackID,
		Name:            ev.TrackName,
		LoopStart:       ev.LoopStart,
		LoopEnd:         ev.LoopEnd,
		UseFullTrack:    ev.UseFullTrack,
		Duration:        ev.Duration,
		BPMOriginal:     ev.Tempo.Original,
		BPMCurrent:      ev.Tempo.Current,
		FirstBeatOffset: ev.Tempo.FirstBeatOffset,
		ManualOffsetMs:  ev.Tempo.ManualOffsetMs,
		Semitones:       ev.Semitones,
		Phases:          ev.Phases,
	}
}

// Settings returns the engine settings to restore.
func (t TrackState) Settings() practice.Settings {
	return practice.Settings{
		LoopStart:      t.LoopStart,
		LoopEnd:        t.LoopEnd,
		UseFullTrack:   t.UseFullTrack,
		BPM:            t.BPMCurrent,
		ManualOffsetMs: t.ManualOffsetMs,
		Phases:         t.Phases,
		Semitones:      t.Semitones,
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
