// Package statsdb indexes streaming run metrics in SQLite for offline queries.
package statsdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"terracast.dev/internal/diag"
)

// SQLiteStats writes asynchronously through a single goroutine: callers never
// block on the database, and a full queue drops rows (the JSONL tick logs
// remain the source of truth).
type SQLiteStats struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqRun reqKind = iota + 1
	reqTick
)

type req struct {
	kind reqKind

	run  runRow
	tick tickRow
}

type runRow struct {
	RunID      string
	StartedAt  string
	Seed       int64
	TuningJSON string
}

type tickRow struct {
	RunID string
	Stats diag.StatsMsg
}

func OpenSQLite(path string) (*SQLiteStats, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStats{
		db: db,
		// Sized for a long run at high tick rates without stalling the owner loop.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			seed INTEGER NOT NULL,
			tuning_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			passes INTEGER NOT NULL,
			observer_x REAL NOT NULL,
			observer_z REAL NOT NULL,
			active_chunks INTEGER NOT NULL,
			visible_chunks INTEGER NOT NULL,
			rendered INTEGER NOT NULL,
			generated_total INTEGER NOT NULL,
			gen_failures INTEGER NOT NULL,
			uploads INTEGER NOT NULL,
			upload_failures INTEGER NOT NULL,
			inflight INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_run ON ticks(run_id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStats) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// StartRun records the run header. Tuning is stored as the JSON we actually
// applied, not the file on disk.
func (s *SQLiteStats) StartRun(runID string, seed int64, tuning any) {
	if s == nil || s.closed.Load() {
		return
	}
	b, _ := json.Marshal(tuning)
	r := runRow{
		RunID:      runID,
		StartedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		Seed:       seed,
		TuningJSON: string(b),
	}
	select {
	case s.ch <- req{kind: reqRun, run: r}:
	default:
	}
}

func (s *SQLiteStats) WriteTick(runID string, stats diag.StatsMsg) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqTick, tick: tickRow{RunID: runID, Stats: stats}}:
	default:
		// Drop if the indexer falls behind.
	}
}

// TickCount reports the number of indexed ticks for a run. Intended for
// post-run tooling; it queries the same single connection as the writer.
func (s *SQLiteStats) TickCount(runID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM ticks WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

func (s *SQLiteStats) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,started_at,seed,tuning_json) VALUES(?,?,?,?)`)
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(run_id,tick,passes,observer_x,observer_z,active_chunks,visible_chunks,rendered,generated_total,gen_failures,uploads,upload_failures,inflight,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertRun != nil {
			_ = insertRun.Close()
		}
		if insertTick != nil {
			_ = insertTick.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRun:
			if insertRun != nil {
				if _, err := tx.Stmt(insertRun).Exec(r.run.RunID, r.run.StartedAt, r.run.Seed, r.run.TuningJSON); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqTick:
			st := r.tick.Stats
			raw, _ := json.Marshal(st)
			if insertTick != nil {
				if _, err := tx.Stmt(insertTick).Exec(
					r.tick.RunID,
					int64(st.Tick),
					int64(st.Passes),
					st.ObserverX,
					st.ObserverZ,
					st.ActiveChunks,
					st.VisibleChunks,
					st.Rendered,
					int64(st.GeneratedTotal),
					int64(st.GenFailures),
					st.UploadsThisTick,
					int64(st.UploadFailures),
					st.InflightJobs,
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
