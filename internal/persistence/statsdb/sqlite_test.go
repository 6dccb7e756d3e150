package statsdb

import (
	"path/filepath"
	"testing"

	"terracast.dev/internal/diag"
)

func TestSQLiteStats_WriteAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats", "run.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.StartRun("run-1", 1337, map[string]int{"chunk_size": 64})
	for tick := uint64(1); tick <= 50; tick++ {
		s.WriteTick("run-1", diag.StatsMsg{Type: "STATS", Tick: tick, ActiveChunks: 12, Rendered: 4})
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen and query: everything queued before Close must be committed.
	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	n, err := s2.TickCount("run-1")
	if err != nil {
		t.Fatalf("tick count: %v", err)
	}
	if n != 50 {
		t.Fatalf("TickCount=%d want=50", n)
	}

	var seed int64
	if err := s2.db.QueryRow(`SELECT seed FROM runs WHERE run_id = 'run-1'`).Scan(&seed); err != nil {
		t.Fatalf("query run: %v", err)
	}
	if seed != 1337 {
		t.Fatalf("seed=%d want=1337", seed)
	}
}

func TestSQLiteStats_DropsWhenQueueFull(t *testing.T) {
	s := &SQLiteStats{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick}

	// Queue is full; these must not block.
	s.WriteTick("run-1", diag.StatsMsg{Tick: 2})
	s.StartRun("run-1", 1, nil)

	if len(s.ch) != 1 {
		t.Fatalf("queue depth=%d want=1", len(s.ch))
	}
}

func TestSQLiteStats_WriteAfterCloseIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	s.WriteTick("run-1", diag.StatsMsg{Tick: 1}) // must not panic on closed channel
}

func TestOpenSQLiteRejectsEmptyPath(t *testing.T) {
	if _, err := OpenSQLite(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
