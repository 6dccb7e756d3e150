package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"terracast.dev/internal/diag"
)

func readJSONLZst(t *testing.T, path string) []diag.StatsMsg {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()

	var out []diag.StatsMsg
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var m diag.StatsMsg
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		out = append(out, m)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestTickStatsLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewTickStatsLogger(dir)

	for tick := uint64(1); tick <= 3; tick++ {
		if err := l.WriteTick(diag.StatsMsg{Type: "STATS", Tick: tick, ActiveChunks: int(tick) * 10}); err != nil {
			t.Fatalf("write tick %d: %v", tick, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "ticks", "ticks-*.jsonl.zst"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one log file, got %v (err %v)", files, err)
	}
	got := readJSONLZst(t, files[0])
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, m := range got {
		if m.Tick != uint64(i+1) || m.ActiveChunks != (i+1)*10 {
			t.Fatalf("entry %d mismatch: %+v", i, m)
		}
	}
}

func TestJSONLZstdWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "ticks")
	defer w.Close()

	clock := time.Date(2026, 8, 29, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	if err := w.Write(diag.StatsMsg{Type: "STATS", Tick: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock = clock.Add(2 * time.Minute) // crosses into the next hour
	if err := w.Write(diag.StatsMsg{Type: "STATS", Tick: 2}); err != nil {
		t.Fatalf("write after rotation: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "ticks-*.jsonl.zst"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 rotated files, got %v", files)
	}
}
