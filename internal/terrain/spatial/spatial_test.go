package spatial

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func testConfig() Config {
	return Config{
		WorldSize: 1024,
		ChunkSize: 64,
		MaxDepth:  8,
		MaxLOD:    4,
		LODBands:  []float32{50, 100, 200, 300},
	}
}

func TestQueryVisitsEachLeafOnce(t *testing.T) {
	ix := New(testConfig())
	seen := map[[2]float32]int{}
	ix.Query(mgl32.Vec3{0, 0, 0}, 200, func(origin mgl32.Vec3, size float32, lod int) {
		if size != 64 {
			t.Fatalf("leaf size = %v, want 64", size)
		}
		seen[[2]float32{origin.X(), origin.Z()}]++
	})
	if len(seen) == 0 {
		t.Fatalf("query visited no leaves")
	}
	for k, n := range seen {
		if n != 1 {
			t.Fatalf("leaf %v visited %d times", k, n)
		}
	}
}

func TestPartitionCompleteness(t *testing.T) {
	ix := New(testConfig())
	// Every probe point well inside the queried region must fall in exactly
	// one visited leaf.
	probes := [][2]float32{{0, 0}, {10, 10}, {-100, 35}, {120, -120}, {-63.5, -0.5}}
	for _, p := range probes {
		containing := 0
		ix.Query(mgl32.Vec3{p[0], 0, p[1]}, 150, func(origin mgl32.Vec3, size float32, lod int) {
			if p[0] >= origin.X() && p[0] < origin.X()+size &&
				p[1] >= origin.Z() && p[1] < origin.Z()+size {
				containing++
			}
		})
		if containing != 1 {
			t.Fatalf("probe %v contained in %d leaves, want 1", p, containing)
		}
	}
}

func TestLODMonotonicity(t *testing.T) {
	ix := New(testConfig())
	prev := -1
	for d := float32(0); d < 600; d += 5 {
		lod := ix.LODForDistance(d)
		if lod < prev {
			t.Fatalf("lod decreased with distance: %d at %v after %d", lod, d, prev)
		}
		prev = lod
	}
	if got := ix.LODForDistance(10); got != 0 {
		t.Fatalf("near lod = %d, want 0", got)
	}
	if got := ix.LODForDistance(1e6); got != 4 {
		t.Fatalf("far lod = %d, want max 4", got)
	}
}

func TestQueryRangeBound(t *testing.T) {
	ix := New(testConfig())
	const vd = 128
	obs := mgl32.Vec3{32, 0, 32}
	ix.Query(obs, vd, func(origin mgl32.Vec3, size float32, lod int) {
		// Closest point of the leaf to the observer must be within range.
		cx := clamp(obs.X(), origin.X(), origin.X()+size)
		cz := clamp(obs.Z(), origin.Z(), origin.Z()+size)
		dx := cx - obs.X()
		dz := cz - obs.Z()
		// The traversal prunes on center distance minus bounding radius, a
		// conservative bound, so allow the corner slack.
		if dx*dx+dz*dz > (vd+size)*(vd+size) {
			t.Fatalf("leaf at %v,%v far outside range", origin.X(), origin.Z())
		}
	})
}

func TestPredictiveForcesCoarserLOD(t *testing.T) {
	ix := New(testConfig())
	authoritative := map[[2]float32]int{}
	ix.Query(mgl32.Vec3{0, 0, 0}, 256, func(origin mgl32.Vec3, size float32, lod int) {
		authoritative[[2]float32{origin.X(), origin.Z()}] = lod
	})
	ix.QueryPredictive(mgl32.Vec3{0, 0, 0}, 256, func(origin mgl32.Vec3, size float32, lod int) {
		k := [2]float32{origin.X(), origin.Z()}
		want := authoritative[k] + 1
		if want > 4 {
			want = 4
		}
		if lod != want {
			t.Fatalf("predictive lod at %v = %d, want %d", k, lod, want)
		}
	})
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
