// Package visibility selects which generated chunks are live for rendering
// and bounds how many can be visible at once.
package visibility

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"terracast.dev/internal/terrain/chunk"
)

type Filter struct {
	// MaxVisible caps the visible set; when exceeded only the closest
	// chunks remain.
	MaxVisible int
	// FOVDegrees enables a view-cone test when > 0 and a view direction is
	// supplied. Chunks behind the cone (beyond their own bounding radius)
	// are culled.
	FOVDegrees float32
}

// Select returns the visible candidates among chunks, sorted by ascending
// distance to observer (front-to-back). Chunks beyond the cap are simply not
// visible; they stay cached in the store.
func (f *Filter) Select(chunks []*chunk.Chunk, observer, viewDir mgl32.Vec3, viewDistance float32) []*chunk.Chunk {
	type candidate struct {
		c *chunk.Chunk
		d float32
	}
	useCone := f.FOVDegrees > 0 && (viewDir.X() != 0 || viewDir.Z() != 0)
	var cosHalf float32
	var dir mgl32.Vec3
	if useCone {
		cosHalf = float32(math.Cos(float64(f.FOVDegrees) * math.Pi / 360))
		dir = mgl32.Vec3{viewDir.X(), 0, viewDir.Z()}.Normalize()
	}

	cands := make([]candidate, 0, len(chunks))
	for _, c := range chunks {
		st := c.State()
		if st != chunk.Generated && st != chunk.BuffersReady {
			continue
		}
		d := c.DistanceTo(observer)
		radius := c.Size * math.Sqrt2 / 2
		if d-radius > viewDistance {
			continue
		}
		if useCone && d > radius {
			to := c.Center().Sub(mgl32.Vec3{observer.X(), 0, observer.Z()}).Normalize()
			if dir.Dot(to) < cosHalf {
				continue
			}
		}
		cands = append(cands, candidate{c: c, d: d})
	}

	sort.Slice(cands, func(i, j int) bool { return cands[i].d < cands[j].d })
	if f.MaxVisible > 0 && len(cands) > f.MaxVisible {
		cands = cands[:f.MaxVisible]
	}

	out := make([]*chunk.Chunk, len(cands))
	for i, cd := range cands {
		out[i] = cd.c
	}
	return out
}
