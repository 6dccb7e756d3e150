// Package spatial provides the static quadtree that enumerates which terrain
// tiles are needed around an observer and assigns each a level of detail.
package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// node is one cell of the static subdivision. Either a leaf or exactly four
// children that partition its area with no gaps and no overlaps.
type node struct {
	centerX, centerZ float32
	halfSize         float32
	depth            int
	child            [4]*node
}

func (n *node) leaf() bool { return n.child[0] == nil }

// boundingRadius is the distance from the cell center to a corner.
func (n *node) boundingRadius() float32 {
	return n.halfSize * math.Sqrt2
}

// LeafFunc receives one needed tile: world-space min-corner origin, edge
// length and LOD level.
type LeafFunc func(origin mgl32.Vec3, size float32, lod int)

// Index is a quadtree over a square world extent centered at the origin.
// Subdivision is built once at construction and never rebuilt.
type Index struct {
	root      *node
	chunkSize float32
	maxLOD    int
	lodBands  []float32
}

// Config for the index. WorldSize is halved per level until leaf size equals
// ChunkSize (or MaxDepth stops it). LODBands are ascending distance
// thresholds; distances beyond the last band get MaxLOD.
type Config struct {
	WorldSize float32
	ChunkSize float32
	MaxDepth  int
	MaxLOD    int
	LODBands  []float32
}

func DefaultConfig() Config {
	return Config{
		WorldSize: 8192,
		ChunkSize: 64,
		MaxDepth:  12,
		MaxLOD:    4,
		LODBands:  []float32{50, 100, 200, 300},
	}
}

func New(cfg Config) *Index {
	d := DefaultConfig()
	if cfg.WorldSize <= 0 {
		cfg.WorldSize = d.WorldSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = d.ChunkSize
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = d.MaxDepth
	}
	if cfg.MaxLOD < 0 {
		cfg.MaxLOD = d.MaxLOD
	}
	if len(cfg.LODBands) == 0 {
		cfg.LODBands = d.LODBands
	}
	ix := &Index{
		chunkSize: cfg.ChunkSize,
		maxLOD:    cfg.MaxLOD,
		lodBands:  append([]float32(nil), cfg.LODBands...),
	}
	ix.root = ix.build(0, 0, cfg.WorldSize/2, 0, cfg.MaxDepth)
	return ix
}

func (ix *Index) build(cx, cz, half float32, depth, maxDepth int) *node {
	n := &node{centerX: cx, centerZ: cz, halfSize: half, depth: depth}
	if half*2 <= ix.chunkSize || depth >= maxDepth {
		return n
	}
	q := half / 2
	n.child[0] = ix.build(cx-q, cz-q, q, depth+1, maxDepth)
	n.child[1] = ix.build(cx+q, cz-q, q, depth+1, maxDepth)
	n.child[2] = ix.build(cx-q, cz+q, q, depth+1, maxDepth)
	n.child[3] = ix.build(cx+q, cz+q, q, depth+1, maxDepth)
	return n
}

// ChunkSize returns the leaf edge length.
func (ix *Index) ChunkSize() float32 { return ix.chunkSize }

// MaxLOD returns the coarsest LOD level the index assigns.
func (ix *Index) MaxLOD() int { return ix.maxLOD }

// LODForDistance maps a distance to a LOD level. Monotonically
// non-decreasing: farther never means finer.
func (ix *Index) LODForDistance(d float32) int {
	for i, band := range ix.lodBands {
		if d < band {
			if i > ix.maxLOD {
				return ix.maxLOD
			}
			return i
		}
	}
	if len(ix.lodBands) > ix.maxLOD {
		return ix.maxLOD
	}
	return len(ix.lodBands)
}

// Query visits every leaf whose minimum possible distance to pos (center
// distance minus bounding radius) is at most viewDistance, calling onLeaf
// exactly once per qualifying leaf with the distance-derived LOD.
func (ix *Index) Query(pos mgl32.Vec3, viewDistance float32, onLeaf LeafFunc) {
	ix.visit(ix.root, pos, viewDistance, 0, onLeaf)
}

// QueryPredictive runs the identical traversal at a projected position but
// forces LOD one step coarser (clamped to MaxLOD). It pre-warms generation
// ahead of observer motion and never replaces the authoritative pass.
func (ix *Index) QueryPredictive(projected mgl32.Vec3, viewDistance float32, onLeaf LeafFunc) {
	ix.visit(ix.root, projected, viewDistance, 1, onLeaf)
}

func (ix *Index) visit(n *node, pos mgl32.Vec3, viewDistance float32, lodBias int, onLeaf LeafFunc) {
	dx := float64(n.centerX - pos.X())
	dz := float64(n.centerZ - pos.Z())
	centerDist := float32(math.Sqrt(dx*dx + dz*dz))
	if centerDist-n.boundingRadius() > viewDistance {
		return
	}
	if n.leaf() {
		lod := ix.LODForDistance(centerDist) + lodBias
		if lod > ix.maxLOD {
			lod = ix.maxLOD
		}
		origin := mgl32.Vec3{n.centerX - n.halfSize, 0, n.centerZ - n.halfSize}
		onLeaf(origin, n.halfSize*2, lod)
		return
	}
	for i := 0; i < 4; i++ {
		ix.visit(n.child[i], pos, viewDistance, lodBias, onLeaf)
	}
}
