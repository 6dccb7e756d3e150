package chunk

import (
	"fmt"
	"math"

	"terracast.dev/internal/terrain/heightfield"
)

// VertexStride is the float count per vertex: position (3), uv (2),
// normal (3), color (3).
const VertexStride = 11

// BaseVertsPerSide is the vertex grid side length at LOD 0. Each LOD level
// halves the quad count per side.
const BaseVertsPerSide = 33

// MeshData is the CPU-side geometry payload of one chunk: an interleaved
// vertex buffer and a triangle index list.
type MeshData struct {
	Vertices     []float32
	Indices      []uint32
	VertsPerSide int
}

func (m *MeshData) heightAtVertex(i, j int) float32 {
	return m.Vertices[(j*m.VertsPerSide+i)*VertexStride+1]
}

// VertexCount returns the number of vertices in the buffer.
func (m *MeshData) VertexCount() int { return len(m.Vertices) / VertexStride }

// vertsForLOD returns the grid side length for a LOD level: 33, 17, 9, 5, 3,
// never below 2.
func vertsForLOD(lod int) int {
	quads := (BaseVertsPerSide - 1) >> uint(lod)
	if quads < 1 {
		quads = 1
	}
	return quads + 1
}

// Build samples gen over a size×size tile at originX/originZ and assembles
// the grid mesh for the given LOD. It returns the mesh and the min/max
// sampled heights. Pure computation; safe to run on a worker.
func Build(gen heightfield.Generator, originX, originZ, size float32, lod int) (*MeshData, float32, float32, error) {
	n := vertsForLOD(lod)
	step := size / float32(n-1)

	verts := make([]float32, 0, n*n*VertexStride)
	minH := float32(math.Inf(1))
	maxH := float32(math.Inf(-1))

	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			wx := originX + float32(i)*step
			wz := originZ + float32(j)*step
			h := gen.Height(wx, wz)
			if math.IsNaN(float64(h)) || math.IsInf(float64(h), 0) {
				return nil, 0, 0, fmt.Errorf("chunk: non-finite height %v at (%v,%v)", h, wx, wz)
			}
			if h < minH {
				minH = h
			}
			if h > maxH {
				maxH = h
			}

			nx, ny, nz := surfaceNormal(gen, wx, wz, step)
			r, g, b := heightColor(h)

			verts = append(verts,
				wx, h, wz,
				float32(i)/float32(n-1), float32(j)/float32(n-1),
				nx, ny, nz,
				r, g, b,
			)
		}
	}

	idx := make([]uint32, 0, (n-1)*(n-1)*6)
	for j := 0; j < n-1; j++ {
		for i := 0; i < n-1; i++ {
			i0 := uint32(j*n + i)
			i1 := i0 + 1
			i2 := i0 + uint32(n)
			i3 := i2 + 1
			idx = append(idx, i0, i2, i1, i1, i2, i3)
		}
	}

	return &MeshData{Vertices: verts, Indices: idx, VertsPerSide: n}, minH, maxH, nil
}

// surfaceNormal estimates the normal by central differences of the height
// field at grid spacing.
func surfaceNormal(gen heightfield.Generator, x, z, step float32) (float32, float32, float32) {
	dx := gen.Height(x+step, z) - gen.Height(x-step, z)
	dz := gen.Height(x, z+step) - gen.Height(x, z-step)
	nx := -dx
	ny := 2 * step
	nz := -dz
	l := float32(math.Sqrt(float64(nx*nx + ny*ny + nz*nz)))
	if l == 0 {
		return 0, 1, 0
	}
	return nx / l, ny / l, nz / l
}

func heightColor(h float32) (float32, float32, float32) {
	switch {
	case h < -8:
		return 0.76, 0.70, 0.50 // sand
	case h < 20:
		return 0.30, 0.55, 0.25 // grass
	case h < 38:
		return 0.45, 0.42, 0.40 // rock
	default:
		return 0.92, 0.92, 0.95 // snow
	}
}
