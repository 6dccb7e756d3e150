package chunk

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"terracast.dev/internal/terrain/heightfield"
)

type flatGen struct{ h float32 }

func (g flatGen) Height(x, z float32) float32 { return g.h }
func (g flatGen) Close()                      {}

type slopeGen struct{}

func (slopeGen) Height(x, z float32) float32 { return x * 0.5 }
func (slopeGen) Close()                      {}

func TestBuildGridShape(t *testing.T) {
	m, minH, maxH, err := Build(flatGen{h: 7}, 0, 0, 64, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	n := m.VertsPerSide
	if n != BaseVertsPerSide {
		t.Fatalf("lod 0 side = %d, want %d", n, BaseVertsPerSide)
	}
	if m.VertexCount() != n*n {
		t.Fatalf("vertex count = %d, want %d", m.VertexCount(), n*n)
	}
	if len(m.Indices) != (n-1)*(n-1)*6 {
		t.Fatalf("index count = %d, want %d", len(m.Indices), (n-1)*(n-1)*6)
	}
	if minH != 7 || maxH != 7 {
		t.Fatalf("flat bounds = [%v,%v], want [7,7]", minH, maxH)
	}
	for _, i := range m.Indices {
		if int(i) >= m.VertexCount() {
			t.Fatalf("index %d out of range", i)
		}
	}
}

func TestBuildCoarserLODHasFewerVertices(t *testing.T) {
	prev := -1
	for lod := 0; lod <= 5; lod++ {
		m, _, _, err := Build(flatGen{}, 0, 0, 64, lod)
		if err != nil {
			t.Fatalf("lod %d: %v", lod, err)
		}
		if prev > 0 && m.VertexCount() > prev {
			t.Fatalf("lod %d has %d vertices, more than lod %d's %d", lod, m.VertexCount(), lod-1, prev)
		}
		prev = m.VertexCount()
	}
	m, _, _, _ := Build(flatGen{}, 0, 0, 64, 50)
	if m.VertsPerSide < 2 {
		t.Fatalf("extreme lod collapsed below a single quad: %d", m.VertsPerSide)
	}
}

func TestChunkHeightAtBilinear(t *testing.T) {
	c := New(Key{GridX: 0, GridZ: 0, LOD: 0}, mgl32.Vec3{0, 0, 0}, 64)
	m, minH, maxH, err := Build(slopeGen{}, 0, 0, 64, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	c.SetGenerated(m, minH, maxH)

	h, ok := c.HeightAt(32, 16)
	if !ok {
		t.Fatalf("point inside chunk not sampled")
	}
	if h < 15.9 || h > 16.1 {
		t.Fatalf("slope height at x=32: got %v, want ~16", h)
	}

	if _, ok := c.HeightAt(65, 0); ok {
		t.Fatalf("point outside chunk should not sample")
	}
}

func TestHeightAtWithoutPayload(t *testing.T) {
	c := New(Key{}, mgl32.Vec3{}, 64)
	if _, ok := c.HeightAt(1, 1); ok {
		t.Fatalf("chunk without payload must report no height")
	}
}

func TestBuildRejectsNonFiniteGenerator(t *testing.T) {
	_, _, _, err := Build(nanGen{}, 0, 0, 64, 2)
	if err == nil {
		t.Fatalf("expected error for non-finite height")
	}
}

type nanGen struct{}

func (nanGen) Height(x, z float32) float32 { return float32(nan()) }
func (nanGen) Close()                      {}

func nan() float64 { v := 0.0; return v / v }

var _ heightfield.Generator = flatGen{}
