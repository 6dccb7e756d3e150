// Package chunk holds the terrain tile type and its lifecycle state machine.
package chunk

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"terracast.dev/internal/terrain/device"
)

// Key uniquely identifies one chunk. Keys differing only in LOD identify
// distinct chunks: adjacent LOD rings may overlap during transitions instead
// of re-tessellating in place.
type Key struct {
	GridX int
	GridZ int
	LOD   int
}

type State int32

const (
	Requested State = iota
	Generating
	Generated
	BuffersReady
	Evicted
)

func (s State) String() string {
	switch s {
	case Requested:
		return "requested"
	case Generating:
		return "generating"
	case Generated:
		return "generated"
	case BuffersReady:
		return "buffers_ready"
	case Evicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Chunk is one terrain tile. The mesh payload is written exactly once by a
// generation worker and read thereafter only by the owner loop; the device
// handle is touched only by the owner loop.
type Chunk struct {
	Key    Key
	Origin mgl32.Vec3 // min-corner, world space (Y always 0)
	Size   float32

	state atomic.Int32

	// Set by the generation worker before the state flips to Generated.
	mesh *MeshData
	minH float32
	maxH float32

	handle    device.MeshHandle
	hasHandle bool

	uploadFails int
	nextUpload  time.Time
}

func New(key Key, origin mgl32.Vec3, size float32) *Chunk {
	return &Chunk{Key: key, Origin: origin, Size: size}
}

func (c *Chunk) State() State     { return State(c.state.Load()) }
func (c *Chunk) SetState(s State) { c.state.Store(int32(s)) }
func (c *Chunk) Is(s State) bool  { return c.State() == s }

// Center returns the chunk's world-space center column as a copy.
func (c *Chunk) Center() mgl32.Vec3 {
	half := c.Size / 2
	return mgl32.Vec3{c.Origin.X() + half, 0, c.Origin.Z() + half}
}

// DistanceTo returns the horizontal distance from the chunk center to pos.
func (c *Chunk) DistanceTo(pos mgl32.Vec3) float32 {
	ctr := c.Center()
	dx := ctr.X() - pos.X()
	dz := ctr.Z() - pos.Z()
	return float32(math.Sqrt(float64(dx*dx + dz*dz)))
}

// SetGenerated installs the worker-produced payload. Must be followed by a
// handoff to the owner loop; the worker must not touch the chunk afterwards.
func (c *Chunk) SetGenerated(m *MeshData, minH, maxH float32) {
	c.mesh = m
	c.minH = minH
	c.maxH = maxH
	c.state.Store(int32(Generated))
}

// Mesh returns the payload, or nil before generation completes.
func (c *Chunk) Mesh() *MeshData { return c.mesh }

// HeightBounds returns the min/max heights sampled during generation.
func (c *Chunk) HeightBounds() (minH, maxH float32) { return c.minH, c.maxH }

// Handle returns the device resource handle, valid only in BuffersReady.
func (c *Chunk) Handle() (device.MeshHandle, bool) { return c.handle, c.hasHandle }

func (c *Chunk) SetHandle(h device.MeshHandle) {
	c.handle = h
	c.hasHandle = true
	c.state.Store(int32(BuffersReady))
}

// ClearHandle drops the handle reference after the owner released it.
func (c *Chunk) ClearHandle() {
	c.handle = 0
	c.hasHandle = false
}

// UploadAllowed reports whether an upload attempt is allowed at now.
// Failed attempts back off exponentially so one failing chunk cannot starve
// the per-tick upload budget.
func (c *Chunk) UploadAllowed(now time.Time) bool {
	return c.uploadFails == 0 || now.After(c.nextUpload)
}

func (c *Chunk) RecordUploadFailure(now time.Time, base time.Duration) {
	c.uploadFails++
	backoff := base << uint(c.uploadFails-1)
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	c.nextUpload = now.Add(backoff)
}

// HeightAt samples the generated grid at a world position inside the chunk.
// Returns false when the chunk has no payload yet or the point lies outside.
func (c *Chunk) HeightAt(x, z float32) (float32, bool) {
	m := c.mesh
	if m == nil || m.VertsPerSide < 2 {
		return 0, false
	}
	lx := x - c.Origin.X()
	lz := z - c.Origin.Z()
	if lx < 0 || lz < 0 || lx > c.Size || lz > c.Size {
		return 0, false
	}
	n := m.VertsPerSide
	step := c.Size / float32(n-1)
	fx := lx / step
	fz := lz / step
	i0 := clampIndex(int(fx), n-2)
	j0 := clampIndex(int(fz), n-2)
	tx := fx - float32(i0)
	tz := fz - float32(j0)
	if tx > 1 {
		tx = 1
	}
	if tz > 1 {
		tz = 1
	}
	h00 := m.heightAtVertex(i0, j0)
	h10 := m.heightAtVertex(i0+1, j0)
	h01 := m.heightAtVertex(i0, j0+1)
	h11 := m.heightAtVertex(i0+1, j0+1)
	a := h00 + (h10-h00)*tx
	b := h01 + (h11-h01)*tx
	return a + (b-a)*tz, true
}

func clampIndex(i, max int) int {
	if i < 0 {
		return 0
	}
	if i > max {
		return max
	}
	return i
}
