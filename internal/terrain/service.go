// Package terrain is the facade the rest of the engine talks to. It wires
// the spatial index, chunk store, streamer, visibility filter and upload
// throttle into one service with explicit construction and teardown.
package terrain

import (
	"fmt"
	"log"

	"github.com/go-gl/mathgl/mgl32"

	"terracast.dev/internal/terrain/device"
	"terracast.dev/internal/terrain/heightfield"
	"terracast.dev/internal/terrain/spatial"
	"terracast.dev/internal/terrain/store"
	"terracast.dev/internal/terrain/stream"
)

type Config struct {
	Spatial spatial.Config
	Stream  stream.Config
}

func DefaultConfig() Config {
	return Config{
		Spatial: spatial.DefaultConfig(),
		Stream:  stream.DefaultConfig(),
	}
}

// Service owns the terrain streaming engine. Construct one per device
// context; Update, Render, HeightAt and InvalidateArea must be called from
// the goroutine that owns the device.
type Service struct {
	gen      heightfield.Generator
	streamer *stream.Streamer
	closed   bool
}

func New(cfg Config, gen heightfield.Generator, dev device.Device, logger *log.Logger) (*Service, error) {
	if gen == nil {
		return nil, fmt.Errorf("terrain: nil generator")
	}
	if dev == nil {
		return nil, fmt.Errorf("terrain: nil device")
	}
	if logger == nil {
		return nil, fmt.Errorf("terrain: nil logger")
	}
	ix := spatial.New(cfg.Spatial)
	st := store.New()
	return &Service{
		gen:      gen,
		streamer: stream.New(cfg.Stream, ix, st, gen, dev, logger),
	}, nil
}

// Update advances streaming state for one tick; it never blocks on mesh
// generation.
func (s *Service) Update(observerPos mgl32.Vec3, dt float32) {
	s.streamer.Update(observerPos, dt)
}

// Render draws the visible, buffer-ready chunks front to back and returns
// the number drawn.
func (s *Service) Render() int { return s.streamer.Render() }

// HeightAt never fails: it answers from generated chunk data when available
// and samples the generator directly otherwise.
func (s *Service) HeightAt(x, z float32) float32 { return s.streamer.HeightAt(x, z) }

// InvalidateArea forces regeneration of every chunk overlapping the area.
func (s *Service) InvalidateArea(center mgl32.Vec3, radius float32) {
	s.streamer.InvalidateArea(center, radius)
}

func (s *Service) SetViewDistance(d float32) { s.streamer.SetViewDistance(d) }
func (s *Service) ViewDistance() float32     { return s.streamer.ViewDistance() }

// SetViewDirection enables view-cone culling when the filter has an FOV
// configured; a zero vector disables it.
func (s *Service) SetViewDirection(dir mgl32.Vec3) { s.streamer.SetViewDirection(dir) }

func (s *Service) ActiveChunkCount() int  { return s.streamer.Counters().ActiveChunks }
func (s *Service) VisibleChunkCount() int { return s.streamer.Counters().VisibleChunks }
func (s *Service) ChunksRenderedLastFrame() int {
	return s.streamer.Counters().RenderedLastFrame
}

// Counters returns a copy of all performance counters.
func (s *Service) Counters() stream.Counters { return s.streamer.Counters() }

func (s *Service) PerformanceSummary() string {
	c := s.streamer.Counters()
	return fmt.Sprintf(
		"ticks=%d passes=%d active=%d visible=%d rendered=%d generated=%d gen_failures=%d uploads_tick=%d upload_failures=%d inflight=%d",
		c.Ticks, c.Passes, c.ActiveChunks, c.VisibleChunks, c.RenderedLastFrame,
		c.GeneratedTotal, c.GenFailures, c.UploadsThisTick, c.UploadFailures, c.InflightJobs,
	)
}

// Close stops the worker pool and releases the generator. Safe to call once.
func (s *Service) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.streamer.Close()
	s.gen.Close()
}
