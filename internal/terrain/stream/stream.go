// Package stream is the per-tick orchestrator of the chunk lifecycle: it
// decides when to re-run the spatial query, dispatches asynchronous mesh
// generation to a bounded worker pool, recomputes visibility, evicts stale
// chunks and throttles device uploads.
package stream

import (
	"log"
	"math"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/go-gl/mathgl/mgl32"

	"terracast.dev/internal/terrain/chunk"
	"terracast.dev/internal/terrain/device"
	"terracast.dev/internal/terrain/heightfield"
	"terracast.dev/internal/terrain/spatial"
	"terracast.dev/internal/terrain/store"
	"terracast.dev/internal/terrain/visibility"
)

type Config struct {
	ViewDistance    float32
	UpdateThreshold float32       // observer movement that triggers a requery
	RequeryInterval time.Duration // staleness bound when nearly stationary
	SpeedThreshold  float32       // speed enabling the predictive query
	Lookahead       float32       // seconds projected along velocity
	PredictiveScale float32       // view distance multiplier for the predictive pass

	MaxVisibleChunks  int
	MaxUploadsPerTick int
	Workers           int
	MaxInflight       int // cap on queued+running generation jobs

	MaxGenRetries   int // retries per key after the first failed attempt, then the key is abandoned
	GenRetryBackoff time.Duration
	UploadBackoff   time.Duration

	FOVDegrees float32 // 0 disables the view-cone test
}

func DefaultConfig() Config {
	return Config{
		ViewDistance:      400,
		UpdateThreshold:   16,
		RequeryInterval:   time.Second,
		SpeedThreshold:    64,
		Lookahead:         1.0,
		PredictiveScale:   1.5,
		MaxVisibleChunks:  256,
		MaxUploadsPerTick: 3,
		Workers:           0, // pond defaults to GOMAXPROCS workers behind the cap below
		MaxInflight:       1024,
		MaxGenRetries:     5,
		GenRetryBackoff:   250 * time.Millisecond,
		UploadBackoff:     100 * time.Millisecond,
	}
}

// Counters are the performance counters updated every tick. All values are
// copies; reading them never exposes internal state.
type Counters struct {
	Ticks             uint64
	Passes            uint64
	ActiveChunks      int
	VisibleChunks     int
	GeneratedTotal    uint64
	GenFailures       uint64
	UploadFailures    uint64
	UploadsThisTick   int
	RenderedLastFrame int
	InflightJobs      int
	InvalidPositions  uint64
}

type genResult struct {
	c    *chunk.Chunk
	key  chunk.Key
	mesh *chunk.MeshData
	minH float32
	maxH float32
	err  error
}

type retryState struct {
	fails int
	next  time.Time
}

// retryRetention bounds how long a failed key keeps its retry state after it
// leaves the streaming range. A returning observer past this window starts
// with a fresh attempt budget.
const retryRetention = 5 * time.Minute

// Streamer owns the chunk lifecycle. All methods except the worker-side mesh
// build must be called from the owner loop; device resources are created and
// destroyed only there.
type Streamer struct {
	cfg    Config
	logger *log.Logger

	index  *spatial.Index
	chunks *store.Store
	gen    heightfield.Generator
	dev    device.Device
	filter *visibility.Filter

	pool    pond.Pool
	results chan genResult

	uploadQ []*chunk.Chunk
	visible []*chunk.Chunk

	lastPos  mgl32.Vec3
	haveLast bool
	velocity mgl32.Vec3
	viewDir  mgl32.Vec3
	lastPass time.Time
	force    bool

	inflight int
	retry    map[chunk.Key]*retryState

	ctr Counters

	now func() time.Time
}

func New(cfg Config, ix *spatial.Index, st *store.Store, gen heightfield.Generator, dev device.Device, logger *log.Logger) *Streamer {
	d := DefaultConfig()
	if cfg.ViewDistance <= 0 {
		cfg.ViewDistance = d.ViewDistance
	}
	if cfg.UpdateThreshold <= 0 {
		cfg.UpdateThreshold = d.UpdateThreshold
	}
	if cfg.RequeryInterval <= 0 {
		cfg.RequeryInterval = d.RequeryInterval
	}
	if cfg.SpeedThreshold <= 0 {
		cfg.SpeedThreshold = d.SpeedThreshold
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = d.Lookahead
	}
	if cfg.PredictiveScale <= 0 {
		cfg.PredictiveScale = d.PredictiveScale
	}
	if cfg.MaxVisibleChunks <= 0 {
		cfg.MaxVisibleChunks = d.MaxVisibleChunks
	}
	if cfg.MaxUploadsPerTick <= 0 {
		cfg.MaxUploadsPerTick = d.MaxUploadsPerTick
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = d.MaxInflight
	}
	if cfg.MaxGenRetries <= 0 {
		cfg.MaxGenRetries = d.MaxGenRetries
	}
	if cfg.GenRetryBackoff <= 0 {
		cfg.GenRetryBackoff = d.GenRetryBackoff
	}
	if cfg.UploadBackoff <= 0 {
		cfg.UploadBackoff = d.UploadBackoff
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	return &Streamer{
		cfg:     cfg,
		logger:  logger,
		index:   ix,
		chunks:  st,
		gen:     gen,
		dev:     dev,
		filter:  &visibility.Filter{MaxVisible: cfg.MaxVisibleChunks, FOVDegrees: cfg.FOVDegrees},
		pool:    pond.NewPool(workers),
		results: make(chan genResult, cfg.MaxInflight),
		retry:   map[chunk.Key]*retryState{},
		now:     time.Now,
	}
}

// Close stops the worker pool, waits for in-flight generation and discards
// any remaining results.
func (s *Streamer) Close() {
	s.pool.StopAndWait()
	for {
		select {
		case <-s.results:
		default:
			return
		}
	}
}

// Update advances streaming state for one tick. Never blocks on generation.
func (s *Streamer) Update(pos mgl32.Vec3, dt float32) {
	now := s.now()
	s.ctr.Ticks++
	s.ctr.UploadsThisTick = 0

	if !finiteVec(pos) {
		s.ctr.InvalidPositions++
		s.logger.Printf("update: non-finite observer position %v; keeping last-known-good", pos)
		// The cheap stages still run against the last good position.
		s.drainResults(now)
		s.processUploads(now)
		s.refreshCounters()
		return
	}

	if s.haveLast && dt > 0 {
		s.velocity = pos.Sub(s.lastPos).Mul(1 / dt)
	}

	s.drainResults(now)

	moved := horizontalDist(pos, s.lastPos)
	runPass := s.force || !s.haveLast ||
		moved > s.cfg.UpdateThreshold ||
		now.Sub(s.lastPass) > s.cfg.RequeryInterval
	if runPass {
		s.runExpensivePass(pos, now)
	}

	s.processUploads(now)

	s.lastPos = pos
	s.haveLast = true
	s.refreshCounters()
}

// runExpensivePass performs the full spatial requery, visibility recompute
// and eviction sweep against a single observer position.
func (s *Streamer) runExpensivePass(pos mgl32.Vec3, now time.Time) {
	s.force = false

	onLeaf := func(origin mgl32.Vec3, size float32, lod int) {
		s.ensureLeaf(origin, size, lod, now)
	}
	s.index.Query(pos, s.cfg.ViewDistance, onLeaf)

	speed := horizontalLen(s.velocity)
	if speed > s.cfg.SpeedThreshold {
		projected := pos.Add(s.velocity.Mul(s.cfg.Lookahead))
		if finiteVec(projected) {
			s.index.QueryPredictive(projected, s.cfg.ViewDistance*s.cfg.PredictiveScale, onLeaf)
		}
	}

	s.visible = s.filter.Select(s.chunks.Snapshot(), pos, s.viewDir, s.cfg.ViewDistance)

	s.evictFar(pos, now)

	s.lastPass = now
	s.ctr.Passes++
}

func (s *Streamer) ensureLeaf(origin mgl32.Vec3, size float32, lod int, now time.Time) {
	key := chunk.Key{
		GridX: int(math.Floor(float64(origin.X())/float64(size) + 0.5)),
		GridZ: int(math.Floor(float64(origin.Z())/float64(size) + 0.5)),
		LOD:   lod,
	}
	if rs, ok := s.retry[key]; ok {
		if rs.fails > s.cfg.MaxGenRetries {
			// Attempt budget exhausted; only InvalidateArea (or the sweep in
			// evictFar) makes the key eligible again.
			return
		}
		if now.Before(rs.next) {
			return
		}
	}
	if s.inflight >= s.cfg.MaxInflight {
		return
	}
	c, created := s.chunks.Ensure(key, origin, size)
	if !created {
		return
	}
	c.SetState(chunk.Generating)
	s.dispatch(c)
}

// dispatch hands one generation job to the pool. The worker is pure
// computation over the generator; it communicates back only through the
// results channel.
func (s *Streamer) dispatch(c *chunk.Chunk) {
	key := c.Key
	ox, oz, size, lod := c.Origin.X(), c.Origin.Z(), c.Size, c.Key.LOD
	s.inflight++
	s.pool.Submit(func() {
		m, minH, maxH, err := chunk.Build(s.gen, ox, oz, size, lod)
		s.results <- genResult{c: c, key: key, mesh: m, minH: minH, maxH: maxH, err: err}
	})
}

// drainResults installs completed generation payloads and queues them for
// upload. A completion is matched against the record it was dispatched for:
// if that record was evicted while generating — even if the key has since
// been re-ensured as a new record — the result is discarded; the cost is
// sunk but safety preserved.
func (s *Streamer) drainResults(now time.Time) {
	for {
		select {
		case r := <-s.results:
			s.inflight--
			c, ok := s.chunks.Get(r.key)
			if !ok || c != r.c || c.Is(chunk.Evicted) {
				continue
			}
			if r.err != nil {
				s.ctr.GenFailures++
				s.logger.Printf("generate %+v: %v", r.key, r.err)
				s.chunks.Remove(r.key)
				c.SetState(chunk.Evicted)
				s.recordGenFailure(r.key, now)
				continue
			}
			delete(s.retry, r.key)
			c.SetGenerated(r.mesh, r.minH, r.maxH)
			s.uploadQ = append(s.uploadQ, c)
			s.ctr.GeneratedTotal++
		default:
			return
		}
	}
}

// recordGenFailure backs the key off exponentially and abandons it once the
// initial attempt plus MaxGenRetries retries have all failed. Abandoned keys
// are re-attempted only after InvalidateArea or the retention sweep.
func (s *Streamer) recordGenFailure(key chunk.Key, now time.Time) {
	rs := s.retry[key]
	if rs == nil {
		rs = &retryState{}
		s.retry[key] = rs
	}
	rs.fails++
	if rs.fails > s.cfg.MaxGenRetries {
		s.logger.Printf("generate %+v: giving up after %d attempts", key, rs.fails)
		rs.next = now
		return
	}
	backoff := s.cfg.GenRetryBackoff << uint(rs.fails-1)
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	rs.next = now.Add(backoff)
}

// processUploads drains at most MaxUploadsPerTick queued chunks into device
// buffers. Items past the budget, or backing off after a failed create,
// remain queued for the next tick.
func (s *Streamer) processUploads(now time.Time) {
	if len(s.uploadQ) == 0 {
		return
	}
	budget := s.cfg.MaxUploadsPerTick
	kept := s.uploadQ[:0]
	for i, c := range s.uploadQ {
		if budget <= 0 {
			kept = append(kept, s.uploadQ[i:]...)
			break
		}
		if c.Is(chunk.Evicted) {
			continue
		}
		if !c.UploadAllowed(now) {
			kept = append(kept, c)
			continue
		}
		budget--
		m := c.Mesh()
		h, err := s.dev.CreateMesh(m.Vertices, m.Indices)
		if err != nil {
			s.ctr.UploadFailures++
			s.logger.Printf("upload %+v: %v", c.Key, err)
			c.RecordUploadFailure(now, s.cfg.UploadBackoff)
			kept = append(kept, c)
			continue
		}
		c.SetHandle(h)
		s.ctr.UploadsThisTick++
	}
	s.uploadQ = kept
}

// evictFar removes every chunk farther than twice the view distance,
// releasing its device resource first. It also sweeps retry state whose key
// has no live chunk and whose backoff expired longer than retryRetention ago,
// so a roaming observer cannot grow the map without bound.
func (s *Streamer) evictFar(pos mgl32.Vec3, now time.Time) {
	limit := 2 * s.cfg.ViewDistance
	for _, c := range s.chunks.Snapshot() {
		if c.DistanceTo(pos) > limit {
			s.evict(c)
		}
	}
	for key, rs := range s.retry {
		if _, ok := s.chunks.Get(key); ok {
			continue
		}
		if now.Sub(rs.next) > retryRetention {
			delete(s.retry, key)
		}
	}
}

func (s *Streamer) evict(c *chunk.Chunk) {
	if h, ok := c.Handle(); ok {
		s.dev.ReleaseMesh(h)
		c.ClearHandle()
	}
	s.chunks.Remove(c.Key)
	c.SetState(chunk.Evicted)
}

// InvalidateArea evicts, regardless of distance, every chunk whose bounding
// region intersects radius+chunkSize around center. The keys become
// eligible for re-ensure on the very next pass, which is forced.
func (s *Streamer) InvalidateArea(center mgl32.Vec3, radius float32) {
	reach := radius + s.index.ChunkSize()
	for _, c := range s.chunks.Snapshot() {
		if circleIntersectsChunk(center, reach, c) {
			delete(s.retry, c.Key)
			s.evict(c)
		}
	}
	vis := s.visible[:0]
	for _, c := range s.visible {
		if !c.Is(chunk.Evicted) {
			vis = append(vis, c)
		}
	}
	s.visible = vis
	s.force = true
}

// Render draws the visible, buffer-ready subset in ascending distance order
// and returns the number of chunks drawn. Must run on the owner loop with an
// active device context.
func (s *Streamer) Render() int {
	n := 0
	for _, c := range s.visible {
		if !c.Is(chunk.BuffersReady) {
			continue
		}
		if h, ok := c.Handle(); ok {
			s.dev.DrawMesh(h)
			n++
		}
	}
	s.ctr.RenderedLastFrame = n
	return n
}

// HeightAt returns the generated height when the owning chunk has a payload,
// falling back to sampling the generator directly so the query never fails.
func (s *Streamer) HeightAt(x, z float32) float32 {
	size := s.index.ChunkSize()
	gx := int(math.Floor(float64(x) / float64(size)))
	gz := int(math.Floor(float64(z) / float64(size)))
	for lod := 0; lod <= s.index.MaxLOD(); lod++ {
		c, ok := s.chunks.Get(chunk.Key{GridX: gx, GridZ: gz, LOD: lod})
		if !ok {
			continue
		}
		if h, sampled := c.HeightAt(x, z); sampled {
			return h
		}
	}
	return s.gen.Height(x, z)
}

// SetViewDistance changes the streaming range and forces a requery on the
// next tick.
func (s *Streamer) SetViewDistance(d float32) {
	if d <= 0 || !finite(d) {
		return
	}
	s.cfg.ViewDistance = d
	s.force = true
}

func (s *Streamer) ViewDistance() float32 { return s.cfg.ViewDistance }

// SetViewDirection supplies the camera's look direction for the optional
// view-cone test. A zero vector disables cone culling.
func (s *Streamer) SetViewDirection(dir mgl32.Vec3) { s.viewDir = dir }

// Visible returns a copy of the current visible set, front to back.
func (s *Streamer) Visible() []*chunk.Chunk {
	return append([]*chunk.Chunk(nil), s.visible...)
}

func (s *Streamer) Counters() Counters { return s.ctr }

func (s *Streamer) refreshCounters() {
	s.ctr.ActiveChunks = s.chunks.Len()
	s.ctr.VisibleChunks = len(s.visible)
	s.ctr.InflightJobs = s.inflight
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func finiteVec(v mgl32.Vec3) bool {
	return finite(v.X()) && finite(v.Y()) && finite(v.Z())
}

func horizontalDist(a, b mgl32.Vec3) float32 {
	dx := float64(a.X() - b.X())
	dz := float64(a.Z() - b.Z())
	return float32(math.Sqrt(dx*dx + dz*dz))
}

func horizontalLen(v mgl32.Vec3) float32 {
	return horizontalDist(v, mgl32.Vec3{})
}

func circleIntersectsChunk(center mgl32.Vec3, r float32, c *chunk.Chunk) bool {
	cx := clampf(center.X(), c.Origin.X(), c.Origin.X()+c.Size)
	cz := clampf(center.Z(), c.Origin.Z(), c.Origin.Z()+c.Size)
	dx := float64(cx - center.X())
	dz := float64(cz - center.Z())
	return dx*dx+dz*dz <= float64(r)*float64(r)
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
