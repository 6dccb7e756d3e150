// Command viewer runs the terrain streaming engine headless: a scripted
// observer orbits the world while the engine streams chunks around it, and
// everything the engine does is exposed over the diagnostics feed, the tick
// logs and the stats index.
package main

import (
	"context"
	"flag"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"terracast.dev/internal/diag"
	persistlog "terracast.dev/internal/persistence/log"
	"terracast.dev/internal/persistence/statsdb"
	"terracast.dev/internal/terrain"
	"terracast.dev/internal/terrain/device"
	"terracast.dev/internal/terrain/heightfield"
	"terracast.dev/internal/terrain/spatial"
	diagws "terracast.dev/internal/transport/diag"
	"terracast.dev/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:8091", "diagnostics http listen address (empty to disable)")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		seed       = flag.Int64("seed", 0, "terrain seed override (0: use tuning)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite stats index")
		maxTicks   = flag.Uint64("ticks", 0, "stop after this many ticks (0: run until SIGINT)")

		orbitRadius = flag.Float64("orbit_radius", 900, "scripted observer orbit radius")
		orbitSpeed  = flag.Float64("orbit_speed", 40, "scripted observer speed (units/s)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[viewer] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}
	if *seed != 0 {
		tune.Noise.Seed = *seed
	}

	runID := uuid.NewString()
	runDir := filepath.Join(*dataDir, "runs", runID)
	_ = os.MkdirAll(runDir, 0o755)
	logger.Printf("run %s (seed %d)", runID, tune.Noise.Seed)

	gen := heightfield.New(heightfield.Params{
		Seed:        tune.Noise.Seed,
		Amplitude:   float32(tune.Noise.Amplitude),
		Frequency:   float32(tune.Noise.Frequency),
		Octaves:     tune.Noise.Octaves,
		Persistence: float32(tune.Noise.Persistence),
		Lacunarity:  float32(tune.Noise.Lacunarity),
	})

	svc, err := terrain.New(configFromTuning(tune), gen, device.NewNullDevice(), logger)
	if err != nil {
		logger.Fatalf("terrain: %v", err)
	}
	defer svc.Close()

	ctx, cancel := signalContext()
	defer cancel()

	// Diagnostics feed.
	var feed *diagws.Server
	if strings.TrimSpace(*addr) != "" {
		feed = diagws.NewServer(diagws.Hello{
			TickRateHz: tune.TickRateHz,
			ChunkSize:  tune.ChunkSize,
			Seed:       tune.Noise.Seed,
		}, float64(tune.TickRateHz), logger)
		defer feed.Close()

		mux := http.NewServeMux()
		mux.HandleFunc("/v1/diag", feed.WSHandler())
		srv := &http.Server{
			Addr:              *addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
		go func() {
			logger.Printf("diagnostics on ws://%s/v1/diag", *addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatalf("ListenAndServe: %v", err)
			}
		}()
	}

	// Tick logs + stats index.
	tickLog := persistlog.NewTickStatsLogger(runDir)
	defer tickLog.Close()

	var idx *statsdb.SQLiteStats
	if !*disableDB {
		idx, err = statsdb.OpenSQLite(filepath.Join(runDir, "stats.db"))
		if err != nil {
			logger.Fatalf("open stats index: %v", err)
		}
		defer idx.Close()
		idx.StartRun(runID, tune.Noise.Seed, tune)
	}

	runLoop(ctx, svc, loopConfig{
		tickRate:    tune.TickRateHz,
		maxTicks:    *maxTicks,
		orbitRadius: float32(*orbitRadius),
		orbitSpeed:  float32(*orbitSpeed),
	}, func(msg diag.StatsMsg) {
		if feed != nil {
			feed.Broadcast(msg)
		}
		if err := tickLog.WriteTick(msg); err != nil {
			logger.Printf("tick log: %v", err)
		}
		if idx != nil {
			idx.WriteTick(runID, msg)
		}
	}, logger)

	logger.Printf("final: %s", svc.PerformanceSummary())
}

type loopConfig struct {
	tickRate    int
	maxTicks    uint64
	orbitRadius float32
	orbitSpeed  float32
}

// runLoop drives the engine from a single goroutine: the scripted observer
// orbits the origin, and every tick emits one stats snapshot.
func runLoop(ctx context.Context, svc *terrain.Service, cfg loopConfig, emit func(diag.StatsMsg), logger *log.Logger) {
	dt := 1.0 / float32(cfg.tickRate)
	ticker := time.NewTicker(time.Second / time.Duration(cfg.tickRate))
	defer ticker.Stop()

	var (
		tick  uint64
		angle float32
	)
	angularSpeed := cfg.orbitSpeed / cfg.orbitRadius

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		angle += angularSpeed * dt
		sin, cos := math.Sincos(float64(angle))
		pos := mgl32.Vec3{cfg.orbitRadius * float32(cos), 0, cfg.orbitRadius * float32(sin)}
		// Tangent of the orbit; the engine uses it for view-cone culling.
		dir := mgl32.Vec3{-float32(sin), 0, float32(cos)}
		pos[1] = svc.HeightAt(pos.X(), pos.Z()) + 2

		svc.SetViewDirection(dir)
		svc.Update(pos, dt)
		svc.Render()

		tick++
		c := svc.Counters()
		emit(diag.StatsMsg{
			Type:            "STATS",
			Tick:            tick,
			Passes:          c.Passes,
			ObserverX:       float64(pos.X()),
			ObserverY:       float64(pos.Y()),
			ObserverZ:       float64(pos.Z()),
			ViewDistance:    float64(svc.ViewDistance()),
			ActiveChunks:    c.ActiveChunks,
			VisibleChunks:   c.VisibleChunks,
			Rendered:        c.RenderedLastFrame,
			GeneratedTotal:  c.GeneratedTotal,
			GenFailures:     c.GenFailures,
			UploadsThisTick: c.UploadsThisTick,
			UploadFailures:  c.UploadFailures,
			InflightJobs:    c.InflightJobs,
		})

		if tick%uint64(cfg.tickRate*10) == 0 {
			logger.Printf("tick %d: %s", tick, svc.PerformanceSummary())
		}
		if cfg.maxTicks > 0 && tick >= cfg.maxTicks {
			return
		}
	}
}

func configFromTuning(t tuning.Tuning) terrain.Config {
	bands := make([]float32, len(t.LODBands))
	for i, b := range t.LODBands {
		bands[i] = float32(b)
	}
	cfg := terrain.DefaultConfig()
	cfg.Spatial = spatial.Config{
		WorldSize: float32(t.WorldSize),
		ChunkSize: float32(t.ChunkSize),
		MaxDepth:  t.MaxDepth,
		MaxLOD:    t.MaxLOD,
		LODBands:  bands,
	}
	cfg.Stream.ViewDistance = float32(t.ViewDistance)
	cfg.Stream.UpdateThreshold = float32(t.UpdateThreshold)
	cfg.Stream.RequeryInterval = t.RequeryInterval()
	cfg.Stream.SpeedThreshold = float32(t.SpeedThreshold)
	cfg.Stream.Lookahead = float32(t.LookaheadS)
	cfg.Stream.PredictiveScale = float32(t.PredictiveScale)
	cfg.Stream.MaxVisibleChunks = t.MaxVisibleChunks
	cfg.Stream.MaxUploadsPerTick = t.UploadsPerTick
	cfg.Stream.Workers = t.GenWorkers
	cfg.Stream.MaxInflight = t.MaxInflight
	cfg.Stream.MaxGenRetries = t.MaxGenRetries
	cfg.Stream.GenRetryBackoff = t.GenRetryBackoff()
	cfg.Stream.FOVDegrees = float32(t.FOVDegrees)
	return cfg
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
