// Package tuning loads the engine knobs from tuning.yaml.
package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`

	WorldSize float64   `yaml:"world_size"`
	ChunkSize float64   `yaml:"chunk_size"`
	MaxDepth  int       `yaml:"max_depth"`
	MaxLOD    int       `yaml:"max_lod"`
	LODBands  []float64 `yaml:"lod_bands"`

	ViewDistance      float64 `yaml:"view_distance"`
	UpdateThreshold   float64 `yaml:"update_threshold"`
	RequeryIntervalMs int     `yaml:"requery_interval_ms"`
	SpeedThreshold    float64 `yaml:"speed_threshold"`
	LookaheadS        float64 `yaml:"lookahead_s"`
	PredictiveScale   float64 `yaml:"predictive_scale"`

	MaxVisibleChunks  int `yaml:"max_visible_chunks"`
	UploadsPerTick    int `yaml:"uploads_per_tick"`
	GenWorkers        int `yaml:"gen_workers"`
	MaxInflight       int `yaml:"max_inflight"`
	MaxGenRetries     int `yaml:"max_gen_retries"`
	GenRetryBackoffMs int `yaml:"gen_retry_backoff_ms"`

	FOVDegrees float64 `yaml:"fov_degrees"`

	Noise Noise `yaml:"noise"`
}

type Noise struct {
	Seed        int64   `yaml:"seed"`
	Amplitude   float64 `yaml:"amplitude"`
	Frequency   float64 `yaml:"frequency"`
	Octaves     int     `yaml:"octaves"`
	Persistence float64 `yaml:"persistence"`
	Lacunarity  float64 `yaml:"lacunarity"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:        30,
		WorldSize:         8192,
		ChunkSize:         64,
		MaxDepth:          12,
		MaxLOD:            4,
		LODBands:          []float64{50, 100, 200, 300},
		ViewDistance:      400,
		UpdateThreshold:   16,
		RequeryIntervalMs: 1000,
		SpeedThreshold:    64,
		LookaheadS:        1.0,
		PredictiveScale:   1.5,
		MaxVisibleChunks:  256,
		UploadsPerTick:    3,
		MaxInflight:       1024,
		MaxGenRetries:     5,
		GenRetryBackoffMs: 250,
		Noise: Noise{
			Seed:        1337,
			Amplitude:   48,
			Frequency:   0.004,
			Octaves:     5,
			Persistence: 0.5,
			Lacunarity:  2.0,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be positive")
	}
	if t.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive")
	}
	if t.WorldSize < t.ChunkSize {
		return fmt.Errorf("world_size must cover at least one chunk")
	}
	if t.ViewDistance <= 0 {
		return fmt.Errorf("view_distance must be positive")
	}
	if t.UploadsPerTick <= 0 {
		return fmt.Errorf("uploads_per_tick must be positive")
	}
	for i := 1; i < len(t.LODBands); i++ {
		if t.LODBands[i] <= t.LODBands[i-1] {
			return fmt.Errorf("lod_bands must be strictly ascending")
		}
	}
	return nil
}

func (t Tuning) RequeryInterval() time.Duration {
	return time.Duration(t.RequeryIntervalMs) * time.Millisecond
}

func (t Tuning) GenRetryBackoff() time.Duration {
	return time.Duration(t.GenRetryBackoffMs) * time.Millisecond
}
