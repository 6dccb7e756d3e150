// Package heightfield defines the height source consumed by the terrain
// streaming core and a default fractal value-noise implementation.
package heightfield

// Generator produces a height for any world-space column. Implementations
// must be safe for concurrent use; mesh generation samples them from
// multiple workers.
type Generator interface {
	Height(x, z float32) float32
	Close()
}

// Params configures the fractal noise generator.
type Params struct {
	Seed        int64
	Amplitude   float32
	Frequency   float32
	Octaves     int
	Persistence float32
	Lacunarity  float32
}

func DefaultParams() Params {
	return Params{
		Seed:        1337,
		Amplitude:   48,
		Frequency:   0.004,
		Octaves:     5,
		Persistence: 0.5,
		Lacunarity:  2.0,
	}
}

type fractalNoise struct {
	p Params
}

// New returns a stateless fractal value-noise generator. Zero or negative
// fields in p fall back to DefaultParams.
func New(p Params) Generator {
	d := DefaultParams()
	if p.Amplitude <= 0 {
		p.Amplitude = d.Amplitude
	}
	if p.Frequency <= 0 {
		p.Frequency = d.Frequency
	}
	if p.Octaves <= 0 {
		p.Octaves = d.Octaves
	}
	if p.Persistence <= 0 {
		p.Persistence = d.Persistence
	}
	if p.Lacunarity <= 0 {
		p.Lacunarity = d.Lacunarity
	}
	return &fractalNoise{p: p}
}

func (g *fractalNoise) Height(x, z float32) float32 {
	fx := float64(x) * float64(g.p.Frequency)
	fz := float64(z) * float64(g.p.Frequency)
	n := octaveNoise2D(fx, fz, g.p.Seed, g.p.Octaves, float64(g.p.Persistence), float64(g.p.Lacunarity))
	// Map [0,1] to [-amplitude, amplitude].
	return float32((n*2 - 1) * float64(g.p.Amplitude))
}

func (g *fractalNoise) Close() {}
