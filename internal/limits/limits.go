// Package limits produces per-host CPU/memory allocations as an infinite
// lazy sequence. Each created host consumes one Spec; the emulation
// runtime translates it into its native encoding.
package limits

import (
	"fmt"
	"math"

	"github.com/iti/rngstream"

	"github.com/oabuhamdan/fleet/internal/errdefs"
)

// Spec is one host allocation. CPU is a fraction of one core in (0,1],
// MemoryMB is strictly positive.
type Spec struct {
	CPU      float64
	MemoryMB int
}

func (s Spec) String() string {
	return fmt.Sprintf("cpu=%.3f mem=%dMB", s.CPU, s.MemoryMB)
}

// Generator strategies.
const (
	Homogeneous = "homogeneous"
	Random      = "random"
	Stepped     = "stepped"
)

// Config selects and parameterizes a limit strategy. CPU/MemoryMB drive
// the homogeneous strategy; the bound pairs drive random and stepped.
type Config struct {
	Strategy string  `yaml:"strategy,omitempty"`
	CPU      float64 `yaml:"cpu,omitempty"`
	MemoryMB int     `yaml:"mem,omitempty"`

	CPUMin      float64 `yaml:"cpu_min,omitempty"`
	CPUMax      float64 `yaml:"cpu_max,omitempty"`
	MemoryMinMB int     `yaml:"mem_min,omitempty"`
	MemoryMaxMB int     `yaml:"mem_max,omitempty"`
	Steps       int     `yaml:"steps,omitempty"`
}

// Source yields Specs one at a time, forever.
type Source struct {
	next func() Spec
}

func (s *Source) Next() Spec {
	return s.next()
}

// NewSource builds the lazy sequence for the configured strategy. The rng
// is only consulted by the random strategy; callers seed it per role so
// runs stay reproducible. An empty strategy means homogeneous.
func NewSource(cfg Config, rng *rngstream.RngStream) (*Source, error) {
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = Homogeneous
	}

	switch strategy {
	case Homogeneous:
		if err := validateSpec(cfg.CPU, cfg.MemoryMB); err != nil {
			return nil, err
		}
		spec := Spec{CPU: cfg.CPU, MemoryMB: cfg.MemoryMB}
		return &Source{next: func() Spec { return spec }}, nil

	case Random:
		if err := validateBounds(cfg); err != nil {
			return nil, err
		}
		if rng == nil {
			return nil, fmt.Errorf("%w: random limits need a seeded rng", errdefs.ErrConfiguration)
		}
		return &Source{next: func() Spec {
			cpu := cfg.CPUMin + rng.RandU01()*(cfg.CPUMax-cfg.CPUMin)
			mem := rng.RandInt(cfg.MemoryMinMB, cfg.MemoryMaxMB)
			return Spec{CPU: round3(cpu), MemoryMB: mem}
		}}, nil

	case Stepped:
		if err := validateBounds(cfg); err != nil {
			return nil, err
		}
		steps := steppedSpecs(cfg)
		i := 0
		return &Source{next: func() Spec {
			spec := steps[i%len(steps)]
			i++
			return spec
		}}, nil

	default:
		return nil, fmt.Errorf("%w: unknown limits strategy %q", errdefs.ErrConfiguration, strategy)
	}
}

// steppedSpecs precomputes the N evenly spaced pairs between the min and
// max bounds. Fewer than two steps degenerates to the minimum pair.
func steppedSpecs(cfg Config) []Spec {
	if cfg.Steps < 2 {
		return []Spec{{CPU: round3(cfg.CPUMin), MemoryMB: cfg.MemoryMinMB}}
	}
	out := make([]Spec, cfg.Steps)
	for k := 0; k < cfg.Steps; k++ {
		frac := float64(k) / float64(cfg.Steps-1)
		out[k] = Spec{
			CPU:      round3(cfg.CPUMin + frac*(cfg.CPUMax-cfg.CPUMin)),
			MemoryMB: int(math.Round(float64(cfg.MemoryMinMB) + frac*float64(cfg.MemoryMaxMB-cfg.MemoryMinMB))),
		}
	}
	return out
}

func validateSpec(cpu float64, mem int) error {
	if cpu <= 0 || cpu > 1 {
		return fmt.Errorf("%w: cpu fraction %v outside (0,1]", errdefs.ErrConfiguration, cpu)
	}
	if mem <= 0 {
		return fmt.Errorf("%w: memory %dMB must be positive", errdefs.ErrConfiguration, mem)
	}
	return nil
}

func validateBounds(cfg Config) error {
	if err := validateSpec(cfg.CPUMin, cfg.MemoryMinMB); err != nil {
		return err
	}
	if err := validateSpec(cfg.CPUMax, cfg.MemoryMaxMB); err != nil {
		return err
	}
	if cfg.CPUMin > cfg.CPUMax || cfg.MemoryMinMB > cfg.MemoryMaxMB {
		return fmt.Errorf("%w: limit bounds inverted (cpu %v..%v, mem %d..%d)",
			errdefs.ErrConfiguration, cfg.CPUMin, cfg.CPUMax, cfg.MemoryMinMB, cfg.MemoryMaxMB)
	}
	return nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
