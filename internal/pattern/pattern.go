// Package pattern derives traffic schedules from statistical
// distributions. A Pattern is a pure function of (target mean, config,
// seed): it produces equal-length rate and interval sequences that a
// traffic client consumes pairwise as sequential steps.
package pattern

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/oabuhamdan/fleet/internal/errdefs"
)

// Pattern kinds.
const (
	Poisson     = "poisson"
	Uniform     = "uniform"
	Normal      = "normal"
	Exponential = "exponential"
	Bursty      = "bursty"
	Sine        = "sine"
	Step        = "step"
)

// Config parameterizes schedule generation. Zero values fall back to the
// defaults applied by New. Seed 0 means time-seeded, non-reproducible.
type Config struct {
	Kind            string  `yaml:"kind"`
	Points          int     `yaml:"point_count,omitempty"`
	BaseIntervalSec float64 `yaml:"base_interval,omitempty"`
	MinRate         float64 `yaml:"min_rate,omitempty"`
	MaxRate         float64 `yaml:"max_rate,omitempty"`
	ParallelStreams int     `yaml:"parallel_streams,omitempty"`
	StdRatio        float64 `yaml:"std_ratio,omitempty"`
	BurstRatio      float64 `yaml:"burst_ratio,omitempty"`
	BurstProb       float64 `yaml:"burst_probability,omitempty"`
	AmplitudeRatio  float64 `yaml:"amplitude_ratio,omitempty"`
	Cycles          float64 `yaml:"cycles,omitempty"`
	Steps           int     `yaml:"steps,omitempty"`
	Seed            uint64  `yaml:"-"`
}

// Schedule is the generated step sequence: at step k the client sends at
// Rates[k] Mbps for Intervals[k].
type Schedule struct {
	Rates     []float64
	Intervals []time.Duration
}

func (s Schedule) Len() int {
	return len(s.Rates)
}

// At returns the step parameters, wrapping cyclically.
func (s Schedule) At(step int) (float64, time.Duration) {
	i := step % len(s.Rates)
	return s.Rates[i], s.Intervals[i]
}

type sampler func(mean float64, cfg Config, src *rand.Rand) ([]float64, []float64)

var kinds = map[string]sampler{
	Poisson:     samplePoisson,
	Uniform:     sampleUniform,
	Normal:      sampleNormal,
	Exponential: sampleExponential,
	Bursty:      sampleBursty,
	Sine:        sampleSine,
	Step:        sampleStep,
}

// Kinds lists the supported pattern kinds.
func Kinds() []string {
	return []string{Poisson, Uniform, Normal, Exponential, Bursty, Sine, Step}
}

type Pattern struct {
	cfg    Config
	sample sampler
}

// New validates the configuration and resolves the kind.
func New(cfg Config) (*Pattern, error) {
	applyDefaults(&cfg)

	sample, ok := kinds[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown traffic pattern %q (have %v)", errdefs.ErrConfiguration, cfg.Kind, Kinds())
	}
	if cfg.MinRate < 0 || cfg.MaxRate < cfg.MinRate {
		return nil, fmt.Errorf("%w: rate bounds inverted (%v..%v)", errdefs.ErrConfiguration, cfg.MinRate, cfg.MaxRate)
	}
	if cfg.Points < 1 {
		return nil, fmt.Errorf("%w: point count %d must be positive", errdefs.ErrConfiguration, cfg.Points)
	}
	if cfg.ParallelStreams < 1 {
		return nil, fmt.Errorf("%w: parallel streams %d must be positive", errdefs.ErrConfiguration, cfg.ParallelStreams)
	}
	return &Pattern{cfg: cfg, sample: sample}, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Points == 0 {
		cfg.Points = 100
	}
	if cfg.BaseIntervalSec == 0 {
		cfg.BaseIntervalSec = 10.0
	}
	if cfg.MaxRate == 0 {
		cfg.MaxRate = 100.0
	}
	if cfg.ParallelStreams == 0 {
		cfg.ParallelStreams = 1
	}
	if cfg.StdRatio == 0 {
		cfg.StdRatio = 0.2
	}
	if cfg.BurstRatio == 0 {
		cfg.BurstRatio = 3.0
	}
	if cfg.BurstProb == 0 {
		cfg.BurstProb = 0.2
	}
	if cfg.AmplitudeRatio == 0 {
		cfg.AmplitudeRatio = 0.5
	}
	if cfg.Cycles == 0 {
		cfg.Cycles = 2.0
	}
	if cfg.Steps == 0 {
		cfg.Steps = 5
	}
}

// Generate samples one schedule around the target mean rate. Rates are
// clipped to [MinRate, MaxRate] and then divided across parallel streams;
// intervals are whole seconds, at least one.
func (p *Pattern) Generate(mean float64) (Schedule, error) {
	if mean <= 0 {
		return Schedule{}, fmt.Errorf("%w: target mean rate %v must be positive", errdefs.ErrConfiguration, mean)
	}

	seed := p.cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := rand.New(rand.NewPCG(seed, seed))

	rates, intervalSecs := p.sample(mean, p.cfg, src)

	sch := Schedule{
		Rates:     make([]float64, p.cfg.Points),
		Intervals: make([]time.Duration, p.cfg.Points),
	}
	for i := 0; i < p.cfg.Points; i++ {
		r := clip(rates[i], p.cfg.MinRate, p.cfg.MaxRate)
		sch.Rates[i] = r / float64(p.cfg.ParallelStreams)
		sch.Intervals[i] = time.Duration(max(1, int(intervalSecs[i]))) * time.Second
	}
	return sch, nil
}

func samplePoisson(mean float64, cfg Config, src *rand.Rand) ([]float64, []float64) {
	rateDist := distuv.Poisson{Lambda: mean, Src: src}
	intDist := distuv.Poisson{Lambda: cfg.BaseIntervalSec, Src: src}

	rates := make([]float64, cfg.Points)
	intervals := make([]float64, cfg.Points)
	for i := range rates {
		rates[i] = rateDist.Rand()
		intervals[i] = intDist.Rand()
	}
	return rates, intervals
}

func sampleUniform(mean float64, cfg Config, src *rand.Rand) ([]float64, []float64) {
	rateDist := distuv.Uniform{Min: cfg.MinRate, Max: math.Min(mean, cfg.MaxRate), Src: src}
	intDist := distuv.Uniform{Min: cfg.BaseIntervalSec * 0.5, Max: cfg.BaseIntervalSec * 1.5, Src: src}

	rates := make([]float64, cfg.Points)
	intervals := make([]float64, cfg.Points)
	for i := range rates {
		rates[i] = rateDist.Rand()
		intervals[i] = intDist.Rand()
	}
	return rates, intervals
}

func sampleNormal(mean float64, cfg Config, src *rand.Rand) ([]float64, []float64) {
	rateDist := distuv.Normal{Mu: mean, Sigma: mean * cfg.StdRatio, Src: src}
	intDist := distuv.Normal{Mu: cfg.BaseIntervalSec, Sigma: cfg.BaseIntervalSec * cfg.StdRatio, Src: src}

	rates := make([]float64, cfg.Points)
	intervals := make([]float64, cfg.Points)
	for i := range rates {
		rates[i] = rateDist.Rand()
		intervals[i] = clip(intDist.Rand(), 1, cfg.BaseIntervalSec*3)
	}
	return rates, intervals
}

func sampleExponential(mean float64, cfg Config, src *rand.Rand) ([]float64, []float64) {
	// distuv parameterizes by rate lambda; the distribution mean is 1/lambda.
	rateDist := distuv.Exponential{Rate: 1 / mean, Src: src}
	intDist := distuv.Exponential{Rate: 1 / cfg.BaseIntervalSec, Src: src}

	rates := make([]float64, cfg.Points)
	intervals := make([]float64, cfg.Points)
	for i := range rates {
		rates[i] = rateDist.Rand()
		intervals[i] = clip(intDist.Rand(), 1, cfg.BaseIntervalSec*5)
	}
	return rates, intervals
}

// Bursty alternates short high-rate bursts with a low background rate.
func sampleBursty(mean float64, cfg Config, src *rand.Rand) ([]float64, []float64) {
	rates := make([]float64, cfg.Points)
	intervals := make([]float64, cfg.Points)
	for i := range rates {
		if src.Float64() < cfg.BurstProb {
			rates[i] = math.Min(mean*cfg.BurstRatio, cfg.MaxRate)
			intervals[i] = cfg.BaseIntervalSec * 0.2
		} else {
			rates[i] = math.Max(mean*0.3, cfg.MinRate)
			intervals[i] = cfg.BaseIntervalSec * (1.0 + src.Float64()*2.0)
		}
	}
	return rates, intervals
}

// Sine sweeps the rate over configured full cycles; intervals run phase
// shifted by pi so high rates get short intervals.
func sampleSine(mean float64, cfg Config, _ *rand.Rand) ([]float64, []float64) {
	amplitude := mean * cfg.AmplitudeRatio
	intAmplitude := cfg.BaseIntervalSec * 0.3

	rates := make([]float64, cfg.Points)
	intervals := make([]float64, cfg.Points)
	for i := range rates {
		t := linspace(i, cfg.Points, cfg.Cycles*2*math.Pi)
		rates[i] = mean + amplitude*math.Sin(t)
		intervals[i] = clip(cfg.BaseIntervalSec+intAmplitude*math.Sin(t+math.Pi), 1, cfg.BaseIntervalSec*2)
	}
	return rates, intervals
}

// Step holds the rate on evenly spaced discrete levels from 0.2x to 1.0x
// the mean, intervals inversely.
func sampleStep(mean float64, cfg Config, _ *rand.Rand) ([]float64, []float64) {
	steps := cfg.Steps
	if steps < 2 {
		steps = 1
	}

	rates := make([]float64, 0, cfg.Points)
	intervals := make([]float64, 0, cfg.Points)
	perLevel := cfg.Points / steps
	for k := 0; k < steps; k++ {
		frac := 0.0
		if steps > 1 {
			frac = float64(k) / float64(steps-1)
		}
		levelRate := math.Min(mean*(0.2+0.8*frac), cfg.MaxRate)
		levelInterval := math.Max(1, cfg.BaseIntervalSec*(1.5-0.8*frac))
		for j := 0; j < perLevel; j++ {
			rates = append(rates, levelRate)
			intervals = append(intervals, levelInterval)
		}
	}
	// Points not divisible by the level count: hold the last level.
	for len(rates) < cfg.Points {
		rates = append(rates, rates[len(rates)-1])
		intervals = append(intervals, intervals[len(intervals)-1])
	}
	return rates, intervals
}

// linspace mirrors an inclusive-endpoint sweep of [0, span] over n points.
func linspace(i, n int, span float64) float64 {
	if n <= 1 {
		return 0
	}
	return span * float64(i) / float64(n-1)
}

func clip(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
