package pattern

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oabuhamdan/fleet/internal/errdefs"
)

func TestGenerateAllKindsWithinBounds(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(kind, func(t *testing.T) {
			p, err := New(Config{
				Kind:            kind,
				Points:          50,
				BaseIntervalSec: 4,
				MinRate:         2,
				MaxRate:         40,
				ParallelStreams: 1,
				Seed:            99,
			})
			require.NoError(t, err)

			sch, err := p.Generate(20)
			require.NoError(t, err)
			require.Len(t, sch.Rates, 50)
			require.Len(t, sch.Intervals, 50)
			for i, r := range sch.Rates {
				require.GreaterOrEqual(t, r, 2.0, "rate %d", i)
				require.LessOrEqual(t, r, 40.0, "rate %d", i)
			}
			for i, iv := range sch.Intervals {
				require.GreaterOrEqual(t, iv, time.Second, "interval %d", i)
				require.Zero(t, iv%time.Second, "interval %d is not a whole second", i)
			}
		})
	}
}

func TestGenerateSplitsRateAcrossParallelStreams(t *testing.T) {
	p, err := New(Config{
		Kind:            Normal,
		Points:          40,
		MinRate:         8,
		MaxRate:         40,
		ParallelStreams: 4,
		Seed:            7,
	})
	require.NoError(t, err)

	sch, err := p.Generate(20)
	require.NoError(t, err)
	for _, r := range sch.Rates {
		require.GreaterOrEqual(t, r, 2.0)
		require.LessOrEqual(t, r, 10.0)
	}
}

func TestGenerateIsReproducibleForSeed(t *testing.T) {
	cfg := Config{Kind: Poisson, Points: 50, MinRate: 1, MaxRate: 100, Seed: 11}

	first, err := New(cfg)
	require.NoError(t, err)
	second, err := New(cfg)
	require.NoError(t, err)

	a, err := first.Generate(30)
	require.NoError(t, err)
	b, err := second.Generate(30)
	require.NoError(t, err)
	require.Equal(t, a, b)

	cfg.Seed = 12
	other, err := New(cfg)
	require.NoError(t, err)
	c, err := other.Generate(30)
	require.NoError(t, err)
	require.NotEqual(t, a.Rates, c.Rates)
}

func TestScheduleAtWrapsAround(t *testing.T) {
	sch := Schedule{
		Rates:     []float64{5, 10, 15},
		Intervals: []time.Duration{time.Second, 2 * time.Second, 3 * time.Second},
	}
	require.Equal(t, 3, sch.Len())

	r0, d0 := sch.At(0)
	r3, d3 := sch.At(3)
	require.Equal(t, r0, r3)
	require.Equal(t, d0, d3)

	r, d := sch.At(7)
	require.Equal(t, 10.0, r)
	require.Equal(t, 2*time.Second, d)
}

func TestNewRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"unknown kind", Config{Kind: "sawtooth"}},
		{"inverted bounds", Config{Kind: Uniform, MinRate: 50, MaxRate: 10}},
		{"negative points", Config{Kind: Poisson, Points: -1}},
		{"negative parallel", Config{Kind: Poisson, ParallelStreams: -2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg)
			require.Error(t, err)
			require.True(t, errors.Is(err, errdefs.ErrConfiguration))
		})
	}
}

func TestGenerateRejectsNonPositiveMean(t *testing.T) {
	p, err := New(Config{Kind: Sine})
	require.NoError(t, err)

	_, err = p.Generate(0)
	require.True(t, errors.Is(err, errdefs.ErrConfiguration))
	_, err = p.Generate(-3)
	require.True(t, errors.Is(err, errdefs.ErrConfiguration))
}

func TestStepHoldsDiscreteLevels(t *testing.T) {
	p, err := New(Config{Kind: Step, Points: 20, Steps: 4, MinRate: 1, MaxRate: 100, Seed: 1})
	require.NoError(t, err)

	sch, err := p.Generate(50)
	require.NoError(t, err)

	distinct := make(map[float64]bool)
	for _, r := range sch.Rates {
		distinct[r] = true
	}
	require.Len(t, distinct, 4)
	// Levels sweep up, so the first point is the lowest and the last the
	// highest.
	require.Equal(t, 10.0, sch.Rates[0])
	require.Equal(t, 50.0, sch.Rates[len(sch.Rates)-1])
}
