package traffic

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oabuhamdan/fleet/internal/errdefs"
	"github.com/oabuhamdan/fleet/internal/pattern"
)

func TestEncodeScheduleFormat(t *testing.T) {
	sch := pattern.Schedule{
		Rates:     []float64{12.5, 3, 0.25},
		Intervals: []time.Duration{2 * time.Second, time.Second, 5 * time.Second},
	}
	require.Equal(t, "12.5,3,0.25\n2,1,5\n", EncodeSchedule(sch))
}

func TestScheduleFileRoundTrip(t *testing.T) {
	want := pattern.Schedule{
		Rates:     []float64{1.5, 20, 0.75},
		Intervals: []time.Duration{time.Second, 3 * time.Second, 10 * time.Second},
	}
	path := filepath.Join(t.TempDir(), "rates_a_b.txt")

	require.NoError(t, WriteScheduleFile(path, want))

	got, err := ReadScheduleFile(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestParseScheduleTrimsWhitespace(t *testing.T) {
	sch, err := ParseSchedule([]byte("  1.5, 2 \n\n 3, 4 \n"))
	require.NoError(t, err)
	require.Equal(t, []float64{1.5, 2}, sch.Rates)
	require.Equal(t, []time.Duration{3 * time.Second, 4 * time.Second}, sch.Intervals)
}

func TestParseScheduleErrors(t *testing.T) {
	cases := map[string]string{
		"single line":      "1,2,3\n",
		"empty":            "\n\n",
		"length mismatch":  "1,2\n3\n",
		"bad rate":         "1,x\n2,3\n",
		"bad duration":     "1,2\n3,y\n",
		"trailing comma":   "1,2,\n3,4,5\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSchedule([]byte(data))
			require.ErrorIs(t, err, errdefs.ErrConfiguration)
		})
	}
}

func TestReadScheduleFileMissing(t *testing.T) {
	_, err := ReadScheduleFile(filepath.Join(t.TempDir(), "absent.txt"))
	require.ErrorIs(t, err, errdefs.ErrConfiguration)
}
