package traffic

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oabuhamdan/fleet/internal/errdefs"
	"github.com/oabuhamdan/fleet/internal/pattern"
)

// RatesPath returns the rate/interval parameter file path for a stream.
func RatesPath(dir, streamID string) string {
	return filepath.Join(dir, fmt.Sprintf("rates_%s.txt", streamID))
}

// EncodeSchedule renders the two-line parameter format: comma-separated
// rates, then comma-separated whole-second durations.
func EncodeSchedule(sch pattern.Schedule) string {
	rates := make([]string, len(sch.Rates))
	for i, r := range sch.Rates {
		rates[i] = strconv.FormatFloat(r, 'g', -1, 64)
	}
	durations := make([]string, len(sch.Intervals))
	for i, d := range sch.Intervals {
		durations[i] = strconv.Itoa(int(d / time.Second))
	}
	return strings.Join(rates, ",") + "\n" + strings.Join(durations, ",") + "\n"
}

// ParseSchedule is the inverse of EncodeSchedule. The two sequences must
// be non-empty and of equal length.
func ParseSchedule(data []byte) (pattern.Schedule, error) {
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, strings.TrimSpace(l))
		}
	}
	if len(lines) < 2 {
		return pattern.Schedule{}, fmt.Errorf("%w: rates file needs a rate line and a duration line", errdefs.ErrConfiguration)
	}

	rateFields := strings.Split(lines[0], ",")
	durFields := strings.Split(lines[1], ",")
	if len(rateFields) != len(durFields) {
		return pattern.Schedule{}, fmt.Errorf("%w: %d rates but %d durations", errdefs.ErrConfiguration, len(rateFields), len(durFields))
	}

	sch := pattern.Schedule{
		Rates:     make([]float64, len(rateFields)),
		Intervals: make([]time.Duration, len(durFields)),
	}
	for i, f := range rateFields {
		r, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return pattern.Schedule{}, fmt.Errorf("%w: bad rate %q: %v", errdefs.ErrConfiguration, f, err)
		}
		sch.Rates[i] = r
	}
	for i, f := range durFields {
		d, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return pattern.Schedule{}, fmt.Errorf("%w: bad duration %q: %v", errdefs.ErrConfiguration, f, err)
		}
		sch.Intervals[i] = time.Duration(d * float64(time.Second))
	}
	return sch, nil
}

// ReadScheduleFile loads and parses a rates file from the local
// filesystem; the agent calls this on the host.
func ReadScheduleFile(path string) (pattern.Schedule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return pattern.Schedule{}, fmt.Errorf("%w: rates file %s: %v", errdefs.ErrConfiguration, path, err)
	}
	return ParseSchedule(b)
}

// WriteScheduleFile writes the parameter file locally with an atomic
// replace, same as the control records.
func WriteScheduleFile(path string, sch pattern.Schedule) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("writing rates file %s: %w", path, err)
	}
	if _, err := tmp.WriteString(EncodeSchedule(sch)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing rates file %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing rates file %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}
