package resampler

import (
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
)

// ForwardFillAlign resamples samples, assumed sorted by TimestampUTC, onto
// an evenly spaced grid of the given step starting at the first sample's
// timestamp and ending at the last. Each grid point carries forward the
// most recent sample at or before it; a grid point whose carried-forward
// sample is older than maxStaleness is dropped rather than produced stale.
func ForwardFillAlign(samples []model.Sample, step, maxStaleness time.Duration) []model.Sample {
	if len(samples) == 0 || step <= 0 {
		return nil
	}

	start := samples[0].TimestampUTC
	end := samples[len(samples)-1].TimestampUTC

	out := make([]model.Sample, 0, int(end.Sub(start)/step)+1)
	idx := 0
	var last *model.Sample

	for t := start; !t.After(end); t = t.Add(step) {
		for idx < len(samples) && !samples[idx].TimestampUTC.After(t) {
			s := samples[idx]
			last = &s
			idx++
		}
		if last == nil {
			continue
		}
		if t.Sub(last.TimestampUTC) > maxStaleness {
			continue
		}
		out = append(out, model.Sample{
			SequenceID:   last.SequenceID,
			TimestampUTC: t,
			Value:        last.Value,
			Quality:      last.Quality,
		})
	}
	return out
}

// ForwardFillSeries resamples samples (sorted by TimestampUTC) onto an
// externally supplied grid, carrying forward the most recent sample at or
// before each grid point. A grid point is nil when either no sample has
// occurred yet or the carried-forward sample is older than maxStaleness —
// used to align two independently sampled series onto one shared grid
// before a correlation is computed over them.
func ForwardFillSeries(samples []model.Sample, grid []time.Time, maxStaleness time.Duration) []*model.Sample {
	out := make([]*model.Sample, len(grid))
	idx := 0
	var last *model.Sample

	for i, t := range grid {
		for idx < len(samples) && !samples[idx].TimestampUTC.After(t) {
			s := samples[idx]
			last = &s
			idx++
		}
		if last == nil || t.Sub(last.TimestampUTC) > maxStaleness {
			continue
		}
		v := *last
		v.TimestampUTC = t
		out[i] = &v
	}
	return out
}
