package adapters

import (
	"context"
	"sort"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/google/uuid"
)

// ReplayRow is one timestamped value read from a replay source file.
type ReplayRow struct {
	Address      string
	TimestampUTC time.Time
	Value        float64
	Quality      model.Quality
}

// ReplayAdapter rebases recorded rows onto current wall-clock and
// optionally emits a steady tick via linear interpolation, independent of
// the source sampling cadence (§4.A "replay adapter").
type ReplayAdapter struct {
	name         string
	dataSourceID uuid.UUID
	rows         map[string][]ReplayRow // per-address, sorted ascending by TimestampUTC
	tick         time.Duration          // emission cadence; 0 disables interpolation (emit rows as-is)
	emit         func(model.RawSampleBatch)
}

func NewReplayAdapter(name string, dataSourceID uuid.UUID, rows []ReplayRow, tick time.Duration, emit func(model.RawSampleBatch)) *ReplayAdapter {
	byAddr := make(map[string][]ReplayRow)
	for _, r := range rows {
		byAddr[r.Address] = append(byAddr[r.Address], r)
	}
	for addr := range byAddr {
		sort.Slice(byAddr[addr], func(i, j int) bool {
			return byAddr[addr][i].TimestampUTC.Before(byAddr[addr][j].TimestampUTC)
		})
	}
	return &ReplayAdapter{name: name, dataSourceID: dataSourceID, rows: byAddr, tick: tick, emit: emit}
}

func (a *ReplayAdapter) Name() string         { return a.name }
func (a *ReplayAdapter) DataSourceID() string { return a.dataSourceID.String() }

// Run rebases every address's rows onto wall-clock starting at time.Now(),
// preserving each address's own relative spacing, and emits one batch per
// tick (or, with tick == 0, one batch per source row in merged time order).
func (a *ReplayAdapter) Run(ctx context.Context) error {
	if len(a.rows) == 0 {
		return nil
	}

	origin := earliestTimestamp(a.rows)
	wallStart := time.Now().UTC()
	rebase := func(t time.Time) time.Time { return wallStart.Add(t.Sub(origin)) }

	if a.tick <= 0 {
		return a.runAsIs(ctx, rebase)
	}
	return a.runInterpolated(ctx, rebase)
}

func earliestTimestamp(byAddr map[string][]ReplayRow) time.Time {
	var earliest time.Time
	for _, rows := range byAddr {
		if len(rows) > 0 && (earliest.IsZero() || rows[0].TimestampUTC.Before(earliest)) {
			earliest = rows[0].TimestampUTC
		}
	}
	return earliest
}

func (a *ReplayAdapter) runAsIs(ctx context.Context, rebase func(time.Time) time.Time) error {
	type indexed struct {
		addr string
		row  ReplayRow
	}
	var merged []indexed
	for addr, rows := range a.rows {
		for _, r := range rows {
			merged = append(merged, indexed{addr, r})
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].row.TimestampUTC.Before(merged[j].row.TimestampUTC) })

	for _, m := range merged {
		emitAt := rebase(m.row.TimestampUTC)
		if err := waitUntil(ctx, emitAt); err != nil {
			return err
		}
		a.emitSample(m.addr, m.row.Value, m.row.Quality, time.Now().UTC())
	}
	return nil
}

func (a *ReplayAdapter) runInterpolated(ctx context.Context, rebase func(time.Time) time.Time) error {
	origin := earliestTimestamp(a.rows)
	maxTs := origin
	for _, rows := range a.rows {
		if last := rows[len(rows)-1].TimestampUTC; last.After(maxTs) {
			maxTs = last
		}
	}

	for sourceTime := origin; !sourceTime.After(maxTs); sourceTime = sourceTime.Add(a.tick) {
		emitWall := rebase(sourceTime)
		if err := waitUntil(ctx, emitWall); err != nil {
			return err
		}

		batch := model.RawSampleBatch{BatchID: uuid.New(), DataSourceID: a.dataSourceID, ProducedAt: time.Now().UTC()}
		for addr, rows := range a.rows {
			if v, q, ok := interpolate(rows, sourceTime); ok {
				batch.Points = append(batch.Points, model.RawSample{
					Address: addr, TimestampUTC: time.Now().UTC(), Value: v, Quality: q,
				})
			}
		}
		if len(batch.Points) > 0 {
			a.emit(batch)
		}
	}
	return nil
}

// interpolate returns the linearly-interpolated value of rows at t,
// within [rows[0].Timestamp, rows[last].Timestamp]; false outside that span.
func interpolate(rows []ReplayRow, t time.Time) (float64, model.Quality, bool) {
	if len(rows) == 0 || t.Before(rows[0].TimestampUTC) || t.After(rows[len(rows)-1].TimestampUTC) {
		return 0, "", false
	}
	idx := sort.Search(len(rows), func(i int) bool { return !rows[i].TimestampUTC.Before(t) })
	if idx < len(rows) && rows[idx].TimestampUTC.Equal(t) {
		return rows[idx].Value, rows[idx].Quality, true
	}
	if idx == 0 {
		return rows[0].Value, rows[0].Quality, true
	}
	before, after := rows[idx-1], rows[idx]
	span := after.TimestampUTC.Sub(before.TimestampUTC)
	if span <= 0 {
		return before.Value, before.Quality, true
	}
	frac := float64(t.Sub(before.TimestampUTC)) / float64(span)
	value := before.Value + frac*(after.Value-before.Value)
	return value, after.Quality, true
}

func (a *ReplayAdapter) emitSample(addr string, value float64, quality model.Quality, emittedAt time.Time) {
	a.emit(model.RawSampleBatch{
		BatchID:      uuid.New(),
		DataSourceID: a.dataSourceID,
		ProducedAt:   emittedAt,
		Points: []model.RawSample{
			{Address: addr, TimestampUTC: emittedAt, Value: value, Quality: quality},
		},
	})
}

func waitUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
