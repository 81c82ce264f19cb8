package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/config"
	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/internal/util"
	"github.com/google/uuid"
)

// Build constructs the runnable loop for one configured adapter, keyed by
// cfg.Kind the same way the teacher's metricdata package picks a backend by
// its "kind" field. "replay" is the only kind with a driver built into this
// module; "pull" and "push" require an external PollSource/PushSource this
// package cannot provide on its own (no concrete historian or message-bus
// client ships here), so Build returns an error for them unless a caller
// has registered one via RegisterPollSource/RegisterPushSource.
func Build(cfg config.AdapterConfig, dataSourceID uuid.UUID, emit func(model.RawSampleBatch)) (string, func(context.Context) error, error) {
	switch cfg.Kind {
	case "pull":
		src, ok := pollSources[cfg.Name]
		if !ok {
			return "", nil, fmt.Errorf("adapters: no pull source registered for %q", cfg.Name)
		}
		interval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
		if interval <= 0 {
			return "", nil, fmt.Errorf("adapters: %q: poll_interval_ms must be > 0", cfg.Name)
		}
		a := NewPollAdapter(cfg.Name, dataSourceID, src, cfg.PointFilters, interval, interval*10, emit)
		return a.Name(), a.Run, nil

	case "push":
		src, ok := pushSources[cfg.Name]
		if !ok {
			return "", nil, fmt.Errorf("adapters: no push source registered for %q", cfg.Name)
		}
		capacity := cfg.ChannelCapacity
		if capacity <= 0 {
			capacity = 1024
		}
		a := NewPushAdapter(cfg.Name, dataSourceID, src, cfg.PointFilters, capacity)
		run := func(ctx context.Context) error {
			if err := a.Start(ctx); err != nil {
				return err
			}
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case s := <-a.Updates():
					emit(model.RawSampleBatch{
						BatchID: uuid.New(), DataSourceID: dataSourceID,
						ProducedAt: time.Now().UTC(), Points: []model.RawSample{s},
					})
				}
			}
		}
		return a.Name(), run, nil

	case "replay":
		var conn struct {
			Dir  string `json:"dir"`
			Tick string `json:"tick"`
		}
		if len(cfg.Connection) > 0 {
			if err := json.Unmarshal(cfg.Connection, &conn); err != nil {
				return "", nil, fmt.Errorf("adapters: %q: connection: %w", cfg.Name, err)
			}
		}
		if conn.Dir == "" {
			return "", nil, fmt.Errorf("adapters: %q: replay adapter requires connection.dir", cfg.Name)
		}

		rows, err := LoadReplayRows(conn.Dir)
		if err != nil {
			return "", nil, err
		}
		rows = filterReplayRows(rows, cfg.PointFilters)

		var tick time.Duration
		if conn.Tick != "" {
			tick, err = time.ParseDuration(conn.Tick)
			if err != nil {
				return "", nil, fmt.Errorf("adapters: %q: connection.tick: %w", cfg.Name, err)
			}
		}

		a := NewReplayAdapter(cfg.Name, dataSourceID, rows, tick, emit)
		return a.Name(), a.Run, nil

	default:
		return "", nil, fmt.Errorf("adapters: unknown kind %q for adapter %q", cfg.Kind, cfg.Name)
	}
}

// filterReplayRows restricts rows to the addresses named in filters, the
// same "point_filters" restriction pull/push adapters apply to their own
// address lists; an empty filters replays every address unchanged.
func filterReplayRows(rows []ReplayRow, filters []string) []ReplayRow {
	if len(filters) == 0 {
		return rows
	}
	kept := rows[:0]
	for _, r := range rows {
		if util.Contains(filters, r.Address) {
			kept = append(kept, r)
		}
	}
	return kept
}

var (
	pollSources = map[string]PollSource{}
	pushSources = map[string]PushSource{}
)

// RegisterPollSource makes a concrete historian client available to Build
// under the adapter name a config entry refers to it by. Call during
// process startup, before Build.
func RegisterPollSource(name string, src PollSource) { pollSources[name] = src }

// RegisterPushSource is RegisterPollSource's push-adapter counterpart.
func RegisterPushSource(name string, src PushSource) { pushSources[name] = src }
