// Package adapters models source adapters as a set of capability
// interfaces (§9 "Polymorphism of adapters"): no inheritance hierarchy, an
// adapter instance advertises the capabilities it supports and callers
// type-assert before use.
package adapters

import (
	"context"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
)

// DiscoveredPoint is one result of a discovery scan.
type DiscoveredPoint struct {
	Address     string
	Name        string
	Description string
	Unit        string
	ValueType   model.ValueType
	Vendor      map[string]string
}

// Discoverer adapters can enumerate points by wildcard filter.
type Discoverer interface {
	DiscoverPoints(ctx context.Context, filter string, max int) ([]DiscoveredPoint, error)
}

// CurrentReader adapters can batch-read current values.
type CurrentReader interface {
	// ReadCurrent returns a Sample per resolved address; addresses that
	// could not be read are simply absent from the result (partial
	// success is allowed).
	ReadCurrent(ctx context.Context, addresses []string) (map[string]model.RawSample, error)
}

// RangeReader adapters can read historical ranges.
type RangeReader interface {
	ReadRange(ctx context.Context, address string, from, to time.Time) ([]model.RawSample, error)
}

// Subscriber adapters push updates into a sink instead of being polled.
type Subscriber interface {
	Subscribe(ctx context.Context, addresses []string, sink chan<- model.RawSample) error
}

// HealthChecker adapters can report their own health independent of a
// read/poll attempt.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Adapter is the minimal identity every adapter carries; callers
// type-assert to the richer capability interfaces above.
type Adapter interface {
	Name() string
	DataSourceID() string
}
