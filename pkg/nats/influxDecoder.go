// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nats

import (
	"fmt"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	influx "github.com/influxdata/line-protocol/v2/lineprotocol"
)

// DecodeInfluxSample decodes a single InfluxDB line protocol point into a
// model.RawSample. The measurement is used as the sample's Name; an
// "address" tag supplies Address (falling back to the measurement itself
// when absent); a "value" field supplies Value. Any other tags/fields are
// ignored, the same subset cc-backend's own line protocol ingestion path
// reads before handing samples to its metric store.
func DecodeInfluxSample(d *influx.Decoder) (model.RawSample, error) {
	measurement, err := d.Measurement()
	if err != nil {
		return model.RawSample{}, err
	}

	address := string(measurement)
	for {
		key, value, err := d.NextTag()
		if err != nil {
			return model.RawSample{}, err
		}
		if key == nil {
			break
		}
		if string(key) == "address" {
			address = string(value)
		}
	}

	var (
		value    float64
		hasValue bool
	)
	for {
		key, fv, err := d.NextField()
		if err != nil {
			return model.RawSample{}, err
		}
		if key == nil {
			break
		}
		if string(key) != "value" {
			continue
		}
		value, err = fieldToFloat64(fv)
		if err != nil {
			return model.RawSample{}, fmt.Errorf("line protocol field %q: %w", key, err)
		}
		hasValue = true
	}
	if !hasValue {
		return model.RawSample{}, fmt.Errorf("line protocol point %q: missing \"value\" field", measurement)
	}

	t, err := d.Time(influx.Nanosecond, time.Time{})
	if err != nil {
		return model.RawSample{}, err
	}

	return model.RawSample{
		Address:      address,
		Name:         string(measurement),
		TimestampUTC: t.UTC(),
		Value:        value,
		Quality:      model.QualityGood,
	}, nil
}

func fieldToFloat64(v influx.Value) (float64, error) {
	switch raw := v.Interface().(type) {
	case float64:
		return raw, nil
	case int64:
		return float64(raw), nil
	case uint64:
		return float64(raw), nil
	case bool:
		if raw {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported field value type %T", raw)
	}
}
