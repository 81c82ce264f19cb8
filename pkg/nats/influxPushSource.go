// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nats

import (
	"context"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/pkg/log"
	influx "github.com/influxdata/line-protocol/v2/lineprotocol"
)

// LineProtocolSource adapts a NATS subject carrying InfluxDB line protocol
// batches into an adapters.PushSource, one payload decoded into zero or
// more model.RawSamples via DecodeInfluxSample. Grounded on the teacher's
// internal/memorystore/lineprotocol.go subscription loop, minus its
// cluster/host sharding (this module has no cluster dimension).
type LineProtocolSource struct {
	client  *Client
	subject string
}

// NewLineProtocolSource builds a LineProtocolSource that will subscribe to
// subject once Subscribe is called.
func NewLineProtocolSource(client *Client, subject string) *LineProtocolSource {
	return &LineProtocolSource{client: client, subject: subject}
}

// Subscribe registers a NATS handler on l.subject that decodes every line
// protocol point in the payload and forwards it to sink, filtered by
// addresses when non-empty.
func (l *LineProtocolSource) Subscribe(ctx context.Context, addresses []string, sink chan<- model.RawSample) error {
	allow := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		allow[a] = true
	}

	return l.client.Subscribe(l.subject, func(subject string, data []byte) {
		dec := influx.NewDecoderWithBytes(data)
		for dec.Next() {
			sample, err := DecodeInfluxSample(dec)
			if err != nil {
				log.Warnf("nats: line protocol decode on %q failed: %v", subject, err)
				continue
			}
			if len(allow) > 0 && !allow[sample.Address] {
				continue
			}
			select {
			case sink <- sample:
			case <-ctx.Done():
				return
			}
		}
	})
}
