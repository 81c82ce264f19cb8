// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package archive

import (
	"encoding/json"
	"fmt"

	"github.com/fieldflywheel/ingest-flywheel/pkg/archive/parquet"
	"github.com/fieldflywheel/ingest-flywheel/pkg/log"
)

// ArchiveBackend is the cold-storage sink for expired Cluster/Suggestion
// rows and their feedback history (§3 "expiration policy": data is moved
// to cold storage rather than deleted outright).
type ArchiveBackend interface {
	WriteRows(rows []parquet.ArchiveRow) error
	Close() error
}

type fileArchiveConfig struct {
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxTotalMB int    `json:"max_total_mb"` // soft cap on the target directory's combined size; 0 disables the check
}

type s3ArchiveConfig struct {
	Endpoint     string `json:"endpoint"`
	Bucket       string `json:"bucket"`
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	Region       string `json:"region"`
	UsePathStyle bool   `json:"use_path_style"`
	MaxSizeMB    int    `json:"max_size_mb"`
}

var backend ArchiveBackend

// Init selects a cold-storage backend from rawConfig's "kind" field
// ("file" or "s3"), the same discriminated-union convention
// config.AdapterConfig uses for its adapter kinds.
func Init(rawConfig json.RawMessage) error {
	var kind struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(rawConfig, &kind); err != nil {
		return fmt.Errorf("archive: unmarshal kind: %w", err)
	}

	switch kind.Kind {
	case "file":
		var cfg fileArchiveConfig
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return fmt.Errorf("archive: unmarshal file config: %w", err)
		}
		if cfg.Path == "" {
			return fmt.Errorf("archive: file backend requires a path")
		}
		target, err := parquet.NewFileTargetWithQuota(cfg.Path, cfg.MaxTotalMB)
		if err != nil {
			return fmt.Errorf("archive: file target: %w", err)
		}
		backend = newParquetBackend(target, cfg.MaxSizeMB)

	case "s3":
		var cfg s3ArchiveConfig
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return fmt.Errorf("archive: unmarshal s3 config: %w", err)
		}
		target, err := parquet.NewS3Target(parquet.S3TargetConfig{
			Endpoint:     cfg.Endpoint,
			Bucket:       cfg.Bucket,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			Region:       cfg.Region,
			UsePathStyle: cfg.UsePathStyle,
		})
		if err != nil {
			return fmt.Errorf("archive: s3 target: %w", err)
		}
		backend = newParquetBackend(target, cfg.MaxSizeMB)

	default:
		return fmt.Errorf("archive: unknown backend kind %q", kind.Kind)
	}

	log.Infof("archive: %q backend initialized", kind.Kind)
	return nil
}

// GetHandle returns the backend selected by Init, or nil if Init was never
// called or failed.
func GetHandle() ArchiveBackend {
	return backend
}

// parquetBackend adapts an ArchiveWriter (parameterized over one storage
// target) to the ArchiveBackend interface.
type parquetBackend struct {
	writer *parquet.ArchiveWriter
}

func newParquetBackend(target parquet.ParquetTarget, maxSizeMB int) *parquetBackend {
	return &parquetBackend{writer: parquet.NewArchiveWriter(target, maxSizeMB)}
}

func (b *parquetBackend) WriteRows(rows []parquet.ArchiveRow) error {
	for _, row := range rows {
		if err := b.writer.AddRow(row); err != nil {
			return err
		}
	}
	return nil
}

func (b *parquetBackend) Close() error {
	return b.writer.Close()
}
