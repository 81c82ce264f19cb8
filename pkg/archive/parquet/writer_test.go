// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package parquet

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/google/uuid"
	pq "github.com/parquet-go/parquet-go"
)

// memTarget collects written files in memory for testing.
type memTarget struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemTarget() *memTarget {
	return &memTarget{files: make(map[string][]byte)}
}

func (m *memTarget) WriteFile(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = append([]byte(nil), data...)
	return nil
}

func makeWriterTestRow(i int64) ArchiveRow {
	return ArchiveRow{
		ClusterID:        uuid.New().String(),
		Algorithm:        string(model.ClusterAlgoLouvain),
		Source:           string(model.ClusterSourceContinuous),
		MemberIDsJSON:    []byte(`["` + uuid.New().String() + `"]`),
		AverageCohesion:  0.5 + float64(i)*0.01,
		MinCorrelation:   0.6,
		MaxCorrelation:   0.9,
		DetectedAt:       time.Now().UTC().UnixMilli(),
		ClusterExpiresAt: time.Now().UTC().Add(7 * 24 * time.Hour).UnixMilli(),
		ArchivedAt:       time.Now().UTC().UnixMilli(),
	}
}

func TestArchiveWriterSingleBatch(t *testing.T) {
	target := newMemTarget()
	aw := NewArchiveWriter(target, 512)

	for i := int64(0); i < 5; i++ {
		if err := aw.AddRow(makeWriterTestRow(i)); err != nil {
			t.Fatalf("add row %d: %v", i, err)
		}
	}

	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(target.files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(target.files))
	}

	for name, data := range target.files {
		file := bytes.NewReader(data)
		pf, err := pq.OpenFile(file, int64(len(data)))
		if err != nil {
			t.Fatalf("open parquet %s: %v", name, err)
		}
		if pf.NumRows() != 5 {
			t.Errorf("parquet rows = %d, want 5", pf.NumRows())
		}
	}
}

func TestArchiveWriterBatching(t *testing.T) {
	target := newMemTarget()
	aw := NewArchiveWriter(target, 0)
	aw.maxSizeBytes = 1 // force a flush after every row

	for i := int64(0); i < 3; i++ {
		if err := aw.AddRow(makeWriterTestRow(i)); err != nil {
			t.Fatalf("add row %d: %v", i, err)
		}
	}

	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(target.files) < 2 {
		t.Errorf("expected multiple files due to batching, got %d", len(target.files))
	}

	for name, data := range target.files {
		file := bytes.NewReader(data)
		if _, err := pq.OpenFile(file, int64(len(data))); err != nil {
			t.Errorf("invalid parquet file %s: %v", name, err)
		}
	}
}

func TestArchiveWriterEmptyClose(t *testing.T) {
	target := newMemTarget()
	aw := NewArchiveWriter(target, 512)

	if err := aw.Close(); err != nil {
		t.Fatalf("close empty writer: %v", err)
	}
	if len(target.files) != 0 {
		t.Errorf("expected no files for empty writer, got %d", len(target.files))
	}
}

func TestFileTarget(t *testing.T) {
	dir := t.TempDir()
	ft, err := NewFileTarget(dir)
	if err != nil {
		t.Fatalf("NewFileTarget: %v", err)
	}

	testData := []byte("test parquet data")
	if err := ft.WriteFile("test.parquet", testData); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "test.parquet"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !bytes.Equal(content, testData) {
		t.Error("file content mismatch")
	}
}

func TestFileTargetSubdirectories(t *testing.T) {
	dir := t.TempDir()
	ft, err := NewFileTarget(dir)
	if err != nil {
		t.Fatalf("NewFileTarget: %v", err)
	}

	testData := []byte("test data in subdir")
	if err := ft.WriteFile("2026-01-20/flywheel-archive-001.parquet", testData); err != nil {
		t.Fatalf("WriteFile with subdir: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "2026-01-20", "flywheel-archive-001.parquet"))
	if err != nil {
		t.Fatalf("read file in subdir: %v", err)
	}
	if !bytes.Equal(content, testData) {
		t.Error("file content mismatch")
	}
}

func TestFileTargetWithQuotaStillWritesOverCap(t *testing.T) {
	dir := t.TempDir()
	// maxTotalMB is checked via util.DiskUsage after the write lands and is
	// purely advisory (a warning, never a rejection), so the write must
	// still succeed regardless of where the directory's usage lands
	// relative to the cap.
	ft, err := NewFileTargetWithQuota(dir, 1)
	if err != nil {
		t.Fatalf("NewFileTargetWithQuota: %v", err)
	}

	if err := ft.WriteFile("within-quota.parquet", []byte("some archived bytes")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "within-quota.parquet"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(content) != "some archived bytes" {
		t.Error("file content mismatch")
	}
}
