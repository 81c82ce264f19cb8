// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package parquet

import (
	"bytes"
	"fmt"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/pkg/log"
	pq "github.com/parquet-go/parquet-go"
)

// ArchiveWriter batches ArchiveRows and flushes them to a target when the
// estimated batch size exceeds maxSizeBytes.
type ArchiveWriter struct {
	target       ParquetTarget
	maxSizeBytes int64
	rows         []ArchiveRow
	currentSize  int64
	fileCounter  int
	datePrefix   string
}

// NewArchiveWriter creates a writer that flushes batches to target.
// maxSizeMB sets the approximate maximum size per parquet file in
// megabytes; 0 uses a 128MB default.
func NewArchiveWriter(target ParquetTarget, maxSizeMB int) *ArchiveWriter {
	if maxSizeMB <= 0 {
		maxSizeMB = 128
	}
	return &ArchiveWriter{
		target:       target,
		maxSizeBytes: int64(maxSizeMB) * 1024 * 1024,
		datePrefix:   time.Now().Format("2006-01-02"),
	}
}

// AddRow adds a row to the current batch. If the estimated batch size
// exceeds the configured maximum, the batch is flushed to the target first.
func (aw *ArchiveWriter) AddRow(row ArchiveRow) error {
	rowSize := estimateRowSize(&row)

	if aw.currentSize+rowSize > aw.maxSizeBytes && len(aw.rows) > 0 {
		if err := aw.Flush(); err != nil {
			return err
		}
	}

	aw.rows = append(aw.rows, row)
	aw.currentSize += rowSize
	return nil
}

// Flush writes the current batch to a parquet file on the target.
func (aw *ArchiveWriter) Flush() error {
	if len(aw.rows) == 0 {
		return nil
	}

	aw.fileCounter++
	fileName := fmt.Sprintf("flywheel-archive-%s-%03d.parquet", aw.datePrefix, aw.fileCounter)

	data, err := writeParquetBytes(aw.rows)
	if err != nil {
		return fmt.Errorf("write parquet buffer: %w", err)
	}

	if err := aw.target.WriteFile(fileName, data); err != nil {
		return fmt.Errorf("write parquet file %q: %w", fileName, err)
	}

	log.Infof("archive: wrote %s (%d rows, %d bytes)", fileName, len(aw.rows), len(data))
	aw.rows = aw.rows[:0]
	aw.currentSize = 0
	return nil
}

// Close flushes any remaining rows.
func (aw *ArchiveWriter) Close() error {
	return aw.Flush()
}

func writeParquetBytes(rows []ArchiveRow) ([]byte, error) {
	var buf bytes.Buffer

	writer := pq.NewGenericWriter[ArchiveRow](&buf,
		pq.Compression(&pq.Zstd),
		pq.SortingWriterConfig(pq.SortingColumns(
			pq.Ascending("cluster_id"),
			pq.Ascending("detected_at"),
		)),
	)

	if _, err := writer.Write(rows); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func estimateRowSize(row *ArchiveRow) int64 {
	size := int64(160) // fixed-width numeric columns
	size += int64(len(row.ClusterID) + len(row.Algorithm) + len(row.Source))
	size += int64(len(row.MemberIDsJSON))
	size += int64(len(row.SuggestionID) + len(row.PatternID) + len(row.PatternName))
	size += int64(len(row.EvidenceJSON) + len(row.Status) + len(row.RejectionReason))
	size += int64(len(row.FeedbackJSON))
	return size
}
