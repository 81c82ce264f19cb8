// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package repository is the metadata store: points, data sources,
// patterns and their roles, suggestions, feedback, bindings, and the
// durable correlation/cluster caches (§6 "Persisted layout").
package repository

import (
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/fieldflywheel/ingest-flywheel/pkg/lrucache"
	"github.com/jmoiron/sqlx"
)

var (
	repoOnce     sync.Once
	repoInstance *Repository
)

// Repository is the single metadata-store handle shared by every
// analysis stage. It carries its own read-through cache for the
// point-resolution hot path (§4.C, §9 "point-resolution cache").
type Repository struct {
	DB *sqlx.DB

	stmtCache *sq.StmtCache
	cache     *lrucache.Cache
}

// GetRepository returns the process-wide Repository singleton, built over
// the connection established by Connect.
func GetRepository() *Repository {
	repoOnce.Do(func() {
		db := GetConnection()
		repoInstance = &Repository{
			DB:        db.DB,
			stmtCache: sq.NewStmtCache(db.DB),
			cache:     lrucache.New(64 * 1024 * 1024),
		}
	})
	return repoInstance
}
