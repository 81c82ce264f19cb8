// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"path/filepath"
	"strings"

	"github.com/fieldflywheel/ingest-flywheel/internal/util"
	"github.com/fieldflywheel/ingest-flywheel/pkg/log"
)

// reloadListener re-runs Init against the watched config file on every
// fsnotify event that touches it, the same util.Listener contract
// cc-backend's tagger package uses to pick up rule-file edits without a
// restart.
type reloadListener struct {
	path string
}

func (r *reloadListener) EventMatch(event string) bool {
	return strings.Contains(event, filepath.Base(r.path))
}

func (r *reloadListener) EventCallback() {
	log.Infof("config: %s changed, reloading", r.path)
	if err := Init(r.path); err != nil {
		log.Errorf("config: reload %s failed, keeping previous values: %v", r.path, err)
	}
}

// WatchForReload re-applies flagConfigFile over Keys whenever it changes on
// disk, letting operators retune §6 parameters (weights, thresholds,
// intervals) without restarting the process. A missing file is not an
// error: there is nothing to watch until it exists, matching Init's own
// "defaults apply" tolerance for that case.
func WatchForReload(flagConfigFile string) error {
	if !util.CheckFileExists(flagConfigFile) {
		return nil
	}
	util.AddListener(filepath.Dir(flagConfigFile), &reloadListener{path: flagConfigFile})
	return nil
}
