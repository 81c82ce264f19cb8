// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchForReloadMissingFileIsNotAnError(t *testing.T) {
	assert.NoError(t, WatchForReload(filepath.Join(t.TempDir(), "does-not-exist.json")))
}

func TestReloadListenerEventMatchesOwnBasename(t *testing.T) {
	l := &reloadListener{path: "/etc/flywheel/flywheel.json"}
	assert.True(t, l.EventMatch(`WRITE  "/etc/flywheel/flywheel.json"`))
	assert.False(t, l.EventMatch(`WRITE  "/etc/flywheel/other.json"`))
}

func TestReloadListenerEventCallbackReappliesFile(t *testing.T) {
	orig := Keys
	t.Cleanup(func() { Keys = orig })

	path := filepath.Join(t.TempDir(), "flywheel.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"health_addr":":9191"}`), 0o600))

	l := &reloadListener{path: path}
	l.EventCallback()

	assert.Equal(t, ":9191", Keys.HealthAddr)
}
