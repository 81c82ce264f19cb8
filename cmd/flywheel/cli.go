// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import "flag"

var (
	flagConfigFile  string
	flagLogLevel    string
	flagLogDateTime bool
	flagMigrateDB   bool
	flagNoRun       bool
	flagVersion     bool
	flagGops        bool
)

func parseFlags() {
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default config options by those specified in `config.json`")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "Sets the logging level: `debug`, `info`, `warn`, `err`, `crit`")
	flag.BoolVar(&flagLogDateTime, "log-date-time", false, "Print date and time in log output")
	flag.BoolVar(&flagMigrateDB, "migrate-db", false, "Apply pending database migrations and exit")
	flag.BoolVar(&flagNoRun, "no-run", false, "Do not start the orchestrator, stop right after initialization")
	flag.BoolVar(&flagVersion, "version", false, "Show version information and exit")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()
}
