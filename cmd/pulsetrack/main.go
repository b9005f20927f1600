// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

// Command pulsetrack runs the behavioral-analytics capture pipeline.
//
// Subcommands:
//
//	run         replay a recorded interaction stream through a tracker
//	receiver    run the development collector
//	replay-log  inspect or drain the durable batch log
//
// Configuration is layered with koanf: built-in defaults, then the YAML file
// named by --config or PULSETRACK_CONFIG, then PULSETRACK_* environment
// variables.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
