// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

/*
Package supervisor runs pulsetrack's long-lived components under a suture v4
supervision tree.

# Tree

	pulsetrack (root)
	├── pipeline-layer   tracker services
	├── ingest-layer     development receiver
	└── ops-layer        Prometheus metrics server

Each layer restarts its own services with exponential-decay failure counting
(FailureThreshold, FailureDecay, FailureBackoff). Supervisor events are logged
through sutureslog into the zerolog global logger via logging.NewSlogLogger.

# Usage

	tree, _ := supervisor.NewSupervisorTree(logging.NewSlogLogger("supervisor"),
		supervisor.TreeConfigFrom(&cfg.Supervisor))
	tree.AddPipelineService(services.NewTrackerService("tracker", build, 5*time.Second))
	tree.AddIngestService(receiver.New(cfg.Receiver))
	tree.AddOpsService(services.NewHTTPServerService("metrics", metricsServer, 5*time.Second))
	err := tree.Serve(ctx)

A service returning an error is restarted; returning suture.ErrDoNotRestart
removes it; suture.ErrTerminateSupervisorTree stops the whole tree.
*/
package supervisor
