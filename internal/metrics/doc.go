// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

/*
Package metrics provides the Prometheus collectors for the capture and
delivery pipeline.

Pipeline failures never reach the host page, so these counters together with
the structured log are how an operator sees dropped records, failed sends,
evictions from the durable log and streaming reconnects.

Collectors are registered on the default registry via promauto and exposed
at /metrics by the ops service:

	mux.Handle("/metrics", promhttp.Handler())

Example queries:

	# Share of batches acknowledged on first attempt
	sum(rate(pulsetrack_batch_sends_total{mode="normal",result="ack"}[5m]))
	  / sum(rate(pulsetrack_batch_sends_total{mode="normal"}[5m]))

	# Records lost to a full durable log
	increase(pulsetrack_log_evictions_total[1h])
*/
package metrics
