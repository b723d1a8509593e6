/*
Package monitoring provides Prometheus metrics for the process subsystem.

# Overview

Each Metrics value owns its own prometheus.Registry, so several kernels
(one per test, say) can run in one binary without colliding on metric
names. The debug server exposes the registry at /metrics.

# Features

- PID table occupancy and lifecycle counters (fork, exit, reap, orphan)
- Blocked waitpid callers
- Syscall counts and latency by name and result
- Debug server request metrics

# Usage

	metrics := monitoring.NewMetrics()

	// Lifecycle events
	metrics.RecordFork("ok")
	metrics.RecordExit("zombie")

	// Time a syscall
	timer := monitoring.NewTimer(metrics, "waitpid")
	// ... perform the call ...
	timer.Stop(err)

	// Expose
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

A nil *Metrics is valid and records nothing.
*/
package monitoring
