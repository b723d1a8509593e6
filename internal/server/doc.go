// Package server is the kernel's debug HTTP endpoint.
//
// Routes:
//   - GET /          boot identity
//   - GET /health    table size, free pids, reap mode, uptime
//   - GET /procs     every process with status, threads, files and memory
//   - GET /procs/:pid one process
//   - GET /stats     lifecycle counters as JSON
//   - GET /metrics   Prometheus exposition of the kernel's registry
//
// Middleware stack: recovery, request metrics, per-IP rate limiting.
//
// Example Usage:
//
//	srv := server.New(server.Options{Addr: ":9090", Procs: procs, Metrics: metrics, Logger: logger})
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
