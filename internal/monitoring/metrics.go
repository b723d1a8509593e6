package monitoring

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/errno"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Process table metrics
	PidsInUse    prometheus.Gauge
	Forks        *prometheus.CounterVec
	Exits        *prometheus.CounterVec
	Reaps        *prometheus.CounterVec
	WaitsBlocked prometheus.Gauge

	// Syscall metrics
	SyscallCalls    *prometheus.CounterVec
	SyscallDuration *prometheus.HistogramVec

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current metric values for the JSON API
type Snapshot struct {
	PidsInUse    int64 `json:"pids_in_use"`
	Forks        int64 `json:"forks"`
	ForkFailures int64 `json:"fork_failures"`
	Exits        int64 `json:"exits"`
	Reaps        int64 `json:"reaps"`
	Orphans      int64 `json:"orphans"`
	Syscalls     int64 `json:"syscalls"`
}

// NewMetrics creates a metrics collector with its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// Process table metrics
		PidsInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kernel_pids_in_use",
				Help: "Number of allocated PIDs, kernel process included",
			},
		),
		Forks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_forks_total",
				Help: "Total number of fork attempts",
			},
			[]string{"result"},
		),
		Exits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_exits_total",
				Help: "Total number of process exits by what the process became",
			},
			[]string{"outcome"},
		),
		Reaps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_reaps_total",
				Help: "Total number of process records reclaimed",
			},
			[]string{"by"},
		),
		WaitsBlocked: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kernel_waits_blocked",
				Help: "Number of threads asleep in waitpid",
			},
		),

		// Syscall metrics
		SyscallCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_syscalls_total",
				Help: "Total number of system calls",
			},
			[]string{"name", "result"},
		),
		SyscallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kernel_syscall_duration_seconds",
				Help:    "System call duration in seconds",
				Buckets: []float64{.00001, .0001, .001, .01, .1, 1, 10},
			},
			[]string{"name"},
		),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_debug_http_requests_total",
				Help: "Total number of debug server requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kernel_debug_http_request_duration_seconds",
				Help:    "Debug server request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),
	}

	// System metrics
	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "kernel_uptime_seconds",
			Help: "Kernel uptime in seconds",
		},
		m.UptimeSeconds,
	)
	return m
}

// Registry returns the registry the metrics are registered with
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetPidsInUse sets the number of allocated PIDs
func (m *Metrics) SetPidsInUse(n int) {
	if m == nil {
		return
	}
	m.PidsInUse.Set(float64(n))
	m.mu.Lock()
	m.snapshot.PidsInUse = int64(n)
	m.mu.Unlock()
}

// RecordFork records a fork attempt; result is "ok" or an errno name
func (m *Metrics) RecordFork(result string) {
	if m == nil {
		return
	}
	m.Forks.WithLabelValues(result).Inc()
	m.mu.Lock()
	if result == "ok" {
		m.snapshot.Forks++
	} else {
		m.snapshot.ForkFailures++
	}
	m.mu.Unlock()
}

// RecordExit records a process exit; outcome is "zombie" or "orphan"
func (m *Metrics) RecordExit(outcome string) {
	if m == nil {
		return
	}
	m.Exits.WithLabelValues(outcome).Inc()
	m.mu.Lock()
	m.snapshot.Exits++
	if outcome == "orphan" {
		m.snapshot.Orphans++
	}
	m.mu.Unlock()
}

// RecordReap records a reclaimed record; by is "wait", "parent" or "self"
func (m *Metrics) RecordReap(by string) {
	if m == nil {
		return
	}
	m.Reaps.WithLabelValues(by).Inc()
	m.mu.Lock()
	m.snapshot.Reaps++
	m.mu.Unlock()
}

// WaitBlocked tracks threads entering (+1) and leaving (-1) a blocking wait
func (m *Metrics) WaitBlocked(delta int) {
	if m == nil {
		return
	}
	m.WaitsBlocked.Add(float64(delta))
}

// RecordSyscall records a system call and its outcome
func (m *Metrics) RecordSyscall(name string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.SyscallCalls.WithLabelValues(name, Result(err)).Inc()
	m.SyscallDuration.WithLabelValues(name).Observe(duration.Seconds())
	m.mu.Lock()
	m.snapshot.Syscalls++
	m.mu.Unlock()
}

// RecordHTTPRequest records a debug server request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// GetSnapshot returns the current values for the JSON API
func (m *Metrics) GetSnapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// UptimeSeconds returns seconds since the metrics were created
func (m *Metrics) UptimeSeconds() float64 {
	return time.Since(m.startTime).Seconds()
}

// Result maps an error to a metric label: "ok", an errno name, or "error"
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	var e errno.Errno
	if errors.As(err, &e) {
		return e.Name()
	}
	return "error"
}
