package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/logging"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/monitoring"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/proc"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	srv   *Server
	procs *proc.Manager
	boot  *thread.Thread
}

func setup(t *testing.T, rps int) *fixture {
	t.Helper()
	metrics := monitoring.NewMetrics()
	procs := proc.Bootstrap(proc.Options{PidMax: 16, Metrics: metrics})
	boot := thread.New("boot", thread.NewCPU(0))
	require.NoError(t, procs.AddThread(procs.Kernel(), boot))

	srv := New(Options{
		Addr:              "127.0.0.1:0",
		RequestsPerSecond: rps,
		Burst:             rps,
		Development:       true,
		Boot:              id.NewBootID(),
		Procs:             procs,
		Metrics:           metrics,
		Logger:            logging.NewNop(),
	})
	return &fixture{srv: srv, procs: procs, boot: boot}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRoot(t *testing.T) {
	f := setup(t, 0)
	w := f.get(t, "/")

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "online", body["status"])
	assert.True(t, id.IsValid(body["boot"].(string), "boot"))
}

func TestHealth(t *testing.T) {
	f := setup(t, 0)
	_, err := f.procs.CreateRunProgram(f.boot, "sh")
	require.NoError(t, err)

	w := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, 16.0, body["pid_max"])
	assert.Equal(t, 14.0, body["pids_free"])
	assert.Equal(t, "wait", body["reap_mode"])
}

func TestProcs(t *testing.T) {
	f := setup(t, 0)
	p, err := f.procs.CreateRunProgram(f.boot, "sh")
	require.NoError(t, err)
	th := thread.New("sh", thread.NewCPU(0))
	require.NoError(t, f.procs.AddThread(p, th))
	as, err := vm.NewManager(0).Create()
	require.NoError(t, err)
	_, err = as.DefineStack()
	require.NoError(t, err)
	p.SetAS(th, as)

	w := f.get(t, "/procs")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Processes []struct {
			PID      int    `json:"pid"`
			Name     string `json:"name"`
			Status   string `json:"status"`
			Threads  int    `json:"threads"`
			Bytes    uint64 `json:"memory_bytes"`
			Memory   string `json:"memory"`
			Children []int  `json:"children"`
		} `json:"processes"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	require.Equal(t, 2, body.Count)
	kp := body.Processes[0]
	assert.Equal(t, proc.KernelName, kp.Name)
	assert.Equal(t, []int{p.PID()}, kp.Children)

	sh := body.Processes[1]
	assert.Equal(t, "sh", sh.Name)
	assert.Equal(t, "running", sh.Status)
	assert.Equal(t, 1, sh.Threads)
	assert.Equal(t, as.Size(), sh.Bytes)
	assert.True(t, strings.HasSuffix(sh.Memory, "KiB"), sh.Memory)
}

func TestGetProc(t *testing.T) {
	f := setup(t, 0)

	w := f.get(t, "/procs/1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, proc.KernelName, decode(t, w)["name"])

	assert.Equal(t, http.StatusNotFound, f.get(t, "/procs/9").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/procs/zero").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/procs/-3").Code)
}

func TestStatsAndMetrics(t *testing.T) {
	f := setup(t, 0)
	_, err := f.procs.CreateRunProgram(f.boot, "sh")
	require.NoError(t, err)

	w := f.get(t, "/stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.0, decode(t, w)["pids_in_use"])

	w = f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "kernel_pids_in_use 2")
	assert.Contains(t, w.Body.String(), `kernel_debug_http_requests_total{method="GET",path="/stats",status="200"} 1`)
}

func TestRateLimit(t *testing.T) {
	f := setup(t, 2)

	assert.Equal(t, http.StatusOK, f.get(t, "/health").Code)
	assert.Equal(t, http.StatusOK, f.get(t, "/health").Code)
	assert.Equal(t, http.StatusTooManyRequests, f.get(t, "/health").Code)
}
