package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/logging"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/monitoring"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/proc"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
)

const shutdownTimeout = 5 * time.Second

// Options configures the debug server.
type Options struct {
	Addr              string
	RequestsPerSecond int
	Burst             int
	Development       bool

	Boot    id.BootID
	Procs   *proc.Manager
	Metrics *monitoring.Metrics
	Logger  *logging.Logger
}

// Server is the kernel's debug HTTP endpoint.
type Server struct {
	router  *gin.Engine
	addr    string
	boot    id.BootID
	procs   *proc.Manager
	metrics *monitoring.Metrics
	cpu     *thread.CPU
	log     *zap.Logger
}

// New creates the server and registers its routes.
func New(opts Options) *Server {
	if !opts.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:  gin.New(),
		addr:    opts.Addr,
		boot:    opts.Boot,
		procs:   opts.Procs,
		metrics: opts.Metrics,
		cpu:     thread.NewCPU(0),
		log:     opts.Logger.Subsystem("debug"),
	}

	s.router.Use(gin.Recovery())
	s.router.Use(monitoring.Middleware(opts.Metrics))
	if opts.RequestsPerSecond > 0 {
		s.log.Info("Rate limiting enabled",
			zap.Int("rps", opts.RequestsPerSecond),
			zap.Int("burst", opts.Burst),
		)
		s.router.Use(RateLimit(RateLimitConfig{
			RequestsPerSecond: opts.RequestsPerSecond,
			Burst:             opts.Burst,
		}))
	}

	s.router.GET("/", s.root)
	s.router.GET("/health", s.health)
	s.router.GET("/procs", s.listProcs)
	s.router.GET("/procs/:pid", s.getProc)
	s.router.GET("/stats", s.stats)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Metrics.Registry(), promhttp.HandlerOpts{})))

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting debug server", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down debug server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// caller gives each request its own kernel thread identity; the table's
// locks are owned per thread.
func (s *Server) caller() *thread.Thread {
	return thread.New("debug-http", s.cpu)
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "kernel",
		"boot":    s.boot.String(),
	})
}

func (s *Server) health(c *gin.Context) {
	t := s.caller()
	table := s.procs.Table()
	uptime := time.Duration(s.metrics.UptimeSeconds() * float64(time.Second))

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"boot":      s.boot.String(),
		"uptime":    uptime.Round(time.Second).String(),
		"pid_max":   table.PidMax(),
		"pids_free": table.Available(t),
		"reap_mode": table.Mode().String(),
	})
}

// procView is proc.Info with a readable memory size.
type procView struct {
	proc.Info
	MemoryHuman string `json:"memory"`
}

func view(info proc.Info) procView {
	return procView{Info: info, MemoryHuman: humanize.IBytes(info.Memory)}
}

func (s *Server) listProcs(c *gin.Context) {
	infos := s.procs.Snapshot(s.caller())

	views := make([]procView, 0, len(infos))
	var total uint64
	for _, info := range infos {
		views = append(views, view(info))
		total += info.Memory
	}

	c.JSON(http.StatusOK, gin.H{
		"processes": views,
		"count":     len(views),
		"memory":    humanize.IBytes(total),
	})
}

func (s *Server) getProc(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil || pid < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pid"})
		return
	}

	for _, info := range s.procs.Snapshot(s.caller()) {
		if info.PID == pid {
			c.JSON(http.StatusOK, view(info))
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no such process"})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.GetSnapshot())
}
