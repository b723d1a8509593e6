package main

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/config"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/logging"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/monitoring"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/proc"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/syscalls"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/testbin"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vfs"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vm"
)

// kernel is a booted system.
type kernel struct {
	cpu     *thread.CPU
	boot    *thread.Thread
	procs   *proc.Manager
	fs      *vfs.MemFS
	vm      *vm.Manager
	sys     *syscalls.Handler
	metrics *monitoring.Metrics
	log     *logging.Logger
}

// bootKernel brings up the process subsystem and installs the programs.
// The console writes to console.
func bootKernel(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics, console io.Writer) (*kernel, error) {
	mode, err := cfg.ReapMode()
	if err != nil {
		return nil, err
	}

	k := &kernel{
		cpu:     thread.NewCPU(0),
		fs:      vfs.NewMemFS(console, nil),
		vm:      vm.NewManager(cfg.Kernel.MemPages),
		metrics: metrics,
		log:     logger,
	}
	k.boot = thread.New("boot", k.cpu)

	k.procs = proc.Bootstrap(proc.Options{
		PidMax:   cfg.Kernel.PidMax,
		OpenMax:  cfg.Kernel.OpenMax,
		ReapMode: mode,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err := k.procs.AddThread(k.procs.Kernel(), k.boot); err != nil {
		return nil, fmt.Errorf("attach boot thread: %w", err)
	}

	if err := k.fs.Mkdir("/tmp"); err != nil {
		return nil, fmt.Errorf("mkdir /tmp: %w", err)
	}
	k.procs.Kernel().SetCwd(k.boot, k.fs.Root())

	k.sys = syscalls.New(syscalls.Options{
		Procs:   k.procs,
		FS:      k.fs,
		VM:      k.vm,
		ArgMax:  cfg.Kernel.ArgMax,
		PathMax: cfg.Kernel.PathMax,
		Logger:  logger,
		Metrics: metrics,
	})

	rt := testbin.NewRuntime(logger)
	rt.Bind(k.sys)
	if err := rt.InstallAll(k.fs, testbin.Catalog()); err != nil {
		return nil, fmt.Errorf("install programs: %w", err)
	}

	logger.Info("Kernel booted",
		zap.Int("pid_max", cfg.Kernel.PidMax),
		zap.Int("open_max", cfg.Kernel.OpenMax),
		zap.String("reap_mode", mode.String()),
		zap.Int("mem_pages", cfg.Kernel.MemPages),
	)
	return k, nil
}

// kernelThread starts a new kernel-process thread for one menu command.
// Release it with RemoveThread.
func (k *kernel) kernelThread(name string) (*thread.Thread, error) {
	t := thread.New(name, k.cpu)
	if err := k.procs.AddThread(k.procs.Kernel(), t); err != nil {
		return nil, err
	}
	return t, nil
}
