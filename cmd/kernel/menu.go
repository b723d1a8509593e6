package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/vm"
)

// Scenario is a list of menu commands run in order.
type Scenario struct {
	Steps []Step `yaml:"steps"`
}

// Step runs one program. Parallel > 1 runs that many copies at once.
type Step struct {
	Run      string   `yaml:"run"`
	Args     []string `yaml:"args"`
	Expect   *int     `yaml:"expect"`
	Parallel int      `yaml:"parallel"`
}

// defaultScenario is what the kernel runs when no scenario is given.
const defaultScenario = `
steps:
  - run: /testbin/forktest
    expect: 0
  - run: /testbin/argtest
    args: [one, two, three]
    expect: 0
  - run: /testbin/forktree
    args: ["3"]
    expect: 0
  - run: /testbin/execchain
    args: [chained]
    expect: 0
  - run: /testbin/sharedfile
    expect: 0
  - run: /testbin/testdup2
    expect: 0
  - run: /testbin/testwdir
    expect: 0
  - run: /testbin/badexec
    expect: 0
  - run: /testbin/waitnonchild
    expect: 0
  - run: /testbin/exitcode
    args: ["3"]
    expect: 3
  - run: /testbin/forktest
    parallel: 4
    expect: 0
`

// ParseScenario decodes and checks a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	for i, step := range s.Steps {
		if step.Run == "" {
			return nil, fmt.Errorf("step %d: run is required", i+1)
		}
		if step.Parallel < 0 {
			return nil, fmt.Errorf("step %d: parallel %d is negative", i+1, step.Parallel)
		}
	}
	return &s, nil
}

// LoadScenario reads a scenario file, or the default scenario when path is
// empty.
func LoadScenario(path string) (*Scenario, error) {
	if path == "" {
		return ParseScenario([]byte(defaultScenario))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return ParseScenario(data)
}

// errUnexpectedExit marks a program whose exit code differs from the step's
// expectation.
var errUnexpectedExit = errors.New("unexpected exit code")

// runScenario runs every step in order and stops at the first failure.
func (k *kernel) runScenario(ctx context.Context, s *Scenario) error {
	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := k.runStep(ctx, i+1, step); err != nil {
			return err
		}
	}
	return nil
}

func (k *kernel) runStep(ctx context.Context, n int, step Step) error {
	copies := max(step.Parallel, 1)
	g, _ := errgroup.WithContext(ctx)
	for c := range copies {
		g.Go(func() error {
			return k.runCommand(fmt.Sprintf("menu-%d.%d", n, c), step)
		})
	}
	return g.Wait()
}

// runCommand runs one program from its own kernel thread and waits for it,
// the way the kernel menu does.
func (k *kernel) runCommand(name string, step Step) error {
	t, err := k.kernelThread(name)
	if err != nil {
		return err
	}
	defer k.procs.RemoveThread(t)

	args := append([]string{step.Run}, step.Args...)
	start := time.Now()
	pid, err := k.sys.RunProgram(t, step.Run, args)
	if err != nil {
		return fmt.Errorf("%s: %w", step.Run, err)
	}
	_, code, err := k.sys.Waitpid(t, pid, 0)
	if err != nil {
		return fmt.Errorf("%s: waitpid %d: %w", step.Run, pid, err)
	}

	k.log.Info("Program exited",
		zap.String("program", step.Run),
		zap.Int("pid", pid),
		zap.Int("code", code),
		zap.Duration("elapsed", time.Since(start)),
		zap.String("memory_in_use", humanize.IBytes(uint64(k.vm.Used())*vm.PageSize)),
	)
	if step.Expect != nil && code != *step.Expect {
		return fmt.Errorf("%s exited with %d, want %d: %w", step.Run, code, *step.Expect, errUnexpectedExit)
	}
	return nil
}
