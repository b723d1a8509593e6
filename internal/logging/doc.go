// Package logging provides structured kernel logging using uber/zap.
//
// Two output modes:
//   - Production: JSON, one object per line
//   - Development: colored console output
//
// Every subsystem logs through its own named child (pidtable, proc,
// syscall, server), and a booted kernel stamps every line with its boot ID:
//
//	logger, err := logging.New(logging.Config{Level: "debug", Development: true})
//	logger = logger.WithBoot(id.NewBootID())
//	procLog := logger.Subsystem("proc")
//	procLog.Debug("forked", zap.Int("parent", 2), zap.Int("child", 3))
//
// Lifecycle events (fork, exit, reap, orphan) are debug level. Broken
// invariants are logged at error level right before the kernel panics.
package logging
