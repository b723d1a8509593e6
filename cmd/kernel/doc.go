// Package main boots the simulated kernel and runs a menu scenario.
//
// The kernel comes up with the kernel process as pid 1, an in-memory file
// system with the test programs installed under /bin and /testbin, and the
// console on standard output. Each scenario step runs a program the way
// the kernel menu does: a kernel thread starts it as a child of the kernel
// process and waits for its exit code.
//
// Scenario format:
//
//	steps:
//	  - run: /testbin/forktest
//	    expect: 0
//	  - run: /testbin/argtest
//	    args: [a, b]
//	  - run: /testbin/forktest
//	    parallel: 8
//
// Configuration:
//   - Environment variables (see internal/config)
//   - A YAML boot file with -config, which overrides the environment
//
// Usage:
//
//	# Built-in scenario
//	./kernel
//
//	# Custom scenario, debug endpoint left up afterwards
//	./kernel -scenario menu.yaml -debug
//
// Signals:
//   - SIGINT, SIGTERM: stop the debug endpoint and exit
package main
