// Package config provides 12-factor configuration for the kernel.
//
// Configuration is loaded from environment variables with defaults. An
// optional YAML boot file overlays the environment.
//
// Configuration Sections:
//   - Kernel: process table size, descriptor limit, reap mode, memory cap
//   - Logging: log level and output format
//   - Debug: the debug HTTP endpoint and its rate limit
//
// Example Usage:
//
//	cfg, err := config.LoadFile("boot.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("pid max %d\n", cfg.Kernel.PidMax)
//
// Environment Variables:
//   - KERNEL_PID_MAX, KERNEL_OPEN_MAX, KERNEL_REAP_MODE, KERNEL_MEM_PAGES
//   - KERNEL_ARG_MAX, KERNEL_PATH_MAX
//   - LOG_LEVEL, LOG_DEV
//   - DEBUG_ENABLED, DEBUG_ADDR, DEBUG_RPS, DEBUG_BURST
package config
