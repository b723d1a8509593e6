// Package id provides identifier generation for kernel objects.
//
// Threads, open-file handles and kernel boots carry a prefixed ULID so log
// lines from concurrent threads sort by creation time and can be told apart
// at a glance (thr_*, fh_*, boot_*). PIDs are not ULIDs: they are small
// integers indexing the process table.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// ThreadID identifies a kernel thread
type ThreadID string

// HandleID identifies an open-file handle
type HandleID string

// BootID identifies one boot of the kernel (one process table instance)
type BootID string

const (
	ThreadPrefix = "thr"
	HandlePrefix = "fh"
	BootPrefix   = "boot"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand with monotonic
// ordering inside the same millisecond
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Tests use it for deterministic IDs.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewThreadID generates a new thread ID
func NewThreadID() ThreadID {
	return ThreadID(Default().GenerateWithPrefix(ThreadPrefix))
}

// NewHandleID generates a new open-file handle ID
func NewHandleID() HandleID {
	return HandleID(Default().GenerateWithPrefix(HandlePrefix))
}

// NewBootID generates a new boot ID
func NewBootID() BootID {
	return BootID(Default().GenerateWithPrefix(BootPrefix))
}

func (id ThreadID) String() string { return string(id) }
func (id HandleID) String() string { return string(id) }
func (id BootID) String() string   { return string(id) }

// ============================================================================
// Validation
// ============================================================================

// IsValid reports whether s is a prefixed ULID with the given prefix
func IsValid(s, prefix string) bool {
	rest, ok := strings.CutPrefix(s, prefix+"_")
	if !ok {
		return false
	}
	_, err := ulid.Parse(rest)
	return err == nil
}

// Timestamp extracts the creation time of a prefixed ULID
func Timestamp(s string) (time.Time, error) {
	i := strings.LastIndexByte(s, '_')
	parsed, err := ulid.Parse(s[i+1:])
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
