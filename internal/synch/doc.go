// Package synch provides the kernel's sleeping synchronization primitives.
//
// Layering:
//   - Spinlock: low-level mutual exclusion with holder tracking
//   - WaitChannel: sleep queue protected by a caller-held Spinlock
//   - Semaphore, Lock, Cond: built from one Spinlock and one WaitChannel each
//
// Every blocking call takes the calling *thread.Thread so ownership can be
// checked. Misuse that means shared state is already corrupt (releasing a
// lock you do not own, using a condition variable without its lock,
// sleeping in an interrupt handler) panics rather than returning an error.
//
// None of the primitives are fair. Wakeup order is unspecified and callers
// must re-check their condition after every wakeup.
package synch
