package synch

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
)

// WaitChannel is a sleep queue. Every operation requires the caller to hold
// the spinlock that protects the channel; Sleep drops it while asleep.
//
// Wakeup order is unspecified. Callers must not assume FIFO.
type WaitChannel struct {
	name     string
	sleepers []chan struct{}
}

// NewWaitChannel creates an empty wait channel.
func NewWaitChannel(name string) *WaitChannel {
	return &WaitChannel{name: name}
}

// Name returns the channel name.
func (w *WaitChannel) Name() string { return w.name }

// Sleep puts t to sleep on the channel. sl is released after t is queued
// and re-acquired after t is woken, so a wakeup issued under sl cannot be
// missed.
func (w *WaitChannel) Sleep(t *thread.Thread, sl *Spinlock) {
	w.assertHeld(t, sl)
	if t.InInterrupt() {
		panic(fmt.Sprintf("wchan %s: sleep in interrupt handler", w.name))
	}

	wake := make(chan struct{})
	w.sleepers = append(w.sleepers, wake)

	sl.Release(t)
	<-wake
	sl.Acquire(t)
}

// WakeOne wakes one sleeper, if any.
func (w *WaitChannel) WakeOne(t *thread.Thread, sl *Spinlock) {
	w.assertHeld(t, sl)
	if len(w.sleepers) == 0 {
		return
	}
	wake := w.sleepers[0]
	w.sleepers[0] = nil
	w.sleepers = w.sleepers[1:]
	close(wake)
}

// WakeAll wakes every sleeper.
func (w *WaitChannel) WakeAll(t *thread.Thread, sl *Spinlock) {
	w.assertHeld(t, sl)
	for _, wake := range w.sleepers {
		close(wake)
	}
	w.sleepers = nil
}

// IsEmpty reports whether nobody is sleeping on the channel.
func (w *WaitChannel) IsEmpty(t *thread.Thread, sl *Spinlock) bool {
	w.assertHeld(t, sl)
	return len(w.sleepers) == 0
}

// Destroy tears the channel down. It panics if anyone is still asleep.
func (w *WaitChannel) Destroy() {
	if len(w.sleepers) != 0 {
		panic(fmt.Sprintf("wchan %s: destroyed with %d sleepers", w.name, len(w.sleepers)))
	}
}

func (w *WaitChannel) assertHeld(t *thread.Thread, sl *Spinlock) {
	if !sl.DoIHold(t) {
		panic(fmt.Sprintf("wchan %s: spinlock not held by %s", w.name, t.Name()))
	}
}
