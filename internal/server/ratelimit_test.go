package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterSetEvictsIdleClients(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	now := func() time.Time { return clock }
	s := newLimiterSet(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute}, now)

	a := s.get("10.0.0.1")
	s.get("10.0.0.2")
	assert.Equal(t, 2, s.len())
	assert.Same(t, a, s.get("10.0.0.1"), "same client keeps its limiter")

	clock = clock.Add(30 * time.Second)
	s.get("10.0.0.1")

	clock = clock.Add(40 * time.Second)
	s.get("10.0.0.3")
	assert.Equal(t, 2, s.len(), "10.0.0.2 idle for 70s is dropped")

	clock = clock.Add(2 * time.Minute)
	b := s.get("10.0.0.1")
	assert.Equal(t, 1, s.len())
	assert.NotSame(t, a, b, "evicted client starts over")
}

func TestLimiterSetDefaultTTL(t *testing.T) {
	s := newLimiterSet(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}, time.Now)
	assert.Equal(t, defaultIdleTTL, s.ttl)
}
