package ratelimit

import (
	"time"
)

// bucket is a lazily refilled token bucket. It carries no lock of its own:
// the owning manager serializes all access so that a request debiting the
// global and a named bucket sees both in a consistent state.
type bucket struct {
	capacity   float64
	refillRate float64 // tokens per second
	level      float64
	lastUpdate time.Time
}

func newBucket(callsPerSecond float64, burst int, now time.Time) *bucket {
	capacity := float64(burst)
	return &bucket{
		capacity:   capacity,
		refillRate: callsPerSecond,
		level:      capacity,
		lastUpdate: now,
	}
}

// refill advances the bucket to now. Levels never exceed capacity.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed > 0 {
		b.level = minFloat(b.capacity, b.level+elapsed*b.refillRate)
	}
	b.lastUpdate = now
}

func (b *bucket) covers(cost float64) bool {
	return b.level >= cost
}

func (b *bucket) take(cost float64) {
	b.level -= cost
}

// waitFor estimates how long from now until cost tokens accumulate. It never
// mutates the bucket, so callers can probe without consuming the elapsed time.
func (b *bucket) waitFor(cost float64, now time.Time) time.Duration {
	projected := b.level
	if elapsed := now.Sub(b.lastUpdate).Seconds(); elapsed > 0 {
		projected = minFloat(b.capacity, projected+elapsed*b.refillRate)
	}

	deficit := cost - projected
	if deficit <= 0 {
		return 0
	}
	if b.refillRate <= 0 {
		return time.Duration(1<<62 - 1)
	}

	return time.Duration(deficit / b.refillRate * float64(time.Second))
}

// idle reports whether the bucket has been untouched since before cutoff and
// is fully refilled, making it safe to discard and recreate on demand.
func (b *bucket) idle(cutoff time.Time, now time.Time) bool {
	return b.lastUpdate.Before(cutoff) && b.waitFor(b.capacity, now) == 0
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
