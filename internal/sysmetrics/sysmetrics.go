// Package sysmetrics reports process-level resource usage for the
// agent's status surface.
package sysmetrics

import (
	"runtime"
	"sync"
	"syscall"
	"time"
)

// Tracker samples process CPU usage between calls. The zero value is not
// usable; create one with NewTracker so the first sample has a baseline.
type Tracker struct {
	mu       sync.Mutex
	lastWall time.Time
	lastUser time.Duration
	lastSys  time.Duration
	lastCPU  float64
}

// NewTracker creates a Tracker primed with the current rusage counters.
func NewTracker() *Tracker {
	user, sys := rusageTimes()
	return &Tracker{
		lastWall: time.Now(),
		lastUser: user,
		lastSys:  sys,
	}
}

// CPUPercent returns the process CPU usage as a percentage since the
// previous call. Multi-core processes can exceed 100. Calls closer
// together than the clock resolution return the previous reading.
func (t *Tracker) CPUPercent() float64 {
	now := time.Now()
	user, sys := rusageTimes()

	t.mu.Lock()
	defer t.mu.Unlock()

	wall := now.Sub(t.lastWall)
	if wall <= 0 {
		return t.lastCPU
	}

	cpuDelta := (user - t.lastUser) + (sys - t.lastSys)
	pct := float64(cpuDelta) / float64(wall) * 100.0

	t.lastWall = now
	t.lastUser = user
	t.lastSys = sys
	t.lastCPU = pct
	return pct
}

// MemoryInuse returns the memory actively in use by the Go runtime, in
// bytes: live heap spans plus goroutine stacks. Reserved but uncommitted
// address space is excluded.
func MemoryInuse() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.HeapInuse + m.StackInuse)
}

// Goroutines returns the current goroutine count.
func Goroutines() int {
	return runtime.NumGoroutine()
}

func rusageTimes() (user, sys time.Duration) {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0, 0
	}
	return time.Duration(ru.Utime.Nano()), time.Duration(ru.Stime.Nano())
}
