package relay

import (
	"sync"
	"time"
)

// Stats holds the process-wide relay counters.
type Stats struct {
	mu        sync.Mutex
	forwarded uint64
	errors    uint64
	startTime time.Time
	now       func() time.Time
}

type Snapshot struct {
	Forwarded uint64        `json:"forwarded"`
	Errors    uint64        `json:"errors"`
	StartTime time.Time     `json:"start_time"`
	Uptime    time.Duration `json:"-"`
}

func newStats(now func() time.Time) *Stats {
	return &Stats{startTime: now(), now: now}
}

func (s *Stats) recordForwarded() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwarded++
	return s.snapshotLocked()
}

func (s *Stats) recordError() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
	return s.snapshotLocked()
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Stats) snapshotLocked() Snapshot {
	return Snapshot{
		Forwarded: s.forwarded,
		Errors:    s.errors,
		StartTime: s.startTime,
		Uptime:    s.now().Sub(s.startTime),
	}
}
