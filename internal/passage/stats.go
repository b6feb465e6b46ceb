package passage

import (
	"slices"
	"sync"
	"time"
)

type fetchSample struct {
	at     time.Time
	took   time.Duration
	failed bool
}

// StatsSnapshot aggregates the fetches seen inside the rolling window.
type StatsSnapshot struct {
	Count    int     `json:"count"`
	Failures int     `json:"failures"`
	MinMs    int64   `json:"min_ms"`
	MaxMs    int64   `json:"max_ms"`
	AvgMs    float64 `json:"avg_ms"`
	P50Ms    float64 `json:"p50_ms"`
	P95Ms    float64 `json:"p95_ms"`
	P99Ms    float64 `json:"p99_ms"`
}

// FetchStats tracks passage fetch latencies within a rolling window. It is
// shared by every session of a server.
type FetchStats struct {
	mu      sync.Mutex
	samples []fetchSample
	window  time.Duration
}

func NewFetchStats(window time.Duration) *FetchStats {
	if window <= 0 {
		window = time.Hour
	}
	return &FetchStats{window: window}
}

// Record adds one fetch. Negative durations count as zero.
func (s *FetchStats) Record(took time.Duration, err error) {
	if s == nil {
		return
	}
	took = max(took, 0)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(now)
	s.samples = append(s.samples, fetchSample{at: now, took: took, failed: err != nil})
}

func (s *FetchStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(time.Now())

	if len(s.samples) == 0 {
		return StatsSnapshot{}
	}
	ms := make([]int64, len(s.samples))
	var sum int64
	failures := 0
	for i, sm := range s.samples {
		ms[i] = sm.took.Milliseconds()
		sum += ms[i]
		if sm.failed {
			failures++
		}
	}
	slices.Sort(ms)

	return StatsSnapshot{
		Count:    len(ms),
		Failures: failures,
		MinMs:    ms[0],
		MaxMs:    ms[len(ms)-1],
		AvgMs:    float64(sum) / float64(len(ms)),
		P50Ms:    percentile(ms, 50),
		P95Ms:    percentile(ms, 95),
		P99Ms:    percentile(ms, 99),
	}
}

func (s *FetchStats) expireLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	s.samples = slices.DeleteFunc(s.samples, func(sm fetchSample) bool {
		return sm.at.Before(cutoff)
	})
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []int64, pct float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case pct <= 0:
		return float64(sorted[0])
	case pct >= 100:
		return float64(sorted[len(sorted)-1])
	}
	pos := float64(len(sorted)-1) * pct / 100
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return float64(sorted[lo])
	}
	frac := pos - float64(lo)
	return float64(sorted[lo]) + (float64(sorted[lo+1])-float64(sorted[lo]))*frac
}
