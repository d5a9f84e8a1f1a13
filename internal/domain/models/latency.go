package models

import (
	"sort"
)

// LatencyAggregates summarizes the turn latencies of one session.
type LatencyAggregates struct {
	Count int
	AvgMs int64
	P95Ms int64
	P99Ms int64
}

// LatencyWindow accumulates per-turn latencies for aggregate computation at
// session end. It is not safe for concurrent use; the owning session task
// is its only writer.
type LatencyWindow struct {
	samples []int64
}

func (w *LatencyWindow) Add(ms int64) {
	if ms < 0 {
		ms = 0
	}
	w.samples = append(w.samples, ms)
}

func (w *LatencyWindow) Count() int {
	return len(w.samples)
}

// Aggregates computes avg, p95 and p99 over everything added so far. An
// empty window yields all zeros.
func (w *LatencyWindow) Aggregates() LatencyAggregates {
	n := len(w.samples)
	if n == 0 {
		return LatencyAggregates{}
	}

	sorted := make([]int64, n)
	copy(sorted, w.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, s := range sorted {
		sum += s
	}

	return LatencyAggregates{
		Count: n,
		AvgMs: sum / int64(n),
		P95Ms: percentile(sorted, 95),
		P99Ms: percentile(sorted, 99),
	}
}

// percentile uses the nearest-rank method on a sorted slice.
func percentile(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
