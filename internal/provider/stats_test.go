package provider

import (
	"testing"
	"time"
)

func TestStatsSnapshotPercentiles(t *testing.T) {
	stats := NewStats(time.Hour)
	for _, ms := range []int64{300, 100, 500, 200, 400} {
		stats.Record("summarize", time.Duration(ms)*time.Millisecond)
	}
	stats.Record("embed", 7*time.Millisecond)

	snap := stats.Snapshot()["summarize"]
	if snap.Count != 5 {
		t.Fatalf("expected count=5, got %d", snap.Count)
	}
	if snap.MinMs != 100 || snap.MaxMs != 500 {
		t.Fatalf("expected min=100 max=500, got min=%d max=%d", snap.MinMs, snap.MaxMs)
	}
	if snap.AvgMs != 300 {
		t.Fatalf("expected avg=300, got %f", snap.AvgMs)
	}
	if snap.P50Ms != 300 {
		t.Fatalf("expected p50=300, got %f", snap.P50Ms)
	}
	if snap.P95Ms != 480 {
		t.Fatalf("expected p95=480, got %f", snap.P95Ms)
	}
	if snap.P99Ms != 496 {
		t.Fatalf("expected p99=496, got %f", snap.P99Ms)
	}
	if all := stats.Snapshot()["all"]; all.Count != 6 || all.MinMs != 7 {
		t.Fatalf("expected all count=6 min=7, got count=%d min=%d", all.Count, all.MinMs)
	}
}

func TestStatsPrunesExpiredSamples(t *testing.T) {
	clock := time.Unix(1000, 0)
	stats := NewStats(10 * time.Second)
	stats.now = func() time.Time { return clock }

	stats.Record("answer", 100*time.Millisecond)
	clock = clock.Add(25 * time.Second)
	if got := stats.Snapshot()["answer"].Count; got != 0 {
		t.Fatalf("expected count=0 after prune, got %d", got)
	}

	stats.Record("answer", 200*time.Millisecond)
	snap := stats.Snapshot()["answer"]
	if snap.Count != 1 || snap.MinMs != 200 || snap.MaxMs != 200 {
		t.Fatalf("expected one 200ms sample, got %+v", snap)
	}
}

func TestStatsRecordClampsNegativeDuration(t *testing.T) {
	stats := NewStats(time.Hour)
	stats.Record("embed", -5*time.Millisecond)
	if snap := stats.Snapshot()["embed"]; snap.MinMs != 0 {
		t.Fatalf("expected negative duration clamped to 0, got %d", snap.MinMs)
	}
}

func TestPercentileEdges(t *testing.T) {
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("expected 0 for empty input, got %f", got)
	}
	values := []int64{10, 20}
	if got := percentile(values, 0); got != 10 {
		t.Errorf("expected p0=10, got %f", got)
	}
	if got := percentile(values, 100); got != 20 {
		t.Errorf("expected p100=20, got %f", got)
	}
	if got := percentile(values, 50); got != 15 {
		t.Errorf("expected p50=15, got %f", got)
	}
}
