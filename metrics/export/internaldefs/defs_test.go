package internaldefs

import (
	"testing"

	"github.com/indura/sessionkit"
)

func TestEveryCounterHasADefinition(t *testing.T) {
	snap := sessionkit.NewMetrics(sessionkit.MetricsConfig{Enabled: true}).Snapshot()
	defined := make(map[sessionkit.MetricID]bool, len(snap.Counters))
	names := make(map[string]bool, len(Families))
	for _, f := range Families {
		if names[f.Name] {
			t.Fatalf("duplicate metric name %s", f.Name)
		}
		names[f.Name] = true
		if f.Label == "" && len(f.Series) != 1 {
			t.Fatalf("unlabelled family %s must have exactly one series", f.Name)
		}
		values := make(map[string]bool, len(f.Series))
		for _, s := range f.Series {
			if defined[s.ID] {
				t.Fatalf("metric id %d exported twice", s.ID)
			}
			defined[s.ID] = true
			if values[s.LabelValue] {
				t.Fatalf("family %s repeats label value %q", f.Name, s.LabelValue)
			}
			values[s.LabelValue] = true
		}
	}
	for id := range snap.Counters {
		if !defined[id] {
			t.Fatalf("metric id %d has no exporter definition", id)
		}
	}
}

func TestBucketsCumulative(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
	if len(HistogramBounds) != 8 || len(HistogramUpperSeconds) != 7 {
		t.Fatalf("bounds must describe eight buckets")
	}
}

func TestApproxSum(t *testing.T) {
	cases := []struct {
		raw  [8]uint64
		want float64
	}{
		{raw: [8]uint64{}, want: 0},
		{raw: [8]uint64{2}, want: 0.05},
		{raw: [8]uint64{0, 0, 0, 0, 1}, want: 0.75},
		{raw: [8]uint64{0, 0, 0, 0, 0, 0, 0, 3}, want: 15},
	}
	for _, tc := range cases {
		if got := ApproxSum(tc.raw); got != tc.want {
			t.Fatalf("ApproxSum(%v) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestStateGauge(t *testing.T) {
	var ones int
	for _, s := range States {
		ones += int(Gauge(sessionkit.StateAuthenticated, s))
	}
	if ones != 1 {
		t.Fatalf("exactly one state series must be set, got %d", ones)
	}
}
