package main

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(samples, 50); got != 5 {
		t.Fatalf("p50 = %d", got)
	}
	if got := percentile(samples, 100); got != 10 {
		t.Fatalf("p100 = %d", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("empty = %d", got)
	}
}

func TestRunAgainstMiniredis(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	var out bytes.Buffer
	err := run([]string{"--tabs", "4", "--ops", "20", "-c", "2", "--prefix", "tabsim-test"}, &out)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out.String())
	}
	for _, want := range []string{"opened 4 tabs", "sign-in propagation: samples=3", "sign-out propagation: samples=3"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("missing %q in output:\n%s", want, out.String())
		}
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	if err := run([]string{"--tabs", "1"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for a single tab")
	}
	if err := run([]string{"--nope"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for unknown flag")
	}
}
