package main

import (
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	sorted := make([]time.Duration, 100)
	for i := range sorted {
		sorted[i] = time.Duration(i+1) * time.Millisecond
	}
	for q, want := range map[float64]time.Duration{
		0.50: 50 * time.Millisecond,
		0.90: 90 * time.Millisecond,
		0.99: 99 * time.Millisecond,
		0:    time.Millisecond,
		1:    100 * time.Millisecond,
	} {
		if got := percentile(sorted, q); got != want {
			t.Fatalf("percentile(%v) = %v, want %v", q, got, want)
		}
	}
}

func TestParseTarget(t *testing.T) {
	addr, err := parseTarget("10.0.0.7:11800")
	if err != nil {
		t.Fatalf("parseTarget error: %v", err)
	}
	if addr.Host != "10.0.0.7" || addr.Port != 11800 {
		t.Fatalf("unexpected address %+v", addr)
	}
	if _, err := parseTarget("10.0.0.7"); err == nil {
		t.Fatalf("expected error for missing port")
	}
}
