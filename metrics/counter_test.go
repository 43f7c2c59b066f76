package metrics

import (
	"testing"
)

func TestCreatePerformanceCounter_Gauge(t *testing.T) {
	reg := NewRegistry()

	c, err := reg.CreatePerformanceCounter("locality.queue.depth", PolicySet, Dimension{"locality": "3"})
	if err != nil {
		t.Fatalf("CreatePerformanceCounter returned error: %v", err)
	}
	c.Record(42)

	got, ok := reg.Get("locality.queue.depth")
	if !ok {
		t.Fatalf("expected counter to be registered")
	}
	if got != c {
		t.Fatalf("Get returned a different counter instance")
	}
}

func TestCreatePerformanceCounter_Idempotent(t *testing.T) {
	reg := NewRegistry()

	c1, err := reg.CreatePerformanceCounter("net.dispatch.count", PolicySum, nil)
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	c2, err := reg.CreatePerformanceCounter("net.dispatch.count", PolicySum, nil)
	if err != nil {
		t.Fatalf("second create with same policy should succeed: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("expected the same counter instance back")
	}
}

func TestCreatePerformanceCounter_PolicyMismatch(t *testing.T) {
	reg := NewRegistry()

	if _, err := reg.CreatePerformanceCounter("net.dispatch.count", PolicySum, nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := reg.CreatePerformanceCounter("net.dispatch.count", PolicyHistogram, nil); err == nil {
		t.Fatalf("expected error when recreating counter with a different policy")
	}
}

func TestCreatePerformanceCounter_Histogram(t *testing.T) {
	reg := NewRegistry()

	c, err := reg.CreatePerformanceCounter("termination.round.duration", PolicyHistogram, nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	c.Record(0.05)
	c.Record(0.12)

	gathered, err := reg.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather returned error: %v", err)
	}
	if len(gathered) != 1 {
		t.Fatalf("expected 1 metric family, got %d", len(gathered))
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"net.dispatch.latency": "net_dispatch_latency",
		"1abc":                 "_1abc",
		"already_ok":           "already_ok",
	}
	for in, want := range cases {
		if got := sanitizeName(in); got != want {
			t.Errorf("sanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
