package hook

import (
	"errors"
	"sync"
	"testing"
)

type fakeRuntime struct {
	mu     sync.Mutex
	states []Phase
	errs   []error
}

func (f *fakeRuntime) SetState(phase Phase) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, phase)
}

func (f *fakeRuntime) ReportError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func TestHookOrdering(t *testing.T) {
	r := NewRegistry()
	var order []int
	r.AddShutdown(func() error { order = append(order, 1); return nil })
	r.AddShutdown(func() error { order = append(order, 2); return errors.New("boom") })
	r.AddShutdown(func() error { order = append(order, 3); return nil })

	rt := &fakeRuntime{}
	r.CallShutdownFunctions(false, rt)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected hooks invoked in order 1,2,3 regardless of failure, got %v", order)
	}
	if len(rt.errs) != 1 {
		t.Fatalf("expected exactly one reported error, got %d", len(rt.errs))
	}
}

func TestStartupHookPropagatesError(t *testing.T) {
	r := NewRegistry()
	var ran2 bool
	r.AddStartup(func() error { return errors.New("bad init") })
	r.AddStartup(func() error { ran2 = true; return nil })

	rt := &fakeRuntime{}
	err := r.CallStartupFunctions(false, rt)
	if err == nil {
		t.Fatal("expected startup hook error to propagate")
	}
	if ran2 {
		t.Fatal("second startup hook should not run after the first fails")
	}
}

func TestPreStartupAndStartupIndependent(t *testing.T) {
	r := NewRegistry()
	var seen []string
	r.AddPreStartup(func() error { seen = append(seen, "pre"); return nil })
	r.AddStartup(func() error { seen = append(seen, "start"); return nil })

	rt := &fakeRuntime{}
	if err := r.CallStartupFunctions(true, rt); err != nil {
		t.Fatalf("pre_startup failed: %v", err)
	}
	if err := r.CallStartupFunctions(false, rt); err != nil {
		t.Fatalf("startup failed: %v", err)
	}
	if len(seen) != 2 || seen[0] != "pre" || seen[1] != "start" {
		t.Fatalf("unexpected hook invocation order: %v", seen)
	}
	if len(rt.states) != 2 || rt.states[0] != PhasePreStartup || rt.states[1] != PhaseStartup {
		t.Fatalf("unexpected state transitions: %v", rt.states)
	}
}

func TestShutdownHookPanicIsCaptured(t *testing.T) {
	r := NewRegistry()
	r.AddShutdown(func() error { panic("boom") })
	rt := &fakeRuntime{}
	r.CallShutdownFunctions(false, rt)
	if len(rt.errs) != 1 {
		t.Fatalf("expected panic to be captured as a reported error, got %d errors", len(rt.errs))
	}
}

func TestCounts(t *testing.T) {
	r := NewRegistry()
	r.AddPreStartup(func() error { return nil })
	r.AddStartup(func() error { return nil })
	r.AddStartup(func() error { return nil })
	pre, start, preShut, shut := r.Counts()
	if pre != 1 || start != 2 || preShut != 0 || shut != 0 {
		t.Fatalf("unexpected counts: %d %d %d %d", pre, start, preShut, shut)
	}
}
