package shutdown

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lcx/hpxrt/locality"
)

type fakeTM struct {
	live    atomic.Int64
	bg      atomic.Int64
	aborted atomic.Int64
	waited  atomic.Bool
}

func (f *fakeTM) CleanupTerminated(full bool)     {}
func (f *fakeTM) GetThreadCount() int             { return int(f.live.Load()) }
func (f *fakeTM) GetBackgroundThreadCount() int   { return int(f.bg.Load()) }
func (f *fakeTM) AbortAllSuspendedThreads() int {
	f.aborted.Add(1)
	f.live.Store(0)
	return 1
}
func (f *fakeTM) Wait() { f.waited.Store(true) }

type fakeUnbinder struct {
	unbound      []locality.GID
	deregistered bool
}

func (f *fakeUnbinder) UnbindLocal(id locality.GID) error {
	f.unbound = append(f.unbound, id)
	return nil
}
func (f *fakeUnbinder) UnregisterLocality(gid locality.GID) error {
	f.deregistered = true
	return nil
}

type fakeEvictor struct{ called bool }

func (f *fakeEvictor) EvictLocal(self locality.ID) { f.called = true }

type fakeResponder struct{ repliedTo locality.GID }

func (f *fakeResponder) RespondSync(ctx context.Context, to locality.GID) error {
	f.repliedTo = to
	return nil
}

func TestStopMachine_HappyPathReachesHalted(t *testing.T) {
	tm := &fakeTM{}
	agas := &fakeUnbinder{}
	evictor := &fakeEvictor{}
	responder := &fakeResponder{}

	m := NewStopMachine(3, 0, tm, agas, evictor, responder)
	m.Run()

	requester := locality.NewGID(0, locality.ComponentRuntimeSupport, 0)
	if err := m.Stop(context.Background(), time.Second, requester, true); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	m.Wait()

	if m.State() != StateHalted {
		t.Fatalf("State() = %v, want halted", m.State())
	}
	if len(agas.unbound) != 2 {
		t.Fatalf("UnbindLocal called %d times, want 2", len(agas.unbound))
	}
	if !agas.deregistered {
		t.Fatal("expected UnregisterLocality to be called")
	}
	if !evictor.called {
		t.Fatal("expected connection cache eviction to be requested")
	}
	if responder.repliedTo != requester {
		t.Fatalf("repliedTo = %v, want %v", responder.repliedTo, requester)
	}
}

func TestStopMachine_StopIsIdempotent(t *testing.T) {
	tm := &fakeTM{}
	agas := &fakeUnbinder{}
	m := NewStopMachine(1, 0, tm, agas, nil, nil)

	if err := m.Stop(context.Background(), time.Second, locality.InvalidGID, false); err != nil {
		t.Fatal(err)
	}
	m.Wait()
	firstUnbindCount := len(agas.unbound)

	if err := m.Stop(context.Background(), time.Second, locality.InvalidGID, false); err != nil {
		t.Fatal(err)
	}
	if len(agas.unbound) != firstUnbindCount {
		t.Fatalf("second Stop call re-ran side effects: unbound count %d, want %d", len(agas.unbound), firstUnbindCount)
	}
}

func TestStopMachine_CoercesOnTimeout(t *testing.T) {
	tm := &fakeTM{}
	tm.live.Store(2) // never reaches quiescence on its own
	agas := &fakeUnbinder{}
	m := NewStopMachine(2, 0, tm, agas, nil, nil)

	if err := m.Stop(context.Background(), 30*time.Millisecond, locality.InvalidGID, false); err != nil {
		t.Fatal(err)
	}
	m.Wait()

	if tm.aborted.Load() == 0 {
		t.Fatal("expected AbortAllSuspendedThreads to be called during coercion")
	}
}

func TestStopMachine_NotifyWaitingMainReleasesWaiters(t *testing.T) {
	tm := &fakeTM{}
	agas := &fakeUnbinder{}
	m := NewStopMachine(4, 0, tm, agas, nil, nil)

	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()

	m.NotifyWaitingMain()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyWaitingMain did not release Wait")
	}
	if len(agas.unbound) != 0 {
		t.Fatal("NotifyWaitingMain should not run Stop's side effects")
	}
}

func TestStopMachine_WaitTerminatedAfterPoolDrains(t *testing.T) {
	tm := &fakeTM{}
	agas := &fakeUnbinder{}
	m := NewStopMachine(5, 0, tm, agas, nil, nil)

	if err := m.Stop(context.Background(), time.Second, locality.InvalidGID, false); err != nil {
		t.Fatal(err)
	}
	m.WaitTerminated()

	if m.State() != StateTerminated {
		t.Fatalf("State() = %v, want terminated", m.State())
	}
	if !tm.waited.Load() {
		t.Fatal("expected thread manager Wait to have been called")
	}
}
