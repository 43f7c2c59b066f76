package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lcx/hpxrt/hook"
	"github.com/lcx/hpxrt/locality"
	"github.com/lcx/hpxrt/termination"
)

type fakeDirectory struct {
	localities []locality.ID
	started    atomic.Bool
}

func (d *fakeDirectory) StartShutdown()                          { d.started.Store(true) }
func (d *fakeDirectory) GetLocalities() ([]locality.ID, error)   { return d.localities, nil }

type fakeResumer struct{ resumed atomic.Bool }

func (r *fakeResumer) Resume() { r.resumed.Store(true) }

type fakePeerDriver struct {
	mu         sync.Mutex
	shutdownTo []locality.ID
	terminated []locality.ID
}

func (p *fakePeerDriver) ShutdownAsync(ctx context.Context, id locality.ID, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdownTo = append(p.shutdownTo, id)
	return nil
}

func (p *fakePeerDriver) TerminateAsync(ctx context.Context, id locality.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = append(p.terminated, id)
}

type noopSender struct{}

func (noopSender) SendToken(ctx context.Context, to locality.ID, tok termination.Token) error {
	return nil
}

type noopAGASRing struct{}

func (noopAGASRing) StartShutdown() {}

type noopParcels struct{}

func (noopParcels) FlushParcels() {}

type fakeRuntime struct{}

func (fakeRuntime) SetState(phase hook.Phase) {}
func (fakeRuntime) ReportError(err error)     {}

func TestOrchestrator_ShutdownAllIsIdempotent(t *testing.T) {
	ring := termination.NewRing(locality.Root, 1, noopSender{}, noopAGASRing{}, noopParcels{}, &fakeTM{})
	hooks := hook.NewRegistry()
	agas := &fakeDirectory{localities: []locality.ID{0, 1, 2}}
	resumer := &fakeResumer{}
	peers := &fakePeerDriver{}
	stop := NewStopMachine(locality.Root, 0, &fakeTM{}, &fakeUnbinder{}, nil, nil)

	o := NewOrchestrator(locality.Root, ring, hooks, fakeRuntime{}, agas, resumer, peers, stop, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := o.ShutdownAll(ctx, time.Second); err != nil {
		t.Fatalf("first ShutdownAll: %v", err)
	}
	if !agas.started.Load() {
		t.Fatal("expected StartShutdown to be called")
	}
	if !resumer.resumed.Load() {
		t.Fatal("expected thread manager Resume to be called")
	}
	if len(peers.shutdownTo) != 2 {
		t.Fatalf("ShutdownAsync called for %d peers, want 2", len(peers.shutdownTo))
	}
	if peers.shutdownTo[0] != 2 || peers.shutdownTo[1] != 1 {
		t.Fatalf("peer teardown order = %v, want reverse order [2 1]", peers.shutdownTo)
	}

	if err := o.ShutdownAll(ctx, time.Second); err != nil {
		t.Fatalf("second ShutdownAll should be a silent no-op, got error: %v", err)
	}
	if len(peers.shutdownTo) != 2 {
		t.Fatal("second ShutdownAll must not re-run peer teardown")
	}
}

func TestOrchestrator_ShutdownAllRejectsNonRoot(t *testing.T) {
	ring := termination.NewRing(5, 1, noopSender{}, noopAGASRing{}, noopParcels{}, &fakeTM{})
	o := NewOrchestrator(5, ring, hook.NewRegistry(), fakeRuntime{}, &fakeDirectory{}, &fakeResumer{}, &fakePeerDriver{}, NewStopMachine(5, 0, &fakeTM{}, &fakeUnbinder{}, nil, nil), nil)

	if err := o.ShutdownAll(context.Background(), time.Second); err == nil {
		t.Fatal("expected ShutdownAll on a non-root locality to error")
	}
}

func TestOrchestrator_TerminateAllFiresEveryPeer(t *testing.T) {
	exitCalls := 0
	origExit := exitFunc
	exitFunc = func(code int) { exitCalls++ }
	defer func() { exitFunc = origExit }()

	agas := &fakeDirectory{localities: []locality.ID{0, 1, 2, 3}}
	peers := &fakePeerDriver{}
	o := NewOrchestrator(locality.Root, nil, nil, nil, agas, &fakeResumer{}, peers, nil, nil)

	if err := o.TerminateAll(context.Background()); err != nil {
		t.Fatalf("TerminateAll returned error: %v", err)
	}
	if len(peers.terminated) != 3 {
		t.Fatalf("TerminateAsync called for %d peers, want 3", len(peers.terminated))
	}
	if exitCalls != 1 {
		t.Fatalf("exitFunc called %d times, want 1", exitCalls)
	}
}
