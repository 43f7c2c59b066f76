package termination

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lcx/hpxrt/locality"
)

// fakeCluster wires N in-process Rings together so SendToken from one
// directly invokes HandleToken on its target, simulating the network.
type fakeCluster struct {
	mu    sync.Mutex
	rings map[locality.ID]*Ring
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{rings: make(map[locality.ID]*Ring)}
}

func (c *fakeCluster) SendToken(ctx context.Context, to locality.ID, tok Token) error {
	c.mu.Lock()
	target := c.rings[to]
	c.mu.Unlock()
	go func() {
		_ = target.HandleToken(ctx, tok)
	}()
	return nil
}

type noopAGAS struct{}

func (noopAGAS) StartShutdown() {}

type noopParcels struct{}

func (noopParcels) FlushParcels() {}

type alwaysQuiescent struct{}

func (alwaysQuiescent) CleanupTerminated(full bool)    {}
func (alwaysQuiescent) GetThreadCount() int            { return 1 }
func (alwaysQuiescent) GetBackgroundThreadCount() int  { return 0 }

func TestDetect_SingleLocalityShortCircuits(t *testing.T) {
	r := NewRing(0, 1, nil, noopAGAS{}, noopParcels{}, alwaysQuiescent{})
	probes, err := r.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if probes != 0 {
		t.Fatalf("Detect() probes = %d, want 0 for N=1", probes)
	}
}

func TestDetect_TwoLocalitiesQuietNetwork(t *testing.T) {
	cluster := newFakeCluster()
	r0 := NewRing(0, 2, cluster, noopAGAS{}, noopParcels{}, alwaysQuiescent{})
	r1 := NewRing(1, 2, cluster, noopAGAS{}, noopParcels{}, alwaysQuiescent{})
	cluster.rings[0] = r0
	cluster.rings[1] = r1

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	probes, err := r0.Detect(ctx)
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if probes != 1 {
		t.Fatalf("Detect() probes = %d, want 1 for a quiet two-locality ring", probes)
	}
	if r0.Color() != White {
		t.Fatalf("initiator color after successful probe = %v, want white", r0.Color())
	}
}

func TestDetect_BlackLocalityForcesAnotherProbe(t *testing.T) {
	cluster := newFakeCluster()
	r0 := NewRing(0, 2, cluster, noopAGAS{}, noopParcels{}, alwaysQuiescent{})
	r1 := NewRing(1, 2, cluster, noopAGAS{}, noopParcels{}, alwaysQuiescent{})
	cluster.rings[0] = r0
	cluster.rings[1] = r1

	// Locality 1 goes black exactly once, before the first probe, so the
	// first probe returns black and a second probe is required before the
	// ring reports quiescence.
	r1.MakeBlack()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	probes, err := r0.Detect(ctx)
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if probes != 2 {
		t.Fatalf("Detect() probes = %d, want 2", probes)
	}
}

func TestHandleToken_RelayWhitensSelfAfterForwarding(t *testing.T) {
	cluster := newFakeCluster()
	r1 := NewRing(1, 3, cluster, noopAGAS{}, noopParcels{}, alwaysQuiescent{})
	r1.MakeBlack()
	cluster.rings[1] = r1
	cluster.rings[0] = NewRing(0, 3, cluster, noopAGAS{}, noopParcels{}, alwaysQuiescent{})

	if err := r1.HandleToken(context.Background(), Token{InitiatorID: 0, N: 3, Color: White}); err != nil {
		t.Fatalf("HandleToken returned error: %v", err)
	}
	if r1.Color() != White {
		t.Fatalf("relay should whiten itself after forwarding, got %v", r1.Color())
	}
}
