// Package termination implements Dijkstra's two-color token-ring
// termination-detection protocol over the fixed set of localities.
package termination

import (
	"context"
	"fmt"
	"sync"

	"github.com/lcx/hpxrt/locality"
	"github.com/lcx/hpxrt/log"
	"github.com/lcx/hpxrt/quiescence"
)

// Color is the token's (or a locality's) one-bit state. Black means
// "outgoing activity observed since the color was last cleared."
type Color bool

const (
	White Color = false
	Black Color = true
)

func (c Color) String() string {
	if c {
		return "black"
	}
	return "white"
}

// Token is the message that circulates the ring.
type Token struct {
	InitiatorID locality.ID
	N           int
	Color       Color
}

// Sender fires a dijkstra_termination action at a peer locality without
// waiting for a reply — the ring never blocks a worker on the network.
type Sender interface {
	SendToken(ctx context.Context, to locality.ID, tok Token) error
}

// AGAS is the consumed slice of the address-resolution service the ring
// touches: every non-initiator receipt tells AGAS that shutdown has begun.
type AGAS interface {
	StartShutdown()
}

// ParcelHandler is the consumed slice of the RPC transport the ring
// touches: flushing in-flight parcels before checking quiescence.
type ParcelHandler interface {
	FlushParcels()
}

// Ring holds one locality's Dijkstra state: its color, protected by a
// mutex, and — meaningful only on the initiator — a condition variable
// the completed token wakes.
type Ring struct {
	mu            sync.Mutex
	color         Color
	tokenReturned bool
	cond          *sync.Cond

	self    locality.ID
	n       int
	sender  Sender
	agas    AGAS
	parcels ParcelHandler
	tm      quiescence.ThreadManager
}

// NewRing builds the per-locality Dijkstra state for a cluster of n
// localities. self is this process's locality id.
func NewRing(self locality.ID, n int, sender Sender, agas AGAS, parcels ParcelHandler, tm quiescence.ThreadManager) *Ring {
	r := &Ring{self: self, n: n, sender: sender, agas: agas, parcels: parcels, tm: tm}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// MakeBlack marks this locality black. Exposed so any remote-apply
// send path (R1) can call it the moment outgoing activity is observed.
func (r *Ring) MakeBlack() {
	r.mu.Lock()
	r.color = Black
	r.mu.Unlock()
}

func (r *Ring) predecessor() locality.ID {
	return locality.ID((int(r.self) - 1 + r.n) % r.n)
}

// Detect runs the probe loop. Only the initiator (locality 0) calls
// this; it returns the number of probes performed before the ring was
// observed to be quiescent for a full revolution. N=1 short-circuits to
// a local WaitUntilQuiescent and returns 0, per spec.
func (r *Ring) Detect(ctx context.Context) (probes int, err error) {
	if r.n == 1 {
		quiescence.WaitUntilQuiescent(ctx, r.tm)
		return 0, nil
	}

	for {
		probes++

		r.mu.Lock()
		r.color = White
		r.tokenReturned = false
		r.mu.Unlock()

		if sendErr := r.sender.SendToken(ctx, r.predecessor(), Token{InitiatorID: r.self, N: r.n, Color: White}); sendErr != nil {
			return probes, fmt.Errorf("termination: send probe %d: %w", probes, sendErr)
		}

		r.mu.Lock()
		for !r.tokenReturned {
			r.cond.Wait()
		}
		finalColor := r.color
		r.mu.Unlock()

		log.Debug().Int("probe", probes).Str("result", finalColor.String()).Msg("termination probe completed")

		if finalColor == White {
			return probes, nil
		}
		// R3: token returned black, or initiator went black mid-round — probe again.
	}
}

// HandleToken is invoked by the action dispatcher when a
// dijkstra_termination action reaches this locality. It dispatches to
// the initiator-completion path or the relay path depending on whether
// this locality originated the probe.
func (r *Ring) HandleToken(ctx context.Context, tok Token) error {
	if tok.InitiatorID == r.self {
		return r.handleInitiatorReceipt(tok)
	}
	return r.handleRelayReceipt(ctx, tok)
}

// handleInitiatorReceipt implements "on token receipt by the initiator":
// promote to black if the returning token was black, then wake Detect.
func (r *Ring) handleInitiatorReceipt(tok Token) error {
	r.mu.Lock()
	if tok.Color == Black {
		r.color = Black
	}
	r.tokenReturned = true
	r.cond.Broadcast()
	r.mu.Unlock()
	return nil
}

// handleRelayReceipt implements "on token receipt by a non-initiator":
// tell AGAS shutdown has started, flush parcels, drain to quiescence
// (R0), promote the token if self is black, whiten self (R5), then
// forward to the predecessor outside the lock.
func (r *Ring) handleRelayReceipt(ctx context.Context, tok Token) error {
	r.agas.StartShutdown()
	r.parcels.FlushParcels()
	quiescence.WaitUntilQuiescent(ctx, r.tm)

	r.mu.Lock()
	if r.color == Black {
		tok.Color = Black
	}
	r.color = White
	r.mu.Unlock()

	if err := r.sender.SendToken(ctx, r.predecessor(), tok); err != nil {
		return fmt.Errorf("termination: forward token from locality %d: %w", r.self, err)
	}
	return nil
}

// Color returns the current color under lock, for diagnostics and tests.
func (r *Ring) Color() Color {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.color
}
