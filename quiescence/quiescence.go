// Package quiescence implements the single primitive the rest of the
// server polls before treating a locality as idle: wait_until_quiescent.
package quiescence

import (
	"context"
	"runtime"
	"time"
)

// ThreadManager is the slice of the consumed thread-manager interface
// the detector needs: reaping finished tasks and reading the live
// (foreground) and background task counts.
type ThreadManager interface {
	CleanupTerminated(full bool)
	GetThreadCount() int
	GetBackgroundThreadCount() int
}

// pollInterval is how often the detector re-samples the thread manager
// between yields. The real scheduler wakes the caller on task
// completion; since Go has no such hook exposed here, a short sleep
// stands in for the yield in spec terms.
const pollInterval = 500 * time.Microsecond

// quiescentRemainder is how many live (non-background) tasks may remain
// before a locality counts as quiescent — the one outstanding task is
// the caller itself.
const quiescentRemainder = 1

// Quiescent reports whether tm currently has no more than the caller's
// own task running in the foreground.
func Quiescent(tm ThreadManager) bool {
	tm.CleanupTerminated(false)
	live := tm.GetThreadCount() - tm.GetBackgroundThreadCount()
	return live <= quiescentRemainder
}

// WaitUntilQuiescent blocks the calling task, without a deadline, until
// tm reports quiescence. This is the variant the Dijkstra token ring
// uses on every token reception: termination detection has no bounded
// liveness guarantee other than "hooks eventually stop spawning work".
func WaitUntilQuiescent(ctx context.Context, tm ThreadManager) {
	for {
		if Quiescent(tm) {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		runtime.Gosched()
		time.Sleep(pollInterval)
	}
}

// WaitUntilQuiescentDeadline is the bounded variant used by the local
// stop machine's drain phase: it returns true if the wall-clock budget
// expired before quiescence was observed, false if quiescence was
// reached in time.
func WaitUntilQuiescentDeadline(ctx context.Context, tm ThreadManager, timeout time.Duration) (timedOut bool) {
	if timeout < 0 {
		WaitUntilQuiescent(ctx, tm)
		return false
	}

	deadline := time.Now().Add(timeout)
	for {
		if Quiescent(tm) {
			return false
		}
		if time.Now().After(deadline) {
			return true
		}
		select {
		case <-ctx.Done():
			return true
		default:
		}
		runtime.Gosched()
		time.Sleep(pollInterval)
	}
}
