package quiescence

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeThreadManager struct {
	liveThreads int32
	background  int32
	cleanupN    int32
}

func (f *fakeThreadManager) CleanupTerminated(full bool) {
	atomic.AddInt32(&f.cleanupN, 1)
}

func (f *fakeThreadManager) GetThreadCount() int {
	return int(atomic.LoadInt32(&f.liveThreads))
}

func (f *fakeThreadManager) GetBackgroundThreadCount() int {
	return int(atomic.LoadInt32(&f.background))
}

func TestQuiescentImmediatelyTrue(t *testing.T) {
	tm := &fakeThreadManager{liveThreads: 1, background: 0}
	if !Quiescent(tm) {
		t.Fatal("expected a single live task (the caller) to be quiescent")
	}
}

func TestWaitUntilQuiescentBlocksThenReturns(t *testing.T) {
	tm := &fakeThreadManager{liveThreads: 5, background: 0}

	done := make(chan struct{})
	go func() {
		WaitUntilQuiescent(context.Background(), tm)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("should not return while busy")
	case <-time.After(5 * time.Millisecond):
	}

	atomic.StoreInt32(&tm.liveThreads, 1)

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected WaitUntilQuiescent to return once quiescent")
	}
}

func TestWaitUntilQuiescentDeadlineTimesOut(t *testing.T) {
	tm := &fakeThreadManager{liveThreads: 10, background: 0}
	timedOut := WaitUntilQuiescentDeadline(context.Background(), tm, 20*time.Millisecond)
	if !timedOut {
		t.Fatal("expected timeout when the task pool never quiesces")
	}
}

func TestWaitUntilQuiescentDeadlineSucceeds(t *testing.T) {
	tm := &fakeThreadManager{liveThreads: 1, background: 0}
	timedOut := WaitUntilQuiescentDeadline(context.Background(), tm, 50*time.Millisecond)
	if timedOut {
		t.Fatal("expected quiescence before the deadline")
	}
}

func TestWaitUntilQuiescentDeadlineNegativeMeansForever(t *testing.T) {
	tm := &fakeThreadManager{liveThreads: 1, background: 0}
	timedOut := WaitUntilQuiescentDeadline(context.Background(), tm, -1)
	if timedOut {
		t.Fatal("a negative timeout must never report timed_out")
	}
}

func TestBackgroundThreadsDoNotCountAgainstQuiescence(t *testing.T) {
	tm := &fakeThreadManager{liveThreads: 6, background: 5}
	if !Quiescent(tm) {
		t.Fatal("5 background + 1 foreground should be quiescent")
	}
}
