package gcsync

import (
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

type countingCollector struct {
	calls atomic.Int64
}

func (c *countingCollector) CollectNursery(tc *ThreadContext) {
	c.calls.Add(1)
}

func TestThreeThreadGCCycle(t *testing.T) {
	collector := &countingCollector{}
	vm := NewVM(WithNurseryCollector(collector))

	a := vm.SpawnThread() // will win the election
	b := vm.SpawnThread() // sits at a safepoint
	c := vm.SpawnThread() // blocked in native code

	c.MarkBlocked()
	if c.Status() != StatusUnable {
		t.Fatalf("C status = %v, want Unable", c.Status())
	}

	done := make(chan struct{})
	go func() {
		vm.EnterFromAllocator(a)
		close(done)
	}()

	// Give the coordinator a chance to signal B and C before B polls.
	deadline := time.After(2 * time.Second)
	for b.Status() != StatusInterrupt {
		select {
		case <-deadline:
			t.Fatal("B was never signalled to interrupt")
		default:
		}
	}
	b.Safepoint()

	<-done

	if got := vm.SeqNumber(); got != 1 {
		t.Fatalf("SeqNumber() = %d, want 1", got)
	}
	if c.Status() != StatusUnable {
		t.Fatalf("C status after cycle = %v, want Unable", c.Status())
	}
	if b.Status() != StatusNone {
		t.Fatalf("B status after cycle = %v, want None", b.Status())
	}
	if vm.startingGC.Load() != 0 || vm.expectedGCThreads.Load() != 0 {
		t.Fatalf("counters not reset: starting=%d expected=%d", vm.startingGC.Load(), vm.expectedGCThreads.Load())
	}
	if collector.calls.Load() == 0 {
		t.Fatal("collector was never invoked")
	}
}

func TestSingleCoordinatorPerCycle(t *testing.T) {
	const k = 8
	collector := &countingCollector{}
	vm := NewVM(WithNurseryCollector(collector))

	threads := make([]*ThreadContext, k)
	for i := range threads {
		threads[i] = vm.SpawnThread()
	}

	var g errgroup.Group
	for _, tc := range threads {
		tc := tc
		g.Go(func() error {
			vm.EnterFromAllocator(tc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := vm.SeqNumber(); got != 1 {
		t.Fatalf("SeqNumber() = %d, want 1 (exactly one coordinator per cycle)", got)
	}
	for _, tc := range threads {
		if tc.Status() != StatusNone {
			t.Fatalf("thread %d ended in status %v, want None", tc.ID(), tc.Status())
		}
	}
}

func TestSeqNumberMonotone(t *testing.T) {
	vm := NewVM(WithNurseryCollector(&countingCollector{}))
	tc := vm.SpawnThread()

	for i := 1; i <= 3; i++ {
		vm.EnterFromAllocator(tc)
		if got := vm.SeqNumber(); got != uint64(i) {
			t.Fatalf("cycle %d: SeqNumber() = %d, want %d", i, got, i)
		}
	}
}

func TestMarkBlockedDuringSignalTakesInterruptedPath(t *testing.T) {
	collector := &countingCollector{}
	vm := NewVM(WithNurseryCollector(collector))

	tc := vm.SpawnThread()
	// Simulate a racing coordinator signal landing just before MarkBlocked.
	tc.statusWord.Store(int32(StatusInterrupt))

	done := make(chan struct{})
	go func() {
		tc.MarkBlocked()
		close(done)
	}()

	vm.expectedGCThreads.Store(1)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("MarkBlocked did not take the interrupted path and return")
	}
	if tc.Status() != StatusNone {
		t.Fatalf("status after interrupted MarkBlocked = %v, want None", tc.Status())
	}
}

func TestMarkUnblockedWaitsForStolenReset(t *testing.T) {
	vm := NewVM(WithNurseryCollector(&countingCollector{}))
	tc := vm.SpawnThread()
	tc.MarkBlocked()

	vm.signalOneThread(tc)
	if tc.Status() != StatusStolen {
		t.Fatalf("status = %v, want Stolen", tc.Status())
	}

	done := make(chan struct{})
	go func() {
		tc.MarkUnblocked()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("MarkUnblocked returned while thread was still Stolen")
	case <-time.After(50 * time.Millisecond):
	}

	tc.cas(StatusStolen, StatusUnable)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("MarkUnblocked never completed after status returned to Unable")
	}
	if tc.Status() != StatusNone {
		t.Fatalf("status after MarkUnblocked = %v, want None", tc.Status())
	}
}
