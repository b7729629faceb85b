// Package gcsync implements the stop-the-world rendezvous protocol by which
// mutator threads enlist into a nursery (young-generation) collection
// cycle. It does not perform the collection itself — tracing and copying
// are an external collaborator (NurseryCollector) — only the election,
// signalling, and spin-wait that bring every thread to a safe state first.
//
// Threads participate through a *ThreadContext*; the VM instance owns the
// thread registry, the coordinator mutex, and the atomics that drive the
// election. All status transitions go through atomic CAS so that a
// signalling coordinator and a self-transitioning mutator can never race
// into an inconsistent state.
//
// © 2026 corevm authors. MIT License.
package gcsync

import (
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// GCStatus is the atomic per-thread state driving the safepoint protocol.
type GCStatus int32

const (
	StatusNone GCStatus = iota
	StatusInterrupt
	StatusUnable
	StatusStolen
)

func (s GCStatus) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusInterrupt:
		return "interrupt"
	case StatusUnable:
		return "unable"
	case StatusStolen:
		return "stolen"
	default:
		return "invalid"
	}
}

// Dedicated process exit codes for the two fatal conditions of this
// subsystem. An invalid status transition indicates memory corruption or a
// logic error, never a recoverable one. ExitMutexFailure has no call site:
// sync.Mutex has no failure path to observe.
const (
	ExitMutexFailure    = 70
	ExitInvalidGCStatus = 71
)

// osExit is overridden in tests so a fatal path can be observed without
// terminating the test binary.
var osExit = os.Exit

func fatal(log *zap.Logger, code int, msg string, fields ...zap.Field) {
	log.Error(msg, fields...)
	osExit(code)
}

// NurseryCollector performs the actual tracing/copying collection of a
// thread's young generation. It is supplied by the embedder; gcsync only
// calls it once every enlisted thread has rendezvoused.
type NurseryCollector interface {
	CollectNursery(tc *ThreadContext)
}

// ThreadContext is the per-mutator record participating in GC safepoints.
type ThreadContext struct {
	id         uint64
	vm         *VM
	statusWord atomic.Int32

	// NurseryPtr is an opaque allocation cursor owned by the allocator
	// slow path (out of scope here); gcsync never dereferences it.
	NurseryPtr uintptr
}

// ID returns the thread's stable registry identifier.
func (tc *ThreadContext) ID() uint64 { return tc.id }

// Status returns the current GC status word.
func (tc *ThreadContext) Status() GCStatus { return GCStatus(tc.statusWord.Load()) }

func (tc *ThreadContext) cas(from, to GCStatus) bool {
	return tc.statusWord.CompareAndSwap(int32(from), int32(to))
}

// Safepoint is polled by the interpreter at safe points; if the thread has
// been signalled to enlist, it drives the interrupted path itself.
func (tc *ThreadContext) Safepoint() {
	if tc.Status() == StatusInterrupt {
		tc.vm.enterFromInterrupt(tc)
	}
}

// MarkBlocked brackets a call that may block in native code. If a GC is
// concurrently being initiated, the thread instead takes the interrupted
// path immediately rather than going to sleep outside GC's view.
func (tc *ThreadContext) MarkBlocked() {
	if tc.cas(StatusNone, StatusUnable) {
		return
	}
	if tc.Status() == StatusInterrupt {
		tc.vm.enterFromInterrupt(tc)
		return
	}
	fatal(tc.vm.log, ExitInvalidGCStatus, "gcsync: invalid status observed entering a blocking call",
		zap.Uint64("thread", tc.id), zap.Stringer("status", tc.Status()))
}

// MarkUnblocked closes the bracket opened by MarkBlocked. If a cycle is
// in flight the thread was stolen and must wait for the coordinator to
// hand control back rather than silently re-entering the running state.
func (tc *ThreadContext) MarkUnblocked() {
	for !tc.cas(StatusUnable, StatusNone) {
		runtime.Gosched()
	}
}

// GCMetricsSink reports orchestrator activity, typically to Prometheus.
type GCMetricsSink interface {
	IncCycle()
	SetEnlisted(n uint64)
}

type noopGCMetrics struct{}

func (noopGCMetrics) IncCycle()         {}
func (noopGCMetrics) SetEnlisted(uint64) {}

// VM is the process-wide coordinator state: the thread registry, the
// coordinator mutex, and the atomics driving election and rendezvous.
type VM struct {
	mu      sync.Mutex
	threads map[uint64]*ThreadContext
	nextID  atomic.Uint64

	seq               atomic.Uint64
	startingGC        atomic.Uint64
	expectedGCThreads atomic.Uint64

	collector NurseryCollector
	log       *zap.Logger
	metrics   GCMetricsSink
}

// Option configures a VM at construction time.
type Option func(*VM)

// WithLogger plugs an external zap.Logger. Apart from the fatal path, only
// cycle completion is logged; the spin-wait and signalling loop never log.
func WithLogger(l *zap.Logger) Option {
	return func(vm *VM) {
		if l != nil {
			vm.log = l
		}
	}
}

// WithMetrics plugs a GCMetricsSink, typically backed by Prometheus.
func WithMetrics(m GCMetricsSink) Option {
	return func(vm *VM) {
		if m != nil {
			vm.metrics = m
		}
	}
}

// WithNurseryCollector supplies the tracing/copying collector invoked once
// per rendezvoused cycle.
func WithNurseryCollector(c NurseryCollector) Option {
	return func(vm *VM) { vm.collector = c }
}

// NewVM constructs an empty coordinator with no registered threads.
func NewVM(opts ...Option) *VM {
	vm := &VM{
		threads: make(map[uint64]*ThreadContext),
		log:     zap.NewNop(),
		metrics: noopGCMetrics{},
	}
	for _, o := range opts {
		o(vm)
	}
	return vm
}

// SpawnThread registers a new mutator thread and returns its context.
func (vm *VM) SpawnThread() *ThreadContext {
	tc := &ThreadContext{id: vm.nextID.Add(1), vm: vm}
	vm.mu.Lock()
	vm.threads[tc.id] = tc
	vm.mu.Unlock()
	return tc
}

// RetireThread removes a thread from the registry. A thread that spawns
// after a cycle's election snapshot was taken is never counted into that
// cycle, by construction: the registry mutex is released before the
// spin-wait, so new threads may register freely without stalling anyone.
func (vm *VM) RetireThread(tc *ThreadContext) {
	vm.mu.Lock()
	delete(vm.threads, tc.id)
	vm.mu.Unlock()
}

// SeqNumber returns the number of GC cycles started so far; it is
// incremented when a coordinator wins the election, so it includes a cycle
// still in flight.
func (vm *VM) SeqNumber() uint64 { return vm.seq.Load() }

// EnterFromAllocator is called by the allocator slow path on nursery
// exhaustion. Exactly one calling thread per cycle becomes the coordinator;
// every other caller (and every running thread reached via signalOneThread)
// takes the interrupted path; blocked threads are marked stolen and counted
// by the coordinator instead.
func (vm *VM) EnterFromAllocator(tc *ThreadContext) {
	vm.mu.Lock()
	n := uint64(len(vm.threads))
	won := vm.expectedGCThreads.CompareAndSwap(0, n)
	if !won {
		vm.mu.Unlock()
		vm.enterFromInterrupt(tc)
		return
	}

	seq := vm.seq.Add(1)
	vm.startingGC.Add(1) // count self
	for _, other := range vm.threads {
		if other == tc {
			continue
		}
		vm.signalOneThread(other)
	}
	vm.metrics.SetEnlisted(n)
	vm.mu.Unlock()

	vm.spinWaitEnlistment()
	vm.runCollector(tc)

	// Any thread the coordinator stole roots from was blocked in native
	// code, not running the collector in place; hand it back to UNABLE now
	// that the cycle has finished so it can eventually unblock.
	vm.mu.Lock()
	for _, other := range vm.threads {
		other.cas(StatusStolen, StatusUnable)
	}
	vm.mu.Unlock()

	vm.startingGC.Store(0)
	vm.expectedGCThreads.Store(0)
	vm.metrics.IncCycle()
	vm.log.Info("gc cycle complete",
		zap.Uint64("seq", seq),
		zap.Uint64("threads", n))
}

// signalOneThread drives target into participating in the in-flight cycle,
// retrying across a racing self-transition until one of the two legal
// outcomes lands.
func (vm *VM) signalOneThread(target *ThreadContext) {
	for {
		if target.cas(StatusNone, StatusInterrupt) {
			return
		}
		if target.cas(StatusUnable, StatusStolen) {
			vm.startingGC.Add(1)
			return
		}
	}
}

// enterFromInterrupt is the path taken by an election loser and by any
// thread that observes StatusInterrupt at a safepoint or while blocking.
func (vm *VM) enterFromInterrupt(tc *ThreadContext) {
	vm.startingGC.Add(1)
	vm.spinWaitEnlistment()
	vm.runCollector(tc)
	tc.cas(StatusInterrupt, StatusNone)
}

func (vm *VM) spinWaitEnlistment() {
	for vm.startingGC.Load() != vm.expectedGCThreads.Load() {
		runtime.Gosched()
	}
}

func (vm *VM) runCollector(tc *ThreadContext) {
	if vm.collector != nil {
		vm.collector.CollectNursery(tc)
	}
}
