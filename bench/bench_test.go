// Package bench provides reproducible micro-benchmarks for corevm's three
// leaf subsystems. Run via: go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// We measure:
//  1. HashInsert      — write-only workload against the Robin-Hood table
//  2. HashGet         — read-only workload (after warm-up)
//  3. CallsiteIntern  — try_intern cost under a fixed shape pool
//  4. GCCycle         — end-to-end election + rendezvous cost for N threads
//
// NOTE: unit tests live alongside each package; this file is only for
// performance.
//
// © 2026 corevm authors. MIT License.
package bench

import (
	"fmt"
	"math/rand"
	"runtime"
	"testing"

	"github.com/quillvm/corevm/internal/callsite"
	"github.com/quillvm/corevm/internal/gcsync"
	"github.com/quillvm/corevm/internal/robinhash"
)

const keyCount = 1 << 16

var keys = func() []string {
	arr := make([]string, keyCount)
	for i := range arr {
		arr[i] = fmt.Sprintf("ident-%06d", i)
	}
	return arr
}()

func init() {
	runtime.GOMAXPROCS(runtime.NumCPU())
	rand.New(rand.NewSource(42))
}

func BenchmarkHashInsert(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		tb := robinhash.Build(keyCount)
		for j := range keys {
			tb.InsertNoCheck(keys, uint32(j))
		}
	}
}

func BenchmarkHashGet(b *testing.B) {
	tb := robinhash.Build(keyCount)
	for i := range keys {
		tb.InsertNoCheck(keys, uint32(i))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := keys[i&(keyCount-1)]
		if _, ok := tb.Lookup(keys, k); !ok {
			b.Fatalf("lost key %q", k)
		}
	}
}

func BenchmarkCallsiteIntern(b *testing.B) {
	store := callsite.NewStore()
	store.InitializeCommon()

	shapes := make([][]callsite.Flag, 32)
	for i := range shapes {
		n := 1 + i%6
		flags := make([]callsite.Flag, n)
		for j := range flags {
			flags[j] = callsite.Flag((i + j) % 4)
		}
		shapes[i] = flags
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		flags := shapes[i%len(shapes)]
		cs := &callsite.Callsite{ArgFlags: flags, ArgCount: len(flags), NumPos: len(flags)}
		store.TryIntern(cs)
	}
}

type noopCollector struct{}

func (noopCollector) CollectNursery(*gcsync.ThreadContext) {}

func BenchmarkGCCycle(b *testing.B) {
	const threads = 8
	vm := gcsync.NewVM(gcsync.WithNurseryCollector(noopCollector{}))
	tcs := make([]*gcsync.ThreadContext, threads)
	for i := range tcs {
		tcs[i] = vm.SpawnThread()
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		done := make(chan struct{}, threads)
		for j := 1; j < threads; j++ {
			go func(tc *gcsync.ThreadContext) {
				vm.EnterFromAllocator(tc)
				done <- struct{}{}
			}(tcs[j])
		}
		vm.EnterFromAllocator(tcs[0])
		for j := 1; j < threads; j++ {
			<-done
		}
	}
}
