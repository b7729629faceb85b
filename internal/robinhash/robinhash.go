// Package robinhash implements the index variant of the VM's Robin-Hood
// open-addressed hash table: it maps externally-stored string keys to small
// integer indices without owning the strings themselves.  The table has no
// internal synchronization; like the VM's other bare data structures,
// serialization is the caller's job.
//
// Layout follows the design notes: a single backing allocation split into an
// entries region and a metadata region, both derived as typed views over one
// []byte buffer rather than two independent allocations.  Entries hold a
// uint32 index into the caller-owned string array; metadata holds one byte
// per slot: 0 means empty, p>0 means occupied at probe distance p, and a
// terminal sentinel byte (value 1) sits one slot past the last real slot.
//
// © 2026 corevm authors. MIT License.
package robinhash

import (
	"fmt"
	"hash/maphash"
	"math"
	"unsafe"

	"github.com/quillvm/corevm/internal/unsafehelpers"
)

// Tunables, per the VM's external interface table.
const (
	// IndexMinSizeBase2 is the smallest table size, log2.
	IndexMinSizeBase2 = 3
	// LoadFactor is the target fill ratio before a resize is triggered.
	LoadFactor = 0.75
	// MaxProbeDistance forces a resize before a metadata byte could overflow.
	MaxProbeDistance = 255
)

// ErrDuplicateKey indicates insertNoCheck observed an equal key already
// present in the table. The precondition of InsertNoCheck is that the
// caller guarantees this never happens; reaching it means the table (or its
// caller) is corrupt, so it is fatal rather than recoverable.
var ErrDuplicateKey = fmt.Errorf("robinhash: duplicate key inserted")

const entrySize = 4 // bytes per entry (uint32 index)

// Table is the Robin-Hood index hash table. Zero value is not usable; build
// one with Build.
type Table struct {
	buf  []byte // single backing allocation: [entries | metadata]
	seed maphash.Seed

	officialSizeLog2 uint8
	officialSize     uint64
	actualSlots      uint64 // officialSize + MaxProbeDistance
	keyRightShift    uint

	maxItems uint64
	curItems uint64
}

// Build allocates a table sized for expectedEntries items at the configured
// load factor. initial_size_base2 = max(IndexMinSizeBase2, ceil_log2(expectedEntries / LoadFactor)).
func Build(expectedEntries int) *Table {
	if expectedEntries < 0 {
		expectedEntries = 0
	}
	need := float64(expectedEntries) / LoadFactor
	log2 := IndexMinSizeBase2
	for (uint64(1) << uint(log2)) < uint64(math.Ceil(need)) {
		log2++
	}
	t := &Table{seed: maphash.MakeSeed()}
	t.allocate(uint8(log2))
	return t
}

// Demolish releases the single backing allocation. The table must not be
// used afterward.
func (t *Table) Demolish() {
	t.buf = nil
	t.curItems = 0
	t.maxItems = 0
}

// Len returns the number of items currently stored.
func (t *Table) Len() uint64 { return t.curItems }

// OfficialSize returns 1 << official_size_log2, the nominal slot count
// before the overflow cushion is added.
func (t *Table) OfficialSize() uint64 { return t.officialSize }

func (t *Table) allocate(log2 uint8) {
	t.officialSizeLog2 = log2
	t.officialSize = uint64(1) << log2
	t.actualSlots = t.officialSize + MaxProbeDistance
	t.keyRightShift = 64 - uint(log2)
	t.maxItems = uint64(float64(t.officialSize) * LoadFactor)

	metaLen := t.actualSlots + 1 // + terminal sentinel
	t.buf = make([]byte, t.actualSlots*entrySize+metaLen)
	t.metadataSlice()[t.actualSlots] = 1 // sentinel, never cleared
}

func (t *Table) entriesSlice() []uint32 {
	return unsafehelpers.PtrSlice((*uint32)(unsafe.Pointer(&t.buf[0])), int(t.actualSlots))
}

// metadataSlice views the metadata region as an offset from the entries
// region's base pointer, matching the layout rationale: both regions are
// typed views derived from one backing buffer rather than independent
// allocations.
func (t *Table) metadataSlice() []byte {
	base := unsafe.Pointer(&t.buf[0])
	metaPtr := unsafehelpers.OffsetPtr(base, int(t.actualSlots*entrySize))
	metaLen := t.actualSlots + 1 // + terminal sentinel
	return unsafehelpers.ByteSliceFrom(metaPtr, uintptr(metaLen))
}

// home computes the ideal slot for a key's hash: shifting right by
// keyRightShift keeps the top officialSizeLog2 bits, which select the home
// slot.
func (t *Table) home(h uint64) uint64 {
	return h >> t.keyRightShift
}

func (t *Table) hashKey(key string) uint64 {
	var h maphash.Hash
	h.SetSeed(t.seed)
	h.WriteString(key)
	return h.Sum64()
}

// InsertNoCheck inserts idx keyed by keys[idx]. The caller guarantees the
// key is not already present in the table; a duplicate observed mid-probe
// is a fatal invariant violation (ErrDuplicateKey, via panic) rather than a
// recoverable error, matching the rest of this subsystem's error policy.
func (t *Table) InsertNoCheck(keys []string, idx uint32) {
	if t.curItems+1 > t.maxItems {
		t.grow(keys)
	}
	t.insert(keys, idx)
}

func (t *Table) insert(keys []string, idx uint32) {
	entries := t.entriesSlice()
	metadata := t.metadataSlice()

	key := keys[idx]
	h := t.hashKey(key)
	pos := t.home(h)
	dist := uint8(1)

	for {
		slotDist := metadata[pos]
		if slotDist == 0 {
			entries[pos] = idx
			metadata[pos] = dist
			t.curItems++
			t.noteProbeDistance(dist)
			return
		}
		if dist > slotDist {
			// Candidate wins: occupant at pos is richer than the arriving
			// candidate. Shift the contiguous occupied run ahead by one to
			// open a gap at pos, rather than swap-and-continue.
			gap := pos
			for metadata[gap] != 0 {
				gap++
			}
			for i := gap; i > pos; i-- {
				entries[i] = entries[i-1]
				metadata[i] = metadata[i-1] + 1
				t.noteProbeDistance(metadata[i])
			}
			entries[pos] = idx
			metadata[pos] = dist
			t.curItems++
			t.noteProbeDistance(dist)
			return
		}
		if dist == slotDist && keys[entries[pos]] == key {
			panic(ErrDuplicateKey)
		}
		pos++
		dist++
	}
}

// noteProbeDistance implements the overflow guard: once any probe distance
// reaches MaxProbeDistance, max_items is forced to zero so the very next
// insertion triggers a resize before touching the table again.
func (t *Table) noteProbeDistance(d uint8) {
	if d >= MaxProbeDistance {
		t.maxItems = 0
	}
}

// Lookup returns the index stored for key, if present.
func (t *Table) Lookup(keys []string, key string) (uint32, bool) {
	entries := t.entriesSlice()
	metadata := t.metadataSlice()

	h := t.hashKey(key)
	pos := t.home(h)
	dist := uint8(1)

	for {
		slotDist := metadata[pos]
		if slotDist == 0 || dist > slotDist {
			// Robin-Hood invariant: probe distances are weakly increasing
			// along the array, so once the stored distance falls below
			// what we have already walked, the key cannot be further on.
			return 0, false
		}
		if slotDist == dist && keys[entries[pos]] == key {
			return entries[pos], true
		}
		pos++
		dist++
	}
}

// grow doubles the table (official_size_log2 + 1) and re-inserts every
// occupied slot from the old table, walked in array order.
func (t *Table) grow(keys []string) {
	old := *t
	t.allocate(old.officialSizeLog2 + 1)
	t.curItems = 0

	oldEntries := old.entriesSlice()
	oldMetadata := old.metadataSlice()
	for i := uint64(0); i < old.actualSlots; i++ {
		if oldMetadata[i] == 0 {
			continue
		}
		t.insert(keys, oldEntries[i])
	}
}

// MaxProbeDistanceObserved walks the occupied region and returns the
// largest probe distance currently stored, for introspection of how close
// the table is to the overflow guard.
func (t *Table) MaxProbeDistanceObserved() uint8 {
	var max uint8
	for _, d := range t.metadataSlice()[:t.actualSlots] {
		if d > max {
			max = d
		}
	}
	return max
}

// CheckRobinHoodInvariant reports whether, for every adjacent pair of
// slots, the later slot's probe distance is not smaller than the earlier
// one's unless one of the two is empty. Exposed for property tests.
func (t *Table) CheckRobinHoodInvariant() bool {
	metadata := t.metadataSlice()
	for i := uint64(0); i+1 < t.actualSlots; i++ {
		a, b := metadata[i], metadata[i+1]
		if a == 0 || b == 0 {
			continue
		}
		if b < a {
			return false
		}
	}
	return true
}
