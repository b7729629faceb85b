// Package callsite implements the process-wide interning store for call-shape
// descriptors (Callsites): immutable records of how many positional and
// named arguments a call site passes and what kind each argument is.
//
// The store partitions interned shapes by arity, exactly as a small
// fixed-size array of growable buckets — most call shapes have arity <= 4,
// so buckets stay small and cache-resident, and bucket equality is a simple
// flag-slice compare plus a pairwise compare of already-interned name ids.
//
// Argument names are themselves interned through internal/robinhash, so two
// Callsites with structurally equal named arguments always carry identical
// uint32 ids — reducing callsite equality to integer/byte comparison with no
// string work on the hot path.
//
// © 2026 corevm authors. MIT License.
package callsite

import (
	"errors"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/quillvm/corevm/internal/robinhash"
)

// ArityLimit is the maximum interned arity; it is also the bucket growth
// step used when a per-arity bucket needs more room.
const ArityLimit = 8

// Errors returned by GetCommon and the derivation operators. These are recoverable:
// callers receive them as ordinary Go errors, never a panic.
var (
	ErrUnknownCommon = errors.New("callsite: unknown common callsite id")
	ErrOutOfRange    = errors.New("callsite: positional index out of range")
	ErrHasFlattening = errors.New("callsite: cannot derive from a flattening callsite")
)

// Flag is one argument's kind tag, optionally combined with modifier bits.
type Flag uint8

const (
	FlagObj Flag = iota
	FlagInt
	FlagNum
	FlagStr
)

const (
	kindMask = 0x0F
	// FlagFlattenMod marks a positional argument that flattens an array
	// into the callsite at this position.
	FlagFlattenMod Flag = 0x20
)

// IsPositionalKind reports whether f is a bare kind tag with no modifier
// bits set, the precondition insert_positional requires of its flag
// argument.
func IsPositionalKind(f Flag) bool { return f&^kindMask == 0 }

// Callsite is an immutable descriptor of one call shape.
type Callsite struct {
	ArgFlags []Flag
	ArgCount int
	NumPos   int
	// ArgNames holds one interned name id per named argument, ordered to
	// match ArgFlags[NumPos:]. nil when there are no named arguments.
	ArgNames []uint32

	HasFlattening bool
	IsInterned    bool

	// WithInvocant is an owned pointer to a companion callsite carrying a
	// prepended invocant slot. The chain is finite and acyclic by
	// construction: callers assign it directly, never through a cycle.
	WithInvocant *Callsite

	static bool // true for the nine common shapes: backing arrays are not owned
}

func newCallsite(flags []Flag, numPos int, names []uint32, hasFlattening bool) *Callsite {
	return &Callsite{
		ArgFlags:      flags,
		ArgCount:      len(flags),
		NumPos:        numPos,
		ArgNames:      names,
		HasFlattening: hasFlattening,
	}
}

/* -------------------------------------------------------------------------
   Nine statically allocated common shapes
   ------------------------------------------------------------------------- */

// CommonID identifies one of the nine compile-time call shapes.
type CommonID int

const (
	CommonZeroArity CommonID = iota
	CommonObj
	CommonObjObj
	CommonObjInt
	CommonObjNum
	CommonObjStr
	CommonIntInt
	CommonObjObjStr
	CommonObjObjObj
	numCommon
)

var (
	commonFlagsZero     = []Flag{}
	commonFlagsObj      = []Flag{FlagObj}
	commonFlagsObjObj   = []Flag{FlagObj, FlagObj}
	commonFlagsObjInt   = []Flag{FlagObj, FlagInt}
	commonFlagsObjNum   = []Flag{FlagObj, FlagNum}
	commonFlagsObjStr   = []Flag{FlagObj, FlagStr}
	commonFlagsIntInt   = []Flag{FlagInt, FlagInt}
	commonFlagsObjObjStr = []Flag{FlagObj, FlagObj, FlagStr}
	commonFlagsObjObjObj = []Flag{FlagObj, FlagObj, FlagObj}
)

var commonShapes = [numCommon]*Callsite{
	CommonZeroArity:  {ArgFlags: commonFlagsZero, ArgCount: 0, NumPos: 0, static: true},
	CommonObj:        {ArgFlags: commonFlagsObj, ArgCount: 1, NumPos: 1, static: true},
	CommonObjObj:     {ArgFlags: commonFlagsObjObj, ArgCount: 2, NumPos: 2, static: true},
	CommonObjInt:     {ArgFlags: commonFlagsObjInt, ArgCount: 2, NumPos: 2, static: true},
	CommonObjNum:     {ArgFlags: commonFlagsObjNum, ArgCount: 2, NumPos: 2, static: true},
	CommonObjStr:     {ArgFlags: commonFlagsObjStr, ArgCount: 2, NumPos: 2, static: true},
	CommonIntInt:     {ArgFlags: commonFlagsIntInt, ArgCount: 2, NumPos: 2, static: true},
	CommonObjObjStr:  {ArgFlags: commonFlagsObjObjStr, ArgCount: 3, NumPos: 3, static: true},
	CommonObjObjObj:  {ArgFlags: commonFlagsObjObjObj, ArgCount: 3, NumPos: 3, static: true},
}

// GetCommon returns the statically allocated shape for one of the nine
// compile-time shape IDs.
func GetCommon(id CommonID) (*Callsite, error) {
	if id < 0 || id >= numCommon {
		return nil, ErrUnknownCommon
	}
	return commonShapes[id], nil
}

// IsCommon reports whether cs is identically one of the nine statics.
func IsCommon(cs *Callsite) bool {
	for _, c := range commonShapes {
		if c == cs {
			return true
		}
	}
	return false
}

/* -------------------------------------------------------------------------
   Name interning
   ------------------------------------------------------------------------- */

// NameInterner deduplicates argument-name strings into small integer ids
// using the same Robin-Hood index table the rest of the VM uses for
// identifiers, keyed by the interner's own growing name list.
type NameInterner struct {
	mu    sync.Mutex
	names []string
	table *robinhash.Table
}

// NewNameInterner constructs an empty interner.
func NewNameInterner() *NameInterner {
	return &NameInterner{table: robinhash.Build(64)}
}

// Intern returns the canonical id for s, assigning a new one on first sight.
func (ni *NameInterner) Intern(s string) uint32 {
	ni.mu.Lock()
	defer ni.mu.Unlock()
	if idx, ok := ni.table.Lookup(ni.names, s); ok {
		return idx
	}
	idx := uint32(len(ni.names))
	ni.names = append(ni.names, s)
	ni.table.InsertNoCheck(ni.names, idx)
	return idx
}

// String resolves a previously interned id back to its string.
func (ni *NameInterner) String(id uint32) string {
	ni.mu.Lock()
	defer ni.mu.Unlock()
	return ni.names[id]
}

/* -------------------------------------------------------------------------
   Interning store
   ------------------------------------------------------------------------- */

// MetricsSink is the minimal interface the store reports through; it is
// deliberately tiny so callers can adapt a Prometheus registry, a test
// spy, or nothing at all.
type MetricsSink interface {
	IncIntern(arity int)
	IncHit(arity int)
	SetBucketBytes(arity int, bytes int64)
}

type noopMetricsSink struct{}

func (noopMetricsSink) IncIntern(int)            {}
func (noopMetricsSink) IncHit(int)               {}
func (noopMetricsSink) SetBucketBytes(int, int64) {}

// Store is the process-wide interning store, partitioned by arity.
type Store struct {
	mu      sync.Mutex
	buckets [][]*Callsite // len ArityLimit; buckets[a] holds shapes of arity a

	Names *NameInterner

	log     *zap.Logger
	metrics MetricsSink
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger plugs an external zap.Logger. The store only logs slow events
// (bucket growth), never the hot-path equality scan.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics plugs a MetricsSink, typically backed by Prometheus.
func WithMetrics(m MetricsSink) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewStore constructs an empty interning store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		buckets: make([][]*Callsite, ArityLimit),
		Names:   NewNameInterner(),
		log:     zap.NewNop(),
		metrics: noopMetricsSink{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// InitializeCommon interns all nine statics. After this call they are
// indistinguishable from dynamically interned shapes except that IsCommon
// still reports them as static (they are never freed on teardown).
func (s *Store) InitializeCommon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cs := range commonShapes {
		arity := len(cs.ArgFlags)
		present := false
		for _, existing := range s.buckets[arity] {
			if existing == cs {
				present = true
				break
			}
		}
		if present {
			continue
		}
		s.buckets[arity] = appendGrow(s.buckets[arity], cs)
		cs.IsInterned = true
	}
}

// TryIntern either returns an existing equal interned Callsite (discarding
// cs, which Go's GC reclaims once unreferenced) or installs cs itself and
// marks it interned. Certain shapes are never interned and are returned
// unchanged: flattening callsites, those at or beyond ArityLimit, and
// malformed named-argument shapes (named arguments declared by NumPos but
// no ArgNames supplied).
func (s *Store) TryIntern(cs *Callsite) *Callsite {
	if cs.HasFlattening {
		return cs
	}
	if len(cs.ArgFlags) >= ArityLimit {
		return cs
	}
	numNamed := len(cs.ArgFlags) - cs.NumPos
	if numNamed > 0 && cs.ArgNames == nil {
		return cs
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	arity := len(cs.ArgFlags)
	bucket := s.buckets[arity]
	for _, existing := range bucket {
		if callsitesEqual(existing, cs) {
			s.metrics.IncHit(arity)
			return existing
		}
	}

	s.buckets[arity] = appendGrow(bucket, cs)
	cs.IsInterned = true
	s.metrics.IncIntern(arity)
	s.log.Debug("callsite interned",
		zap.Int("arity", arity),
		zap.Int("bucket_len", len(s.buckets[arity])))
	return cs
}

// callsitesEqual implements the store's equality rule: identical arg_flags
// byte sequence and pairwise-equal (already-interned) arg_names ids.
func callsitesEqual(a, b *Callsite) bool {
	if a.NumPos != b.NumPos || len(a.ArgFlags) != len(b.ArgFlags) {
		return false
	}
	for i := range a.ArgFlags {
		if a.ArgFlags[i] != b.ArgFlags[i] {
			return false
		}
	}
	if len(a.ArgNames) != len(b.ArgNames) {
		return false
	}
	for i := range a.ArgNames {
		if a.ArgNames[i] != b.ArgNames[i] {
			return false
		}
	}
	return true
}

// appendGrow appends cs to bucket, growing capacity in batches of
// ArityLimit rather than relying on Go's default amortized doubling — most
// buckets never exceed a handful of entries, so large geometric jumps would
// waste memory in every per-arity bucket.
func appendGrow(bucket []*Callsite, cs *Callsite) []*Callsite {
	if len(bucket) == cap(bucket) {
		grown := make([]*Callsite, len(bucket), cap(bucket)+ArityLimit)
		copy(grown, bucket)
		bucket = grown
	}
	return append(bucket, cs)
}

// BucketStat reports one arity bucket's occupancy for introspection.
type BucketStat struct {
	Arity int
	Count int
	Bytes int64
}

// Snapshot reports per-arity bucket occupancy and mirrors it into the
// store's metrics sink. It takes the store mutex like any other operation;
// callers on a debug/inspection path, not the hot path.
func (s *Store) Snapshot() []BucketStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]BucketStat, 0, ArityLimit)
	for arity, bucket := range s.buckets {
		if len(bucket) == 0 {
			continue
		}
		b := int64(len(bucket)) * int64(unsafe.Sizeof((*Callsite)(nil)))
		stats = append(stats, BucketStat{Arity: arity, Count: len(bucket), Bytes: b})
		s.metrics.SetBucketBytes(arity, b)
	}
	return stats
}

/* -------------------------------------------------------------------------
   Derivation operators
   ------------------------------------------------------------------------- */

// DropPositional returns a new (possibly interned) shape with the
// positional argument at idx removed. Named arguments are copied verbatim.
func (s *Store) DropPositional(cs *Callsite, idx int) (*Callsite, error) {
	if cs.HasFlattening {
		return nil, ErrHasFlattening
	}
	if idx < 0 || idx >= cs.NumPos {
		return nil, ErrOutOfRange
	}

	flags := make([]Flag, 0, len(cs.ArgFlags)-1)
	flags = append(flags, cs.ArgFlags[:idx]...)
	flags = append(flags, cs.ArgFlags[idx+1:]...)

	var names []uint32
	if cs.ArgNames != nil {
		names = append([]uint32(nil), cs.ArgNames...)
	}

	next := newCallsite(flags, cs.NumPos-1, names, false)
	return s.TryIntern(next), nil
}

// InsertPositional returns a new (possibly interned) shape with a
// positional argument of kind flag inserted at idx. flag must be a bare
// positional kind (no modifier bits).
func (s *Store) InsertPositional(cs *Callsite, idx int, flag Flag) (*Callsite, error) {
	if cs.HasFlattening {
		return nil, ErrHasFlattening
	}
	if idx < 0 || idx > cs.NumPos {
		return nil, ErrOutOfRange
	}
	if !IsPositionalKind(flag) {
		return nil, ErrOutOfRange
	}

	flags := make([]Flag, 0, len(cs.ArgFlags)+1)
	flags = append(flags, cs.ArgFlags[:idx]...)
	flags = append(flags, flag)
	flags = append(flags, cs.ArgFlags[idx:]...)

	var names []uint32
	if cs.ArgNames != nil {
		names = append([]uint32(nil), cs.ArgNames...)
	}

	next := newCallsite(flags, cs.NumPos+1, names, false)
	return s.TryIntern(next), nil
}

/* -------------------------------------------------------------------------
   Copy / Destroy
   ------------------------------------------------------------------------- */

// Copy deep-clones cs (flags, names, and recursively WithInvocant). The
// clone is never marked interned, even if cs was.
func Copy(cs *Callsite) *Callsite {
	nc := &Callsite{
		ArgCount:      cs.ArgCount,
		NumPos:        cs.NumPos,
		HasFlattening: cs.HasFlattening,
	}
	if len(cs.ArgFlags) > 0 {
		nc.ArgFlags = append([]Flag(nil), cs.ArgFlags...)
	}
	if cs.ArgNames != nil {
		nc.ArgNames = append([]uint32(nil), cs.ArgNames...)
	}
	if cs.WithInvocant != nil {
		nc.WithInvocant = Copy(cs.WithInvocant)
	}
	return nc
}

// Destroy releases cs's owned arrays and recursively its WithInvocant
// companion. It must never be called on an interned or common callsite.
func Destroy(cs *Callsite) {
	if cs.IsInterned || cs.static {
		panic("callsite: Destroy called on an interned or common callsite")
	}
	if cs.WithInvocant != nil {
		Destroy(cs.WithInvocant)
		cs.WithInvocant = nil
	}
	cs.ArgFlags = nil
	cs.ArgNames = nil
}
