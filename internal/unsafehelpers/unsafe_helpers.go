// Package unsafehelpers centralises **all** unavoidable usage of the
// `unsafe` standard‑library package so that the rest of corevm stays clean
// and easier to audit.  Every helper is documented with clear pre‑/post‑
// conditions.
//
// ⚠️  **DISCLAIMER**   These helpers deliberately break the Go memory‑safety
// model for the sake of zero‑allocation, single‑block layouts such as the
// index hash table's entries/metadata split.  Use ONLY inside this
// repository; they are not part of the public API and may change without
// notice.  Misuse will lead to subtle data‑races or corruption.
//
// All functions are `go:linkname`‑free, cgo‑free and pure Go.
//
// © 2026 corevm authors. MIT License.
package unsafehelpers

import "unsafe"

/* -------------------------------------------------------------------------
   Generic pointer <-> slice helpers
   ------------------------------------------------------------------------- */

// PtrSlice converts an arbitrary *T pointer + element count into a `[]T`
// without copying. Used by the index hash table to view its entries region
// as a typed []uint32 slice.
func PtrSlice[T any](ptr *T, n int) []T {
	if n == 0 {
		return nil
	}
	return unsafe.Slice(ptr, n)
}

// ByteSliceFrom returns a []byte view of raw memory starting at `ptr` with the
// given length. Caller must ensure the memory block is at least `length`
// bytes. Used by the index hash table to view its metadata region as a
// typed []byte slice.
func ByteSliceFrom(ptr unsafe.Pointer, length uintptr) []byte {
	return unsafe.Slice((*byte)(ptr), length)
}

// OffsetPtr returns ptr shifted by delta bytes (delta may be negative). Used
// by the index hash table to address its metadata region as an offset from
// the entries region's base pointer, rather than through two independent
// slice headers.
func OffsetPtr(ptr unsafe.Pointer, delta int) unsafe.Pointer {
	return unsafe.Pointer(uintptr(ptr) + uintptr(delta))
}
