// Package mempool is a fixed-arena allocator for real-time audio setup.
//
// # Overview
//
// A Pool manages a caller-supplied []byte as a list of variable-size blocks.
// Each block starts with a 16-byte little-endian header followed by its
// payload. Free blocks are chained through offsets stored in their headers.
//
//   - Alloc: first-fit over the free list, splitting off the remainder when
//     it can hold a header plus payload, absorbing it otherwise
//   - Free: merges with address-adjacent free neighbours, then pushes the
//     merged block on the head of the list
//
// Both operations walk the free list and are meant for construction and
// teardown only, never for the audio callback.
//
// # Errors
//
// Allocation failure is reported three ways: the returned error
// (ErrOverrun or ErrFragmentation), a sticky per-kind flag (Errored), and an
// optional callback installed with WithErrorCallback. Nothing panics.
//
// # Typed storage
//
// Slice and AllocSlice place pointer-free values (float32 arrays, oscillator
// structs) directly in pool blocks:
//
//	pool, _ := mempool.New(make([]byte, 64<<10))
//	amps, h, err := mempool.AllocSlice[float32](pool, 60)
//	if err != nil {
//	    return err
//	}
//	defer pool.Free(h)
//
// The backing buffer must outlive every view taken from it.
package mempool
