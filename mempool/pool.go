package mempool

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
)

const (
	// Alignment is the granularity of block sizes and offsets.
	Alignment = 8

	// HeaderSize is the size of the header preceding every block payload.
	HeaderSize = 16

	// MaxSize is the largest backing buffer a Pool can address.
	MaxSize = math.MaxUint32 - 1
)

// Header layout: size | next | prev | state, each a little-endian uint32.
const (
	offSize  = 0
	offNext  = 4
	offPrev  = 8
	offState = 12

	nilOff = math.MaxUint32

	stateFree  = 0x46524545 // "FREE"
	stateInUse = 0x55534544 // "USED"
)

// Handle names an allocated block. It is the byte offset of the payload
// within the backing buffer; the zero Handle is never returned by Alloc.
type Handle uint32

// Block describes one free block.
type Block struct {
	Offset int // header offset
	Size   int // payload bytes
}

// Stats is a snapshot of pool accounting.
type Stats struct {
	Size         int
	Used         int
	FreeBytes    int
	FreeBlocks   int
	LargestFree  int
	AllocCount   uint64
	FreeCount    uint64
	FailedAllocs uint64
}

// Option configures a Pool.
type Option func(*Pool)

// WithErrorCallback installs fn to be called on every raised error kind.
func WithErrorCallback(fn func(p *Pool, kind ErrorKind)) Option {
	return func(p *Pool) { p.onError = fn }
}

// WithClearOnAlloc zeroes every block payload on allocation.
func WithClearOnAlloc() Option {
	return func(p *Pool) { p.clearOnAlloc = true }
}

// WithLogger sends allocation traces to l at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// Pool is a first-fit, coalescing allocator over a fixed buffer. It is not
// safe for concurrent use.
type Pool struct {
	buf  []byte
	head uint32
	used int

	allocs uint64
	frees  uint64
	failed uint64

	errs    [numErrorKinds]bool
	onError func(*Pool, ErrorKind)

	clearOnAlloc bool
	log          *slog.Logger
}

// New creates a pool spanning buf. A buffer shorter than one header holds no
// free block and every allocation from it overruns.
func New(buf []byte, opts ...Option) (*Pool, error) {
	if uint64(len(buf)) > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(buf), MaxSize)
	}
	p := &Pool{buf: buf, head: nilOff}
	for _, opt := range opts {
		opt(p)
	}
	if len(buf) >= HeaderSize {
		p.writeHeader(0, uint32(len(buf)-HeaderSize), nilOff, nilOff, stateFree)
		p.head = 0
	}
	return p, nil
}

// Alloc reserves a block of at least size bytes.
func (p *Pool) Alloc(size int) (Handle, error) {
	if size < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	need := alignUp(size)
	if need == 0 {
		need = Alignment
	}

	for off := p.head; off != nilOff; off = p.next(off) {
		bsize := int(p.size(off))
		if bsize < need {
			continue
		}

		if leftover := bsize - need; leftover > HeaderSize {
			rest := off + HeaderSize + uint32(need)
			p.writeHeader(rest, uint32(leftover-HeaderSize), p.next(off), p.prev(off), stateFree)
			p.replace(off, rest)
			p.setSize(off, uint32(need))
		} else {
			p.unlink(off)
		}
		p.writeHeader(off, p.size(off), nilOff, nilOff, stateInUse)

		p.used += HeaderSize + int(p.size(off))
		p.allocs++

		h := Handle(off + HeaderSize)
		if p.clearOnAlloc {
			clear(p.payload(off))
		}
		if p.log != nil {
			p.log.Debug("mempool alloc", "size", size, "block", p.size(off), "offset", off, "used", p.used)
		}
		return h, nil
	}

	p.failed++
	free := p.FreeBytes()
	if free >= need {
		return 0, p.fail(Fragmentation, "need %d bytes, %d free, largest block %d", need, free, p.largestFree())
	}
	return 0, p.fail(Overrun, "need %d bytes, %d free", need, free)
}

// Calloc reserves a zeroed block of at least size bytes.
func (p *Pool) Calloc(size int) (Handle, error) {
	h, err := p.Alloc(size)
	if err != nil {
		return 0, err
	}
	clear(p.payload(uint32(h) - HeaderSize))
	return h, nil
}

// Free returns a block to the pool, merging it with adjacent free blocks. An
// invalid handle raises InvalidFree and leaves the pool untouched.
func (p *Pool) Free(h Handle) error {
	off, ok := p.lookup(h)
	if !ok {
		return p.fail(InvalidFree, "handle %d", h)
	}

	size := p.size(off)
	p.used -= HeaderSize + int(size)
	p.frees++
	p.putU32(off, offState, stateFree)

	start := off
	end := off + HeaderSize + size
	for cur := p.head; cur != nilOff; {
		nxt := p.next(cur)
		curEnd := cur + HeaderSize + p.size(cur)
		switch {
		case curEnd == start:
			p.unlink(cur)
			start = cur
		case cur == end:
			p.unlink(cur)
			end = curEnd
		}
		cur = nxt
	}

	p.writeHeader(start, end-start-HeaderSize, p.head, nilOff, stateFree)
	if p.head != nilOff {
		p.setPrev(p.head, start)
	}
	p.head = start

	if p.log != nil {
		p.log.Debug("mempool free", "offset", off, "merged", end-start-HeaderSize, "used", p.used)
	}
	return nil
}

// Bytes returns the payload of an allocated block.
func (p *Pool) Bytes(h Handle) ([]byte, error) {
	off, ok := p.lookup(h)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrBadHandle, h)
	}
	return p.payload(off), nil
}

// BlockSize returns the payload size of an allocated block, which may exceed
// the requested size by alignment or an absorbed remainder.
func (p *Pool) BlockSize(h Handle) (int, error) {
	off, ok := p.lookup(h)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrBadHandle, h)
	}
	return int(p.size(off)), nil
}

// Size returns the size of the backing buffer.
func (p *Pool) Size() int { return len(p.buf) }

// Used returns the bytes held by allocated blocks, headers included.
func (p *Pool) Used() int { return p.used }

// AllocCount returns the number of successful allocations.
func (p *Pool) AllocCount() uint64 { return p.allocs }

// FreeCount returns the number of successful frees.
func (p *Pool) FreeCount() uint64 { return p.frees }

// FreeBytes returns the payload bytes available across all free blocks.
func (p *Pool) FreeBytes() int {
	total := 0
	for off := p.head; off != nilOff; off = p.next(off) {
		total += int(p.size(off))
	}
	return total
}

// FreeBlocks returns the free list in list order.
func (p *Pool) FreeBlocks() []Block {
	var out []Block
	for off := p.head; off != nilOff; off = p.next(off) {
		out = append(out, Block{Offset: int(off), Size: int(p.size(off))})
	}
	return out
}

// Stats returns a snapshot of the pool accounting.
func (p *Pool) Stats() Stats {
	s := Stats{
		Size:         len(p.buf),
		Used:         p.used,
		AllocCount:   p.allocs,
		FreeCount:    p.frees,
		FailedAllocs: p.failed,
	}
	for off := p.head; off != nilOff; off = p.next(off) {
		sz := int(p.size(off))
		s.FreeBytes += sz
		s.FreeBlocks++
		s.LargestFree = max(s.LargestFree, sz)
	}
	return s
}

// Errored reports whether kind has been raised since the last ClearErrors.
func (p *Pool) Errored(kind ErrorKind) bool {
	if kind < 0 || kind >= numErrorKinds {
		return false
	}
	return p.errs[kind]
}

// ClearErrors resets all error flags.
func (p *Pool) ClearErrors() { p.errs = [numErrorKinds]bool{} }

func (p *Pool) raise(kind ErrorKind) {
	p.errs[kind] = true
	if p.log != nil {
		p.log.Debug("mempool error", "kind", kind.String())
	}
	if p.onError != nil {
		p.onError(p, kind)
	}
}

// fail raises kind and returns its sentinel error wrapped with detail.
func (p *Pool) fail(kind ErrorKind, format string, args ...any) error {
	p.raise(kind)
	return fmt.Errorf("%w: %s", kind.err(), fmt.Sprintf(format, args...))
}

// lookup maps h to the header offset of an allocated block. The block chain
// is walked from offset 0, so payload bytes that mimic a header never pass.
func (p *Pool) lookup(h Handle) (uint32, bool) {
	if uint64(h) < HeaderSize || uint64(h) > uint64(len(p.buf)) {
		return 0, false
	}
	off := uint32(h) - HeaderSize
	if off%Alignment != 0 {
		return 0, false
	}
	cur := uint64(0)
	for cur < uint64(off) {
		cur += HeaderSize + uint64(p.size(uint32(cur)))
	}
	if cur != uint64(off) || p.state(off) != stateInUse {
		return 0, false
	}
	return off, true
}

func (p *Pool) largestFree() int {
	m := 0
	for off := p.head; off != nilOff; off = p.next(off) {
		m = max(m, int(p.size(off)))
	}
	return m
}

func (p *Pool) payload(off uint32) []byte {
	start := off + HeaderSize
	end := start + p.size(off)
	return p.buf[start:end:end]
}

// replace puts rest where off sits in the free list.
func (p *Pool) replace(off, rest uint32) {
	prev, next := p.prev(off), p.next(off)
	if prev != nilOff {
		p.setNext(prev, rest)
	} else {
		p.head = rest
	}
	if next != nilOff {
		p.setPrev(next, rest)
	}
}

func (p *Pool) unlink(off uint32) {
	prev, next := p.prev(off), p.next(off)
	if prev != nilOff {
		p.setNext(prev, next)
	} else {
		p.head = next
	}
	if next != nilOff {
		p.setPrev(next, prev)
	}
	p.setNext(off, nilOff)
	p.setPrev(off, nilOff)
}

func (p *Pool) writeHeader(off, size, next, prev, state uint32) {
	h := p.buf[off : off+HeaderSize]
	binary.LittleEndian.PutUint32(h[offSize:], size)
	binary.LittleEndian.PutUint32(h[offNext:], next)
	binary.LittleEndian.PutUint32(h[offPrev:], prev)
	binary.LittleEndian.PutUint32(h[offState:], state)
}

func (p *Pool) u32(off, field uint32) uint32 {
	return binary.LittleEndian.Uint32(p.buf[off+field:])
}

func (p *Pool) putU32(off, field, v uint32) {
	binary.LittleEndian.PutUint32(p.buf[off+field:], v)
}

func (p *Pool) size(off uint32) uint32  { return p.u32(off, offSize) }
func (p *Pool) next(off uint32) uint32  { return p.u32(off, offNext) }
func (p *Pool) prev(off uint32) uint32  { return p.u32(off, offPrev) }
func (p *Pool) state(off uint32) uint32 { return p.u32(off, offState) }

func (p *Pool) setSize(off, v uint32) { p.putU32(off, offSize, v) }
func (p *Pool) setNext(off, v uint32) { p.putU32(off, offNext, v) }
func (p *Pool) setPrev(off, v uint32) { p.putU32(off, offPrev, v) }

func alignUp(n int) int {
	return (n + Alignment - 1) &^ (Alignment - 1)
}
