package mempool

import "errors"

var (
	// ErrOverrun indicates the pool does not hold enough free bytes for the request.
	ErrOverrun = errors.New("mempool: pool exhausted")

	// ErrFragmentation indicates enough bytes are free in total but no single block fits.
	ErrFragmentation = errors.New("mempool: no contiguous block large enough")

	// ErrInvalidFree indicates a handle outside the pool or not naming an allocated block.
	ErrInvalidFree = errors.New("mempool: invalid free")

	// ErrBadHandle indicates a handle that does not name an allocated block.
	ErrBadHandle = errors.New("mempool: bad handle")

	// ErrInvalidSize indicates a negative allocation size.
	ErrInvalidSize = errors.New("mempool: invalid size")

	// ErrTooLarge indicates a backing buffer beyond the addressable range.
	ErrTooLarge = errors.New("mempool: buffer too large")

	// ErrShortBlock indicates a typed view larger than its block.
	ErrShortBlock = errors.New("mempool: block too small for view")

	// ErrMisaligned indicates a block whose address does not satisfy the element alignment.
	ErrMisaligned = errors.New("mempool: misaligned block")

	// ErrPointerType indicates an element type containing pointers.
	ErrPointerType = errors.New("mempool: element type contains pointers")
)

// ErrorKind classifies pool failures for the flag and callback mechanism.
type ErrorKind int

const (
	// Overrun is raised when total free space is insufficient.
	Overrun ErrorKind = iota
	// Fragmentation is raised when free space suffices but is split up.
	Fragmentation
	// InvalidFree is raised by Free on a bad handle.
	InvalidFree

	numErrorKinds
)

func (k ErrorKind) String() string {
	switch k {
	case Overrun:
		return "overrun"
	case Fragmentation:
		return "fragmentation"
	case InvalidFree:
		return "invalid-free"
	default:
		return "unknown"
	}
}

func (k ErrorKind) err() error {
	switch k {
	case Overrun:
		return ErrOverrun
	case Fragmentation:
		return ErrFragmentation
	default:
		return ErrInvalidFree
	}
}
