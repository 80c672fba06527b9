package mempool

import (
	"fmt"
	"reflect"
	"unsafe"
)

// Slice returns an n-element view of type T over the block named by h. T
// must not contain pointers; the garbage collector does not scan pool memory.
func Slice[T any](p *Pool, h Handle, n int) ([]T, error) {
	if err := checkElem[T](); err != nil {
		return nil, err
	}
	b, err := p.Bytes(h)
	if err != nil {
		return nil, err
	}
	var zero T
	elem := int(unsafe.Sizeof(zero))
	if n < 0 || n*elem > len(b) {
		return nil, fmt.Errorf("%w: %d x %d bytes in %d-byte block", ErrShortBlock, n, elem, len(b))
	}
	if n == 0 {
		return []T{}, nil
	}
	ptr := unsafe.Pointer(unsafe.SliceData(b))
	if uintptr(ptr)%unsafe.Alignof(zero) != 0 {
		return nil, fmt.Errorf("%w: %T at %p", ErrMisaligned, zero, ptr)
	}
	return unsafe.Slice((*T)(ptr), n), nil
}

// AllocSlice allocates a zeroed block for n values of T and returns the view
// together with the handle needed to free it.
func AllocSlice[T any](p *Pool, n int) ([]T, Handle, error) {
	if err := checkElem[T](); err != nil {
		return nil, 0, err
	}
	if n < 0 {
		return nil, 0, fmt.Errorf("%w: %d elements", ErrInvalidSize, n)
	}
	var zero T
	h, err := p.Calloc(n * int(unsafe.Sizeof(zero)))
	if err != nil {
		return nil, 0, err
	}
	s, err := Slice[T](p, h, n)
	if err != nil {
		_ = p.Free(h)
		return nil, 0, err
	}
	return s, h, nil
}

func checkElem[T any]() error {
	t := reflect.TypeFor[T]()
	if hasPointers(t) {
		return fmt.Errorf("%w: %s", ErrPointerType, t)
	}
	return nil
}

func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return true
	}
}
