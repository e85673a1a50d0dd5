package nbd

import "errors"

// Blocks is a byte-addressable array that can be exported by a server. It is
// the seam between the protocol core and any concrete medium: a plain file,
// an in-memory buffer, a Ceph RBD image, or a Linux-AIO-backed file (see
// store_file.go, store_mem.go, store_rbd.go, store_aio.go). Implementations
// must be safe for concurrent use by multiple sessions.
type Blocks interface {
	// ReadAt fills buf completely starting at off. A short read is an
	// error.
	ReadAt(buf []byte, off uint64) error

	// WriteAt writes buf completely starting at off.
	WriteAt(buf []byte, off uint64) error

	// Size returns the current byte length of the export.
	Size() (uint64, error)

	// Flush makes all prior writes durable.
	Flush() error
}

// errOutOfRange is returned by the in-memory and RBD stores for any access
// outside the export's bounds; session.go maps it to ErrOverflow like any
// other invalid-argument class of error.
var errOutOfRange = errors.New("out-of-bounds access")
