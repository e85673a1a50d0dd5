//go:build linux

package nbd

import (
	"fmt"
	"io"
	"os"

	"github.com/traetox/goaio"
)

// AIOBlocks is a Blocks implementation backed by Linux native AIO via
// goaio, for deployments that want io_submit-based I/O instead of the
// pread/pwrite used by FileBlocks. The surface kept here is deliberately
// small: one outstanding request at a time per call, translated to a
// blocking wait, since the session state machine is itself sequential per
// connection and gains nothing from deeper queuing.
type AIOBlocks struct {
	f   *os.File
	aio *goaio.AIOState
}

// NewAIOBlocks opens an AIO context over the given file. queueDepth bounds
// the number of in-flight requests goaio will allow.
func NewAIOBlocks(f *os.File, queueDepth uint) (*AIOBlocks, error) {
	aio, err := goaio.NewAIOState(f, int(queueDepth))
	if err != nil {
		return nil, fmt.Errorf("initializing AIO context on %s: %w", f.Name(), err)
	}
	return &AIOBlocks{f: f, aio: aio}, nil
}

func (a *AIOBlocks) ReadAt(buf []byte, off uint64) error {
	id, err := a.aio.ReadAt(buf, int64(off))
	if err != nil {
		return fmt.Errorf("aio read submit at %d: %w", off, err)
	}
	n, err := a.aio.WaitForCompletion(id)
	if err != nil {
		return fmt.Errorf("aio read wait at %d: %w", off, err)
	}
	if n < len(buf) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (a *AIOBlocks) WriteAt(buf []byte, off uint64) error {
	id, err := a.aio.WriteAt(buf, int64(off))
	if err != nil {
		return fmt.Errorf("aio write submit at %d: %w", off, err)
	}
	n, err := a.aio.WaitForCompletion(id)
	if err != nil {
		return fmt.Errorf("aio write wait at %d: %w", off, err)
	}
	if n < len(buf) {
		return io.ErrShortWrite
	}
	return nil
}

func (a *AIOBlocks) Size() (uint64, error) {
	fi, err := a.f.Stat()
	if err != nil {
		return 0, err
	}
	return uint64(fi.Size()), nil
}

func (a *AIOBlocks) Flush() error {
	return a.f.Sync()
}

// Close tears down the AIO context. The underlying file is left open; the
// caller retains ownership of it.
func (a *AIOBlocks) Close() error {
	return a.aio.Close()
}
