package nbd

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// FileBlocks is a Blocks implementation backed by an open file, using
// positional I/O (pread/pwrite) so concurrent requests never contend on a
// shared file cursor. Flush issues fdatasync.
type FileBlocks struct {
	f *os.File
}

// NewFileBlocks wraps an already-open file. The caller owns f's lifecycle.
func NewFileBlocks(f *os.File) *FileBlocks {
	return &FileBlocks{f: f}
}

func (fb *FileBlocks) ReadAt(buf []byte, off uint64) error {
	for len(buf) > 0 {
		n, err := unix.Pread(int(fb.f.Fd()), buf, int64(off))
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
		buf = buf[n:]
		off += uint64(n)
	}
	return nil
}

func (fb *FileBlocks) WriteAt(buf []byte, off uint64) error {
	for len(buf) > 0 {
		n, err := unix.Pwrite(int(fb.f.Fd()), buf, int64(off))
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		buf = buf[n:]
		off += uint64(n)
	}
	return nil
}

func (fb *FileBlocks) Size() (uint64, error) {
	fi, err := fb.f.Stat()
	if err != nil {
		return 0, err
	}
	return uint64(fi.Size()), nil
}

func (fb *FileBlocks) Flush() error {
	return unix.Fdatasync(int(fb.f.Fd()))
}
