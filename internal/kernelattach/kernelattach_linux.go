//go:build linux

// Package kernelattach hands a connected NBD client socket to the Linux
// kernel's nbd driver, turning /dev/nbdN into a real block device backed by
// the remote export. It is a straight port of the ioctl sequence used by
// the classic nbd-client(8) (NBD_SET_SOCK, NBD_SET_BLKSIZE,
// NBD_SET_SIZE_BLOCKS, NBD_SET_FLAGS, NBD_DO_IT, NBD_CLEAR_SOCK,
// NBD_DISCONNECT), reimplemented with golang.org/x/sys/unix instead of raw
// syscall.Syscall.
package kernelattach

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// ioctl request numbers from <linux/nbd.h>.
const (
	nbdSetSock        = 0xab00
	nbdSetBlkSize     = 0xab01
	nbdSetSize        = 0xab02
	nbdDoIt           = 0xab03
	nbdClearSock      = 0xab04
	nbdClearQue       = 0xab05
	nbdPrintDebug     = 0xab06
	nbdSetSizeBlocks  = 0xab07
	nbdDisconnect     = 0xab08
	nbdSetTimeout     = 0xab09
	nbdSetFlags       = 0xab0a
)

// Flags mirrors the NBD_FLAG_* transmit flags accepted by NBD_SET_FLAGS.
type Flags uint64

const (
	FlagHasFlags  Flags = 1 << 0
	FlagReadOnly  Flags = 1 << 1
	FlagSendFlush Flags = 1 << 2
	FlagSendFUA   Flags = 1 << 3
)

// Device represents an open /dev/nbdN node.
type Device struct {
	path string
	f    *os.File
}

// Open opens the given /dev/nbdN node (e.g. "/dev/nbd0").
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &Device{path: path, f: f}, nil
}

// FindFree scans /dev/nbd0, /dev/nbd1, ... for the first device that is not
// already attached (no /sys/block/nbdN/pid), up to max candidates.
func FindFree(max int) (*Device, error) {
	for i := 0; i < max; i++ {
		path := fmt.Sprintf("/dev/nbd%d", i)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if _, err := os.Stat(fmt.Sprintf("/sys/block/nbd%d/pid", i)); err == nil {
			continue // already attached
		}
		dev, err := Open(path)
		if err != nil {
			continue
		}
		return dev, nil
	}
	return nil, fmt.Errorf("no free nbd device found among the first %d", max)
}

// Path returns the device node path, e.g. "/dev/nbd0".
func (d *Device) Path() string { return d.path }

func (d *Device) ioctl(req uint, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), uintptr(req), arg)
	if errno != 0 {
		return &os.PathError{Op: fmt.Sprintf("ioctl(0x%x)", req), Path: d.path, Err: errno}
	}
	return nil
}

// SetSock hands the connected client socket to the kernel driver via
// NBD_SET_SOCK.
func (d *Device) SetSock(sockFd int) error {
	return d.ioctl(nbdSetSock, uintptr(sockFd))
}

// SetBlkSize sets the logical block size via NBD_SET_BLKSIZE.
func (d *Device) SetBlkSize(size uint64) error {
	return d.ioctl(nbdSetBlkSize, uintptr(size))
}

// SetSizeBlocks sets the device size in blocks via NBD_SET_SIZE_BLOCKS.
func (d *Device) SetSizeBlocks(blocks uint64) error {
	return d.ioctl(nbdSetSizeBlocks, uintptr(blocks))
}

// SetFlags sets the transmit flags via NBD_SET_FLAGS.
func (d *Device) SetFlags(flags Flags) error {
	return d.ioctl(nbdSetFlags, uintptr(flags))
}

// SetTimeout sets the kernel's request timeout, in seconds, via
// NBD_SET_TIMEOUT.
func (d *Device) SetTimeout(seconds uint64) error {
	return d.ioctl(nbdSetTimeout, uintptr(seconds))
}

// DoIt issues NBD_DO_IT, which blocks the calling goroutine's OS thread
// until the device is disconnected (by NBD_DISCONNECT or a socket error).
// It locks the calling goroutine to its OS thread for the duration of the
// call, since the kernel associates the ioctl's calling thread with the
// device.
func (d *Device) DoIt() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	return d.ioctl(nbdDoIt, 0)
}

// Disconnect issues NBD_DISCONNECT, asking the kernel to end the session
// that DoIt is blocked in.
func (d *Device) Disconnect() error {
	return d.ioctl(nbdDisconnect, 0)
}

// ClearSock issues NBD_CLEAR_SOCK, releasing the kernel's reference to the
// client socket after DoIt has returned.
func (d *Device) ClearSock() error {
	return d.ioctl(nbdClearSock, 0)
}

// ClearQueue issues NBD_CLEAR_QUE, discarding any queued but unanswered
// requests.
func (d *Device) ClearQueue() error {
	return d.ioctl(nbdClearQue, 0)
}

// PrintDebug issues NBD_PRINT_DEBUG, asking the kernel to dump the
// device's internal request queue to the kernel log.
func (d *Device) PrintDebug() error {
	return d.ioctl(nbdPrintDebug, 0)
}

// SetSize issues the legacy NBD_SET_SIZE ioctl (byte-granular; superseded
// by SetSizeBlocks but kept for devices that require it set first).
func (d *Device) SetSize(size uint64) error {
	return d.ioctl(nbdSetSize, uintptr(size))
}

// Close closes the device node. It does not disconnect an active session;
// call Disconnect first.
func (d *Device) Close() error {
	return d.f.Close()
}
