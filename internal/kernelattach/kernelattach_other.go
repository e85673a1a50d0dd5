//go:build !linux

package kernelattach

import (
	"fmt"
	"runtime"
)

// Device is a stub on non-Linux platforms; attaching to a kernel block
// device node is Linux-specific.
type Device struct{}

func Open(path string) (*Device, error) {
	return nil, fmt.Errorf("kernel device attach is not supported on %s", runtime.GOOS)
}

func FindFree(max int) (*Device, error) {
	return nil, fmt.Errorf("kernel device attach is not supported on %s", runtime.GOOS)
}

func (d *Device) Path() string                    { return "" }
func (d *Device) SetSock(sockFd int) error        { return errUnsupported() }
func (d *Device) SetBlkSize(size uint64) error    { return errUnsupported() }
func (d *Device) SetSizeBlocks(blocks uint64) error { return errUnsupported() }
func (d *Device) SetFlags(flags Flags) error      { return errUnsupported() }
func (d *Device) SetTimeout(seconds uint64) error { return errUnsupported() }
func (d *Device) DoIt() error                     { return errUnsupported() }
func (d *Device) Disconnect() error               { return errUnsupported() }
func (d *Device) ClearSock() error                { return errUnsupported() }
func (d *Device) ClearQueue() error                { return errUnsupported() }
func (d *Device) PrintDebug() error                { return errUnsupported() }
func (d *Device) SetSize(size uint64) error       { return errUnsupported() }
func (d *Device) Close() error                    { return nil }

// Flags mirrors the Linux build's Flags type so callers compile unchanged.
type Flags uint64

const (
	FlagHasFlags  Flags = 1 << 0
	FlagReadOnly  Flags = 1 << 1
	FlagSendFlush Flags = 1 << 2
	FlagSendFUA   Flags = 1 << 3
)

func errUnsupported() error {
	return fmt.Errorf("kernel device attach is not supported on %s", runtime.GOOS)
}
