package nbd

import (
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"os"
	"time"
)

// Client is a driver for the NBD protocol's client side: it performs the
// handshake against a server and issues READ/WRITE/FLUSH/DISCONNECT
// requests. Its primary purpose, per spec, is to hand its underlying file
// descriptor off to the Linux kernel client via NBD_SET_SOCK (see
// internal/kernelattach) rather than to serve as a general-purpose library
// client, but it is fully usable standalone too.
type Client struct {
	conn  net.Conn
	size  uint64
	flags TransmitFlags
}

// Dial connects to addr, negotiates EXPORT_NAME against export, and returns
// a ready Client. timeout bounds the whole handshake.
func Dial(addr, export string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	c := &Client{conn: conn}
	if err := c.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, err
	}
	if err := c.handshake(export); err != nil {
		conn.Close()
		return nil, err
	}
	if err := c.conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake(export string) error {
	flags, err := readGreeting(c.conn)
	if err != nil {
		return fmt.Errorf("reading greeting: %w", err)
	}
	if flags&FlagFixedNewstyle == 0 {
		return newProtocolError("server does not support FIXED_NEWSTYLE")
	}
	clientFlags := FlagCFixedNewstyle
	if flags&FlagNoZeroes != 0 {
		clientFlags |= FlagCNoZeroes
	}
	if err := writeClientFlags(c.conn, clientFlags); err != nil {
		return fmt.Errorf("sending client flags: %w", err)
	}

	o := &opt{typ: OptExportName, data: []byte(export)}
	if err := o.write(c.conn); err != nil {
		return fmt.Errorf("sending export name: %w", err)
	}
	size, tflags, err := readExportInfo(c.conn, flags&FlagNoZeroes != 0)
	if err != nil {
		return fmt.Errorf("reading export info: %w", err)
	}
	c.size = size
	c.flags = tflags
	return nil
}

// Size returns the export's size, as reported during the handshake.
func (c *Client) Size() uint64 { return c.size }

// SupportsFlush reports whether the server advertised SEND_FLUSH.
func (c *Client) SupportsFlush() bool { return c.flags&TransmitSendFlush != 0 }

// ReadAt reads len(buf) bytes starting at off.
func (c *Client) ReadAt(buf []byte, off uint64) error {
	handle := c.newHandle()
	req := &Request{Typ: CmdRead, Handle: handle, Offset: off, Len: uint32(len(buf))}
	if err := writeRequest(c.conn, req, nil); err != nil {
		return fmt.Errorf("sending read request: %w", err)
	}
	reply, err := readSimpleReply(c.conn, buf)
	if err != nil {
		return fmt.Errorf("reading read reply: %w", err)
	}
	if reply.Handle != handle {
		return newProtocolError("reply handle mismatch: got %d want %d", reply.Handle, handle)
	}
	if reply.Err != ErrOK {
		return fmt.Errorf("server returned error %d", reply.Err)
	}
	return nil
}

// WriteAt writes buf starting at off. If fua is set, the write is not
// acknowledged until it is durable.
func (c *Client) WriteAt(buf []byte, off uint64, fua bool) error {
	handle := c.newHandle()
	var flags CmdFlags
	if fua {
		flags = CmdFlagFUA
	}
	req := &Request{Typ: CmdWrite, Flags: flags, Handle: handle, Offset: off, Len: uint32(len(buf))}
	if err := writeRequest(c.conn, req, buf); err != nil {
		return fmt.Errorf("sending write request: %w", err)
	}
	return c.ackOnly(handle, "write")
}

// Flush issues a FLUSH command, returning once the server has made all
// prior writes durable.
func (c *Client) Flush() error {
	handle := c.newHandle()
	req := &Request{Typ: CmdFlush, Handle: handle}
	if err := writeRequest(c.conn, req, nil); err != nil {
		return fmt.Errorf("sending flush request: %w", err)
	}
	return c.ackOnly(handle, "flush")
}

// Trim issues a TRIM command over [off, off+length).
func (c *Client) Trim(off uint64, length uint32) error {
	handle := c.newHandle()
	req := &Request{Typ: CmdTrim, Handle: handle, Offset: off, Len: length}
	if err := writeRequest(c.conn, req, nil); err != nil {
		return fmt.Errorf("sending trim request: %w", err)
	}
	return c.ackOnly(handle, "trim")
}

func (c *Client) ackOnly(handle uint64, op string) error {
	reply, err := readSimpleReply(c.conn, nil)
	if err != nil {
		return fmt.Errorf("reading %s reply: %w", op, err)
	}
	if reply.Handle != handle {
		return newProtocolError("reply handle mismatch: got %d want %d", reply.Handle, handle)
	}
	if reply.Err != ErrOK {
		return fmt.Errorf("server returned error %d for %s", reply.Err, op)
	}
	return nil
}

// Disconnect sends NBD_CMD_DISC and closes the connection. The server does
// not reply.
func (c *Client) Disconnect() error {
	req := &Request{Typ: CmdDisconnect, Handle: c.newHandle()}
	if err := writeRequest(c.conn, req, nil); err != nil && err != io.EOF {
		return fmt.Errorf("sending disconnect: %w", err)
	}
	return c.conn.Close()
}

// Close closes the underlying connection without sending DISC, for use
// after the fd has been duplicated for kernel attach (or on error paths).
func (c *Client) Close() error {
	return c.conn.Close()
}

// File returns the underlying *os.File for the connection, for handing to
// the kernel-attach adapter's NBD_SET_SOCK ioctl. Only valid for TCP or
// Unix socket connections.
func (c *Client) File() (*os.File, error) {
	type filer interface {
		File() (*os.File, error)
	}
	f, ok := c.conn.(filer)
	if !ok {
		return nil, fmt.Errorf("connection type %T cannot yield a file descriptor", c.conn)
	}
	return f.File()
}

// newHandle picks a request handle. Per spec, handles need only be likely
// distinct since this driver never pipelines more than one outstanding
// request; a random 64-bit value is sufficient and matches how the
// reference client generates them.
func (c *Client) newHandle() uint64 {
	return rand.Uint64()
}
