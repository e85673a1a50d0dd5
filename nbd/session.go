package nbd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"unicode/utf8"
)

// Export wraps a Blocks and the handful of operations the session state
// machine needs (name for listing, read/write bounds-checking, size,
// flush). There is exactly one Export per Server, per spec: the server
// ignores the export name the client requests.
type Export struct {
	Name   string
	Blocks Blocks
}

func (e *Export) read(off uint64, length uint32, buf []byte) ([]byte, ErrorType) {
	n := int(length)
	if n > len(buf) {
		n = len(buf)
	}
	data := buf[:n]
	if err := e.Blocks.ReadAt(data, off); err != nil {
		return nil, errorTypeFromErr(err)
	}
	return data, ErrOK
}

func (e *Export) write(off uint64, dataLen int, buf []byte, reqLen uint32) ErrorType {
	if int(reqLen) > dataLen {
		// the client's declared length exceeds what fit in the session
		// buffer: the payload we read is necessarily incomplete, so the
		// stream is now desynchronised.
		return ErrOverflow
	}
	if err := e.Blocks.WriteAt(buf[:dataLen], off); err != nil {
		return errorTypeFromErr(err)
	}
	return ErrOK
}

func (e *Export) size() (uint64, error) {
	return e.Blocks.Size()
}

func (e *Export) flush() error {
	return e.Blocks.Flush()
}

// errorTypeFromErr maps a backing-store error to the wire ErrorType
// vocabulary, per spec §7.
func errorTypeFromErr(err error) ErrorType {
	if errors.Is(err, errOutOfRange) {
		return ErrOverflow
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrShortWrite) {
		return ErrOverflow
	}
	if errors.Is(err, fs.ErrPermission) {
		return ErrPerm
	}
	return ErrIO
}

// session is the per-connection state, owning the bidirectional stream and
// a fixed 256KiB scratch buffer reused for both WRITE payloads and READ
// replies (spec §5: the sequential state machine makes this safe).
type session struct {
	rw       io.ReadWriter
	w        *bufio.Writer
	export   *Export
	log      *slog.Logger
	noZeroes bool
	buf      []byte
}

func newSession(rw io.ReadWriter, export *Export, log *slog.Logger) *session {
	return &session{
		rw:     rw,
		w:      bufio.NewWriter(rw),
		export: export,
		log:    log,
		buf:    make([]byte, sessionBufferSize),
	}
}

// flushWriter lets optReply/exportInfo writers call Flush() on the
// session's buffered writer without depending on bufio directly.
type flushWriter struct {
	*bufio.Writer
}

func (f flushWriter) Flush() error { return f.Writer.Flush() }

// handle runs the full GREETING -> HAGGLE -> TRANSMIT state machine for one
// connection, returning nil on any graceful disconnect (DISC, EOF) and a
// non-nil error only for a genuine protocol or I/O failure.
func (s *session) handle() error {
	flags, err := s.greeting()
	if err != nil {
		return fmt.Errorf("initial handshake failed: %w", err)
	}
	s.noZeroes = flags&FlagNoZeroes != 0

	export, err := s.haggle(flags)
	if err != nil {
		return fmt.Errorf("handshake haggling failed: %w", err)
	}
	if export == nil {
		// client sent ABORT
		return nil
	}

	err = s.transmit(export)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		return fmt.Errorf("handling client operations: %w", err)
	}
	return nil
}

// greeting implements spec §4.3 GREETING.
func (s *session) greeting() (HandshakeFlags, error) {
	g := &greeting{flags: FlagFixedNewstyle | FlagNoZeroes}
	if err := g.write(s.w); err != nil {
		return 0, err
	}
	if err := s.w.Flush(); err != nil {
		return 0, err
	}
	clientFlags, err := readClientFlags(s.rw)
	if err != nil {
		return 0, err
	}
	if clientFlags&FlagCFixedNewstyle == 0 {
		return 0, newProtocolError("client does not support FIXED_NEWSTYLE")
	}
	flags := FlagFixedNewstyle
	if clientFlags&FlagCNoZeroes != 0 {
		flags |= FlagNoZeroes
	}
	return flags, nil
}

// haggle implements spec §4.3 HAGGLE. Returns the export to transmit
// against, or nil if the client aborted.
func (s *session) haggle(flags HandshakeFlags) (*Export, error) {
	for {
		o, err := readOpt(s.rw)
		if err != nil {
			return nil, err
		}
		switch o.typ {
		case OptExportName:
			if !utf8.Valid(o.data) {
				return nil, newProtocolError("non-UTF8 export name")
			}
			if err := writeExportInfo(flushWriter{s.w}, s.export.sizeOrZero(), ServerTransmitFlags, s.noZeroes); err != nil {
				return nil, err
			}
			return s.export, nil

		case OptList:
			if err := writeExportList(flushWriter{s.w}, o.typ, []string{s.export.Name}); err != nil {
				return nil, err
			}

		case OptInfo, OptGo:
			info, err := parseInfoRequest(o.data)
			if err != nil {
				return nil, err
			}
			done, err := s.infoResponses(o.typ, info)
			if err != nil {
				return nil, err
			}
			if o.typ == OptGo && done {
				return s.export, nil
			}

		case OptAbort:
			return nil, nil

		default:
			s.log.Warn("unsupported option", "option", o.typ)
			if err := (&optReply{opt: o.typ, replyType: ReplyErrUnsup}).write(flushWriter{s.w}); err != nil {
				return nil, err
			}
		}
	}
}

// infoResponses answers an INFO or GO option: one INFO reply per requested
// type (EXPORT is always implicitly appended), followed by ACK. Returns
// done=true if the exchange completed successfully (as opposed to an
// unsupported info type ending it early).
func (s *session) infoResponses(opt OptType, req *infoRequest) (bool, error) {
	size, err := s.export.size()
	if err != nil {
		return false, err
	}
	seenExport := false
	typs := req.typs
	for _, t := range typs {
		if t == InfoExport {
			seenExport = true
		}
	}
	if !seenExport {
		typs = append(typs, InfoExport)
	}
	for _, t := range typs {
		switch t {
		case InfoExport:
			rep := &optReply{opt: opt, replyType: ReplyInfo, data: infoExportPayload(size, ServerTransmitFlags)}
			if err := rep.write(flushWriter{s.w}); err != nil {
				return false, err
			}
		case InfoBlockSize:
			rep := &optReply{opt: opt, replyType: ReplyInfo, data: infoBlockSizePayload(minBlockSize, preferredBlockSize, maxBlockSize)}
			if err := rep.write(flushWriter{s.w}); err != nil {
				return false, err
			}
		case InfoName, InfoDescription:
			if err := (&optReply{opt: opt, replyType: ReplyErrUnsup}).write(flushWriter{s.w}); err != nil {
				return false, err
			}
			return false, nil
		}
	}
	if err := (&optReply{opt: opt, replyType: ReplyAck}).write(flushWriter{s.w}); err != nil {
		return false, err
	}
	return true, nil
}

// transmit implements spec §4.3 TRANSMIT.
func (s *session) transmit(export *Export) error {
	for {
		req, err := readRequest(s.rw, s.buf)
		if err != nil {
			return err
		}
		s.log.Debug("request", "cmd", req.Typ, "offset", req.Offset, "len", req.Len, "handle", req.Handle)

		if req.Flags&^CmdFlagFUA != 0 {
			s.log.Warn("unexpected command flags", "flags", req.Flags)
			if err := s.reply(&SimpleReply{Err: ErrNotSup, Handle: req.Handle}); err != nil {
				return err
			}
			continue
		}

		switch req.Typ {
		case CmdRead:
			data, errType := export.read(req.Offset, req.Len, s.buf)
			if errType != ErrOK {
				s.log.Warn("read error", "err", errType)
				if err := s.reply(&SimpleReply{Err: errType, Handle: req.Handle}); err != nil {
					return err
				}
				continue
			}
			if err := s.reply(&SimpleReply{Err: ErrOK, Handle: req.Handle, Data: data}); err != nil {
				return err
			}

		case CmdWrite:
			errType := export.write(req.Offset, req.DataLen, s.buf, req.Len)
			if errType != ErrOK {
				s.log.Warn("write error", "err", errType)
				if err := s.reply(&SimpleReply{Err: errType, Handle: req.Handle}); err != nil {
					return err
				}
				if int(req.Len) > req.DataLen {
					// the client's frame and ours have desynchronised
					return newProtocolError("write length %d exceeds session buffer", req.Len)
				}
				continue
			}
			if req.Flags&CmdFlagFUA != 0 {
				if err := export.flush(); err != nil {
					return err
				}
			}
			if err := s.reply(&SimpleReply{Err: ErrOK, Handle: req.Handle}); err != nil {
				return err
			}

		case CmdDisconnect:
			// RFC says the server may ACK, but the Linux client closes the
			// connection immediately; don't bother replying.
			return nil

		case CmdFlush:
			if err := export.flush(); err != nil {
				return err
			}
			if err := s.reply(&SimpleReply{Err: ErrOK, Handle: req.Handle}); err != nil {
				return err
			}

		case CmdTrim:
			if err := s.reply(&SimpleReply{Err: ErrOK, Handle: req.Handle}); err != nil {
				return err
			}

		default:
			if err := s.reply(&SimpleReply{Err: ErrNotSup, Handle: req.Handle}); err != nil {
				return err
			}
			return nil
		}
	}
}

func (s *session) reply(r *SimpleReply) error {
	if err := r.write(s.w); err != nil {
		return err
	}
	return s.w.Flush()
}

func (e *Export) sizeOrZero() uint64 {
	sz, err := e.size()
	if err != nil {
		return 0
	}
	return sz
}
