package nbd

import (
	"bytes"
	"testing"
)

func TestGreetingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	g := &greeting{flags: FlagFixedNewstyle | FlagNoZeroes}
	if err := g.write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	flags, err := readGreeting(&buf)
	if err != nil {
		t.Fatalf("readGreeting: %v", err)
	}
	if flags != g.flags {
		t.Fatalf("got flags %v, want %v", flags, g.flags)
	}
}

func TestReadGreetingRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBuffer(make([]byte, 18))
	if _, err := readGreeting(buf); err == nil {
		t.Fatal("expected an error for zeroed magic")
	}
}

func TestClientFlagsRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeClientFlags(&buf, FlagCFixedNewstyle|FlagCNoZeroes); err != nil {
		t.Fatalf("write: %v", err)
	}
	flags, err := readClientFlags(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if flags != FlagCFixedNewstyle|FlagCNoZeroes {
		t.Fatalf("got %v", flags)
	}
}

func TestClientFlagsRejectsUnknownBits(t *testing.T) {
	var buf bytes.Buffer
	if err := writeClientFlags(&buf, ClientHandshakeFlags(1<<31)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readClientFlags(&buf); err == nil {
		t.Fatal("expected an error for an unknown client flag bit")
	}
}

func TestOptRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	o := &opt{typ: OptExportName, data: []byte("myexport")}
	if err := o.write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := readOpt(&buf)
	if err != nil {
		t.Fatalf("readOpt: %v", err)
	}
	if got.typ != o.typ || !bytes.Equal(got.data, o.data) {
		t.Fatalf("got %+v, want %+v", got, o)
	}
}

func TestReadOptRejectsOversizedOption(t *testing.T) {
	var buf bytes.Buffer
	o := &opt{typ: OptInfo, data: make([]byte, maxOptionDataLen+1)}
	if err := o.write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readOpt(&buf); err == nil {
		t.Fatal("expected an error for an oversized option")
	}
}

func TestReadOptRejectsUnknownType(t *testing.T) {
	var buf bytes.Buffer
	o := &opt{typ: OptType(999), data: nil}
	if err := o.write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readOpt(&buf); err == nil {
		t.Fatal("expected an error for an unknown option type")
	}
}

func TestOptReplyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	r := &optReply{opt: OptList, replyType: ReplyServer, data: []byte("hello")}
	if err := r.write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := readOptReply(&buf)
	if err != nil {
		t.Fatalf("readOptReply: %v", err)
	}
	if got.opt != r.opt || got.replyType != r.replyType || !bytes.Equal(got.data, r.data) {
		t.Fatalf("got %+v, want %+v", got, r)
	}
}

func TestParseInfoRequest(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 4})
	buf.WriteString("test")
	buf.Write([]byte{0, 2})
	buf.Write([]byte{0, byte(InfoExport)})
	buf.Write([]byte{0, byte(InfoBlockSize)})

	req, err := parseInfoRequest(buf.Bytes())
	if err != nil {
		t.Fatalf("parseInfoRequest: %v", err)
	}
	if req.name != "test" {
		t.Fatalf("got name %q", req.name)
	}
	if len(req.typs) != 2 || req.typs[0] != InfoExport || req.typs[1] != InfoBlockSize {
		t.Fatalf("got types %+v", req.typs)
	}
}

func TestParseInfoRequestRejectsTruncatedName(t *testing.T) {
	data := []byte{0, 0, 0, 10, 'a', 'b'}
	if _, err := parseInfoRequest(data); err == nil {
		t.Fatal("expected an error for a truncated name")
	}
}

func TestExportInfoRoundTripWithZeroes(t *testing.T) {
	var buf bytes.Buffer
	if err := writeExportInfo(&buf, 1<<20, ServerTransmitFlags, false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.Len() != 10+124 {
		t.Fatalf("got %d bytes, want 134", buf.Len())
	}
	size, flags, err := readExportInfo(&buf, false)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if size != 1<<20 || flags != ServerTransmitFlags {
		t.Fatalf("got size=%d flags=%v", size, flags)
	}
}

func TestExportInfoRoundTripNoZeroes(t *testing.T) {
	var buf bytes.Buffer
	if err := writeExportInfo(&buf, 42, ServerTransmitFlags, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.Len() != 10 {
		t.Fatalf("got %d bytes, want 10", buf.Len())
	}
	size, _, err := readExportInfo(&buf, true)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if size != 42 {
		t.Fatalf("got size %d", size)
	}
}

func TestRequestRoundTripRead(t *testing.T) {
	var buf bytes.Buffer
	req := &Request{Typ: CmdRead, Handle: 0xdeadbeef, Offset: 4096, Len: 512}
	if err := writeRequest(&buf, req, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	scratch := make([]byte, 4096)
	got, err := readRequest(&buf, scratch)
	if err != nil {
		t.Fatalf("readRequest: %v", err)
	}
	if got.Typ != req.Typ || got.Handle != req.Handle || got.Offset != req.Offset || got.Len != req.Len {
		t.Fatalf("got %+v, want %+v", got, req)
	}
}

func TestRequestRoundTripWrite(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("the quick brown fox")
	req := &Request{Typ: CmdWrite, Handle: 7, Offset: 0, Len: uint32(len(payload))}
	if err := writeRequest(&buf, req, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	scratch := make([]byte, 4096)
	got, err := readRequest(&buf, scratch)
	if err != nil {
		t.Fatalf("readRequest: %v", err)
	}
	if got.DataLen != len(payload) || !bytes.Equal(scratch[:got.DataLen], payload) {
		t.Fatalf("got payload %q, want %q", scratch[:got.DataLen], payload)
	}
}

func TestRequestRejectsUnknownCmd(t *testing.T) {
	var buf bytes.Buffer
	req := &Request{Typ: Cmd(999), Handle: 1}
	if err := writeRequest(&buf, req, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readRequest(&buf, make([]byte, 16)); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}

func TestSimpleReplyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	r := &SimpleReply{Err: ErrOK, Handle: 99, Data: []byte("payload")}
	if err := r.write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := readSimpleReply(&buf, make([]byte, len(r.Data)))
	if err != nil {
		t.Fatalf("readSimpleReply: %v", err)
	}
	if got.Err != r.Err || got.Handle != r.Handle || !bytes.Equal(got.Data, r.Data) {
		t.Fatalf("got %+v, want %+v", got, r)
	}
}

func TestSimpleReplyRejectsUnknownError(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x67, 0x44, 0x66, 0x98})
	buf.Write([]byte{0, 0, 0, 250})
	buf.Write(make([]byte, 8))
	if _, err := readSimpleReply(&buf, nil); err == nil {
		t.Fatal("expected an error for an unknown error type")
	}
}
