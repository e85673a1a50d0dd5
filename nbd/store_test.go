package nbd

import (
	"bytes"
	"os"
	"testing"
)

func TestMemBlocksReadWrite(t *testing.T) {
	m := NewMemBlocks(make([]byte, 1024))
	want := bytes.Repeat([]byte("x"), 100)
	if err := m.WriteAt(want, 200); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	got := make([]byte, 100)
	if err := m.ReadAt(got, 200); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMemBlocksOutOfRange(t *testing.T) {
	m := NewMemBlocks(make([]byte, 16))
	if err := m.ReadAt(make([]byte, 4), 15); err != errOutOfRange {
		t.Fatalf("got %v, want errOutOfRange", err)
	}
	if err := m.WriteAt(make([]byte, 4), 15); err != errOutOfRange {
		t.Fatalf("got %v, want errOutOfRange", err)
	}
}

func TestMemBlocksSize(t *testing.T) {
	m := NewMemBlocks(make([]byte, 512))
	size, err := m.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 512 {
		t.Fatalf("got %d, want 512", size)
	}
}

func TestFileBlocksReadWrite(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "nbd-store-test")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()
	if err := f.Truncate(4096); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	fb := NewFileBlocks(f)
	want := bytes.Repeat([]byte("y"), 256)
	if err := fb.WriteAt(want, 1024); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	got := make([]byte, 256)
	if err := fb.ReadAt(got, 1024); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}

	size, err := fb.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 4096 {
		t.Fatalf("got size %d, want 4096", size)
	}

	if err := fb.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestFileBlocksReadPastEOF(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "nbd-store-test")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()
	if err := f.Truncate(16); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	fb := NewFileBlocks(f)
	if err := fb.ReadAt(make([]byte, 64), 0); err == nil {
		t.Fatal("expected an error reading past EOF")
	}
}
