package receiver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quantarax/filepipe/internal/codec"
	"github.com/quantarax/filepipe/internal/hasher"
	"github.com/quantarax/filepipe/internal/wire"
)

func packet(t *testing.T, id, offset uint64, data []byte, isLast bool) *wire.ChunkPacket {
	t.Helper()
	h := hasher.HashBytes(data)
	size := uint32(len(data))
	return &wire.ChunkPacket{
		SessionID: "sess",
		ChunkID:   id,
		Offset:    offset,
		Data:      data,
		Size:      size,
		Hash:      h,
		IsLast:    isLast,
	}
}

func TestReceiveWritesCompleteFile(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, "out.bin", 0, codec.None, BufferedInMemory(), Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	chunkA := []byte("hello ")
	chunkB := []byte("world!")
	if err := r.Receive(packet(t, 0, 0, chunkA, false)); err != nil {
		t.Fatalf("Receive chunk 0: %v", err)
	}
	if err := r.Receive(packet(t, 1, uint64(len(chunkA)), chunkB, true)); err != nil {
		t.Fatalf("Receive chunk 1: %v", err)
	}

	if !r.IsComplete() {
		t.Fatal("expected receiver complete after EOF chunk with no gaps")
	}

	whole := append(append([]byte{}, chunkA...), chunkB...)
	expectedHash := hasher.HashBytes(whole)
	if err := r.Finalize(expectedHash); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	if err != nil {
		t.Fatalf("read final file: %v", err)
	}
	if string(got) != string(whole) {
		t.Fatalf("got %q want %q", got, whole)
	}
}

func TestReceiveRejectsLengthMismatch(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, "out.bin", 0, codec.None, BufferedInMemory(), Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	p := packet(t, 0, 0, []byte("data"), false)
	p.Size = 999

	if err := r.Receive(p); err != ErrLengthMismatch {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestReceiveRejectsHashMismatchAndNacks(t *testing.T) {
	dir := t.TempDir()
	var nackedID uint64
	var nackedReason string
	r, err := New(dir, "out.bin", 0, codec.None, BufferedInMemory(), Callbacks{
		SendNack: func(id uint64, reason string) error {
			nackedID, nackedReason = id, reason
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	p := packet(t, 3, 0, []byte("data"), false)
	p.Hash[0] ^= 0xff

	if err := r.Receive(p); err != ErrHashMismatch {
		t.Fatalf("expected ErrHashMismatch, got %v", err)
	}
	if nackedID != 3 || nackedReason != "hash_mismatch" {
		t.Fatalf("expected nack for chunk 3, got id=%d reason=%q", nackedID, nackedReason)
	}
}

func TestReceiveIsIdempotentOnDuplicate(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, "out.bin", 0, codec.None, BufferedInMemory(), Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	p := packet(t, 0, 0, []byte("data"), false)
	if err := r.Receive(p); err != nil {
		t.Fatalf("first receive: %v", err)
	}
	before := r.BytesReceived()
	if err := r.Receive(p); err != nil {
		t.Fatalf("duplicate receive: %v", err)
	}
	if r.BytesReceived() != before {
		t.Fatalf("duplicate receive should not increase bytes received: before=%d after=%d", before, r.BytesReceived())
	}
}

func TestFinalizeRequiresCompletion(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, "out.bin", 0, codec.None, BufferedInMemory(), Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	if err := r.Receive(packet(t, 0, 0, []byte("data"), false)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := r.Finalize(nil); err != ErrNotComplete {
		t.Fatalf("expected ErrNotComplete, got %v", err)
	}
}

func TestAbortRemovesPartFile(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, "out.bin", 0, codec.None, SyncAll(), Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := r.Receive(packet(t, 0, 0, []byte("data"), false)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	partPath := filepath.Join(dir, "out.bin.part")
	if _, err := os.Stat(partPath); err != nil {
		t.Fatalf("expected part file to exist: %v", err)
	}

	if err := r.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := os.Stat(partPath); !os.IsNotExist(err) {
		t.Fatalf("expected part file removed after abort, stat err=%v", err)
	}
}

func TestCloseWithoutFinalizeActsAsAbort(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, "out.bin", 0, codec.None, FlushOnly(), Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Receive(packet(t, 0, 0, []byte("data"), false)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	partPath := filepath.Join(dir, "out.bin.part")
	if _, err := os.Stat(partPath); !os.IsNotExist(err) {
		t.Fatal("expected part file removed on Close without Finalize")
	}
}

func TestReceiveWithCompression(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, "out.bin", 0, codec.Zstd, BufferedInMemory(), Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	original := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	compressed, err := codec.Compress(original, codec.Zstd)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	h := hasher.HashBytes(compressed)
	compressedSize := uint32(len(compressed))
	p := &wire.ChunkPacket{
		SessionID:      "sess",
		ChunkID:        0,
		Offset:         0,
		Data:           compressed,
		Size:           uint32(len(original)),
		CompressedSize: &compressedSize,
		Hash:           h,
		IsLast:         true,
	}

	if err := r.Receive(p); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := r.Finalize(nil); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	if err != nil {
		t.Fatalf("read final file: %v", err)
	}
	if string(got) != string(original) {
		t.Fatalf("got %q want %q", got, original)
	}
}
