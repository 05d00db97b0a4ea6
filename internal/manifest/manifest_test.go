package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quantarax/filepipe/internal/codec"
)

func TestBuilderBasic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	data := []byte("Hello, World! This is test data for manifest building.")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m, err := NewBuilder("test-session-123").FilePath(path).ChunkSize(16).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.SessionID != "test-session-123" {
		t.Errorf("session id: got %q", m.SessionID)
	}
	if m.FileName != "data.txt" {
		t.Errorf("file name: got %q", m.FileName)
	}
	wantChunks := uint64(4) // 54 bytes / 16, rounded up = 4 chunks
	if m.TotalChunks != wantChunks {
		t.Errorf("total chunks: got %d want %d", m.TotalChunks, wantChunks)
	}
	if len(m.ChunkHashes) != int(wantChunks) {
		t.Errorf("chunk hash count: got %d want %d", len(m.ChunkHashes), wantChunks)
	}
	if len(m.FileHash) != 32 {
		t.Errorf("file hash length: got %d", len(m.FileHash))
	}
}

func TestBuildFromHashesValidation(t *testing.T) {
	hashes := make([][]byte, 4)
	for i := range hashes {
		hashes[i] = make([]byte, 32)
	}
	m, err := BuildFromHashes("sess-12345678", "file.bin", 4096, 1024, make([]byte, 32), hashes, codec.None)
	if err != nil {
		t.Fatalf("BuildFromHashes: %v", err)
	}
	if m.TotalChunks != 4 {
		t.Errorf("expected 4 chunks, got %d", m.TotalChunks)
	}

	if _, err := BuildFromHashes("sess-12345678", "file.bin", 4096, 1024, make([]byte, 32), hashes[:3], codec.None); err == nil {
		t.Fatal("expected chunk hash count mismatch error")
	}
	if _, err := BuildFromHashes("sess-12345678", "file.bin", 4096, 1024, make([]byte, 16), hashes, codec.None); err == nil {
		t.Fatal("expected file hash size error")
	}
}

func validManifest() *Manifest {
	hashes := make([][]byte, 4)
	for i := range hashes {
		hashes[i] = make([]byte, 32)
	}
	orig := uint64(4096)
	return &Manifest{
		SessionID:    "test-session-12345678",
		FileName:     "test.txt",
		FileSize:     4096,
		ChunkSize:    1024,
		TotalChunks:  4,
		FileHash:     make([]byte, 32),
		ChunkHashes:  hashes,
		Compression:  codec.None,
		OriginalSize: &orig,
	}
}

func TestValidateSuccess(t *testing.T) {
	if err := NewValidator().Validate(validManifest()); err != nil {
		t.Fatalf("expected valid manifest, got: %v", err)
	}
}

func TestValidateSessionID(t *testing.T) {
	v := NewValidator()
	if err := v.ValidateSessionID(""); err == nil {
		t.Error("expected error for empty session id")
	}
	if err := v.ValidateSessionID("short"); err == nil {
		t.Error("expected error for too-short session id")
	}
	if err := v.ValidateSessionID("test session 123!"); err == nil {
		t.Error("expected error for invalid characters")
	}
	if err := v.ValidateSessionID("test-session-123"); err != nil {
		t.Errorf("expected valid session id, got: %v", err)
	}
}

func TestValidateFileName(t *testing.T) {
	v := NewValidator()
	if err := v.ValidateFileName(""); err == nil {
		t.Error("expected error for empty name")
	}
	if err := v.ValidateFileName("../etc/passwd"); err == nil {
		t.Error("expected error for path traversal")
	}
	if err := v.ValidateFileName("test//file.txt"); err == nil {
		t.Error("expected error for double slash")
	}
	if err := v.ValidateFileName("my-file_123.dat"); err != nil {
		t.Errorf("expected valid name, got: %v", err)
	}
}

func TestValidateChunkCount(t *testing.T) {
	v := NewValidator()
	if err := v.ValidateChunkCount(1024, 256, 5); err == nil {
		t.Error("expected mismatch error")
	}
	if err := v.ValidateChunkCount(1024, 256, 4); err != nil {
		t.Errorf("expected valid, got: %v", err)
	}
	if err := v.ValidateChunkCount(1000, 256, 4); err != nil {
		t.Errorf("expected valid (rounds up), got: %v", err)
	}
}

func TestValidateFullStrict(t *testing.T) {
	v := NewStrictValidator()
	m := validManifest()
	if err := v.Validate(m); err != nil {
		t.Fatalf("expected valid, got: %v", err)
	}

	m.TotalChunks = 5
	if err := v.Validate(m); err == nil {
		t.Error("expected chunk count error")
	}
	m.TotalChunks = 4

	m.ChunkHashes = append(m.ChunkHashes, make([]byte, 32))
	if err := v.Validate(m); err == nil {
		t.Error("expected chunk hash count error")
	}
	m.ChunkHashes = m.ChunkHashes[:4]

	m.Compression = codec.Tag("invalid")
	if err := v.Validate(m); err == nil {
		t.Error("expected compression error")
	}
}

func TestValidateQuickSkipsHashDetail(t *testing.T) {
	v := NewValidator()
	m := validManifest()
	m.ChunkHashes = nil
	if err := v.ValidateQuick(m); err != nil {
		t.Fatalf("expected quick validation to pass, got: %v", err)
	}
}
