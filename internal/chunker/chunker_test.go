package chunker

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/quantarax/filepipe/internal/codec"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestFileChunkerSingleChunk(t *testing.T) {
	data := []byte("Hello, filepipe!")
	path := writeTempFile(t, data)

	c, err := Open(path, 0, codec.None)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if c.TotalChunks() != 1 {
		t.Fatalf("expected 1 chunk, got %d", c.TotalChunks())
	}

	chunk, err := c.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if chunk.Number != 0 || chunk.Offset != 0 || !chunk.EndOfFile {
		t.Fatalf("unexpected chunk: %+v", chunk)
	}
	if string(chunk.Data) != string(data) {
		t.Fatalf("data mismatch")
	}

	if _, err := c.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestFileChunkerMultipleChunks(t *testing.T) {
	chunkSize := uint32(1024)
	data := make([]byte, int(chunkSize)*2+int(chunkSize)/2)
	for i := range data {
		data[i] = byte(i % 256)
	}
	path := writeTempFile(t, data)

	c, err := Open(path, chunkSize, codec.None)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if c.TotalChunks() != 3 {
		t.Fatalf("expected 3 chunks, got %d", c.TotalChunks())
	}

	var chunks []Chunk
	for {
		chunk, err := c.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		chunks = append(chunks, chunk)
	}

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks read, got %d", len(chunks))
	}
	if len(chunks[0].Data) != int(chunkSize) || len(chunks[1].Data) != int(chunkSize) {
		t.Fatal("expected first two chunks full size")
	}
	if len(chunks[2].Data) != int(chunkSize)/2 {
		t.Fatalf("expected last chunk half size, got %d", len(chunks[2].Data))
	}
	if !chunks[2].EndOfFile || chunks[0].EndOfFile || chunks[1].EndOfFile {
		t.Fatal("only the last chunk should be marked end of file")
	}
}

func TestSeekToChunkAndReset(t *testing.T) {
	chunkSize := uint32(16)
	data := make([]byte, int(chunkSize)*4)
	for i := range data {
		data[i] = byte(i)
	}
	path := writeTempFile(t, data)

	c, err := Open(path, chunkSize, codec.None)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if err := c.SeekToChunk(2); err != nil {
		t.Fatalf("SeekToChunk: %v", err)
	}
	chunk, err := c.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if chunk.Number != 2 || chunk.Offset != 2*uint64(chunkSize) {
		t.Fatalf("unexpected chunk after seek: %+v", chunk)
	}

	if err := c.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	chunk0, err := c.Next()
	if err != nil {
		t.Fatalf("Next after reset: %v", err)
	}
	if chunk0.Number != 0 {
		t.Fatalf("expected chunk 0 after reset, got %d", chunk0.Number)
	}
}

func TestReadChunkDirect(t *testing.T) {
	chunkSize := uint32(1024)
	data := make([]byte, int(chunkSize)*3)
	for i := range data {
		data[i] = byte(i % 256)
	}
	path := writeTempFile(t, data)

	chunk0, err := ReadChunk(path, 0, chunkSize, codec.None)
	if err != nil {
		t.Fatalf("ReadChunk(0): %v", err)
	}
	chunk1, err := ReadChunk(path, 1, chunkSize, codec.None)
	if err != nil {
		t.Fatalf("ReadChunk(1): %v", err)
	}
	if len(chunk0.Data) != int(chunkSize) || len(chunk1.Data) != int(chunkSize) {
		t.Fatal("expected full-size chunks")
	}
	for i := 0; i < int(chunkSize); i++ {
		if chunk0.Data[i] != data[i] {
			t.Fatalf("chunk 0 byte %d mismatch", i)
		}
		if chunk1.Data[i] != data[int(chunkSize)+i] {
			t.Fatalf("chunk 1 byte %d mismatch", i)
		}
	}
}

func TestProcessAllOrdersByChunkNumber(t *testing.T) {
	chunkSize := uint32(512)
	numChunks := 23
	data := make([]byte, int(chunkSize)*numChunks)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := writeTempFile(t, data)

	results, err := ProcessAll(context.Background(), path, chunkSize, codec.None)
	if err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}
	if len(results) != numChunks {
		t.Fatalf("expected %d chunks, got %d", numChunks, len(results))
	}
	for i, r := range results {
		if r.Number != uint64(i) {
			t.Fatalf("result %d out of order: chunk number %d", i, r.Number)
		}
	}
	if !results[numChunks-1].EndOfFile {
		t.Fatal("expected last chunk marked end of file")
	}
}

func TestChunkBeyondFileSizeIsError(t *testing.T) {
	path := writeTempFile(t, []byte("short"))
	if _, err := ReadChunk(path, 10, 1024, codec.None); err == nil {
		t.Fatal("expected error reading chunk beyond file size")
	}
}
