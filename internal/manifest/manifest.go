// Package manifest describes the file-level metadata exchanged before chunk
// transfer begins: session id, chunk layout, whole-file and per-chunk
// hashes, and the compression codec applied to the wire bytes.
package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantarax/filepipe/internal/codec"
	"github.com/quantarax/filepipe/internal/hasher"
	"github.com/quantarax/filepipe/internal/wire"
)

// Manifest is the complete description of a transfer, sent once on the
// manifest stream before any chunk is sent.
type Manifest struct {
	SessionID    string
	FileName     string
	FileSize     uint64
	ChunkSize    uint32
	TotalChunks  uint64
	FileHash     []byte
	ChunkHashes  [][]byte
	Compression  codec.Tag
	OriginalSize *uint64
}

// DefaultChunkSize matches the chunker's own default.
const DefaultChunkSize = 1024 * 1024

// Builder assembles a Manifest by reading and hashing a file.
type Builder struct {
	sessionID   string
	filePath    string
	chunkSize   uint32
	compression codec.Tag
}

// NewBuilder starts a builder for sessionID with the default chunk size and
// no compression.
func NewBuilder(sessionID string) *Builder {
	return &Builder{sessionID: sessionID, chunkSize: DefaultChunkSize, compression: codec.None}
}

// FilePath sets the source file.
func (b *Builder) FilePath(path string) *Builder {
	b.filePath = path
	return b
}

// ChunkSize overrides the default chunk size.
func (b *Builder) ChunkSize(size uint32) *Builder {
	b.chunkSize = size
	return b
}

// Compression sets the codec tag recorded in the manifest.
func (b *Builder) Compression(tag codec.Tag) *Builder {
	b.compression = tag
	return b
}

// Build reads filePath, hashes it sequentially, and produces a Manifest.
func (b *Builder) Build() (*Manifest, error) {
	return b.build(false)
}

// BuildParallel is identical to Build but hashes chunks with the bounded
// worker pool when the file has more than four chunks.
func (b *Builder) BuildParallel(ctx context.Context) (*Manifest, error) {
	return b.buildParallel(ctx)
}

func (b *Builder) build(_ bool) (*Manifest, error) {
	if b.filePath == "" {
		return nil, fmt.Errorf("manifest: file path not set")
	}
	f, err := os.Open(b.filePath)
	if err != nil {
		return nil, fmt.Errorf("manifest: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("manifest: stat: %w", err)
	}
	fileSize := uint64(info.Size())
	if fileSize == 0 {
		return nil, fmt.Errorf("manifest: file is empty")
	}

	totalChunks := (fileSize + uint64(b.chunkSize) - 1) / uint64(b.chunkSize)

	chunkHashes := make([][]byte, 0, totalChunks)
	buf := make([]byte, b.chunkSize)
	var readTotal uint64
	for readTotal < fileSize {
		remaining := fileSize - readTotal
		toRead := uint64(b.chunkSize)
		if remaining < toRead {
			toRead = remaining
		}
		n, err := f.Read(buf[:toRead])
		if n == 0 {
			break
		}
		chunkHashes = append(chunkHashes, hasher.HashBytes(buf[:n]))
		readTotal += uint64(n)
		if err != nil {
			break
		}
	}

	fileHash, err := hasher.HashFile(b.filePath)
	if err != nil {
		return nil, err
	}

	return b.finish(filepath.Base(b.filePath), fileSize, totalChunks, fileHash, chunkHashes), nil
}

func (b *Builder) buildParallel(ctx context.Context) (*Manifest, error) {
	if b.filePath == "" {
		return nil, fmt.Errorf("manifest: file path not set")
	}
	info, err := os.Stat(b.filePath)
	if err != nil {
		return nil, fmt.Errorf("manifest: stat: %w", err)
	}
	fileSize := uint64(info.Size())
	if fileSize == 0 {
		return nil, fmt.Errorf("manifest: file is empty")
	}

	totalChunks := (fileSize + uint64(b.chunkSize) - 1) / uint64(b.chunkSize)
	if totalChunks <= 4 {
		return b.build(false)
	}

	specs := make([]hasher.ChunkSpec, totalChunks)
	for i := uint64(0); i < totalChunks; i++ {
		offset := i * uint64(b.chunkSize)
		length := uint64(b.chunkSize)
		if remaining := fileSize - offset; remaining < length {
			length = remaining
		}
		specs[i] = hasher.ChunkSpec{Number: i, Offset: int64(offset), Length: int(length)}
	}

	results, err := hasher.HashChunksParallel(ctx, b.filePath, specs)
	if err != nil {
		return nil, err
	}
	chunkHashes := make([][]byte, len(results))
	for _, r := range results {
		chunkHashes[r.Number] = r.Hash
	}

	fileHash, err := hasher.HashFile(b.filePath)
	if err != nil {
		return nil, err
	}

	return b.finish(filepath.Base(b.filePath), fileSize, totalChunks, fileHash, chunkHashes), nil
}

func (b *Builder) finish(fileName string, fileSize, totalChunks uint64, fileHash []byte, chunkHashes [][]byte) *Manifest {
	m := &Manifest{
		SessionID:   b.sessionID,
		FileName:    fileName,
		FileSize:    fileSize,
		ChunkSize:   b.chunkSize,
		TotalChunks: totalChunks,
		FileHash:    fileHash,
		ChunkHashes: chunkHashes,
		Compression: b.compression,
	}
	if b.compression != codec.None {
		orig := fileSize
		m.OriginalSize = &orig
	}
	return m
}

// ToWire converts m into its wire form for the manifest stream.
func (m *Manifest) ToWire() *wire.Manifest {
	return &wire.Manifest{
		SessionID:    m.SessionID,
		FileName:     m.FileName,
		FileSize:     m.FileSize,
		ChunkSize:    m.ChunkSize,
		TotalChunks:  m.TotalChunks,
		FileHash:     m.FileHash,
		ChunkHashes:  m.ChunkHashes,
		Compression:  string(m.Compression),
		OriginalSize: m.OriginalSize,
	}
}

// FromWire converts a decoded wire.Manifest back into a Manifest.
func FromWire(w *wire.Manifest) *Manifest {
	return &Manifest{
		SessionID:    w.SessionID,
		FileName:     w.FileName,
		FileSize:     w.FileSize,
		ChunkSize:    w.ChunkSize,
		TotalChunks:  w.TotalChunks,
		FileHash:     w.FileHash,
		ChunkHashes:  w.ChunkHashes,
		Compression:  codec.Tag(w.Compression),
		OriginalSize: w.OriginalSize,
	}
}

// BuildFromHashes constructs a Manifest directly from precomputed hashes,
// for callers that already chunked and hashed the file themselves.
func BuildFromHashes(sessionID, fileName string, fileSize uint64, chunkSize uint32, fileHash []byte, chunkHashes [][]byte, compression codec.Tag) (*Manifest, error) {
	if fileName == "" {
		return nil, fmt.Errorf("manifest: file name cannot be empty")
	}
	if fileSize == 0 {
		return nil, fmt.Errorf("manifest: file size cannot be zero")
	}
	if len(fileHash) != hasher.Size {
		return nil, fmt.Errorf("manifest: file hash must be %d bytes", hasher.Size)
	}

	totalChunks := (fileSize + uint64(chunkSize) - 1) / uint64(chunkSize)
	if uint64(len(chunkHashes)) != totalChunks {
		return nil, fmt.Errorf("manifest: chunk hash count mismatch: got %d, expected %d", len(chunkHashes), totalChunks)
	}
	for i, h := range chunkHashes {
		if len(h) != hasher.Size {
			return nil, fmt.Errorf("manifest: chunk hash %d has invalid size %d", i, len(h))
		}
	}

	m := &Manifest{
		SessionID:   sessionID,
		FileName:    fileName,
		FileSize:    fileSize,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
		FileHash:    fileHash,
		ChunkHashes: chunkHashes,
		Compression: compression,
	}
	if compression != codec.None {
		orig := fileSize
		m.OriginalSize = &orig
	}
	return m, nil
}
