// Package chunker splits a file into fixed-size chunks, computing each
// chunk's BLAKE3 checksum and, on request, its compressed wire bytes.
// FileChunker streams one chunk at a time; ProcessAll fans the same
// work out across a bounded worker pool for large files.
package chunker

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"sync"

	"github.com/quantarax/filepipe/internal/codec"
	"github.com/quantarax/filepipe/internal/hasher"
)

// DefaultChunkSize matches the manifest package's default.
const DefaultChunkSize = 1024 * 1024

// Chunk is one chunk's data plus the metadata needed to build its wire
// packet: its number, byte offset, original (pre-compression) length,
// final wire bytes, a checksum of those wire bytes, and whether it is the
// file's last chunk.
type Chunk struct {
	Number       uint64
	Offset       uint64
	OriginalSize uint32
	Data         []byte
	Checksum     []byte
	EndOfFile    bool
}

// FileChunker streams a file's chunks in order, optionally compressing
// each one under a fixed codec before hashing it: Chunk.Data is always the
// final wire bytes and Chunk.Checksum always their hash.
type FileChunker struct {
	file         *os.File
	fileSize     uint64
	chunkSize    uint32
	compression  codec.Tag
	currentChunk uint64
	bytesRead    uint64
}

// Open starts a chunker over path with the given chunk size and
// compression tag; a zero chunkSize uses DefaultChunkSize and an empty tag
// means no compression.
func Open(path string, chunkSize uint32, compression codec.Tag) (*FileChunker, error) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chunker: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("chunker: stat %s: %w", path, err)
	}
	return &FileChunker{file: f, fileSize: uint64(info.Size()), chunkSize: chunkSize, compression: compression}, nil
}

// Close releases the underlying file handle.
func (c *FileChunker) Close() error { return c.file.Close() }

// TotalChunks returns the number of chunks the file will be split into.
func (c *FileChunker) TotalChunks() uint64 {
	return (c.fileSize + uint64(c.chunkSize) - 1) / uint64(c.chunkSize)
}

// FileSize returns the file's total size.
func (c *FileChunker) FileSize() uint64 { return c.fileSize }

// Progress returns bytes read divided by file size, in [0,1].
func (c *FileChunker) Progress() float64 {
	if c.fileSize == 0 {
		return 1
	}
	return float64(c.bytesRead) / float64(c.fileSize)
}

// Next reads and returns the next chunk, or io.EOF once every chunk has
// been produced.
func (c *FileChunker) Next() (Chunk, error) {
	if c.bytesRead >= c.fileSize {
		return Chunk{}, io.EOF
	}

	remaining := c.fileSize - c.bytesRead
	toRead := uint64(c.chunkSize)
	if remaining < toRead {
		toRead = remaining
	}

	buf := make([]byte, toRead)
	if _, err := io.ReadFull(c.file, buf); err != nil {
		return Chunk{}, fmt.Errorf("chunker: read chunk %d: %w", c.currentChunk, err)
	}

	data := buf
	if c.compression != codec.None && c.compression != "" {
		compressed, err := codec.Compress(buf, c.compression)
		if err != nil {
			return Chunk{}, fmt.Errorf("chunker: compress chunk %d: %w", c.currentChunk, err)
		}
		data = compressed
	}
	checksum := hasher.HashBytes(data)
	endOfFile := c.bytesRead+toRead >= c.fileSize

	chunk := Chunk{
		Number:       c.currentChunk,
		Offset:       c.bytesRead,
		OriginalSize: uint32(toRead),
		Data:         data,
		Checksum:     checksum,
		EndOfFile:    endOfFile,
	}

	c.currentChunk++
	c.bytesRead += toRead
	return chunk, nil
}

// Reset rewinds the chunker to the beginning of the file.
func (c *FileChunker) Reset() error {
	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("chunker: reset: %w", err)
	}
	c.currentChunk = 0
	c.bytesRead = 0
	return nil
}

// SeekToChunk repositions the chunker so the next Next() call returns
// chunkNumber.
func (c *FileChunker) SeekToChunk(chunkNumber uint64) error {
	offset := chunkNumber * uint64(c.chunkSize)
	if offset > c.fileSize {
		return fmt.Errorf("chunker: chunk %d beyond file size", chunkNumber)
	}
	if _, err := c.file.Seek(int64(offset), io.SeekStart); err != nil {
		return fmt.Errorf("chunker: seek: %w", err)
	}
	c.currentChunk = chunkNumber
	c.bytesRead = offset
	return nil
}

// ReadChunk reads one chunk directly from path without constructing a
// FileChunker, for resume scenarios and retransmits that need a single
// out-of-order chunk. compression is applied the same way Next() applies
// it, so a retransmitted chunk's wire bytes and checksum match what the
// original forward pass would have produced.
func ReadChunk(path string, chunkNumber uint64, chunkSize uint32, compression codec.Tag) (Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return Chunk{}, fmt.Errorf("chunker: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Chunk{}, fmt.Errorf("chunker: stat %s: %w", path, err)
	}
	fileSize := uint64(info.Size())
	offset := chunkNumber * uint64(chunkSize)
	if offset >= fileSize {
		return Chunk{}, fmt.Errorf("chunker: chunk %d beyond file size", chunkNumber)
	}
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		return Chunk{}, fmt.Errorf("chunker: seek: %w", err)
	}

	remaining := fileSize - offset
	toRead := uint64(chunkSize)
	if remaining < toRead {
		toRead = remaining
	}
	buf := make([]byte, toRead)
	if _, err := io.ReadFull(f, buf); err != nil {
		return Chunk{}, fmt.Errorf("chunker: read chunk %d: %w", chunkNumber, err)
	}

	data := buf
	if compression != codec.None && compression != "" {
		compressed, err := codec.Compress(buf, compression)
		if err != nil {
			return Chunk{}, fmt.Errorf("chunker: compress chunk %d: %w", chunkNumber, err)
		}
		data = compressed
	}

	return Chunk{
		Number:       chunkNumber,
		Offset:       offset,
		OriginalSize: uint32(toRead),
		Data:         data,
		Checksum:     hasher.HashBytes(data),
		EndOfFile:    offset+toRead >= fileSize,
	}, nil
}

// workerCount picks the parallel chunker's worker pool size: the number of
// CPU cores, floored at 2.
func workerCount() int {
	n := runtime.NumCPU()
	if n < 2 {
		return 2
	}
	return n
}

// pipelineDepth bounds how many chunks may be buffered ahead of the
// consumer: worker count times four, floored at 16 and capped at 64.
func pipelineDepth(workers int) int {
	d := workers * 4
	if d < 16 {
		d = 16
	}
	if d > 64 {
		d = 64
	}
	return d
}

// ProcessAll reads every chunk of path concurrently across a bounded
// worker pool, optionally compressing each chunk's data under codecTag,
// and returns the results ordered by chunk number. Intended for large
// files where a parallel prepass meaningfully reduces wall-clock time;
// callers with a handful of chunks should use FileChunker directly.
func ProcessAll(ctx context.Context, path string, chunkSize uint32, codecTag codec.Tag) ([]Chunk, error) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("chunker: stat %s: %w", path, err)
	}
	fileSize := uint64(info.Size())
	totalChunks := (fileSize + uint64(chunkSize) - 1) / uint64(chunkSize)
	if fileSize == 0 {
		return nil, nil
	}

	workers := workerCount()
	_ = pipelineDepth(workers) // pool sizing documented for the channel buffer below
	if uint64(workers) > totalChunks {
		workers = int(totalChunks)
	}

	type job struct {
		number uint64
		offset uint64
		length uint64
	}
	jobs := make(chan job, pipelineDepth(workers))
	go func() {
		defer close(jobs)
		for i := uint64(0); i < totalChunks; i++ {
			offset := i * uint64(chunkSize)
			length := uint64(chunkSize)
			if remaining := fileSize - offset; remaining < length {
				length = remaining
			}
			select {
			case jobs <- job{number: i, offset: offset, length: length}:
			case <-ctx.Done():
				return
			}
		}
	}()

	results := make([]Chunk, totalChunks)
	errCh := make(chan error, workers)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := os.Open(path)
			if err != nil {
				errCh <- fmt.Errorf("chunker: open %s: %w", path, err)
				return
			}
			defer f.Close()

			for j := range jobs {
				buf := make([]byte, j.length)
				if _, err := f.ReadAt(buf, int64(j.offset)); err != nil && err != io.EOF {
					errCh <- fmt.Errorf("chunker: read chunk %d: %w", j.number, err)
					return
				}
				data := buf
				if codecTag != codec.None && codecTag != "" {
					compressed, err := codec.Compress(buf, codecTag)
					if err != nil {
						errCh <- err
						return
					}
					data = compressed
				}
				// Checksum covers the bytes as transmitted (post-compression),
				// not the original chunk contents: integrity must detect
				// tampering on the wire.
				checksum := hasher.HashBytes(data)
				results[j.number] = Chunk{
					Number:       j.number,
					Offset:       j.offset,
					OriginalSize: uint32(j.length),
					Data:         data,
					Checksum:     checksum,
					EndOfFile:    j.offset+j.length >= fileSize,
				}
			}
		}()
	}

	wg.Wait()
	select {
	case err := <-errCh:
		return nil, err
	default:
	}
	return results, nil
}

// SortedChunkNumbers is a small helper for callers (tests, resume logic)
// that need a deterministic order over a set of chunk numbers.
func SortedChunkNumbers(numbers []uint64) []uint64 {
	out := append([]uint64(nil), numbers...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
