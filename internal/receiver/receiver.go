// Package receiver ingests framed chunk packets into an output file,
// verifying each chunk's integrity, tracking reception state, and driving
// retransmission requests for whatever is still missing after end-of-file.
package receiver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantarax/filepipe/internal/bitmap"
	"github.com/quantarax/filepipe/internal/chunktable"
	"github.com/quantarax/filepipe/internal/codec"
	"github.com/quantarax/filepipe/internal/hasher"
	"github.com/quantarax/filepipe/internal/tracker"
	"github.com/quantarax/filepipe/internal/wire"
)

// WriteModeKind selects how the receiver commits chunk payloads to disk.
type WriteModeKind int

const (
	// ModeBufferedInMemory buffers writes in RAM and performs one
	// sequential flush at Finalize. Highest ingest throughput when the
	// file fits memory; this is the default.
	ModeBufferedInMemory WriteModeKind = iota
	// ModeFlushOnly flushes the buffered writer after every chunk, no fsync.
	ModeFlushOnly
	// ModeSyncAll flushes and fsyncs after every chunk.
	ModeSyncAll
	// ModeSyncEvery flushes every chunk and fsyncs every Nth.
	ModeSyncEvery
)

// WriteMode pairs a WriteModeKind with the interval ModeSyncEvery needs.
type WriteMode struct {
	Kind WriteModeKind
	N    uint32
}

func FlushOnly() WriteMode         { return WriteMode{Kind: ModeFlushOnly} }
func SyncAll() WriteMode           { return WriteMode{Kind: ModeSyncAll} }
func SyncEvery(n uint32) WriteMode { return WriteMode{Kind: ModeSyncEvery, N: n} }
func BufferedInMemory() WriteMode  { return WriteMode{Kind: ModeBufferedInMemory} }

var (
	// ErrLengthMismatch is returned when a packet's payload length
	// doesn't match its declared on-wire length.
	ErrLengthMismatch = errors.New("receiver: payload length mismatch")
	// ErrHashMismatch is returned when a packet's BLAKE3 checksum doesn't
	// match its transmitted payload.
	ErrHashMismatch = errors.New("receiver: checksum mismatch")
	// ErrNotComplete is returned by Finalize before every chunk has arrived.
	ErrNotComplete = errors.New("receiver: transfer not complete")
	// ErrWholeFileHashMismatch is returned by Finalize when whole-file
	// verification against the manifest hash fails.
	ErrWholeFileHashMismatch = errors.New("receiver: whole-file hash mismatch")
)

// Callbacks lets the receiver drive the control stream without importing
// it directly.
type Callbacks struct {
	// RequestMissing sends a RetransmitRequest for the given chunk ids.
	RequestMissing func(ids []uint64) error
	// SendNack reports a corrupted chunk id with a reason string.
	SendNack func(id uint64, reason string) error
}

// Receiver ingests one session's chunk packets into <name>.part, promoting
// it to its final name on successful Finalize.
type Receiver struct {
	outputDir      string
	fileName       string
	partPath       string
	finalPath      string
	fileSize       uint64
	compression    codec.Tag
	mode           WriteMode
	callbacks      Callbacks
	autoRetransmit bool

	file            *os.File
	memBuf          []byte
	chunksSinceSync uint32

	bitmap  *bitmap.Bitmap
	table   *chunktable.Table
	tracker *tracker.Tracker

	bytesReceived uint64
	finalized     bool
	aborted       bool
}

// New creates a receiver for fileName under outputDir. fileSize may be 0 if
// unknown in advance (e.g. no manifest yet); in that case BufferedInMemory
// grows its buffer lazily and on-disk modes skip preallocation.
func New(outputDir, fileName string, fileSize uint64, compression codec.Tag, mode WriteMode, callbacks Callbacks) (*Receiver, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("receiver: mkdir %s: %w", outputDir, err)
	}
	partPath := filepath.Join(outputDir, fileName+".part")
	finalPath := filepath.Join(outputDir, fileName)

	r := &Receiver{
		outputDir:      outputDir,
		fileName:       fileName,
		partPath:       partPath,
		finalPath:      finalPath,
		fileSize:       fileSize,
		compression:    compression,
		mode:           mode,
		callbacks:      callbacks,
		autoRetransmit: callbacks.SendNack != nil,
		bitmap:         bitmap.New(1024),
		table:          chunktable.New(),
	}

	if mode.Kind == ModeBufferedInMemory {
		if fileSize > 0 {
			r.memBuf = make([]byte, fileSize)
		}
		return r, nil
	}

	f, err := os.OpenFile(partPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("receiver: create %s: %w", partPath, err)
	}
	if fileSize > 0 {
		if err := f.Truncate(int64(fileSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("receiver: preallocate %s: %w", partPath, err)
		}
	}
	r.file = f
	return r, nil
}

// Receive processes one parsed chunk packet through the receipt path:
// length check, hash verify, idempotent duplicate check, write, record.
func (r *Receiver) Receive(packet *wire.ChunkPacket) error {
	transmittedLen := packet.Size
	if packet.CompressedSize != nil {
		transmittedLen = *packet.CompressedSize
	}
	if uint32(len(packet.Data)) != transmittedLen {
		return ErrLengthMismatch
	}

	if !hasher.Verify(packet.Data, packet.Hash) {
		r.markCorrupted(packet.ChunkID, "hash_mismatch")
		return ErrHashMismatch
	}

	if r.bitmap.IsReceived(uint32(packet.ChunkID)) {
		return nil
	}

	payload := packet.Data
	if r.compression != codec.None && r.compression != "" {
		decompressed, err := codec.Decompress(packet.Data, r.compression, int(packet.Size))
		if err != nil {
			r.markCorrupted(packet.ChunkID, "decompress_failed")
			return fmt.Errorf("receiver: decompress chunk %d: %w", packet.ChunkID, err)
		}
		payload = decompressed
	}

	if err := r.writeAt(packet.Offset, payload); err != nil {
		return fmt.Errorf("receiver: write chunk %d: %w", packet.ChunkID, err)
	}

	r.bitmap.MarkReceived(uint32(packet.ChunkID), packet.IsLast)
	r.table.Insert(chunktable.Metadata{
		ChunkNumber: packet.ChunkID,
		ByteOffset:  packet.Offset,
		ChunkLength: packet.Size,
		Checksum:    packet.Hash,
		EndOfFile:   packet.IsLast,
	})
	r.bytesReceived += uint64(len(payload))

	if packet.IsLast {
		r.table.SetFileInfo(packet.Offset+uint64(packet.Size), packet.ChunkID+1)
		if r.tracker == nil {
			r.tracker = tracker.New(packet.ChunkID + 1)
			for _, n := range r.bitmap.GetReceivedChunks() {
				r.tracker.MarkReceived(uint64(n))
			}
		}
	} else if r.tracker != nil {
		r.tracker.MarkReceived(packet.ChunkID)
	}

	return nil
}

func (r *Receiver) markCorrupted(id uint64, reason string) {
	if r.tracker != nil {
		r.tracker.MarkCorrupted(id)
	}
	if r.autoRetransmit && r.callbacks.SendNack != nil {
		_ = r.callbacks.SendNack(id, reason)
	}
}

func (r *Receiver) writeAt(offset uint64, data []byte) error {
	if r.mode.Kind == ModeBufferedInMemory {
		need := offset + uint64(len(data))
		if need > uint64(len(r.memBuf)) {
			grown := make([]byte, need)
			copy(grown, r.memBuf)
			r.memBuf = grown
		}
		copy(r.memBuf[offset:], data)
		return nil
	}

	if _, err := r.file.WriteAt(data, int64(offset)); err != nil {
		return err
	}

	switch r.mode.Kind {
	case ModeFlushOnly:
		return nil
	case ModeSyncAll:
		return r.file.Sync()
	case ModeSyncEvery:
		r.chunksSinceSync++
		if r.mode.N > 0 && r.chunksSinceSync >= r.mode.N {
			r.chunksSinceSync = 0
			return r.file.Sync()
		}
		return nil
	default:
		return nil
	}
}

// RequestMissingChunks draws the tracker's next retransmit batch and sends
// it through the RequestMissing callback, if the tracker has been
// initialised (which happens once end-of-file has been seen).
func (r *Receiver) RequestMissingChunks(batchSize int) error {
	if r.tracker == nil || r.callbacks.RequestMissing == nil {
		return nil
	}
	batch := r.tracker.GetNextBatch(batchSize)
	if len(batch) == 0 {
		return nil
	}
	return r.callbacks.RequestMissing(batch)
}

// IsComplete reports whether every expected chunk has been received.
func (r *Receiver) IsComplete() bool {
	return r.bitmap.HasEOF() && r.bitmap.IsComplete()
}

// BytesReceived returns the number of payload bytes written so far.
func (r *Receiver) BytesReceived() uint64 { return r.bytesReceived }

// Bitmap exposes the reception bitmap for persistence and resume discovery.
func (r *Receiver) Bitmap() *bitmap.Bitmap { return r.bitmap }

// Table exposes the chunk metadata table, e.g. for integrity verification
// ahead of Finalize.
func (r *Receiver) Table() *chunktable.Table { return r.table }

// Finalize requires completion, flushes buffered memory to disk (in
// BufferedInMemory mode), optionally verifies the whole-file hash against
// expectedFileHash, closes the part file, and atomically renames it to its
// final name.
func (r *Receiver) Finalize(expectedFileHash []byte) error {
	if !r.IsComplete() {
		return ErrNotComplete
	}
	if err := r.table.VerifyIntegrity(); err != nil {
		return fmt.Errorf("receiver: integrity check: %w", err)
	}

	if r.mode.Kind == ModeBufferedInMemory {
		f, err := os.OpenFile(r.partPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("receiver: create %s: %w", r.partPath, err)
		}
		if _, err := f.Write(r.memBuf); err != nil {
			f.Close()
			return fmt.Errorf("receiver: flush buffered data: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("receiver: fsync: %w", err)
		}
		r.file = f
	} else {
		if err := r.file.Sync(); err != nil {
			return fmt.Errorf("receiver: fsync: %w", err)
		}
	}

	if len(expectedFileHash) > 0 {
		got, err := hasher.HashFile(r.partPath)
		if err != nil {
			return fmt.Errorf("receiver: hash verify: %w", err)
		}
		if !hasher.Verify(got, expectedFileHash) {
			return ErrWholeFileHashMismatch
		}
	}

	if err := r.file.Close(); err != nil {
		return fmt.Errorf("receiver: close %s: %w", r.partPath, err)
	}
	if err := os.Rename(r.partPath, r.finalPath); err != nil {
		return fmt.Errorf("receiver: rename %s to %s: %w", r.partPath, r.finalPath, err)
	}

	r.finalized = true
	return nil
}

// Abort removes the part file synchronously and marks the receiver done.
func (r *Receiver) Abort() error {
	if r.finalized || r.aborted {
		return nil
	}
	r.aborted = true
	if r.file != nil {
		r.file.Close()
	}
	if err := os.Remove(r.partPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("receiver: remove %s: %w", r.partPath, err)
	}
	return nil
}

// Close is the drop path: if the receiver was neither finalized nor
// explicitly aborted, it removes the part file.
func (r *Receiver) Close() error {
	if r.finalized || r.aborted {
		return nil
	}
	return r.Abort()
}
