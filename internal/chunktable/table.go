// Package chunktable stores ordered per-chunk metadata and enforces the
// contiguity invariants that the reception bitmap alone cannot express.
package chunktable

import (
	"fmt"
	"sort"
)

// Metadata describes one chunk's placement, independent of its payload.
type Metadata struct {
	ChunkNumber uint64
	ByteOffset  uint64
	ChunkLength uint32
	Checksum    []byte
	EndOfFile   bool
}

// EndOffset returns the exclusive end byte offset of this chunk.
func (m Metadata) EndOffset() uint64 {
	return m.ByteOffset + uint64(m.ChunkLength)
}

// Table is an index of chunk metadata keyed by chunk number. It does not
// store payload bytes; those live in the receiver's file or memory buffer.
type Table struct {
	chunks      map[uint64]Metadata
	totalSize   uint64
	totalChunks uint64
}

// New creates an empty chunk table.
func New() *Table {
	return &Table{chunks: make(map[uint64]Metadata)}
}

// SetFileInfo records the expected total size and chunk count.
func (t *Table) SetFileInfo(totalSize, totalChunks uint64) {
	t.totalSize = totalSize
	t.totalChunks = totalChunks
}

// Insert replaces any existing entry for the same chunk number.
func (t *Table) Insert(meta Metadata) {
	t.chunks[meta.ChunkNumber] = meta
}

// Get returns the metadata for chunkNumber, if present.
func (t *Table) Get(chunkNumber uint64) (Metadata, bool) {
	m, ok := t.chunks[chunkNumber]
	return m, ok
}

// Contains reports whether metadata exists for chunkNumber.
func (t *Table) Contains(chunkNumber uint64) bool {
	_, ok := t.chunks[chunkNumber]
	return ok
}

// Remove deletes the entry for chunkNumber, if any.
func (t *Table) Remove(chunkNumber uint64) {
	delete(t.chunks, chunkNumber)
}

// Len returns the number of entries stored.
func (t *Table) Len() int { return len(t.chunks) }

// TotalSize returns the expected total file size.
func (t *Table) TotalSize() uint64 { return t.totalSize }

// TotalChunks returns the expected total chunk count.
func (t *Table) TotalChunks() uint64 { return t.totalChunks }

// IsComplete reports whether every expected chunk has metadata stored.
func (t *Table) IsComplete() bool {
	if t.totalChunks == 0 {
		return false
	}
	return uint64(len(t.chunks)) == t.totalChunks
}

// ChunkNumbers returns all stored chunk numbers in ascending order.
func (t *Table) ChunkNumbers() []uint64 {
	nums := make([]uint64, 0, len(t.chunks))
	for n := range t.chunks {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}

// MissingChunks enumerates absent chunk numbers in 0..total order.
func (t *Table) MissingChunks() []uint64 {
	if t.totalChunks == 0 {
		return nil
	}
	var missing []uint64
	for i := uint64(0); i < t.totalChunks; i++ {
		if !t.Contains(i) {
			missing = append(missing, i)
		}
	}
	return missing
}

// IterSorted returns all stored metadata ordered by chunk number.
func (t *Table) IterSorted() []Metadata {
	nums := t.ChunkNumbers()
	out := make([]Metadata, len(nums))
	for i, n := range nums {
		out[i] = t.chunks[n]
	}
	return out
}

// BytesStored sums ChunkLength across every stored entry.
func (t *Table) BytesStored() uint64 {
	var sum uint64
	for _, m := range t.chunks {
		sum += uint64(m.ChunkLength)
	}
	return sum
}

// LastChunk returns the entry marked EndOfFile, if present.
func (t *Table) LastChunk() (Metadata, bool) {
	for _, m := range t.chunks {
		if m.EndOfFile {
			return m, true
		}
	}
	return Metadata{}, false
}

// Clear removes all entries.
func (t *Table) Clear() {
	t.chunks = make(map[uint64]Metadata)
}

// VerifyIntegrity checks the three §3 invariants: chunk numbers form a
// contiguous 0..N sequence, successive offsets chain exactly, and at most
// one entry, and only the final one, carries EndOfFile. Returns an error
// identifying the first violation found.
func (t *Table) VerifyIntegrity() error {
	if len(t.chunks) == 0 {
		return nil
	}

	sorted := t.IterSorted()

	for i, m := range sorted {
		if m.ChunkNumber != uint64(i) {
			return fmt.Errorf("chunk number gap: expected %d, found %d", i, m.ChunkNumber)
		}
	}

	for i := 0; i < len(sorted)-1; i++ {
		cur, next := sorted[i], sorted[i+1]
		if cur.EndOffset() != next.ByteOffset {
			return fmt.Errorf("chunk offset mismatch: chunk %d ends at %d, chunk %d starts at %d",
				cur.ChunkNumber, cur.EndOffset(), next.ChunkNumber, next.ByteOffset)
		}
	}

	eofCount := 0
	for _, m := range sorted {
		if m.EndOfFile {
			eofCount++
		}
	}
	if eofCount > 1 {
		return fmt.Errorf("multiple chunks marked as end-of-file: %d", eofCount)
	}
	if eofCount == 1 && !sorted[len(sorted)-1].EndOfFile {
		return fmt.Errorf("end-of-file flag set on non-final chunk")
	}

	return nil
}
