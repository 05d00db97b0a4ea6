// Package dedup indexes chunk content hashes to their on-disk locations so
// the sender can skip retransmitting a chunk whose bytes are already stored
// somewhere the receiver can read.
package dedup

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Location identifies where a chunk's bytes already live on disk.
type Location struct {
	FilePath   string
	ByteOffset uint64
	ChunkSize  uint32
}

// Index maps content hashes to every known location holding that content.
type Index struct {
	entries   map[string][]Location
	indexFile string
}

// Open loads (or creates) the on-disk index under indexDir.
func Open(indexDir string) (*Index, error) {
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return nil, fmt.Errorf("dedup: create index dir: %w", err)
	}
	idx := &Index{
		entries:   make(map[string][]Location),
		indexFile: filepath.Join(indexDir, "chunk_index.db"),
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

func key(hash []byte) string { return string(hash) }

// AddChunk records a new location for hash, appending to any existing ones.
func (idx *Index) AddChunk(hash []byte, loc Location) {
	k := key(hash)
	idx.entries[k] = append(idx.entries[k], loc)
}

// HasChunk reports whether any location is known for hash.
func (idx *Index) HasChunk(hash []byte) bool {
	_, ok := idx.entries[key(hash)]
	return ok
}

// Locations returns the known locations for hash, if any.
func (idx *Index) Locations(hash []byte) ([]Location, bool) {
	locs, ok := idx.entries[key(hash)]
	return locs, ok
}

// CheckHashes returns the subset of hashes that already exist in the index,
// preserving input order.
func (idx *Index) CheckHashes(hashes [][]byte) [][]byte {
	var existing [][]byte
	for _, h := range hashes {
		if idx.HasChunk(h) {
			existing = append(existing, h)
		}
	}
	return existing
}

// TotalChunks returns the number of distinct hashes tracked.
func (idx *Index) TotalChunks() int { return len(idx.entries) }

// Clear empties the in-memory index without touching the on-disk file.
func (idx *Index) Clear() { idx.entries = make(map[string][]Location) }

// RemoveFile drops every location pointing at filePath, discarding any hash
// that no longer has a remaining location.
func (idx *Index) RemoveFile(filePath string) {
	for h, locs := range idx.entries {
		kept := locs[:0]
		for _, loc := range locs {
			if loc.FilePath != filePath {
				kept = append(kept, loc)
			}
		}
		if len(kept) == 0 {
			delete(idx.entries, h)
		} else {
			idx.entries[h] = kept
		}
	}
}

// Save persists the index as one line per (hash, location) pair:
// hex(hash)|path|offset|size.
func (idx *Index) Save() error {
	f, err := os.Create(idx.indexFile)
	if err != nil {
		return fmt.Errorf("dedup: create %s: %w", idx.indexFile, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for h, locs := range idx.entries {
		hexHash := hex.EncodeToString([]byte(h))
		for _, loc := range locs {
			if _, err := fmt.Fprintf(w, "%s|%s|%d|%d\n", hexHash, loc.FilePath, loc.ByteOffset, loc.ChunkSize); err != nil {
				return fmt.Errorf("dedup: write entry: %w", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("dedup: flush: %w", err)
	}
	return f.Sync()
}

func (idx *Index) load() error {
	f, err := os.Open(idx.indexFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("dedup: open %s: %w", idx.indexFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), "|")
		if len(parts) != 4 {
			continue
		}
		hash, err := hex.DecodeString(parts[0])
		if err != nil {
			return fmt.Errorf("dedup: invalid hash in index: %w", err)
		}
		offset, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return fmt.Errorf("dedup: invalid offset in index: %w", err)
		}
		size, err := strconv.ParseUint(parts[3], 10, 32)
		if err != nil {
			return fmt.Errorf("dedup: invalid size in index: %w", err)
		}
		idx.AddChunk(hash, Location{FilePath: parts[1], ByteOffset: offset, ChunkSize: uint32(size)})
	}
	return scanner.Err()
}

// Stats summarizes deduplication effectiveness for a completed transfer.
type Stats struct {
	TotalChunks     uint64
	DuplicateChunks uint64
	BytesSaved      uint64
	UniqueChunks    uint64
}

// DedupRatio returns the fraction of chunks that were duplicates.
func (s Stats) DedupRatio() float64 {
	if s.TotalChunks == 0 {
		return 0
	}
	return float64(s.DuplicateChunks) / float64(s.TotalChunks)
}

// BytesSavedMB returns BytesSaved in mebibytes.
func (s Stats) BytesSavedMB() float64 {
	return float64(s.BytesSaved) / 1048576.0
}
