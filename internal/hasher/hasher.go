// Package hasher wraps BLAKE3 whole-file and per-chunk hashing, including a
// bounded-concurrency prepass used to hash every chunk of a file before the
// manifest is built.
package hasher

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/zeebo/blake3"
)

// Size is the digest length BLAKE3 produces and the manifest's fixed hash
// width.
const Size = 32

// HashBytes returns the BLAKE3 digest of data.
func HashBytes(data []byte) []byte {
	sum := blake3.Sum256(data)
	return sum[:]
}

// Verify reports whether data's BLAKE3 digest equals want.
func Verify(data []byte, want []byte) bool {
	got := HashBytes(data)
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// HashFile streams path through BLAKE3 without loading it into memory.
func HashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hasher: open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, 1<<20)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("hasher: read %s: %w", path, err)
		}
	}
	return h.Sum(nil), nil
}

// ChunkSpec identifies one chunk's span within a file, for the parallel
// prepass.
type ChunkSpec struct {
	Number uint64
	Offset int64
	Length int
}

// ChunkHash pairs a chunk number with its computed digest.
type ChunkHash struct {
	Number uint64
	Hash   []byte
}

// PrepassWorkers returns the worker pool size for the parallel chunk-hash
// prepass: the number of logical CPUs, floored at 2 and capped at 8, since
// hashing is CPU-bound and each worker does its own file I/O.
func PrepassWorkers() int {
	n := runtime.NumCPU()
	if n < 2 {
		return 2
	}
	if n > 8 {
		return 8
	}
	return n
}

// HashChunksParallel computes the BLAKE3 digest of every chunk in specs,
// reading path concurrently across a bounded worker pool, and returns the
// results ordered by chunk number regardless of completion order. Intended
// for manifests with more than a handful of chunks; callers with few chunks
// can hash sequentially instead.
func HashChunksParallel(ctx context.Context, path string, specs []ChunkSpec) ([]ChunkHash, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	workers := PrepassWorkers()
	if workers > len(specs) {
		workers = len(specs)
	}

	jobs := make(chan ChunkSpec, len(specs))
	for _, s := range specs {
		jobs <- s
	}
	close(jobs)

	results := make([]ChunkHash, len(specs))
	indexByNumber := make(map[uint64]int, len(specs))
	for i, s := range specs {
		indexByNumber[s.Number] = i
	}

	errCh := make(chan error, workers)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := os.Open(path)
			if err != nil {
				errCh <- fmt.Errorf("hasher: open %s: %w", path, err)
				return
			}
			defer f.Close()

			buf := make([]byte, 0)
			for spec := range jobs {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				if cap(buf) < spec.Length {
					buf = make([]byte, spec.Length)
				}
				buf = buf[:spec.Length]
				if _, err := f.ReadAt(buf, spec.Offset); err != nil && err != io.EOF {
					errCh <- fmt.Errorf("hasher: read chunk %d: %w", spec.Number, err)
					return
				}
				sum := blake3.Sum256(buf)
				idx := indexByNumber[spec.Number]
				results[idx] = ChunkHash{Number: spec.Number, Hash: sum[:]}
			}
		}()
	}

	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return nil, err
	}
	return results, nil
}
