package dedup

import "testing"

func TestAddAndHasChunk(t *testing.T) {
	idx, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	hash1 := []byte{1, 2, 3, 4}
	hash2 := []byte{5, 6, 7, 8}

	idx.AddChunk(hash1, Location{FilePath: "/tmp/file1.txt", ByteOffset: 0, ChunkSize: 1024})

	if !idx.HasChunk(hash1) {
		t.Error("expected hash1 present")
	}
	if idx.HasChunk(hash2) {
		t.Error("expected hash2 absent")
	}
	if idx.TotalChunks() != 1 {
		t.Errorf("expected 1 tracked hash, got %d", idx.TotalChunks())
	}
}

func TestCheckHashes(t *testing.T) {
	idx, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	hash1 := []byte{1, 2, 3, 4}
	hash2 := []byte{5, 6, 7, 8}
	hash3 := []byte{9, 10, 11, 12}
	loc := Location{FilePath: "/tmp/file.txt", ByteOffset: 0, ChunkSize: 1024}

	idx.AddChunk(hash1, loc)
	idx.AddChunk(hash3, loc)

	existing := idx.CheckHashes([][]byte{hash1, hash2, hash3})
	if len(existing) != 2 {
		t.Fatalf("expected 2 existing hashes, got %d", len(existing))
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	hash := []byte{1, 2, 3, 4}
	loc := Location{FilePath: "/tmp/test.txt", ByteOffset: 1024, ChunkSize: 256}

	idx, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	idx.AddChunk(hash, loc)
	if err := idx.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reloaded.HasChunk(hash) {
		t.Fatal("expected hash to survive reload")
	}
	locs, ok := reloaded.Locations(hash)
	if !ok || len(locs) != 1 {
		t.Fatalf("expected 1 location, got %v (ok=%v)", locs, ok)
	}
	if locs[0].ByteOffset != 1024 || locs[0].ChunkSize != 256 {
		t.Fatalf("unexpected location: %+v", locs[0])
	}
}

func TestRemoveFile(t *testing.T) {
	idx, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	hash := []byte{1, 2, 3}
	idx.AddChunk(hash, Location{FilePath: "/tmp/a.txt", ByteOffset: 0, ChunkSize: 10})
	idx.AddChunk(hash, Location{FilePath: "/tmp/b.txt", ByteOffset: 0, ChunkSize: 10})

	idx.RemoveFile("/tmp/a.txt")
	locs, ok := idx.Locations(hash)
	if !ok || len(locs) != 1 || locs[0].FilePath != "/tmp/b.txt" {
		t.Fatalf("unexpected locations after removal: %v", locs)
	}

	idx.RemoveFile("/tmp/b.txt")
	if idx.HasChunk(hash) {
		t.Fatal("expected hash to be gone once all locations removed")
	}
}

func TestDedupStats(t *testing.T) {
	s := Stats{TotalChunks: 10, DuplicateChunks: 3, BytesSaved: 2097152}
	if diff := s.DedupRatio() - 0.3; diff > 0.0001 || diff < -0.0001 {
		t.Fatalf("unexpected ratio: %v", s.DedupRatio())
	}
	if diff := s.BytesSavedMB() - 2.0; diff > 0.0001 || diff < -0.0001 {
		t.Fatalf("unexpected MB: %v", s.BytesSavedMB())
	}
}
