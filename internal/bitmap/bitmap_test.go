package bitmap

import (
	"path/filepath"
	"testing"
)

func TestMarkReceivedIdempotent(t *testing.T) {
	b := New(16)

	if !b.MarkReceived(3, false) {
		t.Fatal("first mark should return true")
	}
	if b.MarkReceived(3, false) {
		t.Fatal("second mark of same chunk should return false")
	}
	if b.ReceivedCount() != 1 {
		t.Fatalf("expected received count 1, got %d", b.ReceivedCount())
	}
}

func TestIsCompleteRequiresEOF(t *testing.T) {
	b := New(4)
	b.MarkReceived(0, false)
	b.MarkReceived(1, false)
	b.MarkReceived(2, false)

	if b.IsComplete() {
		t.Fatal("should not be complete without EOF")
	}

	b.MarkReceived(3, true)
	if !b.IsComplete() {
		t.Fatal("should be complete once EOF arrives and all chunks received")
	}
}

func TestDynamicGrowth(t *testing.T) {
	b := New(10)
	if b.Capacity() < 64 {
		t.Fatalf("minimum capacity should be 64, got %d", b.Capacity())
	}

	b.MarkReceived(1000, false)
	if b.Capacity() <= 1000 {
		t.Fatalf("capacity should have grown past 1000, got %d", b.Capacity())
	}
	if !b.IsReceived(1000) {
		t.Fatal("chunk 1000 should be marked received after growth")
	}
}

func TestEOFFreezesTotal(t *testing.T) {
	b := New(16)
	b.MarkReceived(9, true)

	if b.Total() != 10 {
		t.Fatalf("expected total 10, got %d", b.Total())
	}

	if b.MarkReceived(20, false) {
		t.Fatal("arrivals past frozen total must be discarded")
	}
}

func TestFindGaps(t *testing.T) {
	b := New(16)
	for _, id := range []uint32{0, 1, 5} {
		b.MarkReceived(id, false)
	}
	b.MarkReceived(9, true)

	gaps := b.FindGaps()
	want := []Gap{{Start: 2, End: 4}, {Start: 6, End: 8}}
	if len(gaps) != len(want) {
		t.Fatalf("expected %d gaps, got %d: %v", len(want), len(gaps), gaps)
	}
	for i, g := range want {
		if gaps[i] != g {
			t.Errorf("gap %d: expected %v, got %v", i, g, gaps[i])
		}
	}
}

func TestFindMissing(t *testing.T) {
	b := New(16)
	for i := uint32(0); i < 10; i += 2 {
		b.MarkReceived(i, i == 8)
	}
	// chunk 8 carries EOF so total=9; missing should be 1,3,5,7
	missing := b.FindMissing()
	want := []uint32{1, 3, 5, 7}
	if len(missing) != len(want) {
		t.Fatalf("expected %v, got %v", want, missing)
	}
	for i, m := range want {
		if missing[i] != m {
			t.Errorf("index %d: expected %d, got %d", i, m, missing[i])
		}
	}
}

func TestMemoryEfficiency(t *testing.T) {
	b := WithExactSize(10000)
	if b.MemoryUsage() > 1300 {
		t.Fatalf("expected compact backing array, got %d bytes", b.MemoryUsage())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	b := New(16)
	b.MarkReceived(0, false)
	b.MarkReceived(5, false)
	b.MarkReceived(10, false)
	b.MarkReceived(15, true)

	path := filepath.Join(t.TempDir(), "session.bitmap")
	if err := b.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if loaded.Capacity() != b.Capacity() || loaded.Total() != b.Total() ||
		loaded.ReceivedCount() != b.ReceivedCount() || loaded.HasEOF() != b.HasEOF() {
		t.Fatalf("round trip mismatch: got %+v, want %+v", loaded, b)
	}
	for i := uint32(0); i < 16; i++ {
		if loaded.IsReceived(i) != b.IsReceived(i) {
			t.Errorf("chunk %d: received mismatch after round trip", i)
		}
	}
}

func TestOutOfRangeBeforeEOFGrows(t *testing.T) {
	b := New(8)
	if !b.MarkReceived(100, false) {
		t.Fatal("marking a far chunk before EOF should grow and succeed")
	}
}
