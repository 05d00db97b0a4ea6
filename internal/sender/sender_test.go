package sender

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantarax/filepipe/internal/chunker"
	"github.com/quantarax/filepipe/internal/codec"
	"github.com/quantarax/filepipe/internal/wire"
)

// fakeStream is an in-memory DataStream that never blocks, so writeChunk's
// retry loop never has to exercise its timeout path here.
type fakeStream struct {
	buf    bytes.Buffer
	closed bool
}

func (f *fakeStream) Write(p []byte) (int, error)        { return f.buf.Write(p) }
func (f *fakeStream) SetWriteDeadline(t time.Time) error { return nil }
func (f *fakeStream) Close() error                        { f.closed = true; return nil }

func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readAllPackets(t *testing.T, data []byte) []*wire.ChunkPacket {
	t.Helper()
	r := bytes.NewReader(data)
	var packets []*wire.ChunkPacket
	for r.Len() > 0 {
		payload, err := wire.ReadFrame(r, 1<<20)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		var p wire.ChunkPacket
		if err := p.Unmarshal(payload); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		packets = append(packets, &p)
	}
	return packets
}

func TestRunSendsAllChunksInOrder(t *testing.T) {
	path := writeTempFile(t, 1000)
	fc, err := chunker.Open(path, 256, codec.None)
	if err != nil {
		t.Fatal(err)
	}
	defer fc.Close()

	var sentOrder []uint64
	stream := &fakeStream{}
	s := New(stream, "sess-1", path, 256, codec.None, Callbacks{
		OnChunkSent: func(n uint64) { sentOrder = append(sentOrder, n) },
	})
	s.SetDrainWait(0)

	n, err := s.Run(context.Background(), fc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 chunks (1000/256 rounded up), got %d", n)
	}
	if !stream.closed {
		t.Fatal("expected stream to be closed after Run")
	}

	packets := readAllPackets(t, stream.buf.Bytes())
	if len(packets) != 4 {
		t.Fatalf("expected 4 packets on the wire, got %d", len(packets))
	}
	for i, p := range packets {
		if p.ChunkID != uint64(i) {
			t.Fatalf("packet %d: expected chunk id %d, got %d", i, i, p.ChunkID)
		}
	}
	if !packets[3].IsLast {
		t.Fatal("expected final packet to carry IsLast")
	}
	for i, want := range []uint64{0, 1, 2, 3} {
		if sentOrder[i] != want {
			t.Fatalf("callback order[%d] = %d, want %d", i, sentOrder[i], want)
		}
	}
}

func TestRetransmitInterleavesAheadOfCursor(t *testing.T) {
	path := writeTempFile(t, 1000)
	fc, err := chunker.Open(path, 256, codec.None)
	if err != nil {
		t.Fatal(err)
	}
	defer fc.Close()
	// Skip straight to chunk 2, as a resumed forward pass would.
	if err := fc.SeekToChunk(2); err != nil {
		t.Fatal(err)
	}

	stream := &fakeStream{}
	s := New(stream, "sess-2", path, 256, codec.None, Callbacks{})
	s.SetDrainWait(0)
	s.RequestRetransmit([]uint64{0, 1})

	if _, err := s.Run(context.Background(), fc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	packets := readAllPackets(t, stream.buf.Bytes())
	if len(packets) != 4 {
		t.Fatalf("expected 4 packets total, got %d", len(packets))
	}
	if packets[0].ChunkID != 0 || packets[1].ChunkID != 1 {
		t.Fatalf("expected retransmitted chunks 0,1 first, got %d,%d", packets[0].ChunkID, packets[1].ChunkID)
	}
	if packets[2].ChunkID != 2 || packets[3].ChunkID != 3 {
		t.Fatalf("expected forward chunks 2,3 after, got %d,%d", packets[2].ChunkID, packets[3].ChunkID)
	}
}

func TestCancelRetransmitWithdrawsPendingRequest(t *testing.T) {
	path := writeTempFile(t, 1000)
	fc, err := chunker.Open(path, 256, codec.None)
	if err != nil {
		t.Fatal(err)
	}
	defer fc.Close()

	stream := &fakeStream{}
	s := New(stream, "sess-3", path, 256, codec.None, Callbacks{})
	s.SetDrainWait(0)
	s.RequestRetransmit([]uint64{1})
	s.CancelRetransmit([]uint64{1})

	if _, err := s.Run(context.Background(), fc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	packets := readAllPackets(t, stream.buf.Bytes())
	if len(packets) != 4 {
		t.Fatalf("expected only the 4 forward chunks (retransmit cancelled), got %d", len(packets))
	}
	for i, p := range packets {
		if p.ChunkID != uint64(i) {
			t.Fatalf("packet %d: expected chunk id %d (no duplicate for cancelled retransmit), got %d", i, i, p.ChunkID)
		}
	}
}

func TestPauseBlocksUntilResume(t *testing.T) {
	path := writeTempFile(t, 300)
	fc, err := chunker.Open(path, 256, codec.None)
	if err != nil {
		t.Fatal(err)
	}
	defer fc.Close()

	stream := &fakeStream{}
	s := New(stream, "sess-4", path, 256, codec.None, Callbacks{})
	s.SetDrainWait(0)
	s.Pause()

	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), fc)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Run completed while paused")
	case <-time.After(50 * time.Millisecond):
	}

	s.Resume()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not complete after Resume")
	}
}

func TestDrainFinalServicesLateRetransmitRequest(t *testing.T) {
	path := writeTempFile(t, 300)
	fc, err := chunker.Open(path, 256, codec.None)
	if err != nil {
		t.Fatal(err)
	}
	defer fc.Close()

	stream := &fakeStream{}
	s := New(stream, "sess-6", path, 256, codec.None, Callbacks{})
	s.SetDrainWait(300 * time.Millisecond)

	done := make(chan struct{})
	var runErr error
	go func() {
		_, runErr = s.Run(context.Background(), fc)
		close(done)
	}()

	// Simulate a Nack for the last chunk arriving after the forward pass
	// finished but while the final drain window is still open.
	time.Sleep(80 * time.Millisecond)
	s.RequestRetransmit([]uint64{1})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not complete after a late retransmit request during the drain window")
	}
	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	if !stream.closed {
		t.Fatal("expected stream to be closed after Run")
	}

	packets := readAllPackets(t, stream.buf.Bytes())
	var chunk1Count int
	for _, p := range packets {
		if p.ChunkID == 1 {
			chunk1Count++
		}
	}
	if chunk1Count != 2 {
		t.Fatalf("expected chunk 1 sent twice (forward pass + late drain-window retransmit), got %d", chunk1Count)
	}
}

func TestRunRespectsContextCancellation(t *testing.T) {
	path := writeTempFile(t, 300)
	fc, err := chunker.Open(path, 256, codec.None)
	if err != nil {
		t.Fatal(err)
	}
	defer fc.Close()

	stream := &fakeStream{}
	s := New(stream, "sess-5", path, 256, codec.None, Callbacks{})
	s.SetDrainWait(0)
	s.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Run(ctx, fc); err == nil {
		t.Fatal("expected Run to return an error for a cancelled context while paused")
	}
}
