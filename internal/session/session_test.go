package session

import (
	"path/filepath"
	"testing"
)

func TestTransitionToValidPath(t *testing.T) {
	s := New("sess-1", "/tmp/f", "peer:4433", 1024, 256, 4, DirectionSend)

	steps := []State{StateHandshaking, StateSendingManifest, StateTransferring, StateCompleting, StateCompleted}
	for _, want := range steps {
		if err := s.TransitionTo(want, ""); err != nil {
			t.Fatalf("transition to %s: %v", want, err)
		}
	}
	if s.GetState() != StateCompleted {
		t.Fatalf("expected completed, got %s", s.GetState())
	}
}

func TestTransitionToRejectsSkip(t *testing.T) {
	s := New("sess-2", "/tmp/f", "peer:4433", 1024, 256, 4, DirectionSend)
	if err := s.TransitionTo(StateTransferring, ""); err == nil {
		t.Fatal("expected error skipping straight to Transferring")
	}
}

func TestTransitionToTerminalIsIdempotent(t *testing.T) {
	s := New("sess-3", "/tmp/f", "peer:4433", 1024, 256, 4, DirectionSend)
	for _, st := range []State{StateHandshaking, StateSendingManifest, StateTransferring, StateCompleting, StateCompleted} {
		if err := s.TransitionTo(st, ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.TransitionTo(StateCompleted, ""); err != nil {
		t.Fatalf("re-entering Completed should be a no-op: %v", err)
	}
	if err := s.TransitionTo(StateFailed, ""); err == nil {
		t.Fatal("expected terminal state to reject further transitions")
	}
}

func TestDeriveIDDeterministic(t *testing.T) {
	a := DeriveID("/data/movie.mp4")
	b := DeriveID("/data/movie.mp4")
	if a != b {
		t.Fatalf("expected deterministic id, got %s != %s", a, b)
	}
	c := DeriveID("/data/other.mp4")
	if a == c {
		t.Fatal("expected different paths to derive different ids")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New("sess-4", "/tmp/f", "peer:4433", 4096, 1024, 4, DirectionReceive)
	s.MarkSent(0)
	s.MarkAcknowledged(0)
	if err := s.TransitionTo(StateHandshaking, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(dir); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(dir, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.State != StateHandshaking {
		t.Fatalf("expected handshaking, got %s", loaded.State)
	}
	if !loaded.ChunksAcknowledged[0] {
		t.Fatal("expected chunk 0 acknowledged to survive round trip")
	}
}

func TestLoadMissingReturnsErrNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir, "does-not-exist")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestManagerDiscoverResumeNoFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "sessions"), filepath.Join(dir, "resume"))
	bm, found, err := m.DiscoverResume("sess-5")
	if err != nil {
		t.Fatal(err)
	}
	if found || bm != nil {
		t.Fatal("expected no bitmap found for a fresh session")
	}
}
