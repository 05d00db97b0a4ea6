// Package session owns the end-to-end lifecycle record of one transfer:
// its identity, phase state machine, per-chunk sent/ack bookkeeping, and
// the JSON persistence that lets a later process rediscover it.
package session

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// Direction is which way the file moves for this session.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// State mirrors the orchestrator's phase enum (spec.md §4.13):
//
//	Initializing → Handshaking → SendingManifest|ReceivingManifest
//	    → [Resuming] → Transferring → Completing → Completed
//	                                ↘ Failed
//	                                ↘ Cancelled
//	Transferring ↺ Resuming
type State string

const (
	StateInitializing     State = "initializing"
	StateHandshaking      State = "handshaking"
	StateSendingManifest  State = "sending_manifest"
	StateReceivingManifest State = "receiving_manifest"
	StateTransferring     State = "transferring"
	StateResuming         State = "resuming"
	StateCompleting       State = "completing"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
	StateCancelled        State = "cancelled"
)

// IsTerminal reports whether s is one of the three states entry into which
// is idempotent and from which no further transition is accepted.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ErrInvalidTransition is returned by TransitionTo when the requested move
// isn't one spec.md's state machine allows.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// ErrNotFound is returned by Load/the manager when no session file exists
// for the given id.
var ErrNotFound = errors.New("session: not found")

var transitions = map[State][]State{
	StateInitializing:      {StateHandshaking, StateFailed, StateCancelled},
	StateHandshaking:       {StateSendingManifest, StateReceivingManifest, StateFailed, StateCancelled},
	StateSendingManifest:   {StateTransferring, StateResuming, StateFailed, StateCancelled},
	StateReceivingManifest: {StateTransferring, StateResuming, StateFailed, StateCancelled},
	StateTransferring:      {StateResuming, StateCompleting, StateFailed, StateCancelled},
	StateResuming:          {StateTransferring, StateFailed, StateCancelled},
	StateCompleting:        {StateCompleted, StateFailed, StateCancelled},
	StateCompleted:         {},
	StateFailed:            {},
	StateCancelled:         {},
}

// Session is the persistable record of one file transfer's lifecycle. The
// orchestrator exclusively owns a Session and is the only writer; other
// components read it for logging/telemetry context.
type Session struct {
	ID          string    `json:"session_id"`
	FilePath    string    `json:"file_path"`
	Destination string    `json:"destination"`
	FileSize    uint64    `json:"file_size"`
	ChunkSize   uint32    `json:"chunk_size"`
	TotalChunks uint64    `json:"total_chunks"`
	Direction   Direction `json:"direction"`
	State       State     `json:"state"`

	ChunksSent         []bool `json:"chunks_sent"`
	ChunksAcknowledged []bool `json:"chunks_acknowledged"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ErrorMessage string `json:"error_message,omitempty"`

	mu sync.Mutex
}

// New creates a session in StateInitializing for a file/destination pair.
// totalChunks may be 0 if not yet known (filled in once a manifest is
// built or received).
func New(id, filePath, destination string, fileSize uint64, chunkSize uint32, totalChunks uint64, direction Direction) *Session {
	now := time.Now()
	s := &Session{
		ID:          id,
		FilePath:    filePath,
		Destination: destination,
		FileSize:    fileSize,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
		Direction:   direction,
		State:       StateInitializing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if totalChunks > 0 {
		s.ChunksSent = make([]bool, totalChunks)
		s.ChunksAcknowledged = make([]bool, totalChunks)
	}
	return s
}

// SetTotalChunks fills in TotalChunks and the per-chunk arrays once known,
// for sessions constructed before a manifest existed (totalChunks==0 at
// New).
func (s *Session) SetTotalChunks(totalChunks uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TotalChunks == totalChunks {
		return
	}
	s.TotalChunks = totalChunks
	s.ChunksSent = make([]bool, totalChunks)
	s.ChunksAcknowledged = make([]bool, totalChunks)
}

// MarkSent records chunk i as sent.
func (s *Session) MarkSent(i uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < uint64(len(s.ChunksSent)) {
		s.ChunksSent[i] = true
	}
}

// MarkAcknowledged records chunk i as acknowledged.
func (s *Session) MarkAcknowledged(i uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < uint64(len(s.ChunksAcknowledged)) {
		s.ChunksAcknowledged[i] = true
	}
}

// TransitionTo moves the session to newState, validating it against the
// allowed transitions from the current state. Re-entering the current
// terminal state is a no-op, matching the "entry is idempotent" rule for
// Completed/Failed/Cancelled in spec.md §4.13.
func (s *Session) TransitionTo(newState State, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State == newState && s.State.IsTerminal() {
		return nil
	}

	allowed := transitions[s.State]
	ok := false
	for _, a := range allowed {
		if a == newState {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, newState)
	}

	s.State = newState
	s.UpdatedAt = time.Now()
	if errMsg != "" {
		s.ErrorMessage = errMsg
	}
	return nil
}

// GetState returns the current state.
func (s *Session) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// Progress returns (acknowledged chunks, total chunks).
func (s *Session) Progress() (uint64, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var acked uint64
	for _, a := range s.ChunksAcknowledged {
		if a {
			acked++
		}
	}
	return acked, s.TotalChunks
}

// DeriveID computes the deterministic resume id for absPath: the file's
// basename (sanitized to the manifest's session-id alphabet so the value
// doubles as the wire protocol's session_id), a hyphen, then the first 8
// bytes of BLAKE3(absPath) in hex. Two runs over the same absolute path
// always agree, letting a restarted client rediscover its prior bitmap
// without external bookkeeping.
func DeriveID(absPath string) string {
	sum := blake3.Sum256([]byte(absPath))
	return fmt.Sprintf("%s-%s", sanitizeIDComponent(filepath.Base(absPath)), hex.EncodeToString(sum[:8]))
}

// sanitizeIDComponent replaces any character outside [A-Za-z0-9-_] with
// '_', matching the manifest session-id alphabet.
func sanitizeIDComponent(s string) string {
	b := []byte(s)
	for i, c := range b {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			continue
		}
		b[i] = '_'
	}
	return string(b)
}

// Path returns the JSON file path a Manager persists this session's state
// to, given sessionDir.
func Path(sessionDir, id string) string {
	return filepath.Join(sessionDir, id+".json")
}

// Save writes the session to <sessionDir>/<id>.json.
func (s *Session) Save(sessionDir string) error {
	s.mu.Lock()
	data, err := json.MarshalIndent(s, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return fmt.Errorf("session: mkdir %s: %w", sessionDir, err)
	}
	if err := os.WriteFile(Path(sessionDir, s.ID), data, 0o644); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	return nil
}

// Load reads a previously saved session by id from sessionDir.
func Load(sessionDir, id string) (*Session, error) {
	data, err := os.ReadFile(Path(sessionDir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: read: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: unmarshal: %w", err)
	}
	return &s, nil
}
