package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantarax/filepipe/internal/bitmap"
)

// DefaultPersistEveryN is how many verified chunks pass between periodic
// saves during Transferring, on top of the saves a phase transition
// always triggers (spec.md §4.14).
const DefaultPersistEveryN = 100

// Manager persists one session's state at phase boundaries and every Nth
// verified chunk, and discovers a prior bitmap on resume.
type Manager struct {
	SessionDir string
	ResumeDir  string
	PersistEveryN uint64

	sinceLastPersist uint64
}

// NewManager creates a manager rooted at sessionDir/resumeDir with the
// default persistence cadence.
func NewManager(sessionDir, resumeDir string) *Manager {
	return &Manager{SessionDir: sessionDir, ResumeDir: resumeDir, PersistEveryN: DefaultPersistEveryN}
}

// OnPhaseTransition saves the session unconditionally; call this right
// after every TransitionTo.
func (m *Manager) OnPhaseTransition(s *Session) error {
	m.sinceLastPersist = 0
	return s.Save(m.SessionDir)
}

// OnChunkVerified should be called once per chunk the receiver (or the
// sender, on ack) confirms; it persists every PersistEveryN calls.
func (m *Manager) OnChunkVerified(s *Session) error {
	m.sinceLastPersist++
	if m.sinceLastPersist < m.PersistEveryN {
		return nil
	}
	m.sinceLastPersist = 0
	return s.Save(m.SessionDir)
}

// BitmapPath returns the path a prior run's bitmap would be found at for
// sessionID, per spec.md §4.14/§6.
func (m *Manager) BitmapPath(sessionID string) string {
	return filepath.Join(m.ResumeDir, sessionID+".bitmap")
}

// DiscoverResume checks whether a bitmap from a prior attempt exists for
// sessionID and, if so, loads it. A missing file is not an error: it just
// means this is a fresh transfer, not a resume.
func (m *Manager) DiscoverResume(sessionID string) (*bitmap.Bitmap, bool, error) {
	path := m.BitmapPath(sessionID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("session: stat bitmap %s: %w", path, err)
	}
	bm, err := bitmap.Load(path)
	if err != nil {
		return nil, false, fmt.Errorf("session: load bitmap %s: %w", path, err)
	}
	return bm, true, nil
}

// PersistBitmap saves bm to the resume directory for sessionID, so a
// future restart can call DiscoverResume.
func (m *Manager) PersistBitmap(sessionID string, bm *bitmap.Bitmap) error {
	if err := os.MkdirAll(m.ResumeDir, 0o755); err != nil {
		return fmt.Errorf("session: mkdir %s: %w", m.ResumeDir, err)
	}
	return bm.Save(m.BitmapPath(sessionID))
}
