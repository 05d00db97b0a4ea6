// Package sender drives a FileChunker against a session's data stream,
// observing backpressure on write and honoring out-of-order retransmit
// requests that arrive on the control stream.
package sender

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/quantarax/filepipe/internal/chunker"
	"github.com/quantarax/filepipe/internal/codec"
	"github.com/quantarax/filepipe/internal/wire"
)

// writeRetryDeadline bounds a single write attempt before the sender checks
// for pause/cancellation and retries; it is not a timeout on the whole
// write, just the granularity at which the sender re-evaluates state.
const writeRetryDeadline = 200 * time.Millisecond

// finalDrainWait bounds how long the sender waits, after writing its last
// chunk and before closing the stream, for any trailing activity (spec.md
// §4.12's "drain the final window").
const finalDrainWait = 5 * time.Second

// finalDrainPoll is how often drainFinal checks for newly queued retransmit
// requests while the final window is open.
const finalDrainPoll = 50 * time.Millisecond

// DataStream is the subset of *quic.Stream the sender needs: a deadline-
// aware writer that can be half-closed once the last chunk is sent.
type DataStream interface {
	io.Writer
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Callbacks lets the orchestrator observe progress without the sender
// depending on session/tracker types directly.
type Callbacks struct {
	// OnChunkSent is called after each chunk is successfully written,
	// including retransmits.
	OnChunkSent func(chunkNumber uint64)
}

// Sender writes one file's chunks onto a data stream in chunk-number order,
// except where a Retransmit request jumps a chunk ahead of the cursor.
type Sender struct {
	stream      DataStream
	sessionID   string
	filePath    string
	chunkSize   uint32
	compression codec.Tag
	cb          Callbacks

	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{}

	pending *list.List // queue of uint64 chunk numbers requested out of band

	drainWait time.Duration

	// Skip, if set, suppresses forward-path chunks the peer has already
	// confirmed (resume after restart); retransmit-queue chunks still go
	// out regardless, since those were explicitly requested.
	Skip func(chunkNumber uint64) bool
}

// New creates a sender for filePath, writing onto stream using chunkSize
// and compression exactly as the receiving end's manifest expects.
func New(stream DataStream, sessionID, filePath string, chunkSize uint32, compression codec.Tag, cb Callbacks) *Sender {
	return &Sender{
		stream:      stream,
		sessionID:   sessionID,
		filePath:    filePath,
		chunkSize:   chunkSize,
		compression: compression,
		cb:          cb,
		resumeCh:    make(chan struct{}),
		pending:     list.New(),
		drainWait:   finalDrainWait,
	}
}

// SetDrainWait overrides the final-drain pause (default finalDrainWait);
// tests use this to avoid a real 5s sleep.
func (s *Sender) SetDrainWait(d time.Duration) {
	s.drainWait = d
}

// Pause halts chunk emission until Resume is called; in effect while a
// Transferring session has received a control-stream Pause from the peer.
func (s *Sender) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume lifts a prior Pause.
func (s *Sender) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	close(s.resumeCh)
	s.resumeCh = make(chan struct{})
}

// RequestRetransmit schedules chunkIDs to be sent ahead of the chunker's
// normal cursor, in response to a control-stream Nack or RetransmitRequest.
// Safe to call concurrently with Run.
func (s *Sender) RequestRetransmit(chunkIDs []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range chunkIDs {
		s.pending.PushBack(id)
	}
}

// CancelRetransmit withdraws previously requested chunk ids that have not
// yet been sent, e.g. because the peer reports they arrived another way.
func (s *Sender) CancelRetransmit(chunkIDs []uint64) {
	cancel := make(map[uint64]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		cancel[id] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for e := s.pending.Front(); e != nil; {
		next := e.Next()
		if cancel[e.Value.(uint64)] {
			s.pending.Remove(e)
		}
		e = next
	}
}

// Run drives the chunker from its current position to EOF, interleaving
// any pending retransmit requests ahead of each forward chunk, and returns
// the number of chunks written. The chunker should already be positioned
// (via Reset or SeekToChunk) at the first chunk this call should send,
// letting a resumed transfer skip chunks the peer already has.
func (s *Sender) Run(ctx context.Context, fc *chunker.FileChunker) (uint64, error) {
	var sent uint64
	for {
		if err := s.drainPending(ctx); err != nil {
			return sent, err
		}

		c, err := fc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return sent, fmt.Errorf("sender: next chunk: %w", err)
		}
		if s.Skip != nil && s.Skip(c.Number) {
			continue
		}
		if err := s.writeChunk(ctx, c); err != nil {
			return sent, err
		}
		sent++
		if s.cb.OnChunkSent != nil {
			s.cb.OnChunkSent(c.Number)
		}
	}

	if err := s.drainPending(ctx); err != nil {
		return sent, err
	}

	if err := s.drainFinal(ctx); err != nil {
		return sent, err
	}
	if err := s.stream.Close(); err != nil {
		return sent, fmt.Errorf("sender: close data stream: %w", err)
	}
	return sent, nil
}

// drainPending writes every chunk currently queued by RequestRetransmit,
// reading each directly from disk since the chunker's own cursor has
// already moved past them.
func (s *Sender) drainPending(ctx context.Context) error {
	for {
		id, ok := s.popPending()
		if !ok {
			return nil
		}
		c, err := chunker.ReadChunk(s.filePath, id, s.chunkSize, s.compression)
		if err != nil {
			return fmt.Errorf("sender: retransmit chunk %d: %w", id, err)
		}
		if err := s.writeChunk(ctx, c); err != nil {
			return err
		}
		if s.cb.OnChunkSent != nil {
			s.cb.OnChunkSent(c.Number)
		}
	}
}

func (s *Sender) popPending() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.pending.Front()
	if e == nil {
		return 0, false
	}
	s.pending.Remove(e)
	return e.Value.(uint64), true
}

func (s *Sender) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len() > 0
}

// Retransmit immediately writes chunkIDs, bypassing the pending queue; for
// callers driving retransmission outside of Run (e.g. before the forward
// pass has started).
func (s *Sender) Retransmit(ctx context.Context, chunkIDs []uint64) error {
	for _, id := range chunkIDs {
		c, err := chunker.ReadChunk(s.filePath, id, s.chunkSize, s.compression)
		if err != nil {
			return fmt.Errorf("sender: retransmit chunk %d: %w", id, err)
		}
		if err := s.writeChunk(ctx, c); err != nil {
			return err
		}
		if s.cb.OnChunkSent != nil {
			s.cb.OnChunkSent(c.Number)
		}
	}
	return nil
}

// writeChunk waits out any active Pause, then frames and writes one chunk,
// retrying on write-deadline timeouts so a blocked stream doesn't wedge
// the whole transfer waiting on a single Write call.
func (s *Sender) writeChunk(ctx context.Context, c chunker.Chunk) error {
	if err := s.waitForResume(ctx); err != nil {
		return err
	}

	packet := s.buildPacket(c)
	payload := packet.Marshal()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.stream.SetWriteDeadline(time.Now().Add(writeRetryDeadline)); err != nil {
			return fmt.Errorf("sender: set write deadline: %w", err)
		}
		err := wire.WriteFrame(s.stream, payload)
		if err == nil {
			return nil
		}
		if !isTimeout(err) {
			return fmt.Errorf("sender: write chunk %d: %w", c.Number, err)
		}
		// Write window exhausted: give the peer a chance to free flow
		// control credit (by acking/consuming) before retrying.
	}
}

func (s *Sender) buildPacket(c chunker.Chunk) *wire.ChunkPacket {
	packet := &wire.ChunkPacket{
		SessionID: s.sessionID,
		ChunkID:   c.Number,
		Offset:    c.Offset,
		Data:      c.Data,
		Size:      c.OriginalSize,
		Hash:      c.Checksum,
		IsLast:    c.EndOfFile,
	}
	if s.compression != codec.None && s.compression != "" {
		compressed := uint32(len(c.Data))
		packet.CompressedSize = &compressed
	}
	return packet
}

// waitForResume blocks while the sender is paused, returning early if ctx
// is cancelled.
func (s *Sender) waitForResume(ctx context.Context) error {
	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return nil
	}
	ch := s.resumeCh
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drainFinal keeps the final window open for finalDrainWait of quiet time,
// servicing any retransmit request that arrives on the control stream for
// the last chunk(s) rather than just letting the clock run out under it.
// Every time a request shows up and gets drained, the window is reset, so a
// peer that keeps nacking the tail keeps the stream open; the window only
// closes once finalDrainWait passes with nothing queued. quic-go's
// Stream.Close flushes and FINs on its own, so this precedes that call
// rather than replacing it.
func (s *Sender) drainFinal(ctx context.Context) error {
	if s.drainWait <= 0 {
		return nil
	}
	poll := finalDrainPoll
	if poll > s.drainWait {
		poll = s.drainWait
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	deadline := time.Now().Add(s.drainWait)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.hasPending() {
				if err := s.drainPending(ctx); err != nil {
					return err
				}
				deadline = time.Now().Add(s.drainWait)
				continue
			}
			if time.Now().After(deadline) {
				return nil
			}
		}
	}
}

type timeouter interface {
	Timeout() bool
}

// isTimeout reports whether err is (or wraps) a net.Error reporting a
// timeout, the way a deadline-exceeded QUIC stream write surfaces.
func isTimeout(err error) bool {
	var te timeouter
	if errors.As(err, &te) {
		return te.Timeout()
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
