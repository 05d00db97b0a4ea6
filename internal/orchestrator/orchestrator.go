// Package orchestrator drives one transfer end to end: handshake, manifest
// exchange, chunk transfer, and completion, wiring together the control
// dispatcher, the sender or receiver, and the session's persisted state.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantarax/filepipe/internal/chunker"
	"github.com/quantarax/filepipe/internal/codec"
	"github.com/quantarax/filepipe/internal/control"
	"github.com/quantarax/filepipe/internal/manifest"
	"github.com/quantarax/filepipe/internal/observability"
	"github.com/quantarax/filepipe/internal/receiver"
	"github.com/quantarax/filepipe/internal/sender"
	"github.com/quantarax/filepipe/internal/session"
	"github.com/quantarax/filepipe/internal/transport"
	"github.com/quantarax/filepipe/internal/wire"
)

// Config collects the knobs an orchestrated transfer needs, independent of
// any one config-file format.
type Config struct {
	ChunkSize       uint32
	Compression     codec.Tag
	MaxRetries      uint32
	RetryTimeout    time.Duration
	RetransmitBatch int
	WriteMode       receiver.WriteMode
	SessionDir      string
	ResumeDir       string
	PersistEveryN   uint64
}

// withDefaults fills in zero fields with spec.md's defaults.
func (c Config) withDefaults() Config {
	if c.ChunkSize == 0 {
		c.ChunkSize = chunker.DefaultChunkSize
	}
	if c.Compression == "" {
		c.Compression = codec.None
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.RetryTimeout == 0 {
		c.RetryTimeout = 5 * time.Second
	}
	if c.RetransmitBatch == 0 {
		c.RetransmitBatch = 32
	}
	if c.PersistEveryN == 0 {
		c.PersistEveryN = session.DefaultPersistEveryN
	}
	return c
}

// statusKind tags a frame on the status stream the same way internal/control tags
// control-stream frames: one byte ahead of the protobuf payload.
type statusKind uint8

const (
	statusUpdateKind statusKind = iota
	statusCompleteKind
)

func writeStatus(w io.Writer, kind statusKind, payload []byte) error {
	framed := make([]byte, 1+len(payload))
	framed[0] = byte(kind)
	copy(framed[1:], payload)
	return wire.WriteFrame(w, framed)
}

// Send runs a complete outbound transfer of filePath to destination over
// conn, returning the final session record.
func Send(ctx context.Context, conn *transport.Connection, filePath, destination string, cfg Config, log zerolog.Logger) (*session.Session, error) {
	cfg = cfg.withDefaults()
	mgr := session.NewManager(cfg.SessionDir, cfg.ResumeDir)
	mgr.PersistEveryN = cfg.PersistEveryN

	sessID := session.DeriveID(filePath)
	log = log.With().Str("session_id", sessID).Str("file", filePath).Logger()

	ctx, span := observability.StartTransferSpan(ctx, sessID, "send", filePath)

	m, err := manifest.NewBuilder(sessID).FilePath(filePath).ChunkSize(cfg.ChunkSize).Compression(cfg.Compression).BuildParallel(ctx)
	if err != nil {
		observability.EndTransferSpan(span, 0, 0, err)
		return nil, fmt.Errorf("orchestrator: build manifest: %w", err)
	}

	sess := session.New(sessID, filePath, destination, m.FileSize, m.ChunkSize, m.TotalChunks, session.DirectionSend)
	var sent uint64
	fail := func(cause error) (*session.Session, error) {
		observability.EndTransferSpan(span, sent, m.FileSize, cause)
		_ = sess.TransitionTo(session.StateFailed, cause.Error())
		_ = mgr.OnPhaseTransition(sess)
		return sess, cause
	}

	if err := sess.TransitionTo(session.StateHandshaking, ""); err != nil {
		return fail(err)
	}
	if err := mgr.OnPhaseTransition(sess); err != nil {
		log.Warn().Err(err).Msg("persist session at handshaking")
	}

	start := &wire.SessionStart{
		SessionID:   sessID,
		FilePath:    filePath,
		FileSize:    m.FileSize,
		ChunkSize:   m.ChunkSize,
		TotalChunks: m.TotalChunks,
		Compression: string(cfg.Compression),
	}
	if err := wire.WriteFrame(conn.Stream(transport.StreamControl), start.Marshal()); err != nil {
		return fail(fmt.Errorf("orchestrator: send session start: %w", err))
	}

	if err := sess.TransitionTo(session.StateSendingManifest, ""); err != nil {
		return fail(err)
	}
	if err := mgr.OnPhaseTransition(sess); err != nil {
		log.Warn().Err(err).Msg("persist session at sending_manifest")
	}
	if err := wire.WriteFrame(conn.Stream(transport.StreamManifest), m.ToWire().Marshal()); err != nil {
		return fail(fmt.Errorf("orchestrator: send manifest: %w", err))
	}

	resumeBitmap, resumed, err := mgr.DiscoverResume(sessID)
	if err != nil {
		log.Warn().Err(err).Msg("resume discovery failed, starting fresh")
	}
	if resumed {
		if err := sess.TransitionTo(session.StateResuming, ""); err != nil {
			return fail(err)
		}
		if err := mgr.OnPhaseTransition(sess); err != nil {
			log.Warn().Err(err).Msg("persist session at resuming")
		}
		log.Info().Uint32("already_received", resumeBitmap.ReceivedCount()).Msg("resuming prior transfer")
	}

	if err := sess.TransitionTo(session.StateTransferring, ""); err != nil {
		return fail(err)
	}
	if err := mgr.OnPhaseTransition(sess); err != nil {
		log.Warn().Err(err).Msg("persist session at transferring")
	}

	fc, err := chunker.Open(filePath, cfg.ChunkSize, cfg.Compression)
	if err != nil {
		return fail(fmt.Errorf("orchestrator: open chunker: %w", err))
	}
	defer fc.Close()

	snd := sender.New(conn.Stream(transport.StreamData), sessID, filePath, cfg.ChunkSize, cfg.Compression, sender.Callbacks{
		OnChunkSent: func(n uint64) {
			sess.MarkSent(n)
			_ = mgr.OnChunkVerified(sess)
		},
	})
	if resumed {
		snd.Skip = func(n uint64) bool { return resumeBitmap.IsReceived(n) }
	}

	ctrlErrCh := make(chan error, 1)
	go func() {
		disp := control.New(conn.Stream(transport.StreamControl), control.Handlers{
			OnAck: func(a *wire.Ack) error {
				for _, id := range a.ChunkIDs {
					sess.MarkAcknowledged(id)
				}
				return nil
			},
			OnNack: func(n *wire.Nack) error {
				snd.RequestRetransmit(n.ChunkIDs)
				return nil
			},
			OnRetransmitRequest: func(r *wire.RetransmitRequest) error {
				snd.RequestRetransmit(r.ChunkIDs)
				return nil
			},
			OnCancelRetransmit: func(c *wire.CancelRetransmit) error {
				snd.CancelRetransmit(c.ChunkIDs)
				return nil
			},
			OnPause:  func(*wire.Pause) error { snd.Pause(); return nil },
			OnResume: func(*wire.Resume) error { snd.Resume(); return nil },
		}, log)
		ctrlErrCh <- disp.Run()
	}()

	var runErr error
	sent, runErr = snd.Run(ctx, fc)
	log.Info().Uint64("chunks_sent", sent).Msg("forward pass complete")
	if runErr != nil {
		return fail(fmt.Errorf("orchestrator: sender run: %w", runErr))
	}

	select {
	case ctrlErr := <-ctrlErrCh:
		if ctrlErr != nil {
			log.Warn().Err(ctrlErr).Msg("control dispatcher ended with error")
		}
	default:
		// Dispatcher keeps running (peer may still send late acks); it
		// exits on its own once the control stream sees EOF at Close.
	}

	if err := sess.TransitionTo(session.StateCompleting, ""); err != nil {
		return fail(err)
	}
	if err := mgr.OnPhaseTransition(sess); err != nil {
		log.Warn().Err(err).Msg("persist session at completing")
	}

	complete := &wire.TransferComplete{
		SessionID:         sessID,
		Success:           true,
		ChunksTransferred: sent,
		BytesTransferred:  m.FileSize,
		FileHash:          m.FileHash,
	}
	if err := writeStatus(conn.Stream(transport.StreamStatus), statusCompleteKind, complete.Marshal()); err != nil {
		log.Warn().Err(err).Msg("send transfer complete status")
	}

	if err := sess.TransitionTo(session.StateCompleted, ""); err != nil {
		return fail(err)
	}
	if err := mgr.OnPhaseTransition(sess); err != nil {
		log.Warn().Err(err).Msg("persist session at completed")
	}
	observability.EndTransferSpan(span, sent, m.FileSize, nil)
	return sess, nil
}

// Receive runs a complete inbound transfer into outputDir over conn,
// returning the final session record once the file is finalized.
func Receive(ctx context.Context, conn *transport.Connection, outputDir string, cfg Config, log zerolog.Logger) (*session.Session, error) {
	cfg = cfg.withDefaults()
	mgr := session.NewManager(cfg.SessionDir, cfg.ResumeDir)
	mgr.PersistEveryN = cfg.PersistEveryN

	startPayload, err := wire.ReadFrame(conn.Stream(transport.StreamControl), wire.MaxControlFrame)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: read session start: %w", err)
	}
	var start wire.SessionStart
	if err := start.Unmarshal(startPayload); err != nil {
		return nil, fmt.Errorf("orchestrator: decode session start: %w", err)
	}

	log = log.With().Str("session_id", start.SessionID).Str("file", start.FilePath).Logger()

	sess := session.New(start.SessionID, start.FilePath, conn.PeerAddr(), start.FileSize, start.ChunkSize, start.TotalChunks, session.DirectionReceive)
	_, span := observability.StartTransferSpan(ctx, sess.ID, "receive", start.FilePath)
	fail := func(cause error) (*session.Session, error) {
		acked, _ := sess.Progress()
		observability.EndTransferSpan(span, acked, start.FileSize, cause)
		_ = sess.TransitionTo(session.StateFailed, cause.Error())
		_ = mgr.OnPhaseTransition(sess)
		return sess, cause
	}

	if err := sess.TransitionTo(session.StateHandshaking, ""); err != nil {
		return fail(err)
	}
	if err := sess.TransitionTo(session.StateReceivingManifest, ""); err != nil {
		return fail(err)
	}
	if err := mgr.OnPhaseTransition(sess); err != nil {
		log.Warn().Err(err).Msg("persist session at receiving_manifest")
	}

	manifestPayload, err := wire.ReadFrame(conn.Stream(transport.StreamManifest), wire.MaxManifestFrame)
	if err != nil {
		return fail(fmt.Errorf("orchestrator: read manifest: %w", err))
	}
	var wireManifest wire.Manifest
	if err := wireManifest.Unmarshal(manifestPayload); err != nil {
		return fail(fmt.Errorf("orchestrator: decode manifest: %w", err))
	}
	m := manifest.FromWire(&wireManifest)
	if err := manifest.NewValidator().Validate(m); err != nil {
		return fail(fmt.Errorf("orchestrator: invalid manifest: %w", err))
	}
	sess.SetTotalChunks(m.TotalChunks)

	resumeBitmap, resumed, err := mgr.DiscoverResume(sess.ID)
	if err != nil {
		log.Warn().Err(err).Msg("resume discovery failed, starting fresh")
	}
	if resumed {
		if err := sess.TransitionTo(session.StateResuming, ""); err != nil {
			return fail(err)
		}
		if err := mgr.OnPhaseTransition(sess); err != nil {
			log.Warn().Err(err).Msg("persist session at resuming")
		}
	}

	if err := sess.TransitionTo(session.StateTransferring, ""); err != nil {
		return fail(err)
	}
	if err := mgr.OnPhaseTransition(sess); err != nil {
		log.Warn().Err(err).Msg("persist session at transferring")
	}

	ctrlStream := conn.Stream(transport.StreamControl)
	rcv, err := receiver.New(outputDir, m.FileName, m.FileSize, m.Compression, cfg.WriteMode, receiver.Callbacks{
		RequestMissing: func(ids []uint64) error {
			req := &wire.RetransmitRequest{SessionID: sess.ID, ChunkIDs: ids}
			return control.WriteMessage(ctrlStream, wire.KindRetransmitRequest, req)
		},
		SendNack: func(id uint64, reason string) error {
			n := &wire.Nack{SessionID: sess.ID, ChunkIDs: []uint64{id}, Reason: reason}
			return control.WriteMessage(ctrlStream, wire.KindNack, n)
		},
	})
	if err != nil {
		return fail(fmt.Errorf("orchestrator: create receiver: %w", err))
	}
	if resumed {
		rcv.Bitmap().Reset()
		for _, n := range resumeBitmap.GetReceivedChunks() {
			rcv.Bitmap().MarkReceived(n, false)
		}
	}

	dataStream := conn.Stream(transport.StreamData)
	for {
		payload, err := wire.ReadFrame(dataStream, dataFrameCeiling(cfg.ChunkSize))
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(fmt.Errorf("orchestrator: read chunk frame: %w", err))
		}
		var packet wire.ChunkPacket
		if err := packet.Unmarshal(payload); err != nil {
			return fail(fmt.Errorf("orchestrator: decode chunk: %w", err))
		}
		if recvErr := rcv.Receive(&packet); recvErr != nil {
			log.Warn().Err(recvErr).Uint64("chunk", packet.ChunkID).Msg("chunk rejected")
			continue
		}
		ack := &wire.Ack{SessionID: sess.ID, ChunkIDs: []uint64{packet.ChunkID}}
		if err := control.WriteMessage(ctrlStream, wire.KindAck, ack); err != nil {
			log.Warn().Err(err).Msg("send ack")
		}
		if err := mgr.OnChunkVerified(sess); err != nil {
			log.Warn().Err(err).Msg("persist session progress")
		}
		if err := mgr.PersistBitmap(sess.ID, rcv.Bitmap()); err != nil {
			log.Warn().Err(err).Msg("persist resume bitmap")
		}
	}

	if !rcv.IsComplete() {
		if err := rcv.RequestMissingChunks(cfg.RetransmitBatch); err != nil {
			log.Warn().Err(err).Msg("request missing chunks after eof")
		}
	}

	if err := sess.TransitionTo(session.StateCompleting, ""); err != nil {
		return fail(err)
	}
	if err := mgr.OnPhaseTransition(sess); err != nil {
		log.Warn().Err(err).Msg("persist session at completing")
	}

	if err := rcv.Finalize(m.FileHash); err != nil {
		return fail(fmt.Errorf("orchestrator: finalize: %w", err))
	}

	if err := sess.TransitionTo(session.StateCompleted, ""); err != nil {
		return fail(err)
	}
	if err := mgr.OnPhaseTransition(sess); err != nil {
		log.Warn().Err(err).Msg("persist session at completed")
	}
	acked, _ := sess.Progress()
	observability.EndTransferSpan(span, acked, start.FileSize, nil)
	return sess, nil
}

// dataFrameCeiling bounds a data-stream frame at a chunk's worst-case
// expanded size: the declared chunk size plus a fixed allowance for a
// pathological compression expansion.
func dataFrameCeiling(chunkSize uint32) uint32 {
	const slack = 4096
	return chunkSize + slack
}
