// Package control dispatches the six control-stream message kinds to
// per-session handlers. One dispatcher instance serves one session; a
// session never has two control messages in flight at once, so handlers
// run synchronously in the order frames arrive.
package control

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/quantarax/filepipe/internal/wire"
)

// Handlers receives the decoded payload for whichever of the six kinds was
// dispatched. Exactly one field is populated per call.
type Handlers struct {
	OnAck               func(*wire.Ack) error
	OnNack              func(*wire.Nack) error
	OnRetransmitRequest func(*wire.RetransmitRequest) error
	OnCancelRetransmit  func(*wire.CancelRetransmit) error
	OnPause             func(*wire.Pause) error
	OnResume            func(*wire.Resume) error
}

// Dispatcher reads framed control messages from a stream and routes them
// to Handlers by kind, dropping and logging anything it doesn't recognize.
type Dispatcher struct {
	r        io.Reader
	handlers Handlers
	log      zerolog.Logger
}

// New creates a dispatcher reading frames from r.
func New(r io.Reader, handlers Handlers, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{r: r, handlers: handlers, log: log}
}

// Run processes control frames until r returns io.EOF (clean session end)
// or a fatal framing/decode error occurs.
func (d *Dispatcher) Run() error {
	for {
		kind, payload, err := ReadMessage(d.r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("control: read message: %w", err)
		}
		if err := d.dispatch(kind, payload); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) dispatch(kind wire.ControlKind, payload []byte) error {
	switch kind {
	case wire.KindAck:
		var m wire.Ack
		if err := m.Unmarshal(payload); err != nil {
			return fmt.Errorf("control: decode ack: %w", err)
		}
		if d.handlers.OnAck != nil {
			return d.handlers.OnAck(&m)
		}
	case wire.KindNack:
		var m wire.Nack
		if err := m.Unmarshal(payload); err != nil {
			return fmt.Errorf("control: decode nack: %w", err)
		}
		if d.handlers.OnNack != nil {
			return d.handlers.OnNack(&m)
		}
	case wire.KindRetransmitRequest:
		var m wire.RetransmitRequest
		if err := m.Unmarshal(payload); err != nil {
			return fmt.Errorf("control: decode retransmit request: %w", err)
		}
		if d.handlers.OnRetransmitRequest != nil {
			return d.handlers.OnRetransmitRequest(&m)
		}
	case wire.KindCancelRetransmit:
		var m wire.CancelRetransmit
		if err := m.Unmarshal(payload); err != nil {
			return fmt.Errorf("control: decode cancel retransmit: %w", err)
		}
		if d.handlers.OnCancelRetransmit != nil {
			return d.handlers.OnCancelRetransmit(&m)
		}
	case wire.KindPause:
		var m wire.Pause
		if err := m.Unmarshal(payload); err != nil {
			return fmt.Errorf("control: decode pause: %w", err)
		}
		if d.handlers.OnPause != nil {
			return d.handlers.OnPause(&m)
		}
	case wire.KindResume:
		var m wire.Resume
		if err := m.Unmarshal(payload); err != nil {
			return fmt.Errorf("control: decode resume: %w", err)
		}
		if d.handlers.OnResume != nil {
			return d.handlers.OnResume(&m)
		}
	default:
		d.log.Warn().Uint8("kind", uint8(kind)).Msg("dropping unknown control message")
	}
	return nil
}

// marshaler is satisfied by every control message type in internal/wire.
type marshaler interface {
	Marshal() []byte
}

// WriteMessage frames and writes one control message, prefixed with its
// kind byte so the peer's Dispatcher can route it before decoding.
func WriteMessage(w io.Writer, kind wire.ControlKind, msg marshaler) error {
	payload := msg.Marshal()
	framed := make([]byte, 1+len(payload))
	framed[0] = byte(kind)
	copy(framed[1:], payload)
	return wire.WriteFrame(w, framed)
}

// ReadMessage reads one control-stream frame and splits it into its kind
// byte and message payload.
func ReadMessage(r io.Reader) (wire.ControlKind, []byte, error) {
	framed, err := wire.ReadFrame(r, wire.MaxControlFrame)
	if err != nil {
		return 0, nil, err
	}
	if len(framed) < 1 {
		return 0, nil, fmt.Errorf("control: empty frame")
	}
	return wire.ControlKind(framed[0]), framed[1:], nil
}
