package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ControlKind identifies which of the six control messages follows on the
// control stream.
type ControlKind uint8

const (
	KindAck ControlKind = iota + 1
	KindNack
	KindRetransmitRequest
	KindCancelRetransmit
	KindPause
	KindResume
)

func (k ControlKind) String() string {
	switch k {
	case KindAck:
		return "ack"
	case KindNack:
		return "nack"
	case KindRetransmitRequest:
		return "retransmit_request"
	case KindCancelRetransmit:
		return "cancel_retransmit"
	case KindPause:
		return "pause"
	case KindResume:
		return "resume"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Ack acknowledges a contiguous or scattered set of received chunks.
type Ack struct {
	SessionID string
	ChunkIDs  []uint64
}

// Nack reports chunks that failed verification and must be resent.
type Nack struct {
	SessionID string
	ChunkIDs  []uint64
	Reason    string
}

// RetransmitRequest asks the sender to resend specific chunks.
type RetransmitRequest struct {
	SessionID string
	ChunkIDs  []uint64
}

// CancelRetransmit withdraws a previously requested retransmission, e.g.
// because the chunk since arrived by another path.
type CancelRetransmit struct {
	SessionID string
	ChunkIDs  []uint64
}

// Pause asks the peer to stop sending data chunks until Resume.
type Pause struct {
	SessionID string
}

// Resume lifts a previously sent Pause.
type Resume struct {
	SessionID string
}

func marshalSessionAndIDs(sessionID string, ids []uint64) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, sessionID)
	for _, id := range ids {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, id)
	}
	return b
}

func unmarshalSessionAndIDs(data []byte, extra func(num protowire.Number, typ protowire.Type, data []byte) (int, error)) (string, []uint64, error) {
	var sessionID string
	var ids []uint64
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", nil, fmt.Errorf("wire: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return "", nil, fmt.Errorf("wire: session_id")
			}
			sessionID = v
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return "", nil, fmt.Errorf("wire: chunk id")
			}
			ids = append(ids, v)
			data = data[n:]
		default:
			if extra != nil {
				consumed, err := extra(num, typ, data)
				if err != nil {
					return "", nil, err
				}
				if consumed > 0 {
					data = data[consumed:]
					continue
				}
			}
			n, err := skipField(data, typ)
			if err != nil {
				return "", nil, err
			}
			data = data[n:]
		}
	}
	return sessionID, ids, nil
}

func (m *Ack) Marshal() []byte { return marshalSessionAndIDs(m.SessionID, m.ChunkIDs) }

func (m *Ack) Unmarshal(data []byte) error {
	sid, ids, err := unmarshalSessionAndIDs(data, nil)
	if err != nil {
		return fmt.Errorf("wire: Ack: %w", err)
	}
	m.SessionID, m.ChunkIDs = sid, ids
	return nil
}

func (m *Nack) Marshal() []byte {
	b := marshalSessionAndIDs(m.SessionID, m.ChunkIDs)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, m.Reason)
	return b
}

func (m *Nack) Unmarshal(data []byte) error {
	var reason string
	sid, ids, err := unmarshalSessionAndIDs(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		if num != 3 {
			return 0, nil
		}
		v, n := protowire.ConsumeString(data)
		if n < 0 {
			return 0, fmt.Errorf("wire: Nack.reason")
		}
		reason = v
		return n, nil
	})
	if err != nil {
		return fmt.Errorf("wire: Nack: %w", err)
	}
	m.SessionID, m.ChunkIDs, m.Reason = sid, ids, reason
	return nil
}

func (m *RetransmitRequest) Marshal() []byte { return marshalSessionAndIDs(m.SessionID, m.ChunkIDs) }

func (m *RetransmitRequest) Unmarshal(data []byte) error {
	sid, ids, err := unmarshalSessionAndIDs(data, nil)
	if err != nil {
		return fmt.Errorf("wire: RetransmitRequest: %w", err)
	}
	m.SessionID, m.ChunkIDs = sid, ids
	return nil
}

func (m *CancelRetransmit) Marshal() []byte { return marshalSessionAndIDs(m.SessionID, m.ChunkIDs) }

func (m *CancelRetransmit) Unmarshal(data []byte) error {
	sid, ids, err := unmarshalSessionAndIDs(data, nil)
	if err != nil {
		return fmt.Errorf("wire: CancelRetransmit: %w", err)
	}
	m.SessionID, m.ChunkIDs = sid, ids
	return nil
}

func marshalSessionOnly(sessionID string) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, sessionID)
	return b
}

func unmarshalSessionOnly(data []byte) (string, error) {
	var sessionID string
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", fmt.Errorf("wire: bad tag")
		}
		data = data[n:]
		if num == 1 {
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return "", fmt.Errorf("wire: session_id")
			}
			sessionID = v
			data = data[n:]
			continue
		}
		n, err := skipField(data, typ)
		if err != nil {
			return "", err
		}
		data = data[n:]
	}
	return sessionID, nil
}

func (m *Pause) Marshal() []byte { return marshalSessionOnly(m.SessionID) }

func (m *Pause) Unmarshal(data []byte) error {
	sid, err := unmarshalSessionOnly(data)
	if err != nil {
		return fmt.Errorf("wire: Pause: %w", err)
	}
	m.SessionID = sid
	return nil
}

func (m *Resume) Marshal() []byte { return marshalSessionOnly(m.SessionID) }

func (m *Resume) Unmarshal(data []byte) error {
	sid, err := unmarshalSessionOnly(data)
	if err != nil {
		return fmt.Errorf("wire: Resume: %w", err)
	}
	m.SessionID = sid
	return nil
}
