// Package wire defines the protobuf-encoded messages exchanged on the four
// QUIC streams and the length-prefixed framing used to carry them.
//
// Each message type hand-rolls its own Marshal/Unmarshal using
// google.golang.org/protobuf/encoding/protowire rather than a generated
// .pb.go, since the set of messages is small and fixed. Field numbers below
// match the wire tags; do not renumber a field without bumping every
// deployed peer.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// TransferState mirrors the orchestrator's phase enum on the wire.
type TransferState int32

const (
	StateInitializing TransferState = iota
	StateHandshaking
	StateSendingManifest
	StateReceivingManifest
	StateTransferring
	StateResuming
	StateCompleting
	StateCompleted
	StateFailed
	StateCancelled
)

// SessionStart opens a transfer on the control stream.
type SessionStart struct {
	SessionID   string
	FilePath    string
	FileSize    uint64
	ChunkSize   uint32
	TotalChunks uint64
	Compression string
	Metadata    *string
}

// Manifest is the wire form of internal/manifest.Manifest, sent once on the
// manifest stream.
type Manifest struct {
	SessionID    string
	FileName     string
	FileSize     uint64
	ChunkSize    uint32
	TotalChunks  uint64
	FileHash     []byte
	ChunkHashes  [][]byte
	Compression  string
	OriginalSize *uint64
}

// ChunkPacket carries one chunk's payload on the data stream.
type ChunkPacket struct {
	SessionID      string
	ChunkID        uint64
	Offset         uint64
	Data           []byte
	Size           uint32
	CompressedSize *uint32
	Hash           []byte
	IsLast         bool
	Sequence       *uint64
}

// ResumeRequest asks the receiver which chunks remain outstanding for a
// previously-started session.
type ResumeRequest struct {
	SessionID       string
	ReceivedChunks  []uint64
	ReceivedBitmap  []byte
	LastChunkID     *uint64
}

// ResumeResponse answers a ResumeRequest.
type ResumeResponse struct {
	SessionID       string
	Accepted        bool
	MissingChunks   []uint64
	ChunksRemaining uint64
	Error           *string
}

// StatusUpdate reports progress on the status stream.
type StatusUpdate struct {
	SessionID          string
	State              TransferState
	ChunksTransferred  uint64
	TotalChunks        uint64
	BytesTransferred   uint64
	TotalBytes         uint64
	TransferRate       *uint64
	ETASeconds         *uint64
	Message            *string
}

// TransferComplete closes out a session on the status stream.
type TransferComplete struct {
	SessionID         string
	Success           bool
	ChunksTransferred uint64
	BytesTransferred  uint64
	FileHash          []byte
	DurationMs        uint64
	AvgTransferRate   uint64
	Error             *string
}

func (m *SessionStart) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.SessionID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, m.FilePath)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, m.FileSize)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.ChunkSize))
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, m.TotalChunks)
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	b = protowire.AppendString(b, m.Compression)
	if m.Metadata != nil {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendString(b, *m.Metadata)
	}
	return b
}

func (m *SessionStart) Unmarshal(data []byte) error {
	*m = SessionStart{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("wire: SessionStart: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: SessionStart.session_id")
			}
			m.SessionID = v
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: SessionStart.file_path")
			}
			m.FilePath = v
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: SessionStart.file_size")
			}
			m.FileSize = v
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: SessionStart.chunk_size")
			}
			m.ChunkSize = uint32(v)
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: SessionStart.total_chunks")
			}
			m.TotalChunks = v
			data = data[n:]
		case 6:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: SessionStart.compression")
			}
			m.Compression = v
			data = data[n:]
		case 7:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: SessionStart.metadata")
			}
			m.Metadata = &v
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return err
			}
			data = data[n:]
		}
	}
	return nil
}

func (m *Manifest) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.SessionID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, m.FileName)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, m.FileSize)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.ChunkSize))
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, m.TotalChunks)
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	b = protowire.AppendBytes(b, m.FileHash)
	for _, h := range m.ChunkHashes {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendBytes(b, h)
	}
	b = protowire.AppendTag(b, 8, protowire.BytesType)
	b = protowire.AppendString(b, m.Compression)
	if m.OriginalSize != nil {
		b = protowire.AppendTag(b, 9, protowire.VarintType)
		b = protowire.AppendVarint(b, *m.OriginalSize)
	}
	return b
}

func (m *Manifest) Unmarshal(data []byte) error {
	*m = Manifest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("wire: Manifest: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: Manifest.session_id")
			}
			m.SessionID = v
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: Manifest.file_name")
			}
			m.FileName = v
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: Manifest.file_size")
			}
			m.FileSize = v
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: Manifest.chunk_size")
			}
			m.ChunkSize = uint32(v)
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: Manifest.total_chunks")
			}
			m.TotalChunks = v
			data = data[n:]
		case 6:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("wire: Manifest.file_hash")
			}
			m.FileHash = append([]byte(nil), v...)
			data = data[n:]
		case 7:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("wire: Manifest.chunk_hashes")
			}
			m.ChunkHashes = append(m.ChunkHashes, append([]byte(nil), v...))
			data = data[n:]
		case 8:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: Manifest.compression")
			}
			m.Compression = v
			data = data[n:]
		case 9:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: Manifest.original_size")
			}
			m.OriginalSize = &v
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return err
			}
			data = data[n:]
		}
	}
	return nil
}

func (m *ChunkPacket) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.SessionID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, m.ChunkID)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Offset)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Data)
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Size))
	if m.CompressedSize != nil {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*m.CompressedSize))
	}
	b = protowire.AppendTag(b, 7, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Hash)
	b = protowire.AppendTag(b, 8, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToUint(m.IsLast))
	if m.Sequence != nil {
		b = protowire.AppendTag(b, 9, protowire.VarintType)
		b = protowire.AppendVarint(b, *m.Sequence)
	}
	return b
}

func (m *ChunkPacket) Unmarshal(data []byte) error {
	*m = ChunkPacket{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("wire: ChunkPacket: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: ChunkPacket.session_id")
			}
			m.SessionID = v
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: ChunkPacket.chunk_id")
			}
			m.ChunkID = v
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: ChunkPacket.offset")
			}
			m.Offset = v
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("wire: ChunkPacket.data")
			}
			m.Data = append([]byte(nil), v...)
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: ChunkPacket.size")
			}
			m.Size = uint32(v)
			data = data[n:]
		case 6:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: ChunkPacket.compressed_size")
			}
			cs := uint32(v)
			m.CompressedSize = &cs
			data = data[n:]
		case 7:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("wire: ChunkPacket.hash")
			}
			m.Hash = append([]byte(nil), v...)
			data = data[n:]
		case 8:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: ChunkPacket.is_last")
			}
			m.IsLast = v != 0
			data = data[n:]
		case 9:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: ChunkPacket.sequence")
			}
			m.Sequence = &v
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return err
			}
			data = data[n:]
		}
	}
	return nil
}

func (m *ResumeRequest) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.SessionID)
	for _, c := range m.ReceivedChunks {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, c)
	}
	if m.ReceivedBitmap != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, m.ReceivedBitmap)
	}
	if m.LastChunkID != nil {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, *m.LastChunkID)
	}
	return b
}

func (m *ResumeRequest) Unmarshal(data []byte) error {
	*m = ResumeRequest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("wire: ResumeRequest: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: ResumeRequest.session_id")
			}
			m.SessionID = v
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: ResumeRequest.received_chunks")
			}
			m.ReceivedChunks = append(m.ReceivedChunks, v)
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("wire: ResumeRequest.received_bitmap")
			}
			m.ReceivedBitmap = append([]byte(nil), v...)
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: ResumeRequest.last_chunk_id")
			}
			m.LastChunkID = &v
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return err
			}
			data = data[n:]
		}
	}
	return nil
}

func (m *ResumeResponse) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.SessionID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToUint(m.Accepted))
	for _, c := range m.MissingChunks {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, c)
	}
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, m.ChunksRemaining)
	if m.Error != nil {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, *m.Error)
	}
	return b
}

func (m *ResumeResponse) Unmarshal(data []byte) error {
	*m = ResumeResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("wire: ResumeResponse: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: ResumeResponse.session_id")
			}
			m.SessionID = v
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: ResumeResponse.accepted")
			}
			m.Accepted = v != 0
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: ResumeResponse.missing_chunks")
			}
			m.MissingChunks = append(m.MissingChunks, v)
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: ResumeResponse.chunks_remaining")
			}
			m.ChunksRemaining = v
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: ResumeResponse.error")
			}
			m.Error = &v
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return err
			}
			data = data[n:]
		}
	}
	return nil
}

func (m *StatusUpdate) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.SessionID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.State))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, m.ChunksTransferred)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, m.TotalChunks)
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, m.BytesTransferred)
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, m.TotalBytes)
	if m.TransferRate != nil {
		b = protowire.AppendTag(b, 7, protowire.VarintType)
		b = protowire.AppendVarint(b, *m.TransferRate)
	}
	if m.ETASeconds != nil {
		b = protowire.AppendTag(b, 8, protowire.VarintType)
		b = protowire.AppendVarint(b, *m.ETASeconds)
	}
	if m.Message != nil {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendString(b, *m.Message)
	}
	return b
}

func (m *StatusUpdate) Unmarshal(data []byte) error {
	*m = StatusUpdate{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("wire: StatusUpdate: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: StatusUpdate.session_id")
			}
			m.SessionID = v
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: StatusUpdate.state")
			}
			m.State = TransferState(v)
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: StatusUpdate.chunks_transferred")
			}
			m.ChunksTransferred = v
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: StatusUpdate.total_chunks")
			}
			m.TotalChunks = v
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: StatusUpdate.bytes_transferred")
			}
			m.BytesTransferred = v
			data = data[n:]
		case 6:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: StatusUpdate.total_bytes")
			}
			m.TotalBytes = v
			data = data[n:]
		case 7:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: StatusUpdate.transfer_rate")
			}
			m.TransferRate = &v
			data = data[n:]
		case 8:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: StatusUpdate.eta_seconds")
			}
			m.ETASeconds = &v
			data = data[n:]
		case 9:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: StatusUpdate.message")
			}
			m.Message = &v
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return err
			}
			data = data[n:]
		}
	}
	return nil
}

func (m *TransferComplete) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.SessionID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToUint(m.Success))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, m.ChunksTransferred)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, m.BytesTransferred)
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendBytes(b, m.FileHash)
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, m.DurationMs)
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, m.AvgTransferRate)
	if m.Error != nil {
		b = protowire.AppendTag(b, 8, protowire.BytesType)
		b = protowire.AppendString(b, *m.Error)
	}
	return b
}

func (m *TransferComplete) Unmarshal(data []byte) error {
	*m = TransferComplete{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("wire: TransferComplete: bad tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: TransferComplete.session_id")
			}
			m.SessionID = v
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: TransferComplete.success")
			}
			m.Success = v != 0
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: TransferComplete.chunks_transferred")
			}
			m.ChunksTransferred = v
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: TransferComplete.bytes_transferred")
			}
			m.BytesTransferred = v
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("wire: TransferComplete.file_hash")
			}
			m.FileHash = append([]byte(nil), v...)
			data = data[n:]
		case 6:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: TransferComplete.duration_ms")
			}
			m.DurationMs = v
			data = data[n:]
		case 7:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("wire: TransferComplete.avg_transfer_rate")
			}
			m.AvgTransferRate = v
			data = data[n:]
		case 8:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: TransferComplete.error")
			}
			m.Error = &v
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return err
			}
			data = data[n:]
		}
	}
	return nil
}

func boolToUint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func skipField(data []byte, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, data)
	if n < 0 {
		return 0, fmt.Errorf("wire: cannot skip unknown field")
	}
	return n, nil
}
