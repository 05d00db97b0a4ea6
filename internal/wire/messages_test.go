package wire

import (
	"bytes"
	"testing"
)

func strPtr(s string) *string { return &s }
func u32Ptr(v uint32) *uint32 { return &v }
func u64Ptr(v uint64) *uint64 { return &v }

func TestSessionStartRoundTrip(t *testing.T) {
	want := SessionStart{
		SessionID:   "test-session-123",
		FilePath:    "/path/to/file.txt",
		FileSize:    1024,
		ChunkSize:   256,
		TotalChunks: 4,
		Compression: "zstd",
		Metadata:    strPtr(`{"key": "value"}`),
	}
	encoded := want.Marshal()
	var got SessionStart
	if err := got.Unmarshal(encoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.SessionID != want.SessionID || got.FilePath != want.FilePath || got.FileSize != want.FileSize ||
		got.ChunkSize != want.ChunkSize || got.TotalChunks != want.TotalChunks || got.Compression != want.Compression ||
		got.Metadata == nil || *got.Metadata != *want.Metadata {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	want := Manifest{
		SessionID:    "test-session",
		FileName:     "test.dat",
		FileSize:     2048,
		ChunkSize:    512,
		TotalChunks:  2,
		FileHash:     []byte{1, 2, 3, 4},
		ChunkHashes:  [][]byte{{5, 6}, {7, 8}},
		Compression:  "lz4hc",
		OriginalSize: u64Ptr(2048),
	}
	encoded := want.Marshal()
	var got Manifest
	if err := got.Unmarshal(encoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.SessionID != want.SessionID || got.FileName != want.FileName || len(got.ChunkHashes) != 2 {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
	if !bytes.Equal(got.ChunkHashes[0], []byte{5, 6}) || !bytes.Equal(got.ChunkHashes[1], []byte{7, 8}) {
		t.Fatalf("chunk hashes mismatch: %v", got.ChunkHashes)
	}
	if got.OriginalSize == nil || *got.OriginalSize != 2048 {
		t.Fatalf("original size mismatch: %v", got.OriginalSize)
	}
}

func TestChunkPacketRoundTrip(t *testing.T) {
	want := ChunkPacket{
		SessionID:      "session-1",
		ChunkID:        42,
		Offset:         1024,
		Data:           []byte{0xDE, 0xAD, 0xBE, 0xEF},
		Size:           4,
		CompressedSize: u32Ptr(3),
		Hash:           bytes.Repeat([]byte{0xFF}, 32),
		IsLast:         false,
		Sequence:       u64Ptr(100),
	}
	encoded := want.Marshal()
	var got ChunkPacket
	if err := got.Unmarshal(encoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ChunkID != want.ChunkID || got.Offset != want.Offset || !bytes.Equal(got.Data, want.Data) ||
		got.CompressedSize == nil || *got.CompressedSize != 3 || !bytes.Equal(got.Hash, want.Hash) ||
		got.IsLast != want.IsLast || got.Sequence == nil || *got.Sequence != 100 {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestResumeRequestRoundTrip(t *testing.T) {
	want := ResumeRequest{
		SessionID:      "resume-session",
		ReceivedChunks: []uint64{0, 1, 2, 5, 6},
		ReceivedBitmap: []byte{0b11100111},
		LastChunkID:    u64Ptr(6),
	}
	encoded := want.Marshal()
	var got ResumeRequest
	if err := got.Unmarshal(encoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.ReceivedChunks) != 5 || got.LastChunkID == nil || *got.LastChunkID != 6 {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestStatusUpdateRoundTrip(t *testing.T) {
	want := StatusUpdate{
		SessionID:         "status-session",
		State:             StateTransferring,
		ChunksTransferred: 50,
		TotalChunks:       100,
		BytesTransferred:  51200,
		TotalBytes:        102400,
		TransferRate:      u64Ptr(10240),
		ETASeconds:        u64Ptr(5),
		Message:           strPtr("50% complete"),
	}
	encoded := want.Marshal()
	var got StatusUpdate
	if err := got.Unmarshal(encoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.State != StateTransferring || got.ChunksTransferred != 50 || got.Message == nil || *got.Message != "50% complete" {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestTransferCompleteRoundTrip(t *testing.T) {
	want := TransferComplete{
		SessionID:         "complete-session",
		Success:           true,
		ChunksTransferred: 100,
		BytesTransferred:  102400,
		FileHash:          bytes.Repeat([]byte{0xAB}, 32),
		DurationMs:        5000,
		AvgTransferRate:   20480,
	}
	encoded := want.Marshal()
	var got TransferComplete
	if err := got.Unmarshal(encoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Success != true || got.DurationMs != 5000 || !bytes.Equal(got.FileHash, want.FileHash) || got.Error != nil {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestControlMessagesRoundTrip(t *testing.T) {
	ack := Ack{SessionID: "s1", ChunkIDs: []uint64{1, 2, 3}}
	var gotAck Ack
	if err := gotAck.Unmarshal(ack.Marshal()); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if len(gotAck.ChunkIDs) != 3 {
		t.Fatalf("Ack round trip mismatch: %+v", gotAck)
	}

	nack := Nack{SessionID: "s1", ChunkIDs: []uint64{4, 5}, Reason: "checksum mismatch"}
	var gotNack Nack
	if err := gotNack.Unmarshal(nack.Marshal()); err != nil {
		t.Fatalf("Nack: %v", err)
	}
	if gotNack.Reason != "checksum mismatch" || len(gotNack.ChunkIDs) != 2 {
		t.Fatalf("Nack round trip mismatch: %+v", gotNack)
	}

	pause := Pause{SessionID: "s1"}
	var gotPause Pause
	if err := gotPause.Unmarshal(pause.Marshal()); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if gotPause.SessionID != "s1" {
		t.Fatalf("Pause round trip mismatch: %+v", gotPause)
	}
}

func TestTransferStateEnum(t *testing.T) {
	if StateInitializing != 0 || StateTransferring != 4 || StateCompleted != 7 {
		t.Fatalf("unexpected enum values: init=%d transferring=%d completed=%d",
			StateInitializing, StateTransferring, StateCompleted)
	}
}
