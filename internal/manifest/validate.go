package manifest

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/quantarax/filepipe/internal/codec"
	"github.com/quantarax/filepipe/internal/hasher"
)

const (
	minChunkSize = 1024
	maxChunkSize = 100 * 1024 * 1024
	maxFileSize  = 1024 * 1024 * 1024 * 1024
)

// Validator checks a Manifest against the wire-format invariants. Strict
// mode adds checks that are advisory rather than load-bearing for resume
// correctness.
type Validator struct {
	Strict bool
}

// NewValidator returns a non-strict validator.
func NewValidator() *Validator { return &Validator{} }

// NewStrictValidator returns a validator with strict-mode checks enabled.
func NewStrictValidator() *Validator { return &Validator{Strict: true} }

// Validate runs every check; the first violation found is returned.
func (v *Validator) Validate(m *Manifest) error {
	if err := v.ValidateSessionID(m.SessionID); err != nil {
		return err
	}
	if err := v.ValidateFileName(m.FileName); err != nil {
		return err
	}
	if err := v.ValidateFileSize(m.FileSize); err != nil {
		return err
	}
	if err := v.ValidateChunkSize(m.ChunkSize); err != nil {
		return err
	}
	if err := v.ValidateChunkCount(m.FileSize, m.ChunkSize, m.TotalChunks); err != nil {
		return err
	}
	if err := v.ValidateFileHash(m.FileHash); err != nil {
		return err
	}
	if err := v.ValidateChunkHashes(m.ChunkHashes, m.TotalChunks); err != nil {
		return err
	}
	if v.Strict {
		if err := v.ValidateCompression(m.Compression); err != nil {
			return err
		}
		if err := v.ValidateOriginalSize(m.FileSize, m.OriginalSize); err != nil {
			return err
		}
	}
	return nil
}

// ValidateQuick checks only the fields needed to size receiver-side
// resources, skipping the per-hash scan.
func (v *Validator) ValidateQuick(m *Manifest) error {
	if err := v.ValidateSessionID(m.SessionID); err != nil {
		return err
	}
	if err := v.ValidateFileSize(m.FileSize); err != nil {
		return err
	}
	if err := v.ValidateChunkSize(m.ChunkSize); err != nil {
		return err
	}
	return v.ValidateChunkCount(m.FileSize, m.ChunkSize, m.TotalChunks)
}

func (v *Validator) ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("manifest: session id cannot be empty")
	}
	if len(id) < 8 || len(id) > 128 {
		return fmt.Errorf("manifest: session id length invalid: %d (expected 8-128 chars)", len(id))
	}
	for _, c := range id {
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '-' && c != '_' {
			return fmt.Errorf("manifest: session id contains invalid characters")
		}
	}
	return nil
}

func (v *Validator) ValidateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("manifest: file name cannot be empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("manifest: file name too long: %d chars (max 255)", len(name))
	}
	if strings.Contains(name, "..") || strings.Contains(name, "//") {
		return fmt.Errorf("manifest: file name contains path traversal sequences")
	}
	return nil
}

func (v *Validator) ValidateFileSize(size uint64) error {
	if size == 0 {
		return fmt.Errorf("manifest: file size cannot be zero")
	}
	if size > maxFileSize {
		return fmt.Errorf("manifest: file size too large: %d bytes (max %d)", size, maxFileSize)
	}
	return nil
}

func (v *Validator) ValidateChunkSize(size uint32) error {
	if size < minChunkSize {
		return fmt.Errorf("manifest: chunk size too small: %d bytes (min %d)", size, minChunkSize)
	}
	if size > maxChunkSize {
		return fmt.Errorf("manifest: chunk size too large: %d bytes (max %d)", size, maxChunkSize)
	}
	return nil
}

func (v *Validator) ValidateChunkCount(fileSize uint64, chunkSize uint32, totalChunks uint64) error {
	if totalChunks == 0 {
		return fmt.Errorf("manifest: total chunks cannot be zero")
	}
	expected := (fileSize + uint64(chunkSize) - 1) / uint64(chunkSize)
	if totalChunks != expected {
		return fmt.Errorf("manifest: chunk count mismatch: got %d, expected %d (file_size=%d, chunk_size=%d)",
			totalChunks, expected, fileSize, chunkSize)
	}
	return nil
}

func (v *Validator) ValidateFileHash(hash []byte) error {
	if len(hash) == 0 {
		return fmt.Errorf("manifest: file hash cannot be empty")
	}
	if len(hash) != hasher.Size {
		return fmt.Errorf("manifest: file hash size invalid: %d bytes (expected %d)", len(hash), hasher.Size)
	}
	return nil
}

func (v *Validator) ValidateChunkHashes(hashes [][]byte, totalChunks uint64) error {
	if uint64(len(hashes)) != totalChunks {
		return fmt.Errorf("manifest: chunk hash count mismatch: got %d, expected %d", len(hashes), totalChunks)
	}
	for i, h := range hashes {
		if len(h) != hasher.Size {
			return fmt.Errorf("manifest: chunk hash %d has invalid size: %d bytes (expected %d)", i, len(h), hasher.Size)
		}
	}
	return nil
}

func (v *Validator) ValidateCompression(tag codec.Tag) error {
	if !codec.Recognized[tag] {
		return fmt.Errorf("manifest: invalid compression algorithm: %q", tag)
	}
	return nil
}

func (v *Validator) ValidateOriginalSize(fileSize uint64, originalSize *uint64) error {
	if originalSize == nil {
		return nil
	}
	orig := *originalSize
	if orig == 0 {
		return fmt.Errorf("manifest: original size cannot be zero")
	}
	if orig > maxFileSize {
		return fmt.Errorf("manifest: original size too large: %d bytes", orig)
	}
	if v.Strict && fileSize > orig*2 {
		return fmt.Errorf("manifest: compressed size (%d) suspiciously larger than original (%d)", fileSize, orig)
	}
	return nil
}

