// Package codec implements per-chunk compression with a closed set of
// algorithms, selectable by declared tag or automatically by size.
package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Tag identifies a compression algorithm on the wire.
type Tag string

const (
	None  Tag = "none"
	LZ4   Tag = "lz4"
	LZ4HC Tag = "lz4hc"
	Zstd  Tag = "zstd"
	LZMA2 Tag = "lzma2"
)

// Recognized lists every tag the manifest/validator accepts.
var Recognized = map[Tag]bool{
	None: true, LZ4: true, LZ4HC: true, Zstd: true, LZMA2: true,
}

// Compress transforms data under the named codec; an unknown tag is an
// error.
func Compress(data []byte, tag Tag) ([]byte, error) {
	switch tag {
	case None, "":
		return data, nil
	case LZ4:
		return compressLZ4(data, lz4.Fast)
	case LZ4HC:
		return compressLZ4(data, lz4.Level9)
	case Zstd:
		return compressZstd(data, zstd.SpeedDefault)
	case LZMA2:
		return compressXZ(data)
	default:
		return nil, fmt.Errorf("codec: unknown compression tag %q", tag)
	}
}

// Decompress reverses Compress. expectedSize, if non-zero, is the known
// uncompressed length; a mismatch against the actual decompressed length
// is a protocol error.
func Decompress(data []byte, tag Tag, expectedSize int) ([]byte, error) {
	var out []byte
	var err error

	switch tag {
	case None, "":
		out = data
	case LZ4, LZ4HC:
		out, err = decompressLZ4(data)
	case Zstd:
		out, err = decompressZstd(data)
	case LZMA2:
		out, err = decompressXZ(data)
	default:
		return nil, fmt.Errorf("codec: unknown compression tag %q", tag)
	}
	if err != nil {
		return nil, err
	}
	if expectedSize > 0 && len(out) != expectedSize {
		return nil, fmt.Errorf("codec: decompressed size %d does not match expected %d", len(out), expectedSize)
	}
	return out, nil
}

// CompressIfBeneficial compresses under tag but falls back to None when the
// saved fraction is below minReduction (e.g. 0.05 = 5%).
func CompressIfBeneficial(data []byte, tag Tag, minReduction float64) (Tag, []byte, error) {
	compressed, err := Compress(data, tag)
	if err != nil {
		return None, nil, err
	}
	if len(data) == 0 {
		return None, data, nil
	}
	ratio := float64(len(compressed)) / float64(len(data))
	if ratio > (1.0 - minReduction) {
		return None, data, nil
	}
	return tag, compressed, nil
}

// AutoSelect picks an algorithm by payload size: small chunks favor speed,
// large chunks favor ratio.
func AutoSelect(size int) Tag {
	switch {
	case size < 4096:
		return LZ4
	case size < 65536:
		return LZ4HC
	case size < 1048576:
		return Zstd
	default:
		return LZMA2
	}
}

// AutoSelectByExtension picks an algorithm by file extension, skipping
// already-compressed media/archive formats and favoring zstd for
// structured text.
func AutoSelectByExtension(ext string) Tag {
	switch ext {
	case "txt", "log", "json", "xml", "csv", "yaml", "yml", "toml", "md", "rst":
		return Zstd
	case "mkv", "mp4", "avi", "mov", "webm", "flv", "wmv", "m4v", "mpg", "mpeg",
		"mp3", "aac", "m4a", "opus", "ogg", "flac", "wma", "wav",
		"zip", "gz", "bz2", "xz", "7z", "rar", "jpg", "jpeg", "png", "webp", "gif":
		return None
	default:
		return LZ4HC
	}
}

func compressLZ4(data []byte, level lz4.CompressionLevel) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(level)); err != nil {
		return nil, fmt.Errorf("codec: lz4 configure: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("codec: lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: lz4 finish: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("codec: lz4 decompress: %w", err)
	}
	return out, nil
}

func compressZstd(data []byte, level zstd.EncoderLevel) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("codec: zstd configure: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("codec: zstd write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: zstd finish: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressZstd(data []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("codec: zstd reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("codec: zstd decompress: %w", err)
	}
	return out, nil
}

func compressXZ(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("codec: lzma2 configure: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("codec: lzma2 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: lzma2 finish: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressXZ(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("codec: lzma2 reader: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("codec: lzma2 decompress: %w", err)
	}
	return out, nil
}
