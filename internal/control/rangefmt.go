package control

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatChunkRanges renders a sorted slice of chunk numbers as compact range
// notation ("3,5-9,12") for log lines and status summaries; the wire
// messages themselves always carry the raw chunk-id list, never this string.
func FormatChunkRanges(chunks []uint64) string {
	if len(chunks) == 0 {
		return ""
	}

	var b strings.Builder
	start := chunks[0]
	prev := chunks[0]

	flush := func(end uint64) {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if start == end {
			fmt.Fprintf(&b, "%d", start)
		} else {
			fmt.Fprintf(&b, "%d-%d", start, end)
		}
	}

	for i := 1; i < len(chunks); i++ {
		curr := chunks[i]
		if curr == prev+1 {
			prev = curr
			continue
		}
		flush(prev)
		start = curr
		prev = curr
	}
	flush(prev)
	return b.String()
}

// ParseChunkRanges reverses FormatChunkRanges.
func ParseChunkRanges(rangeStr string) ([]uint64, error) {
	if rangeStr == "" {
		return nil, nil
	}

	var chunks []uint64
	for _, part := range strings.Split(rangeStr, ",") {
		bounds := strings.SplitN(part, "-", 2)
		switch len(bounds) {
		case 1:
			n, err := strconv.ParseUint(bounds[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("control: bad chunk range %q: %w", rangeStr, err)
			}
			chunks = append(chunks, n)
		case 2:
			start, err := strconv.ParseUint(bounds[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("control: bad chunk range %q: %w", rangeStr, err)
			}
			end, err := strconv.ParseUint(bounds[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("control: bad chunk range %q: %w", rangeStr, err)
			}
			for i := start; i <= end; i++ {
				chunks = append(chunks, i)
			}
		}
	}
	return chunks, nil
}
