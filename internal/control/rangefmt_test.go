package control

import (
	"reflect"
	"testing"
)

func TestFormatChunkRanges(t *testing.T) {
	cases := []struct {
		in   []uint64
		want string
	}{
		{nil, ""},
		{[]uint64{5}, "5"},
		{[]uint64{1, 2, 3}, "1-3"},
		{[]uint64{3, 5, 6, 7, 12}, "3,5-7,12"},
	}
	for _, c := range cases {
		got := FormatChunkRanges(c.in)
		if got != c.want {
			t.Errorf("FormatChunkRanges(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseChunkRangesRoundTrip(t *testing.T) {
	in := []uint64{3, 5, 6, 7, 12}
	formatted := FormatChunkRanges(in)
	parsed, err := ParseChunkRanges(formatted)
	if err != nil {
		t.Fatalf("ParseChunkRanges: %v", err)
	}
	if !reflect.DeepEqual(parsed, in) {
		t.Fatalf("got %v, want %v", parsed, in)
	}
}

func TestParseChunkRangesEmpty(t *testing.T) {
	got, err := ParseChunkRanges("")
	if err != nil {
		t.Fatalf("ParseChunkRanges: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestParseChunkRangesRejectsGarbage(t *testing.T) {
	if _, err := ParseChunkRanges("abc"); err == nil {
		t.Fatal("expected error for non-numeric range")
	}
}
