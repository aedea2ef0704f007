package ota

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestPrepareBoundarySizes(t *testing.T) {
	cases := []struct {
		name      string
		length    int
		wantCount int
		wantSizes []int
	}{
		{"L=1", 1, 1, []int{1}},
		{"L=128", 128, 1, []int{128}},
		{"L=129", 129, 2, []int{128, 1}},
		{"L=300", 300, 3, []int{128, 128, 44}},
		{"L=256", 256, 2, []int{128, 128}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fw := bytes.Repeat([]byte{0xAA}, tc.length)
			chunks, _ := Prepare(fw)
			if len(chunks) != tc.wantCount {
				t.Fatalf("chunk count = %d, want %d", len(chunks), tc.wantCount)
			}
			for i, c := range chunks {
				if int(c.Size) != tc.wantSizes[i] {
					t.Fatalf("chunk %d size = %d, want %d", i, c.Size, tc.wantSizes[i])
				}
				if len(c.Data) == 0 && tc.wantSizes[i] != 0 {
					t.Fatalf("chunk %d has empty data", i)
				}
			}
		})
	}
}

func TestPrepareNeverEmitsZeroLengthLastChunk(t *testing.T) {
	// Resolved open question: a firmware length that is an exact multiple
	// of ChunkSize must not produce a trailing zero-byte chunk.
	fw := bytes.Repeat([]byte{0x01}, ChunkSize*4)
	chunks, _ := Prepare(fw)
	if len(chunks) != 4 {
		t.Fatalf("chunk count = %d, want 4", len(chunks))
	}
	last := chunks[len(chunks)-1]
	if last.Size == 0 {
		t.Fatalf("last chunk size is zero")
	}
	if last.Size != ChunkSize {
		t.Fatalf("last chunk size = %d, want %d", last.Size, ChunkSize)
	}
}

func TestPrepareInvariants(t *testing.T) {
	fw := bytes.Repeat([]byte{0x42}, 1000)
	chunks, digest := Prepare(fw)

	var reassembled []byte
	for i, c := range chunks {
		if c.Index != uint32(i) {
			t.Fatalf("chunk %d has Index %d", i, c.Index)
		}
		want := sha256.Sum256(c.Data)
		if !bytes.Equal(c.Sha[:], want[:8]) {
			t.Fatalf("chunk %d sha8 mismatch", i)
		}
		reassembled = append(reassembled, c.Data...)
	}
	if !bytes.Equal(reassembled, fw) {
		t.Fatalf("reassembled firmware does not match original")
	}
	wantDigest := sha256.Sum256(fw)
	if digest != wantDigest {
		t.Fatalf("image digest mismatch")
	}

	// chunk_count * ChunkSize >= |F| > (chunk_count - 1) * ChunkSize
	c := len(chunks)
	if c*ChunkSize < len(fw) || len(fw) <= (c-1)*ChunkSize {
		t.Fatalf("chunk count invariant violated: c=%d len=%d", c, len(fw))
	}
}
