package ota

import "crypto/sha256"

// Prepare slices firmware into ChunkSize chunks, computing the full-image
// digest incrementally and each chunk's short digest (§4.5.1).
//
// Last-chunk sizing: C = ceil(L/ChunkSize); the last chunk's size is
// L - (C-1)*ChunkSize, which is never zero even when L is an exact multiple
// of ChunkSize (unlike a naive L % ChunkSize, which degenerates to a
// zero-byte final chunk in that case).
func Prepare(firmware []byte) ([]Chunk, [sha256.Size]byte) {
	l := len(firmware)
	count := (l + ChunkSize - 1) / ChunkSize
	if count == 0 {
		count = 1
	}

	chunks := make([]Chunk, 0, count)
	digest := sha256.New()

	for i := 0; i < count; i++ {
		start := i * ChunkSize
		end := start + ChunkSize
		if i == count-1 {
			end = l
		}
		if end > l {
			end = l
		}
		data := firmware[start:end]
		digest.Write(data)

		chunkSum := sha256.Sum256(data)
		var sha8 [8]byte
		copy(sha8[:], chunkSum[:8])

		chunks = append(chunks, Chunk{
			Index: uint32(i),
			Size:  uint8(len(data)),
			Sha:   sha8,
			Data:  append([]byte(nil), data...),
		})
	}

	var full [sha256.Size]byte
	copy(full[:], digest.Sum(nil))
	return chunks, full
}
