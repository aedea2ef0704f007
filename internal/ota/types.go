// Package ota implements the over-the-air firmware distribution engine
// (§4.5): chunk preparation, the Start-OTA handshake, and the per-chunk
// transfer loop with bounded retry and per-device ack tracking.
package ota

import (
	"crypto/sha256"
	"time"
)

// ChunkSize is the fixed payload size of every chunk but the last (§6.4).
const ChunkSize = 128

// Settings are the OTA engine's retry/timeout knobs (§6.2).
type Settings struct {
	MaxRetries int
	Timeout    time.Duration
}

// DefaultSettings returns ota_max_retries=10, ota_timeout=0.7s (§6.2).
func DefaultSettings() Settings {
	return Settings{MaxRetries: 10, Timeout: 700 * time.Millisecond}
}

// Chunk is one slice of the firmware image, with its own short digest for
// per-chunk integrity checking by the node (§4.5.1).
type Chunk struct {
	Index uint32
	Size  uint8
	Sha   [8]byte
	Data  []byte
}

// ChunkAckState is one device's acknowledgement bookkeeping for one chunk.
type ChunkAckState struct {
	Acked   bool
	Retries int
}

// TransferStatus is one device's full chunk-transfer outcome.
type TransferStatus struct {
	Chunks  []ChunkAckState
	Success bool
}

// StartOtaResult reports the outcome of the Start-OTA handshake (§4.5.2).
type StartOtaResult struct {
	ImageDigest [sha256.Size]byte
	TotalChunks int
	Acked       []string // sorted hex addresses
	Missed      []string // sorted hex addresses; non-empty means abort
}
