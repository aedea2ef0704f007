package ota

import (
	"sort"
	"sync"

	"github.com/swarmit/swarmitctl/internal/errs"
	"github.com/swarmit/swarmitctl/internal/protocol"
)

// ackTracker holds the shared mutable ack state touched by both the main
// OTA loop and the adapter's inbound-frame callback (§5): OTA_START acks as
// a set, and per-device per-chunk ack state. A single mutex guards both,
// mirroring the registry's RWMutex-over-a-map pattern.
type ackTracker struct {
	mu         sync.Mutex
	startAcked map[protocol.NodeAddress]struct{}
	transfer   map[protocol.NodeAddress]*TransferStatus
	chunkCount int
}

func newAckTracker() *ackTracker {
	return &ackTracker{
		startAcked: make(map[protocol.NodeAddress]struct{}),
		transfer:   make(map[protocol.NodeAddress]*TransferStatus),
	}
}

// reset clears all ack state in place, ready for a new Start-OTA run. The
// tracker is allocated once per Engine and reset rather than replaced, so
// the callback goroutine never reads a tracker pointer that is being
// swapped. An ack that arrives before reset is cleared by it; one that
// arrives after reset is recorded for the new run.
func (t *ackTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startAcked = make(map[protocol.NodeAddress]struct{})
	t.transfer = make(map[protocol.NodeAddress]*TransferStatus)
	t.chunkCount = 0
}

// ackStart records a Start-OTA ack from addr (idempotent).
func (t *ackTracker) ackStart(addr protocol.NodeAddress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startAcked[addr] = struct{}{}
}

// startAckedAll reports whether every address in targets has acked
// OTA_START.
func (t *ackTracker) startAckedAll(targets []protocol.NodeAddress) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range targets {
		if _, ok := t.startAcked[a]; !ok {
			return false
		}
	}
	return true
}

// startAcked1 reports whether addr has acked OTA_START.
func (t *ackTracker) startAcked1(addr protocol.NodeAddress) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.startAcked[addr]
	return ok
}

// missed returns the sorted hex addresses in targets that never acked
// OTA_START.
func (t *ackTracker) missed(targets []protocol.NodeAddress) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, a := range targets {
		if _, ok := t.startAcked[a]; !ok {
			out = append(out, a.String())
		}
	}
	sort.Strings(out)
	return out
}

// acked returns the sorted hex addresses in targets that acked OTA_START.
func (t *ackTracker) acked(targets []protocol.NodeAddress) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, a := range targets {
		if _, ok := t.startAcked[a]; ok {
			out = append(out, a.String())
		}
	}
	sort.Strings(out)
	return out
}

// initTransfer sets up an empty per-chunk ack state for every address in
// targets, ready to receive OTA_CHUNK_ACK frames.
func (t *ackTracker) initTransfer(targets []protocol.NodeAddress, chunkCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunkCount = chunkCount
	t.transfer = make(map[protocol.NodeAddress]*TransferStatus, len(targets))
	for _, a := range targets {
		t.transfer[a] = &TransferStatus{Chunks: make([]ChunkAckState, chunkCount)}
	}
}

// ackChunk records an OTA_CHUNK_ACK for (addr, index). Per §4.5.3's ack
// dispatch rule, a reference to an unknown device or an out-of-range index
// is a protocol error dropped by the caller, not applied here.
func (t *ackTracker) ackChunk(addr protocol.NodeAddress, index uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(index) >= t.chunkCount {
		return errs.NewIndexOutOfRange(addr.String(), index)
	}
	status, ok := t.transfer[addr]
	if !ok {
		return errs.NewIndexOutOfRange(addr.String(), index)
	}
	status.Chunks[index].Acked = true
	return nil
}

// chunkAckedAll reports whether index is acked by every address in targets.
func (t *ackTracker) chunkAckedAll(targets []protocol.NodeAddress, index uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range targets {
		status, ok := t.transfer[a]
		if !ok || int(index) >= len(status.Chunks) || !status.Chunks[index].Acked {
			return false
		}
	}
	return true
}

// chunkAcked reports whether addr has acked index.
func (t *ackTracker) chunkAcked(addr protocol.NodeAddress, index uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	status, ok := t.transfer[addr]
	if !ok || int(index) >= len(status.Chunks) {
		return false
	}
	return status.Chunks[index].Acked
}

// setRetries records the per-device retry count for chunk index.
func (t *ackTracker) setRetries(addr protocol.NodeAddress, index uint32, retries int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if status, ok := t.transfer[addr]; ok && int(index) < len(status.Chunks) {
		status.Chunks[index].Retries = retries
	}
}

// finalize computes each target's success flag and returns a snapshot of
// the full transfer status map.
func (t *ackTracker) finalize(targets []protocol.NodeAddress) map[protocol.NodeAddress]*TransferStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[protocol.NodeAddress]*TransferStatus, len(targets))
	for _, a := range targets {
		status, ok := t.transfer[a]
		if !ok {
			continue
		}
		success := true
		for _, c := range status.Chunks {
			if !c.Acked {
				success = false
				break
			}
		}
		status.Success = success
		cp := *status
		cp.Chunks = append([]ChunkAckState(nil), status.Chunks...)
		out[a] = &cp
	}
	return out
}
