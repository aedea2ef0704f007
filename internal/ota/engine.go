package ota

import (
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/swarmit/swarmitctl/internal/gateway"
	"github.com/swarmit/swarmitctl/internal/protocol"
	"github.com/swarmit/swarmitctl/internal/registry"
)

// unicastGap is the pacing delay between consecutive unicast OTA_START
// sends (§4.5.2).
const unicastGap = 200 * time.Millisecond

// Engine drives the Start-OTA handshake and chunk transfer loop. Like
// command.Engine, Now/Sleep are overridable for deterministic tests.
type Engine struct {
	Registry *registry.Registry
	Adapter  gateway.Adapter
	Settings Settings

	Now   func() time.Time
	Sleep func(time.Duration)

	tracker *ackTracker
}

// NewEngine creates an Engine bound to reg and adapter with real clock
// functions and default settings.
func NewEngine(reg *registry.Registry, adapter gateway.Adapter, settings Settings) *Engine {
	return &Engine{
		Registry: reg,
		Adapter:  adapter,
		Settings: settings,
		Now:      time.Now,
		Sleep:    time.Sleep,
		tracker:  newAckTracker(),
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) sleep(d time.Duration) {
	if e.Sleep != nil {
		e.Sleep(d)
		return
	}
	time.Sleep(d)
}

// OnOtaStartAck is the controller's dispatch entry point for an inbound
// OTA_START_ACK from addr.
func (e *Engine) OnOtaStartAck(addr protocol.NodeAddress) {
	e.tracker.ackStart(addr)
}

// OnOtaChunkAck is the controller's dispatch entry point for an inbound
// OTA_CHUNK_ACK. The returned error (always a protocol-level
// IndexOutOfRangeError) is for the caller's verbose logging only; it is
// never propagated (§4.5.3, §7).
func (e *Engine) OnOtaChunkAck(addr protocol.NodeAddress, index uint32) error {
	return e.tracker.ackChunk(addr, index)
}

// Targets resolves the ready-device target set T for an OTA run, optionally
// intersected with selection (§4.5.1 step 3).
func (e *Engine) Targets(selection []protocol.NodeAddress) []protocol.NodeAddress {
	return e.Registry.Ready(e.Registry.Select(selection))
}

// StartOta runs the Start-OTA handshake against targets, broadcasting a
// single OTA_START if broadcast is true (selection was empty) or unicasting
// to each target otherwise. It resets ack tracking for a new run.
func (e *Engine) StartOta(chunks []Chunk, digest [32]byte, targets []protocol.NodeAddress, broadcast bool) (StartOtaResult, error) {
	e.tracker.reset()

	payload := protocol.OtaStartRequest{
		FwLength:     sumChunkLengths(chunks),
		FwChunkCount: uint32(len(chunks)),
	}

	if len(targets) == 0 {
		return StartOtaResult{ImageDigest: digest, TotalChunks: len(chunks)}, nil
	}

	if broadcast {
		if err := e.sendAndWaitStart(protocol.Broadcast, payload, func() bool {
			return e.tracker.startAckedAll(targets)
		}); err != nil {
			return StartOtaResult{}, err
		}
	} else {
		g := new(errgroup.Group)
		for i, addr := range targets {
			addr := addr
			if i > 0 {
				e.sleep(unicastGap)
			}
			g.Go(func() error {
				return e.sendAndWaitStart(addr, payload, func() bool {
					return e.tracker.startAcked1(addr)
				})
			})
		}
		if err := g.Wait(); err != nil {
			return StartOtaResult{}, err
		}
	}

	return StartOtaResult{
		ImageDigest: digest,
		TotalChunks: len(chunks),
		Acked:       e.tracker.acked(targets),
		Missed:      e.tracker.missed(targets),
	}, nil
}

// sendAndWaitStart implements the per-target send-and-wait loop from
// §4.5.2: send once, then resend every ota_timeout until acked or
// ota_max_retries is exhausted.
func (e *Engine) sendAndWaitStart(dest protocol.NodeAddress, payload protocol.Payload, acked func() bool) error {
	if err := e.Adapter.Send(dest, payload); err != nil {
		return fmt.Errorf("ota: start_ota send to %s: %w", dest.String(), err)
	}
	lastSend := e.now()
	retries := 0
	for !acked() && retries < e.Settings.MaxRetries {
		if e.now().Sub(lastSend) > e.Settings.Timeout {
			if err := e.Adapter.Send(dest, payload); err != nil {
				return fmt.Errorf("ota: start_ota resend to %s: %w", dest.String(), err)
			}
			retries++
			lastSend = e.now()
		}
		e.sleep(time.Millisecond)
	}
	return nil
}

// Transfer runs the chunk transfer loop: chunks are sent strictly in index
// order, each chunk's ack wait running per target, and the next chunk is
// not sent until the current one is acked by every target or its per-chunk
// retry budget is exhausted (§4.5.3).
func (e *Engine) Transfer(chunks []Chunk, targets []protocol.NodeAddress, broadcast bool) (map[protocol.NodeAddress]*TransferStatus, error) {
	e.tracker.initTransfer(targets, len(chunks))
	if len(targets) == 0 {
		return e.tracker.finalize(targets), nil
	}

	for _, chunk := range chunks {
		payload := protocol.OtaChunkRequest{
			Index:   chunk.Index,
			Count:   chunk.Size,
			Sha:     chunk.Sha,
			Payload: chunk.Data,
		}

		if broadcast {
			if err := e.sendAndWaitChunk(protocol.Broadcast, payload, chunk.Index, targets, func() bool {
				return e.tracker.chunkAckedAll(targets, chunk.Index)
			}); err != nil {
				return nil, err
			}
			continue
		}

		g := new(errgroup.Group)
		for _, addr := range targets {
			addr := addr
			g.Go(func() error {
				return e.sendAndWaitChunk(addr, payload, chunk.Index, []protocol.NodeAddress{addr}, func() bool {
					return e.tracker.chunkAcked(addr, chunk.Index)
				})
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return e.tracker.finalize(targets), nil
}

// sendAndWaitChunk implements the per-chunk ack loop from §4.5.3. Retry
// exhaustion is not fatal: the function returns nil so the loop advances to
// the next chunk, leaving this device's final success flag false.
func (e *Engine) sendAndWaitChunk(dest protocol.NodeAddress, payload protocol.Payload, index uint32, recipients []protocol.NodeAddress, acked func() bool) error {
	if err := e.Adapter.Send(dest, payload); err != nil {
		return fmt.Errorf("ota: chunk %d send to %s: %w", index, dest.String(), err)
	}
	for _, a := range recipients {
		e.tracker.setRetries(a, index, 0)
	}
	lastSend := e.now()
	retries := 0
	for !acked() && retries < e.Settings.MaxRetries {
		if e.now().Sub(lastSend) > e.Settings.Timeout {
			if err := e.Adapter.Send(dest, payload); err != nil {
				return fmt.Errorf("ota: chunk %d resend to %s: %w", index, dest.String(), err)
			}
			retries++
			for _, a := range recipients {
				e.tracker.setRetries(a, index, retries)
			}
			lastSend = e.now()
		}
		e.sleep(time.Millisecond)
	}
	return nil
}

func sumChunkLengths(chunks []Chunk) uint32 {
	var total uint32
	for _, c := range chunks {
		total += uint32(c.Size)
	}
	return total
}
