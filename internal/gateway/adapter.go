// Package gateway provides the two concrete transports that carry protocol
// frames between the controller and the mesh: a serial-attached gateway
// (edge mode) and an MQTT-broker-attached gateway (cloud mode). Both
// implement the Adapter capability set from the component design: init with
// a frame callback, best-effort send, and close.
//
// Concurrency model follows internal/rtmp/conn.Connection: the edge adapter
// runs its own read loop goroutine under a cancellable context, and the
// cloud adapter receives through the MQTT client's message handler. Both
// invoke the callback serially, one frame at a time, exactly as the
// controller's shared-state contract requires.
package gateway

import (
	"encoding/binary"
	"fmt"

	"github.com/swarmit/swarmitctl/internal/protocol"
)

// FrameCallback is invoked once per decoded inbound frame. Implementations
// must call it serially; it must never be invoked concurrently with itself.
type FrameCallback func(source protocol.NodeAddress, payload protocol.Payload)

// Adapter is the capability set every gateway transport implements (§4.2).
type Adapter interface {
	// Init begins delivering inbound frames to onFrame.
	Init(onFrame FrameCallback) error
	// Send transmits payload to destination. Best-effort, no delivery
	// guarantee. destination == protocol.Broadcast addresses every node.
	Send(destination protocol.NodeAddress, payload protocol.Payload) error
	// Close releases the adapter's transport resources.
	Close() error
}

// encodeOuter wraps an encoded inner payload with the 64-bit source/dest
// address exposed by the link layer (§6.1: "Frames are delivered ... inside
// an outer link-layer frame that exposes a 64-bit source address").
func encodeOuter(addr protocol.NodeAddress, inner []byte) []byte {
	buf := make([]byte, 8+len(inner))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(addr))
	copy(buf[8:], inner)
	return buf
}

// decodeOuter splits a raw outer frame into its address and inner payload
// bytes.
func decodeOuter(raw []byte) (protocol.NodeAddress, []byte, error) {
	if len(raw) < 8 {
		return 0, nil, fmt.Errorf("outer frame too short: %d bytes", len(raw))
	}
	addr := protocol.NodeAddress(binary.LittleEndian.Uint64(raw[0:8]))
	return addr, raw[8:], nil
}
