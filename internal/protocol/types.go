// Package protocol implements the swarmit wire codec: the typed request and
// notification payloads exchanged between the controller and a node over
// the gateway, and their encoding to/from the fixed-width byte layout in
// spec.md §6.1.
package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// NodeAddress is the 64-bit node identifier used on the wire and as the
// registry key. The all-ones value is the broadcast sentinel.
type NodeAddress uint64

// Broadcast is the sentinel address meaning "every node".
const Broadcast NodeAddress = 0xFFFFFFFFFFFFFFFF

// String renders the address as 8-byte big-endian uppercase hex (16 chars),
// matching the human representation from spec.md §3.
func (a NodeAddress) String() string {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[7-i] = byte(a >> (8 * i))
	}
	return strings.ToUpper(hex.EncodeToString(b[:]))
}

// ParseAddress parses a 16-character hex string (case-insensitive) into a
// NodeAddress.
func ParseAddress(s string) (NodeAddress, error) {
	s = strings.TrimSpace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("parse address %q: %w", s, err)
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("parse address %q: want 8 bytes, got %d", s, len(b))
	}
	var v NodeAddress
	for _, c := range b {
		v = v<<8 | NodeAddress(c)
	}
	return v, nil
}

// DeviceType identifies the hardware platform a node runs on.
type DeviceType uint8

const (
	DeviceUnknown   DeviceType = 0
	DeviceDotBotV3  DeviceType = 1
	DeviceDotBotV2  DeviceType = 2
	DeviceNRF5340DK DeviceType = 3
)

func (d DeviceType) String() string {
	switch d {
	case DeviceDotBotV3:
		return "DotBotV3"
	case DeviceDotBotV2:
		return "DotBotV2"
	case DeviceNRF5340DK:
		return "nRF5340DK"
	default:
		return "Unknown"
	}
}

// Lifecycle is a node's current application lifecycle state.
type Lifecycle uint8

const (
	LifecycleBootloader  Lifecycle = 0
	LifecycleRunning     Lifecycle = 1
	LifecycleStopping    Lifecycle = 2
	LifecycleResetting   Lifecycle = 3
	LifecycleProgramming Lifecycle = 4
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleBootloader:
		return "Bootloader"
	case LifecycleRunning:
		return "Running"
	case LifecycleStopping:
		return "Stopping"
	case LifecycleResetting:
		return "Resetting"
	case LifecycleProgramming:
		return "Programming"
	default:
		return fmt.Sprintf("Lifecycle(%d)", uint8(l))
	}
}

// NodeStatus is the latest known status of a node, as carried by a
// STATUS_NOTIF frame (spec.md §3).
type NodeStatus struct {
	Device    DeviceType
	Lifecycle Lifecycle
	BatteryMV uint16
	PosX      int32
	PosY      int32
}

// Battery voltage thresholds in millivolts, used to render a health label
// next to a node's reported voltage (spec.md §6.4).
const (
	VoltageMax     uint16 = 3000
	VoltageWarning uint16 = 2200
	VoltageDanger  uint16 = 2000
)

// BatteryHealth classifies BatteryMV against the normative thresholds.
func (s NodeStatus) BatteryHealth() string {
	switch {
	case s.BatteryMV <= VoltageDanger:
		return "danger"
	case s.BatteryMV <= VoltageWarning:
		return "warning"
	default:
		return "ok"
	}
}

// Ready reports whether the node is eligible for Start/OTA (§3).
func (s NodeStatus) Ready() bool { return s.Lifecycle == LifecycleBootloader }

// Running reports whether the node is currently executing the application (§3).
func (s NodeStatus) Running() bool {
	return s.Lifecycle == LifecycleRunning || s.Lifecycle == LifecycleProgramming
}

// ResettingNow reports whether the node is mid-reset (§3).
func (s NodeStatus) ResettingNow() bool { return s.Lifecycle == LifecycleResetting }

// Stoppable reports whether the node can meaningfully receive a Stop (§3).
func (s NodeStatus) Stoppable() bool { return s.Running() || s.ResettingNow() }

// Tag is the single-byte payload type identifier (spec.md §6.1).
type Tag byte

const (
	TagStatusRequest Tag = 0x80
	TagStartRequest  Tag = 0x81
	TagStopRequest   Tag = 0x82
	TagResetRequest  Tag = 0x83
	TagOtaStart      Tag = 0x84
	TagOtaChunk      Tag = 0x85

	TagStatusNotif  Tag = 0x90
	TagOtaStartAck  Tag = 0x93
	TagOtaChunkAck  Tag = 0x94
	TagEventGPIO    Tag = 0x95
	TagEventLog     Tag = 0x96
	TagMessage      Tag = 0xA0
)

func (t Tag) String() string {
	switch t {
	case TagStatusRequest:
		return "STATUS_REQUEST"
	case TagStartRequest:
		return "START_REQUEST"
	case TagStopRequest:
		return "STOP_REQUEST"
	case TagResetRequest:
		return "RESET_REQUEST"
	case TagOtaStart:
		return "OTA_START"
	case TagOtaChunk:
		return "OTA_CHUNK"
	case TagStatusNotif:
		return "STATUS_NOTIF"
	case TagOtaStartAck:
		return "OTA_START_ACK"
	case TagOtaChunkAck:
		return "OTA_CHUNK_ACK"
	case TagEventGPIO:
		return "EVENT_GPIO"
	case TagEventLog:
		return "EVENT_LOG"
	case TagMessage:
		return "MESSAGE"
	default:
		return fmt.Sprintf("TAG(0x%02X)", byte(t))
	}
}

// Payload is implemented by every typed wire payload.
type Payload interface {
	Tag() Tag
}

// StatusRequest has no body (§6.1). Present for completeness; the controller
// never sends it (§9 open question — nodes broadcast status autonomously).
type StatusRequest struct{}

func (StatusRequest) Tag() Tag { return TagStatusRequest }

// StartRequest has no body.
type StartRequest struct{}

func (StartRequest) Tag() Tag { return TagStartRequest }

// StopRequest has no body.
type StopRequest struct{}

func (StopRequest) Tag() Tag { return TagStopRequest }

// ResetRequest carries the position (micrometres) the node should report
// once it reaches Bootloader again.
type ResetRequest struct {
	PosX int32
	PosY int32
}

func (ResetRequest) Tag() Tag { return TagResetRequest }

// OtaStartRequest begins the Start-OTA handshake (§4.5.2).
type OtaStartRequest struct {
	FwLength     uint32
	FwChunkCount uint32
}

func (OtaStartRequest) Tag() Tag { return TagOtaStart }

// OtaChunkRequest carries one firmware chunk (§4.5.3).
type OtaChunkRequest struct {
	Index   uint32
	Count   uint8
	Sha     [8]byte
	Payload []byte
}

func (OtaChunkRequest) Tag() Tag { return TagOtaChunk }

// StatusNotif is a node's self-reported status (§6.1).
type StatusNotif struct {
	Device    DeviceType
	Status    Lifecycle
	BatteryMV uint16
	PosX      int32
	PosY      int32
}

func (StatusNotif) Tag() Tag { return TagStatusNotif }

// AsNodeStatus converts the wire notification into the registry's status type.
func (n StatusNotif) AsNodeStatus() NodeStatus {
	return NodeStatus{Device: n.Device, Lifecycle: n.Status, BatteryMV: n.BatteryMV, PosX: n.PosX, PosY: n.PosY}
}

// OtaStartAckNotif has no body.
type OtaStartAckNotif struct{}

func (OtaStartAckNotif) Tag() Tag { return TagOtaStartAck }

// OtaChunkAckNotif carries the acked chunk index.
type OtaChunkAckNotif struct {
	Index uint32
}

func (OtaChunkAckNotif) Tag() Tag { return TagOtaChunkAck }

// EventNotif carries a timestamped GPIO or LOG event payload; the tag
// distinguishes which.
type EventNotif struct {
	Kind      Tag // TagEventGPIO or TagEventLog
	Timestamp uint32
	Data      []byte
}

func (e EventNotif) Tag() Tag { return e.Kind }

// Message is a one-shot text payload (request direction, no ack).
type Message struct {
	Text []byte
}

func (Message) Tag() Tag { return TagMessage }

// Frame pairs a decoded payload with the outer link-layer source address
// the gateway adapter observed it on (spec.md §4.2/§6.1).
type Frame struct {
	Source  NodeAddress
	Payload Payload
}
