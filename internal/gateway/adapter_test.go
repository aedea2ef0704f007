package gateway

import (
	"bytes"
	"testing"

	"github.com/swarmit/swarmitctl/internal/protocol"
)

func TestOuterFrameRoundTrip(t *testing.T) {
	inner := protocol.Encode(protocol.StatusRequest{})
	outer := encodeOuter(protocol.NodeAddress(0xAB), inner)

	addr, gotInner, err := decodeOuter(outer)
	if err != nil {
		t.Fatalf("decodeOuter: %v", err)
	}
	if addr != protocol.NodeAddress(0xAB) {
		t.Fatalf("addr = %v, want 0xAB", addr)
	}
	if !bytes.Equal(gotInner, inner) {
		t.Fatalf("inner mismatch: got % X want % X", gotInner, inner)
	}
}

func TestOuterFrameTooShort(t *testing.T) {
	if _, _, err := decodeOuter([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for short outer frame")
	}
}

func TestCloudAdapterTopics(t *testing.T) {
	a := NewCloudAdapter(CloudConfig{NetworkID: 0x1200})
	if got, want := a.uplinkTopic(), "swarmit/1200/uplink"; got != want {
		t.Fatalf("uplinkTopic() = %s, want %s", got, want)
	}
	if got, want := a.downlinkTopic(), "swarmit/1200/downlink"; got != want {
		t.Fatalf("downlinkTopic() = %s, want %s", got, want)
	}
}
