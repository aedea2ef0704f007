package command

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/swarmit/swarmitctl/internal/gateway"
	"github.com/swarmit/swarmitctl/internal/protocol"
	"github.com/swarmit/swarmitctl/internal/registry"
)

type sentFrame struct {
	dest    protocol.NodeAddress
	payload protocol.Payload
}

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sentFrame
	sendErr error
	onSend  func(dest protocol.NodeAddress, p protocol.Payload) // transition hook
}

func (f *fakeAdapter) Init(gateway.FrameCallback) error { return nil }

func (f *fakeAdapter) Send(dest protocol.NodeAddress, payload protocol.Payload) error {
	f.mu.Lock()
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return err
	}
	f.sent = append(f.sent, sentFrame{dest, payload})
	onSend := f.onSend
	f.mu.Unlock()
	if onSend != nil {
		onSend(dest, payload)
	}
	return nil
}

func (f *fakeAdapter) Close() error { return nil }

func (f *fakeAdapter) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func noSleep(time.Duration) {}

func TestStartBroadcastReachesRunningBeforeMaxAttempts(t *testing.T) {
	reg := registry.New()
	addr := protocol.NodeAddress(1)
	reg.Update(addr, protocol.NodeStatus{Lifecycle: protocol.LifecycleBootloader}, time.Unix(0, 0))

	adapter := &fakeAdapter{}
	eng := &Engine{Registry: reg, Adapter: adapter, Now: time.Now, Sleep: noSleep}
	adapter.onSend = func(dest protocol.NodeAddress, p protocol.Payload) {
		if adapter.sendCount() == 2 { // ack on the 2nd broadcast attempt
			reg.Update(addr, protocol.NodeStatus{Lifecycle: protocol.LifecycleRunning}, time.Unix(0, 0))
		}
	}

	entries, err := eng.Start(nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if adapter.sendCount() != 2 {
		t.Fatalf("sendCount = %d, want 2", adapter.sendCount())
	}
	if len(entries) != 1 || entries[0].Status.Lifecycle != protocol.LifecycleRunning {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestStartExhaustsMaxAttempts(t *testing.T) {
	reg := registry.New()
	addr := protocol.NodeAddress(1)
	reg.Update(addr, protocol.NodeStatus{Lifecycle: protocol.LifecycleBootloader}, time.Unix(0, 0))

	adapter := &fakeAdapter{}
	eng := &Engine{Registry: reg, Adapter: adapter, Now: time.Now, Sleep: noSleep}

	if _, err := eng.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if adapter.sendCount() != MaxAttempts {
		t.Fatalf("sendCount = %d, want %d", adapter.sendCount(), MaxAttempts)
	}
}

func TestStartIgnoresNonReadyDevices(t *testing.T) {
	reg := registry.New()
	a, b, c := protocol.NodeAddress(1), protocol.NodeAddress(2), protocol.NodeAddress(3)
	reg.Update(a, protocol.NodeStatus{Lifecycle: protocol.LifecycleBootloader}, time.Unix(0, 0))
	reg.Update(b, protocol.NodeStatus{Lifecycle: protocol.LifecycleRunning}, time.Unix(0, 0))
	reg.Update(c, protocol.NodeStatus{Lifecycle: protocol.LifecycleBootloader}, time.Unix(0, 0))

	adapter := &fakeAdapter{}
	eng := &Engine{Registry: reg, Adapter: adapter, Now: time.Now, Sleep: noSleep}
	adapter.onSend = func(dest protocol.NodeAddress, p protocol.Payload) {
		reg.Update(a, protocol.NodeStatus{Lifecycle: protocol.LifecycleRunning}, time.Unix(0, 0))
		reg.Update(c, protocol.NodeStatus{Lifecycle: protocol.LifecycleRunning}, time.Unix(0, 0))
	}

	entries, err := eng.Start(nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v, want len 2 (only ready devices A and C)", entries)
	}
}

func TestStopUnicastSkipsAlreadyTerminal(t *testing.T) {
	reg := registry.New()
	a, b := protocol.NodeAddress(1), protocol.NodeAddress(2)
	reg.Update(a, protocol.NodeStatus{Lifecycle: protocol.LifecycleRunning}, time.Unix(0, 0))
	reg.Update(b, protocol.NodeStatus{Lifecycle: protocol.LifecycleBootloader}, time.Unix(0, 0))

	adapter := &fakeAdapter{}
	eng := &Engine{Registry: reg, Adapter: adapter, Now: time.Now, Sleep: noSleep}

	if _, err := eng.Stop([]protocol.NodeAddress{a, b}); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	for _, sf := range adapter.sent {
		if sf.dest == b {
			t.Fatalf("unexpected unicast to already-terminal device b")
		}
	}
	if adapter.sendCount() != MaxAttempts {
		t.Fatalf("sendCount = %d, want %d unicasts to a", adapter.sendCount(), MaxAttempts)
	}
}

func TestResetRefusesOnMismatchedLocations(t *testing.T) {
	reg := registry.New()
	a, b := protocol.NodeAddress(1), protocol.NodeAddress(2)
	adapter := &fakeAdapter{}
	eng := &Engine{Registry: reg, Adapter: adapter, Now: time.Now, Sleep: noSleep}

	err := eng.Reset([]protocol.NodeAddress{a, b}, map[protocol.NodeAddress]ResetLocation{a: {PosX: 1, PosY: 2}})
	if err == nil {
		t.Fatalf("expected error for missing location")
	}
	if adapter.sendCount() != 0 {
		t.Fatalf("expected no sends, got %d", adapter.sendCount())
	}
}

func TestResetSendsUnicastPerLocation(t *testing.T) {
	reg := registry.New()
	a, b := protocol.NodeAddress(1), protocol.NodeAddress(2)
	adapter := &fakeAdapter{}
	eng := &Engine{Registry: reg, Adapter: adapter, Now: time.Now, Sleep: noSleep}

	locs := map[protocol.NodeAddress]ResetLocation{a: {PosX: 1_000_000, PosY: 2_000_000}, b: {PosX: -1, PosY: -2}}
	if err := eng.Reset([]protocol.NodeAddress{a, b}, locs); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if adapter.sendCount() != 2 {
		t.Fatalf("sendCount = %d, want 2", adapter.sendCount())
	}
}

func TestMessageBroadcastWhenSelectionEmpty(t *testing.T) {
	reg := registry.New()
	adapter := &fakeAdapter{}
	eng := &Engine{Registry: reg, Adapter: adapter, Now: time.Now, Sleep: noSleep}

	if err := eng.Message(nil, []byte("hi")); err != nil {
		t.Fatalf("Message: %v", err)
	}
	if adapter.sendCount() != 1 || adapter.sent[0].dest != protocol.Broadcast {
		t.Fatalf("expected single broadcast send, got %+v", adapter.sent)
	}
}

func TestMessageUnicastOnlyToRunning(t *testing.T) {
	reg := registry.New()
	a, b := protocol.NodeAddress(1), protocol.NodeAddress(2)
	reg.Update(a, protocol.NodeStatus{Lifecycle: protocol.LifecycleRunning}, time.Unix(0, 0))
	reg.Update(b, protocol.NodeStatus{Lifecycle: protocol.LifecycleBootloader}, time.Unix(0, 0))

	adapter := &fakeAdapter{}
	eng := &Engine{Registry: reg, Adapter: adapter, Now: time.Now, Sleep: noSleep}

	if err := eng.Message([]protocol.NodeAddress{a, b}, []byte("hi")); err != nil {
		t.Fatalf("Message: %v", err)
	}
	if adapter.sendCount() != 1 || adapter.sent[0].dest != a {
		t.Fatalf("expected one unicast to a, got %+v", adapter.sent)
	}
}

func TestSendErrorPropagates(t *testing.T) {
	reg := registry.New()
	a := protocol.NodeAddress(1)
	reg.Update(a, protocol.NodeStatus{Lifecycle: protocol.LifecycleBootloader}, time.Unix(0, 0))

	adapter := &fakeAdapter{sendErr: fmt.Errorf("port closed")}
	eng := &Engine{Registry: reg, Adapter: adapter, Now: time.Now, Sleep: noSleep}

	if _, err := eng.Start(nil); err == nil {
		t.Fatalf("expected Start to propagate adapter send error")
	}
}
