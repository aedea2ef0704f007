package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/swarmit/swarmitctl/internal/command"
	"github.com/swarmit/swarmitctl/internal/events"
	"github.com/swarmit/swarmitctl/internal/gateway"
	"github.com/swarmit/swarmitctl/internal/ota"
	"github.com/swarmit/swarmitctl/internal/protocol"
	"github.com/swarmit/swarmitctl/internal/registry"
)

// fakeAdapter is an in-memory gateway.Adapter double; tests drive onFrame
// directly rather than exercising real serial/MQTT I/O.
type fakeAdapter struct {
	mu   sync.Mutex
	sent int
}

func (f *fakeAdapter) Init(gateway.FrameCallback) error { return nil }

func (f *fakeAdapter) Send(protocol.NodeAddress, protocol.Payload) error {
	f.mu.Lock()
	f.sent++
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Close() error { return nil }

func noSleep(time.Duration) {}

// newTestController builds a Controller wired to a fakeAdapter without
// going through New, so construction never touches real hardware/brokers.
func newTestController(settings Settings) (*Controller, *fakeAdapter) {
	adapter := &fakeAdapter{}
	reg := registry.New()
	cmdEngine := &command.Engine{Registry: reg, Adapter: adapter, Now: time.Now, Sleep: noSleep}
	otaEngine := ota.NewEngine(reg, adapter, ota.Settings{MaxRetries: settings.OtaMaxRetries, Timeout: settings.OtaTimeout})
	otaEngine.Sleep = noSleep

	c := &Controller{
		settings:      settings,
		adapter:       adapter,
		registry:      reg,
		command:       cmdEngine,
		ota:           otaEngine,
		events:        events.NewDispatcher(),
		constructedAt: time.Now().Add(-2 * command.Timeout), // initial window already elapsed
	}
	return c, adapter
}

func TestStatusReturnsPopulatedEntries(t *testing.T) {
	c, _ := newTestController(DefaultSettings())
	addr := protocol.NodeAddress(0x42)
	c.registry.Update(addr, protocol.NodeStatus{Lifecycle: protocol.LifecycleRunning, BatteryMV: 3700}, time.Unix(0, 0))

	entries, err := c.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(entries) != 1 || entries[0].Addr != addr {
		t.Fatalf("entries = %+v, want one entry for %s", entries, addr)
	}
	if entries[0].Status.BatteryMV != 3700 {
		t.Fatalf("BatteryMV = %d, want 3700", entries[0].Status.BatteryMV)
	}
}

func TestStatusFiltersToSelection(t *testing.T) {
	c, _ := newTestController(DefaultSettings())
	a, b := protocol.NodeAddress(1), protocol.NodeAddress(2)
	c.registry.Update(a, protocol.NodeStatus{Lifecycle: protocol.LifecycleRunning}, time.Unix(0, 0))
	c.registry.Update(b, protocol.NodeStatus{Lifecycle: protocol.LifecycleRunning}, time.Unix(0, 0))
	c.settings.Devices = []string{a.String()}

	entries, err := c.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(entries) != 1 || entries[0].Addr != a {
		t.Fatalf("entries = %+v, want only %s", entries, a)
	}
}

func TestOperationsFailAfterTerminate(t *testing.T) {
	c, _ := newTestController(DefaultSettings())
	if err := c.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if _, err := c.Status(); err == nil {
		t.Fatalf("expected Status to fail after Terminate")
	}
	if _, err := c.Start(); err == nil {
		t.Fatalf("expected Start to fail after Terminate")
	}
	if err := c.Terminate(); err != nil {
		t.Fatalf("second Terminate should be a no-op, got %v", err)
	}
}

func TestOnFrameUpdatesRegistryFromStatusNotif(t *testing.T) {
	c, _ := newTestController(DefaultSettings())
	addr := protocol.NodeAddress(7)
	c.onFrame(addr, protocol.StatusNotif{Device: protocol.DeviceDotBotV3, Status: protocol.LifecycleBootloader, BatteryMV: 4000})

	entry, ok := c.registry.Get(addr)
	if !ok {
		t.Fatalf("expected registry entry for %s", addr)
	}
	if entry.Status.Lifecycle != protocol.LifecycleBootloader {
		t.Fatalf("Lifecycle = %v, want Bootloader", entry.Status.Lifecycle)
	}
}

func TestOnFrameDispatchesDeviceEvents(t *testing.T) {
	c, _ := newTestController(DefaultSettings())
	seen := make(chan events.DeviceEvent, 1)
	c.events.Register(recordingSinkFunc(func(e events.DeviceEvent) { seen <- e }))

	c.onFrame(protocol.NodeAddress(9), protocol.EventNotif{Kind: protocol.TagEventGPIO, Timestamp: 1, Data: []byte{1}})

	select {
	case e := <-seen:
		if e.Kind != events.KindGPIO {
			t.Fatalf("Kind = %s, want gpio", e.Kind)
		}
	default:
		t.Fatalf("expected dispatched event")
	}
}

func TestOnFrameDropsEventsOutsideSelection(t *testing.T) {
	c, _ := newTestController(DefaultSettings())
	inSelection := protocol.NodeAddress(9)
	outsideSelection := protocol.NodeAddress(10)
	c.settings.Devices = []string{inSelection.String()}

	seen := make(chan events.DeviceEvent, 1)
	c.events.Register(recordingSinkFunc(func(e events.DeviceEvent) { seen <- e }))

	c.onFrame(outsideSelection, protocol.EventNotif{Kind: protocol.TagEventGPIO, Timestamp: 1, Data: []byte{1}})
	select {
	case e := <-seen:
		t.Fatalf("expected event from %s to be dropped, got %+v", outsideSelection, e)
	default:
	}

	c.onFrame(inSelection, protocol.EventNotif{Kind: protocol.TagEventGPIO, Timestamp: 2, Data: []byte{2}})
	select {
	case e := <-seen:
		if e.Source != inSelection {
			t.Fatalf("Source = %s, want %s", e.Source, inSelection)
		}
	default:
		t.Fatalf("expected event from %s to be dispatched", inSelection)
	}
}

func TestMonitorReturnsOnContextCancel(t *testing.T) {
	c, _ := newTestController(DefaultSettings())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := c.Monitor(ctx); err != nil {
		t.Fatalf("Monitor: %v", err)
	}
}

type recordingSinkFunc func(events.DeviceEvent)

func (f recordingSinkFunc) ID() string { return "test" }
func (f recordingSinkFunc) Execute(_ context.Context, e events.DeviceEvent) error {
	f(e)
	return nil
}
