package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/swarmit/swarmitctl/internal/protocol"
)

type recordingSink struct {
	id      string
	got     []DeviceEvent
	failing bool
}

func (s *recordingSink) ID() string { return s.id }
func (s *recordingSink) Execute(_ context.Context, e DeviceEvent) error {
	s.got = append(s.got, e)
	if s.failing {
		return errors.New("boom")
	}
	return nil
}

func TestFromNotifKind(t *testing.T) {
	gpio := FromNotif(protocol.NodeAddress(1), protocol.EventNotif{Kind: protocol.TagEventGPIO, Timestamp: 5, Data: []byte{1}}, time.Unix(0, 0))
	if gpio.Kind != KindGPIO {
		t.Fatalf("Kind = %s, want gpio", gpio.Kind)
	}
	logEvt := FromNotif(protocol.NodeAddress(1), protocol.EventNotif{Kind: protocol.TagEventLog, Timestamp: 5, Data: []byte("hi")}, time.Unix(0, 0))
	if logEvt.Kind != KindLog {
		t.Fatalf("Kind = %s, want log", logEvt.Kind)
	}
}

func TestDispatchFanOut(t *testing.T) {
	d := NewDispatcher()
	a := &recordingSink{id: "a"}
	b := &recordingSink{id: "b", failing: true}
	d.Register(a)
	d.Register(b)

	evt := DeviceEvent{Kind: KindLog, Source: protocol.NodeAddress(1)}
	errs := d.Dispatch(context.Background(), evt)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error from failing sink, got %v", errs)
	}
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("expected both sinks to observe the event")
	}
}

func TestUnregister(t *testing.T) {
	d := NewDispatcher()
	a := &recordingSink{id: "a"}
	d.Register(a)
	d.Unregister("a")

	errs := d.Dispatch(context.Background(), DeviceEvent{})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(a.got) != 0 {
		t.Fatalf("expected unregistered sink to not be invoked")
	}
}
