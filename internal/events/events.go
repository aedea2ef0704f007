// Package events fans out the inbound EVENT_GPIO / EVENT_LOG notifications
// a node emits asynchronously (outside the request/ack command flow) to one
// or more sinks, the way the teacher's hook system fans out RTMP lifecycle
// events to pluggable handlers.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/swarmit/swarmitctl/internal/protocol"
)

// Kind distinguishes a GPIO toggle notification from a log-line notification.
type Kind string

const (
	KindGPIO Kind = "gpio"
	KindLog  Kind = "log"
)

// DeviceEvent is one EVENT_GPIO/EVENT_LOG notification from a node.
type DeviceEvent struct {
	Kind       Kind
	Source     protocol.NodeAddress
	Timestamp  uint32
	Data       []byte
	ObservedAt time.Time
}

// FromNotif converts a decoded wire EventNotif plus its source address into
// a DeviceEvent.
func FromNotif(source protocol.NodeAddress, n protocol.EventNotif, observedAt time.Time) DeviceEvent {
	kind := KindGPIO
	if n.Kind == protocol.TagEventLog {
		kind = KindLog
	}
	return DeviceEvent{Kind: kind, Source: source, Timestamp: n.Timestamp, Data: n.Data, ObservedAt: observedAt}
}

// String renders a human-readable summary, e.g. for the monitor CLI command.
func (e DeviceEvent) String() string {
	return fmt.Sprintf("%s [%s] t=%d %q", e.Source.String(), e.Kind, e.Timestamp, e.Data)
}

// Sink handles one dispatched event. Implementations must return promptly;
// the dispatcher does not enforce a timeout itself.
type Sink interface {
	Execute(ctx context.Context, event DeviceEvent) error
	ID() string
}

// Dispatcher fans out device events to every registered sink, guarded by an
// RWMutex over the sink map (registry.Registry's concurrency pattern).
type Dispatcher struct {
	mu    sync.RWMutex
	sinks map[string]Sink
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{sinks: make(map[string]Sink)}
}

// Register adds sink, replacing any previous sink with the same ID.
func (d *Dispatcher) Register(sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks[sink.ID()] = sink
}

// Unregister removes the sink with the given ID, if present.
func (d *Dispatcher) Unregister(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sinks, id)
}

// Dispatch delivers event to every registered sink sequentially, collecting
// (not aborting on) individual sink errors so one failing sink cannot block
// the others.
func (d *Dispatcher) Dispatch(ctx context.Context, event DeviceEvent) []error {
	d.mu.RLock()
	sinks := make([]Sink, 0, len(d.sinks))
	for _, s := range d.sinks {
		sinks = append(sinks, s)
	}
	d.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Execute(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.ID(), err))
		}
	}
	return errs
}
