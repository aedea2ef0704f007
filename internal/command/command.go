// Package command implements the command engine (§4.4): the shared
// send-until-observed retry loop behind Start and Stop, plus the
// no-retry Reset and fire-and-forget Message operations.
package command

import (
	"fmt"
	"sort"
	"time"

	"github.com/swarmit/swarmitctl/internal/gateway"
	"github.com/swarmit/swarmitctl/internal/protocol"
	"github.com/swarmit/swarmitctl/internal/registry"
)

// Timing constants (§6.4, normative).
const (
	Timeout      = 6 * time.Second
	MaxAttempts  = 5
	AttemptDelay = 700 * time.Millisecond
)

// ResetLocation is a reset target position in micrometres (§4.4, §6.3).
type ResetLocation struct {
	PosX int32
	PosY int32
}

// Engine drives command delivery against a node registry through a gateway
// adapter. Now and Sleep are overridable so tests can run the retry loop
// without real wall-clock delay.
type Engine struct {
	Registry *registry.Registry
	Adapter  gateway.Adapter

	Now   func() time.Time
	Sleep func(time.Duration)
}

// NewEngine creates an Engine bound to reg and adapter with real clock
// functions.
func NewEngine(reg *registry.Registry, adapter gateway.Adapter) *Engine {
	return &Engine{Registry: reg, Adapter: adapter, Now: time.Now, Sleep: time.Sleep}
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

// Start computes T = ready_devices ∩ selection (or all ready devices if
// selection is empty), sends START_REQUEST until every address in T reports
// Running or MaxAttempts is exhausted, then returns a live status view of T
// after the Timeout observation window (§4.4).
func (e *Engine) Start(selection []protocol.NodeAddress) ([]registry.Entry, error) {
	targets := e.Registry.Ready(e.Registry.Select(selection))
	if err := e.sendUntilObserved(targets, len(selection) == 0, protocol.StartRequest{}, func(s protocol.NodeStatus) bool {
		return s.Lifecycle == protocol.LifecycleRunning
	}); err != nil {
		return nil, err
	}
	return e.liveStatus(targets), nil
}

// Stop computes T = stoppable_devices ∩ selection, sends STOP_REQUEST until
// every address in T reports Stopping or Bootloader or MaxAttempts is
// exhausted, then returns a live status view of T (§4.4).
func (e *Engine) Stop(selection []protocol.NodeAddress) ([]registry.Entry, error) {
	targets := e.Registry.Stoppable(e.Registry.Select(selection))
	if err := e.sendUntilObserved(targets, len(selection) == 0, protocol.StopRequest{}, func(s protocol.NodeStatus) bool {
		return s.Lifecycle == protocol.LifecycleStopping || s.Lifecycle == protocol.LifecycleBootloader
	}); err != nil {
		return nil, err
	}
	return e.liveStatus(targets), nil
}

func (e *Engine) sendUntilObserved(targets []protocol.NodeAddress, broadcast bool, payload protocol.Payload, done func(protocol.NodeStatus) bool) error {
	attempts := 0
	for attempts < MaxAttempts && !e.allDone(targets, done) {
		if broadcast {
			if err := e.Adapter.Send(protocol.Broadcast, payload); err != nil {
				return fmt.Errorf("command: broadcast send: %w", err)
			}
		} else {
			for _, a := range targets {
				if st, ok := e.Registry.Get(a); ok && done(st.Status) {
					continue
				}
				if err := e.Adapter.Send(a, payload); err != nil {
					return fmt.Errorf("command: unicast send to %s: %w", a.String(), err)
				}
			}
		}
		attempts++
		e.sleep(AttemptDelay)
	}
	return nil
}

func (e *Engine) allDone(targets []protocol.NodeAddress, done func(protocol.NodeStatus) bool) bool {
	if len(targets) == 0 {
		return true
	}
	for _, a := range targets {
		st, ok := e.Registry.Get(a)
		if !ok || !done(st.Status) {
			return false
		}
	}
	return true
}

// liveStatus waits out the observation window and returns the registry's
// current view of targets, regardless of predicate outcome (§4.4 step 4).
func (e *Engine) liveStatus(targets []protocol.NodeAddress) []registry.Entry {
	e.sleep(Timeout)
	out := make([]registry.Entry, 0, len(targets))
	for _, a := range targets {
		if entry, ok := e.Registry.Get(a); ok {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Reset sends one unicast RESET_REQUEST per selected address carrying its
// matching location, with no retry (§4.4). If any selected address has no
// matching location, Reset refuses and sends nothing.
func (e *Engine) Reset(selection []protocol.NodeAddress, locations map[protocol.NodeAddress]ResetLocation) error {
	for _, a := range selection {
		if _, ok := locations[a]; !ok {
			return fmt.Errorf("command: reset: no location provided for %s", a.String())
		}
	}
	for _, a := range selection {
		loc := locations[a]
		if err := e.Adapter.Send(a, protocol.ResetRequest{PosX: loc.PosX, PosY: loc.PosY}); err != nil {
			return fmt.Errorf("command: reset send to %s: %w", a.String(), err)
		}
	}
	return nil
}

// Message is a one-shot, fire-and-forget send: a single broadcast if
// selection is empty, else one unicast to each selected address currently
// Running (§4.4).
func (e *Engine) Message(selection []protocol.NodeAddress, text []byte) error {
	payload := protocol.Message{Text: text}
	if len(selection) == 0 {
		if err := e.Adapter.Send(protocol.Broadcast, payload); err != nil {
			return fmt.Errorf("command: message broadcast: %w", err)
		}
		return nil
	}
	for _, a := range e.Registry.Select(selection) {
		st, ok := e.Registry.Get(a)
		if !ok || !st.Status.Running() {
			continue
		}
		if err := e.Adapter.Send(a, payload); err != nil {
			return fmt.Errorf("command: message send to %s: %w", a.String(), err)
		}
	}
	return nil
}
