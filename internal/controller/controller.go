// Package controller implements the facade (C6) that wires the registry,
// command engine, OTA engine, gateway adapter, and event dispatcher into
// the single entry point the CLI drives.
package controller

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/swarmit/swarmitctl/internal/command"
	"github.com/swarmit/swarmitctl/internal/errs"
	"github.com/swarmit/swarmitctl/internal/events"
	"github.com/swarmit/swarmitctl/internal/gateway"
	"github.com/swarmit/swarmitctl/internal/logger"
	"github.com/swarmit/swarmitctl/internal/ota"
	"github.com/swarmit/swarmitctl/internal/protocol"
	"github.com/swarmit/swarmitctl/internal/registry"
)

// Controller is Open on construction and Closed after Terminate; every
// public operation requires Open (§4.6).
type Controller struct {
	settings Settings
	adapter  gateway.Adapter
	registry *registry.Registry
	command  *command.Engine
	ota      *ota.Engine
	events   *events.Dispatcher

	constructedAt time.Time
	initWait      sync.Once

	mu           sync.Mutex
	closed       bool
	otaChunks    []ota.Chunk
	otaDigest    [32]byte
	otaBroadcast bool
}

// New constructs a Controller bound to settings: it selects an adapter
// implementation, registers the inbound frame callback, and opens the
// transport.
func New(settings Settings) (*Controller, error) {
	var adapter gateway.Adapter
	switch settings.Adapter {
	case "cloud":
		adapter = gateway.NewCloudAdapter(gateway.CloudConfig{
			Host:      settings.MQTTHost,
			Port:      settings.MQTTPort,
			UseTLS:    settings.MQTTUseTLS,
			NetworkID: settings.NetworkID,
			Verbose:   settings.Verbose,
		})
	default:
		adapter = gateway.NewEdgeAdapter(gateway.EdgeConfig{
			Port:     settings.SerialPort,
			Baudrate: settings.SerialBaudrate,
			Verbose:  settings.Verbose,
		})
	}

	reg := registry.New()
	dispatcher := events.NewDispatcher()
	dispatcher.Register(events.NewLogSink(logger.Logger()))

	c := &Controller{
		settings:      settings,
		adapter:       adapter,
		registry:      reg,
		command:       command.NewEngine(reg, adapter),
		ota:           ota.NewEngine(reg, adapter, ota.Settings{MaxRetries: settings.OtaMaxRetries, Timeout: settings.OtaTimeout}),
		events:        dispatcher,
		constructedAt: time.Now(),
	}
	if err := adapter.Init(c.onFrame); err != nil {
		return nil, err
	}
	return c, nil
}

// onFrame is the adapter's callback entry point; the adapter invokes it
// serially, one frame at a time (§5).
func (c *Controller) onFrame(source protocol.NodeAddress, payload protocol.Payload) {
	if c.settings.Verbose {
		logger.WithFrame(logger.Logger(), fmt.Sprintf("%T", payload), source.String()).Debug("frame received")
	}
	switch p := payload.(type) {
	case protocol.StatusNotif:
		c.registry.Update(source, p.AsNodeStatus(), time.Now())
	case protocol.OtaStartAckNotif:
		c.ota.OnOtaStartAck(source)
	case protocol.OtaChunkAckNotif:
		if err := c.ota.OnOtaChunkAck(source, p.Index); err != nil && c.settings.Verbose {
			logger.Logger().Warn("dropped chunk ack", "error", err)
		}
	case protocol.EventNotif:
		if !c.isSelected(source) {
			return
		}
		c.events.Dispatch(context.Background(), events.FromNotif(source, p, time.Now()))
	}
}

// isSelected reports whether source is within the configured device
// selection; an empty selection means every device is in scope (§4.3).
func (c *Controller) isSelected(source protocol.NodeAddress) bool {
	if len(c.settings.Devices) == 0 {
		return true
	}
	addr := source.String()
	for _, d := range c.settings.Devices {
		if strings.EqualFold(d, addr) {
			return true
		}
	}
	return false
}

func (c *Controller) requireOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("controller: operation attempted after terminate")
	}
	return nil
}

// waitInitialWindow blocks, the first time only, until COMMAND_TIMEOUT has
// elapsed since construction, giving autonomously-broadcasting nodes time
// to populate the registry (§4.3).
func (c *Controller) waitInitialWindow() {
	c.initWait.Do(func() {
		remaining := command.Timeout - time.Since(c.constructedAt)
		if remaining > 0 {
			time.Sleep(remaining)
		}
	})
}

// resolveSelection parses the configured device selection into addresses.
func (c *Controller) resolveSelection() ([]protocol.NodeAddress, error) {
	out := make([]protocol.NodeAddress, 0, len(c.settings.Devices))
	for _, s := range c.settings.Devices {
		addr, err := protocol.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("controller: invalid device selection %q: %w", s, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// Status returns the current registry view of the selected devices, first
// waiting out the initial observation window if this is the first call.
func (c *Controller) Status() ([]registry.Entry, error) {
	if err := c.requireOpen(); err != nil {
		return nil, err
	}
	c.waitInitialWindow()
	selection, err := c.resolveSelection()
	if err != nil {
		return nil, err
	}
	addrs := c.registry.Select(selection)
	out := make([]registry.Entry, 0, len(addrs))
	for _, a := range addrs {
		if entry, ok := c.registry.Get(a); ok {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out, nil
}

// Start sends START_REQUEST to the selected fleet until every ready device
// reports Running or the retry budget is exhausted (§4.4).
func (c *Controller) Start() ([]registry.Entry, error) {
	if err := c.requireOpen(); err != nil {
		return nil, err
	}
	selection, err := c.resolveSelection()
	if err != nil {
		return nil, err
	}
	return c.command.Start(selection)
}

// Stop sends STOP_REQUEST to the selected fleet until every stoppable
// device reports Stopping or Bootloader or the retry budget is exhausted
// (§4.4).
func (c *Controller) Stop() ([]registry.Entry, error) {
	if err := c.requireOpen(); err != nil {
		return nil, err
	}
	selection, err := c.resolveSelection()
	if err != nil {
		return nil, err
	}
	return c.command.Stop(selection)
}

// Reset sends one RESET_REQUEST per selected device with a matching
// location (§4.4).
func (c *Controller) Reset(locations map[protocol.NodeAddress]command.ResetLocation) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	selection, err := c.resolveSelection()
	if err != nil {
		return err
	}
	return c.command.Reset(selection, locations)
}

// Message sends text as a fire-and-forget MESSAGE payload (§4.4).
func (c *Controller) Message(text []byte) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	selection, err := c.resolveSelection()
	if err != nil {
		return err
	}
	return c.command.Message(selection, text)
}

// StartOta runs the Start-OTA handshake over firmware and remembers its
// chunking for a subsequent Transfer call. If any targeted device misses
// its ack, the returned error is an *errs.StartOtaIncompleteError and the
// caller must Stop and abort (§4.5.2, §4.5.4).
func (c *Controller) StartOta(firmware []byte) (ota.StartOtaResult, error) {
	if err := c.requireOpen(); err != nil {
		return ota.StartOtaResult{}, err
	}
	selection, err := c.resolveSelection()
	if err != nil {
		return ota.StartOtaResult{}, err
	}

	chunks, digest := ota.Prepare(firmware)
	targets := c.ota.Targets(selection)
	broadcast := len(selection) == 0

	result, err := c.ota.StartOta(chunks, digest, targets, broadcast)
	if err != nil {
		return ota.StartOtaResult{}, err
	}

	c.mu.Lock()
	c.otaChunks = chunks
	c.otaDigest = digest
	c.otaBroadcast = broadcast
	c.mu.Unlock()

	if len(result.Missed) > 0 {
		return result, &errs.StartOtaIncompleteError{Missed: result.Missed}
	}
	return result, nil
}

// Transfer runs the chunk transfer loop against ackedAddrs (the devices
// that acked Start-OTA), reusing the chunking computed by the preceding
// StartOta call. If any device finishes with success == false, the
// returned error is an *errs.TransferIncompleteError; the full status map
// is still returned so the caller can report per-device detail (§4.5.3,
// §4.5.4).
func (c *Controller) Transfer(ackedAddrs []string) (map[protocol.NodeAddress]*ota.TransferStatus, error) {
	if err := c.requireOpen(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	chunks := c.otaChunks
	broadcast := c.otaBroadcast
	c.mu.Unlock()
	if chunks == nil {
		return nil, fmt.Errorf("controller: transfer called before start_ota")
	}

	targets := make([]protocol.NodeAddress, 0, len(ackedAddrs))
	for _, s := range ackedAddrs {
		addr, err := protocol.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("controller: invalid acked address %q: %w", s, err)
		}
		targets = append(targets, addr)
	}

	status, err := c.ota.Transfer(chunks, targets, broadcast)
	if err != nil {
		return nil, err
	}

	var failed []string
	for addr, st := range status {
		if !st.Success {
			failed = append(failed, addr.String())
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return status, &errs.TransferIncompleteError{FailedDevices: failed}
	}
	return status, nil
}

// Monitor blocks, surfacing inbound event-log notifications through the
// registered sinks, until ctx is cancelled (§4.6).
func (c *Controller) Monitor(ctx context.Context) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Events exposes the event dispatcher so callers (e.g. the monitor CLI
// command) can register additional sinks before or during Monitor.
func (c *Controller) Events() *events.Dispatcher { return c.events }

// Registry exposes the node registry for read-only inspection (status
// rendering).
func (c *Controller) Registry() *registry.Registry { return c.registry }

// Terminate closes the adapter and transitions the facade to Closed.
func (c *Controller) Terminate() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.adapter.Close()
}
