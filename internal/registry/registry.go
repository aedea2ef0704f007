// Package registry tracks the latest known status of every node the
// controller has heard from, keyed by node address.
//
// Concurrency model: a sync.RWMutex guards the map (internal/rtmp/server's
// Registry pattern); entries are small value types so there is no need for
// the teacher's per-entry mutex.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/swarmit/swarmitctl/internal/protocol"
)

// Entry is a node's last-known status plus local bookkeeping.
type Entry struct {
	Addr      protocol.NodeAddress
	Status    protocol.NodeStatus
	UpdatedAt time.Time
}

// Registry holds all known node entries keyed by address.
type Registry struct {
	mu      sync.RWMutex
	entries map[protocol.NodeAddress]Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[protocol.NodeAddress]Entry)}
}

// Update records a new status for addr, overwriting any previous entry.
func (r *Registry) Update(addr protocol.NodeAddress, status protocol.NodeStatus, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[addr] = Entry{Addr: addr, Status: status, UpdatedAt: at}
}

// Get returns the entry for addr and whether it is present.
func (r *Registry) Get(addr protocol.NodeAddress) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[addr]
	return e, ok
}

// Snapshot returns a copy of every known entry, sorted by address, so
// callers can range over it without holding the registry lock.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Len reports the number of known nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Select resolves a device selection to the set of known addresses it
// targets: an empty selection means every known node (broadcast scope,
// §4.1); a non-empty selection is filtered to addresses actually present
// in the registry, preserving input order.
func (r *Registry) Select(selection []protocol.NodeAddress) []protocol.NodeAddress {
	if len(selection) == 0 {
		snap := r.Snapshot()
		out := make([]protocol.NodeAddress, len(snap))
		for i, e := range snap {
			out[i] = e.Addr
		}
		return out
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.NodeAddress, 0, len(selection))
	for _, a := range selection {
		if _, ok := r.entries[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Ready filters addrs to those whose current status is Ready (Bootloader).
func (r *Registry) Ready(addrs []protocol.NodeAddress) []protocol.NodeAddress {
	return r.filter(addrs, protocol.NodeStatus.Ready)
}

// Stoppable filters addrs to those whose current status is Stoppable.
func (r *Registry) Stoppable(addrs []protocol.NodeAddress) []protocol.NodeAddress {
	return r.filter(addrs, protocol.NodeStatus.Stoppable)
}

func (r *Registry) filter(addrs []protocol.NodeAddress, pred func(protocol.NodeStatus) bool) []protocol.NodeAddress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.NodeAddress, 0, len(addrs))
	for _, a := range addrs {
		if e, ok := r.entries[a]; ok && pred(e.Status) {
			out = append(out, a)
		}
	}
	return out
}
