package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

// PendingCommand is a relayed command still waiting for its confirmation.
type PendingCommand struct {
	RequestID string
	DeviceID  string
	Command   types.CommandName
	IssuedAt  time.Time
	Deadline  time.Time
}

// Resolution is the terminal outcome of a pending command.
type Resolution struct {
	PendingCommand
	Status     types.CommandStatus
	Response   json.RawMessage
	ResolvedAt time.Time
	Reason     string
}

type pendingEntry struct {
	cmd  PendingCommand
	done chan struct{}
	res  Resolution
}

// PendingTable correlates request ids with confirmations. Resolved entries
// are kept for one retention window so a late Wait still sees the result.
type PendingTable struct {
	mu        sync.Mutex
	pending   map[string]*pendingEntry
	resolved  map[string]*pendingEntry
	retention time.Duration
}

func NewPendingTable(retention time.Duration) *PendingTable {
	if retention <= 0 {
		retention = time.Minute
	}
	return &PendingTable{
		pending:   make(map[string]*pendingEntry),
		resolved:  make(map[string]*pendingEntry),
		retention: retention,
	}
}

func (t *PendingTable) Add(cmd PendingCommand) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[cmd.RequestID] = &pendingEntry{cmd: cmd, done: make(chan struct{})}
}

// Remove forgets a request without resolving it.
func (t *PendingTable) Remove(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, requestID)
}

// Resolve settles requestID. A non-empty deviceID must match the device the
// command was sent to.
func (t *PendingTable) Resolve(deviceID, requestID string, status types.CommandStatus, response json.RawMessage, now time.Time) (Resolution, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.pending[requestID]
	if !ok || (deviceID != "" && e.cmd.DeviceID != deviceID) {
		return Resolution{}, false
	}
	return t.settleLocked(e, status, response, now, ""), true
}

// ResolveOldest settles the oldest pending command of deviceID with the
// given opcode. Used when a device confirms without echoing the request id.
func (t *PendingTable) ResolveOldest(deviceID string, cmd types.CommandName, status types.CommandStatus, response json.RawMessage, now time.Time) (Resolution, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var oldest *pendingEntry
	for _, e := range t.pending {
		if e.cmd.DeviceID != deviceID || e.cmd.Command != cmd {
			continue
		}
		if oldest == nil || e.cmd.IssuedAt.Before(oldest.cmd.IssuedAt) ||
			(e.cmd.IssuedAt.Equal(oldest.cmd.IssuedAt) && e.cmd.RequestID < oldest.cmd.RequestID) {
			oldest = e
		}
	}
	if oldest == nil {
		return Resolution{}, false
	}
	return t.settleLocked(oldest, status, response, now, ""), true
}

// Expire fails every command whose deadline is not after now and drops
// resolved results older than the retention window.
func (t *PendingTable) Expire(now time.Time) []Resolution {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Resolution
	for _, e := range t.pending {
		if !now.Before(e.cmd.Deadline) {
			out = append(out, t.settleLocked(e, types.CommandFailed, nil, now, "acknowledgment timeout"))
		}
	}
	for id, e := range t.resolved {
		if now.Sub(e.res.ResolvedAt) > t.retention {
			delete(t.resolved, id)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}

func (t *PendingTable) settleLocked(e *pendingEntry, status types.CommandStatus, response json.RawMessage, now time.Time, reason string) Resolution {
	e.res = Resolution{
		PendingCommand: e.cmd,
		Status:         status,
		Response:       response,
		ResolvedAt:     now.UTC(),
		Reason:         reason,
	}
	delete(t.pending, e.cmd.RequestID)
	t.resolved[e.cmd.RequestID] = e
	close(e.done)
	return e.res
}

// Wait blocks until requestID resolves or ctx ends.
func (t *PendingTable) Wait(ctx context.Context, requestID string) (Resolution, error) {
	t.mu.Lock()
	e, ok := t.pending[requestID]
	if !ok {
		e, ok = t.resolved[requestID]
	}
	t.mu.Unlock()
	if !ok {
		return Resolution{}, ErrUnknownRequest
	}

	select {
	case <-e.done:
		return e.res, nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}

// Len is the number of unresolved commands.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
