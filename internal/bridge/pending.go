package bridge

import (
	"encoding/json"
	"sync"

	"github.com/gosuda/mcpbridge/internal/jsonrpc"
)

// result is the single-assignment outcome of a pending request: either the
// child's raw response envelope or a failure.
type result struct {
	response jsonrpc.Envelope
	err      error
}

// pendingCall is one in-flight request. ch is buffered and receives exactly
// one result; the table guarantees single resolution by removing the entry
// under lock before completing it.
type pendingCall struct {
	clientID json.RawMessage
	ch       chan result
}

// table correlates bridge-assigned internal ids to in-flight calls. The id
// counter and the map share one mutex so id allocation and registration are
// a single critical section: a response can never arrive for an id that was
// allocated but not yet registered.
type table struct {
	mu     sync.Mutex
	nextID uint64
	calls  map[uint64]*pendingCall
}

func newTable() *table {
	return &table{calls: make(map[uint64]*pendingCall)}
}

// register allocates a fresh internal id and inserts a pending call keyed
// by it. clientID is kept verbatim for restoring the response id.
func (t *table) register(clientID json.RawMessage) (uint64, *pendingCall) {
	call := &pendingCall{
		clientID: clientID,
		ch:       make(chan result, 1),
	}

	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.calls[id] = call
	t.mu.Unlock()

	return id, call
}

// resolve removes the entry for id and completes it with res. Reports
// false when the id is unknown: a late or duplicate response, or a request
// that already timed out.
func (t *table) resolve(id uint64, res result) bool {
	t.mu.Lock()
	call, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	call.ch <- res
	return true
}

// remove deletes a still-pending entry without completing it. Reports
// false when the reader loop already consumed the entry, in which case a
// result is sitting in the call's channel.
func (t *table) remove(id uint64) bool {
	t.mu.Lock()
	_, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	t.mu.Unlock()
	return ok
}

// drain fails every outstanding call with err and empties the table.
// Returns the number of calls failed.
func (t *table) drain(err error) int {
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[uint64]*pendingCall)
	t.mu.Unlock()

	for _, call := range calls {
		call.ch <- result{err: err}
	}
	return len(calls)
}

// size returns the number of in-flight calls.
func (t *table) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
