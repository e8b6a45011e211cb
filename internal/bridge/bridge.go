// Package bridge multiplexes concurrent HTTP callers onto a single child
// process speaking line-delimited JSON-RPC over stdio. Client-supplied ids
// may collide across callers, so every outgoing request is rewritten to a
// bridge-assigned internal id and restored on the way back.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/mcpbridge/internal/jsonrpc"
)

// State is the bridge lifecycle. There is no transition back to Running:
// a crashed child is surfaced as an error state, never restarted.
type State int32

const (
	StateUninitialized State = iota
	StateStarting
	StateRunning
	StateExited
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

const maxLineBytes = 1024 * 1024

// ProcessFactory launches the child for a bridge instance.
type ProcessFactory func(ctx context.Context) (Process, error)

// Bridge is one stdio-to-HTTP JSON-RPC bridge instance: one child process,
// one reader loop, one correlation table. All state is per-instance so
// several bridges can coexist in a process and tear down independently.
type Bridge struct {
	name       string
	instanceID uuid.UUID
	factory    ProcessFactory
	timeout    time.Duration

	proc       Process
	pending    *table
	state      atomic.Int32
	startedAt  time.Time
	readerDone chan struct{}
	log        zerolog.Logger
}

// Status is a point-in-time snapshot of a bridge instance.
type Status struct {
	Name       string     `json:"name"`
	InstanceID uuid.UUID  `json:"instance_id"`
	State      string     `json:"state"`
	PID        int        `json:"pid,omitempty"`
	Pending    int        `json:"pending"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
}

// New creates a bridge in the Uninitialized state. timeout bounds how long
// a caller waits for the child to answer one request.
func New(name string, factory ProcessFactory, timeout time.Duration) *Bridge {
	return &Bridge{
		name:       name,
		instanceID: uuid.New(),
		factory:    factory,
		timeout:    timeout,
		pending:    newTable(),
		readerDone: make(chan struct{}),
		log:        log.With().Str("server", name).Logger(),
	}
}

// Start spawns the child and launches the reader loop. A spawn failure is
// fatal to this instance: the state moves to Exited and the bridge never
// becomes ready.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(StateUninitialized), int32(StateStarting)) {
		return fmt.Errorf("bridge.Bridge.Start(%q): already started", b.name)
	}

	proc, err := b.factory(ctx)
	if err != nil {
		b.state.Store(int32(StateExited))
		close(b.readerDone)
		return fmt.Errorf("bridge.Bridge.Start(%q): %w", b.name, err)
	}

	b.proc = proc
	b.startedAt = time.Now()
	b.state.Store(int32(StateRunning))

	go b.readLoop()

	return nil
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Status reports the instance snapshot for the management API.
func (b *Bridge) Status() Status {
	st := Status{
		Name:       b.name,
		InstanceID: b.instanceID,
		State:      b.State().String(),
		Pending:    b.pending.size(),
	}
	if b.proc != nil {
		st.PID = b.proc.Pid()
	}
	if !b.startedAt.IsZero() {
		t := b.startedAt
		st.StartedAt = &t
	}
	return st
}

// Handle forwards one inbound JSON-RPC message to the child. Notifications
// are written through without waiting and return a nil envelope (the HTTP
// layer acknowledges with an empty 204). Requests block until the matching
// response arrives, the timeout elapses, or the child dies.
func (b *Bridge) Handle(ctx context.Context, env jsonrpc.Envelope) (jsonrpc.Envelope, error) {
	if env.IsNotification() {
		// Nobody awaits a notification result; failures are logged, not
		// surfaced, and the caller always gets the empty ack.
		if b.State() != StateRunning {
			b.log.Warn().Str("method", env.Method()).Msg("dropping notification, child not running")
			return nil, nil
		}
		data, err := env.Encode()
		if err != nil {
			b.log.Warn().Err(err).Msg("dropping unencodable notification")
			return nil, nil
		}
		if err := b.proc.Write(data); err != nil {
			b.log.Warn().Err(err).Str("method", env.Method()).Msg("notification write failed")
		}
		return nil, nil
	}

	if b.State() != StateRunning {
		return nil, fmt.Errorf("bridge.Bridge.Handle: %w", ErrProcessNotRunning)
	}

	clientID, _ := env.ID()

	internalID, call := b.pending.register(clientID)
	env.SetInternalID(internalID)

	data, err := env.Encode()
	if err != nil {
		b.pending.remove(internalID)
		return nil, fmt.Errorf("bridge.Bridge.Handle: %w: %v", ErrWriteFailed, err)
	}

	if err := b.proc.Write(data); err != nil {
		b.pending.remove(internalID)
		// A write error on an exited child is the crash path, not an
		// isolated I/O failure.
		if b.proc.Exited() {
			return nil, fmt.Errorf("bridge.Bridge.Handle: %w", ErrProcessCrashed)
		}
		return nil, fmt.Errorf("bridge.Bridge.Handle: %w", err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case res := <-call.ch:
		return b.finish(res, clientID)
	case <-timer.C:
		// Atomic check-and-remove: if the reader resolved this entry in
		// the same instant, the result is already in the channel and wins.
		if b.pending.remove(internalID) {
			return nil, fmt.Errorf("bridge.Bridge.Handle: %w after %s", ErrRequestTimeout, b.timeout)
		}
		return b.finish(<-call.ch, clientID)
	case <-ctx.Done():
		if b.pending.remove(internalID) {
			return nil, fmt.Errorf("bridge.Bridge.Handle: %w", ctx.Err())
		}
		return b.finish(<-call.ch, clientID)
	}
}

// finish restores the caller's verbatim id onto a resolved response.
func (b *Bridge) finish(res result, clientID json.RawMessage) (jsonrpc.Envelope, error) {
	if res.err != nil {
		return nil, fmt.Errorf("bridge.Bridge.Handle: %w", res.err)
	}
	res.response.SetID(clientID)
	return res.response, nil
}

// readLoop is the only resolver of pending calls. It drains the child's
// stdout line by line until EOF, then fails everything still in flight.
func (b *Bridge) readLoop() {
	defer close(b.readerDone)

	scanner := bufio.NewScanner(b.proc.Stdout())
	scanner.Buffer(make([]byte, 0, 256*1024), maxLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		env, err := jsonrpc.Decode(line)
		if err != nil {
			// Malformed output cannot be attributed to a pending request;
			// log and keep the loop alive.
			b.log.Warn().Err(err).Msg("dropping unparseable child output")
			continue
		}

		rawID, ok := env.ID()
		if !ok {
			// Server-initiated notification; there is no caller to route
			// it to on this transport.
			b.log.Debug().Str("method", env.Method()).Msg("dropping child notification")
			continue
		}

		var id uint64
		if err := json.Unmarshal(rawID, &id); err != nil {
			b.log.Warn().RawJSON("id", rawID).Msg("child response id is not a bridge-assigned id")
			continue
		}

		if !b.pending.resolve(id, result{response: env}) {
			b.log.Debug().Uint64("internal_id", id).Msg("no pending request for child response")
		}
	}

	if err := scanner.Err(); err != nil {
		b.log.Warn().Err(err).Msg("child stdout read failed")
	}

	// EOF: the child is gone. Fail every caller still waiting so nobody
	// blocks until their individual timeout.
	b.state.Store(int32(StateExited))
	if n := b.pending.drain(ErrProcessCrashed); n > 0 {
		b.log.Warn().Int("pending", n).Msg("child exited with requests in flight")
	} else {
		b.log.Info().Msg("child stdout closed")
	}
}

// Close terminates the child and waits for the reader loop to drain. Safe
// to call regardless of state; a bridge that never started is a no-op.
func (b *Bridge) Close(ctx context.Context) error {
	if b.proc == nil {
		return nil
	}

	b.state.Store(int32(StateExited))

	err := b.proc.Terminate(ctx)

	select {
	case <-b.readerDone:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	if err != nil {
		return fmt.Errorf("bridge.Bridge.Close(%q): %w", b.name, err)
	}
	return nil
}
