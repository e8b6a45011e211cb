package bridge_test

import (
	"bufio"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/mcpbridge/internal/bridge"
)

// spawnBridge starts a bridge over a real child process.
func spawnBridge(t *testing.T, spec bridge.Spec, timeout time.Duration) *bridge.Bridge {
	t.Helper()

	b := bridge.New(spec.Name, func(context.Context) (bridge.Process, error) {
		return bridge.Spawn(spec, 2*time.Second)
	}, timeout)

	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Close(ctx)
	})

	return b
}

func TestSpawn_UnknownExecutable(t *testing.T) {
	t.Parallel()

	_, err := bridge.Spawn(bridge.Spec{
		Name:    "missing",
		Command: "/nonexistent/mcp-server",
	}, time.Second)

	require.Error(t, err)
	assert.ErrorIs(t, err, bridge.ErrSpawn)
}

func TestSupervisor_EchoEndToEnd(t *testing.T) {
	t.Parallel()

	// cat echoes every stdin line back verbatim, which makes it a perfect
	// JSON-RPC echo server: the bridge sees its own remapped request as
	// the response and must restore the caller's id.
	b := spawnBridge(t, bridge.Spec{Name: "cat", Command: "cat"}, 5*time.Second)

	resp, err := b.Handle(context.Background(), mustEnvelope(t, `{"jsonrpc":"2.0","method":"ping","id":7}`))

	require.NoError(t, err)
	require.NotNil(t, resp)

	id, ok := resp.ID()
	require.True(t, ok)
	assert.Equal(t, json.RawMessage(`7`), id, "client id restored on the response")
	assert.Equal(t, "ping", resp.Method())
	assert.Equal(t, bridge.StateRunning, b.State())
}

func TestSupervisor_Terminate(t *testing.T) {
	t.Parallel()

	sup, err := bridge.Spawn(bridge.Spec{Name: "cat", Command: "cat"}, 2*time.Second)
	require.NoError(t, err)
	require.Positive(t, sup.Pid())
	require.False(t, sup.Exited())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sup.Terminate(ctx))

	select {
	case <-sup.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Terminate")
	}
	assert.True(t, sup.Exited())

	err = sup.Write([]byte(`{"jsonrpc":"2.0","method":"ping"}`))
	assert.ErrorIs(t, err, bridge.ErrProcessExited, "no writes after exit")
}

func TestSupervisor_ChildExitFailsPending(t *testing.T) {
	t.Parallel()

	// The child reads exactly one line and exits without answering; the
	// pending caller must get the crash error, not wait out the timeout.
	b := spawnBridge(t, bridge.Spec{
		Name:    "one-shot",
		Command: "sh",
		Args:    []string{"-c", "read line; exit 1"},
	}, 30*time.Second)

	start := time.Now()
	_, err := b.Handle(context.Background(), mustEnvelope(t, `{"jsonrpc":"2.0","method":"ping","id":1}`))

	require.Error(t, err)
	assert.ErrorIs(t, err, bridge.ErrProcessCrashed)
	assert.Less(t, time.Since(start), 10*time.Second, "crash must fan out before the request timeout")
	assert.Equal(t, bridge.StateExited, b.State())
	assert.Zero(t, b.Status().Pending)
}

func TestSupervisor_ForcedKillAfterGrace(t *testing.T) {
	t.Parallel()

	// The child traps SIGTERM, so Terminate has to escalate to SIGKILL
	// once the grace period elapses. It reports readiness on stdout so
	// the signal cannot arrive before the trap is installed.
	sup, err := bridge.Spawn(bridge.Spec{
		Name:    "stubborn",
		Command: "sh",
		Args:    []string{"-c", `trap "" TERM; echo ready; while true; do sleep 0.1; done`},
	}, 200*time.Millisecond)
	require.NoError(t, err)

	ready, err := bufio.NewReader(sup.Stdout()).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "ready\n", ready)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, sup.Terminate(ctx))
	assert.True(t, sup.Exited())
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}
