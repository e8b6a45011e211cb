package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Process abstracts the child the bridge drives: serialized line writes to
// stdin, a readable stdout stream, exit observation, and termination.
// Supervisor is the os/exec implementation; tests substitute in-memory pipes.
type Process interface {
	// Write sends one line-delimited message to the child's stdin. Writes
	// from concurrent callers are serialized so partial messages never
	// interleave on the wire.
	Write(p []byte) error
	// Stdout is the child's stdout stream, read only by the bridge's
	// reader loop.
	Stdout() io.Reader
	// Exited reports whether the exit status has been observed.
	Exited() bool
	// Done is closed once the child has exited.
	Done() <-chan struct{}
	// Pid returns the OS process id, or 0 when not applicable.
	Pid() int
	// Terminate requests a graceful stop and forces a kill once the grace
	// period elapses.
	Terminate(ctx context.Context) error
}

// Spec describes how to launch one stdio MCP server.
type Spec struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
}

// Supervisor owns a spawned child process and its pipes. It is the single
// writer of the process lifecycle state: the exit flag flips exactly once,
// in the wait goroutine.
type Supervisor struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeMu sync.Mutex
	exited  atomic.Bool
	done    chan struct{}
	grace   time.Duration
}

// Spawn launches the child described by spec. The returned Supervisor is
// live: its stdout can be read and its stdin written immediately. grace
// bounds how long Terminate waits before forcing a kill.
func Spawn(spec Spec, grace time.Duration) (*Supervisor, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge.Spawn(%q): %w: %v", spec.Name, ErrSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge.Spawn(%q): %w: %v", spec.Name, ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge.Spawn(%q): %w: %v", spec.Name, ErrSpawn, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("bridge.Spawn(%q): %w: %v", spec.Name, ErrSpawn, err)
	}

	s := &Supervisor{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		done:   make(chan struct{}),
		grace:  grace,
	}

	// Surface child stderr in our logs; MCP servers write diagnostics there.
	go s.drainStderr(spec.Name, stderr)

	go func() {
		err := cmd.Wait()
		s.exited.Store(true)
		close(s.done)
		if err != nil {
			log.Warn().Err(err).Str("server", spec.Name).Int("pid", cmd.Process.Pid).Msg("child process exited")
		} else {
			log.Info().Str("server", spec.Name).Int("pid", cmd.Process.Pid).Msg("child process exited")
		}
	}()

	log.Info().Str("server", spec.Name).Str("command", spec.Command).Int("pid", cmd.Process.Pid).Msg("child process started")

	return s, nil
}

func (s *Supervisor) drainStderr(name string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		log.Debug().Str("server", name).Str("stderr", scanner.Text()).Msg("child stderr")
	}
}

// Write sends one message followed by a newline. The mutex keeps
// concurrent callers from corrupting the line framing.
func (s *Supervisor) Write(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.exited.Load() {
		return fmt.Errorf("bridge.Supervisor.Write: %w", ErrProcessExited)
	}

	buf := make([]byte, 0, len(p)+1)
	buf = append(buf, p...)
	buf = append(buf, '\n')

	if _, err := s.stdin.Write(buf); err != nil {
		if s.exited.Load() {
			return fmt.Errorf("bridge.Supervisor.Write: %w", ErrProcessExited)
		}
		return fmt.Errorf("bridge.Supervisor.Write: %w: %v", ErrWriteFailed, err)
	}
	return nil
}

func (s *Supervisor) Stdout() io.Reader { return s.stdout }

func (s *Supervisor) Exited() bool { return s.exited.Load() }

func (s *Supervisor) Done() <-chan struct{} { return s.done }

func (s *Supervisor) Pid() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Terminate closes stdin, sends SIGTERM, and waits up to the grace period
// (bounded also by ctx) before sending SIGKILL.
func (s *Supervisor) Terminate(ctx context.Context) error {
	if s.exited.Load() {
		return nil
	}

	// Closing stdin is the polite shutdown signal for stdio servers.
	_ = s.stdin.Close()
	_ = s.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-s.done:
		return nil
	case <-time.After(s.grace):
	case <-ctx.Done():
	}

	if err := s.cmd.Process.Kill(); err != nil && !s.exited.Load() {
		return fmt.Errorf("bridge.Supervisor.Terminate: %w", err)
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		return fmt.Errorf("bridge.Supervisor.Terminate: %w", ctx.Err())
	}
	return nil
}
