// Package transport supervises the Agent CLI child process and frames its
// standard streams as newline-delimited JSON. It has no knowledge of the
// control protocol carried over those frames; that is internal/protocol's
// job.
package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/agentcli/sdk-go/internal/logging"
)

// diagnosticTailBytes bounds how much of the child's diagnostic stream is
// retained for ChildError reporting.
const diagnosticTailBytes = 4096

// Options configures Start. Env is the full, already-sanitized environment
// slice ("KEY=VALUE" entries) to give the child; Args is the complete,
// already-built argument vector.
type Options struct {
	Executable string
	Args       []string
	Env        []string
	Dir        string
	// OnDiagnosticLine, if set, is called with each line read from the
	// child's diagnostic stream. It is never treated as protocol.
	OnDiagnosticLine func(line string)
}

// Process supervises one spawned child and its three standard streams.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	exited  chan struct{}
	waitErr error

	tailMu sync.Mutex
	tail   []byte

	closeOnce sync.Once
}

// Start spawns the child with all three standard streams piped (stdout and
// stdin for framing, stderr piped and never inherited so the child cannot
// mutate the parent's terminal).
func Start(opts Options) (*Process, error) {
	cmd := exec.Command(opts.Executable, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transport: start: %w", err)
	}

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		exited: make(chan struct{}),
	}

	go p.drainDiagnostics(stderr, opts.OnDiagnosticLine)
	go p.wait()

	return p, nil
}

func (p *Process) wait() {
	p.waitErr = p.cmd.Wait()
	close(p.exited)
}

func (p *Process) drainDiagnostics(r io.Reader, onLine func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		p.appendTail(line)
		if onLine != nil {
			onLine(line)
		}
	}
}

func (p *Process) appendTail(line string) {
	p.tailMu.Lock()
	defer p.tailMu.Unlock()
	p.tail = append(p.tail, []byte(line+"\n")...)
	if len(p.tail) > diagnosticTailBytes {
		p.tail = p.tail[len(p.tail)-diagnosticTailBytes:]
	}
}

// DiagnosticTail returns the final bytes of the diagnostic stream observed
// so far, bounded to diagnosticTailBytes.
func (p *Process) DiagnosticTail() string {
	p.tailMu.Lock()
	defer p.tailMu.Unlock()
	return string(p.tail)
}

// Stdout returns the child's stdout pipe for the Framer to read.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Stdin returns the child's stdin pipe for the Framer to write.
func (p *Process) Stdin() io.Writer { return p.stdin }

// Exited reports the child's exit asynchronously; it closes once Wait
// returns.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// ExitCode returns the child's exit code once Exited has fired, or -1 if
// the process is still running or exited through a signal.
func (p *Process) ExitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Interrupt unblocks a pending Stdout read by closing the pipe, without
// touching the process itself. Used by the Framer on context cancellation.
func (p *Process) Interrupt() {
	p.stdout.Close()
}

// Close implements the graceful-then-forced shutdown contract: close stdin
// so the child observes EOF, wait up to grace for it to exit on its own,
// then send a forceful termination signal. Idempotent.
func (p *Process) Close(ctx context.Context, grace time.Duration) error {
	var closeErr error
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()

		select {
		case <-p.exited:
			return
		case <-time.After(grace):
		case <-ctx.Done():
		}

		select {
		case <-p.exited:
			return
		default:
		}

		logging.Warn().Str("component", "transport").Msg("grace period elapsed, killing child")
		if p.cmd.Process != nil {
			closeErr = p.cmd.Process.Kill()
		}
		<-p.exited
	})
	return closeErr
}
