package transport

import (
	"bufio"
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func lookPathOrSkip(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not found on PATH", name)
	}
	return path
}

func TestStartPipesStdinToStdout(t *testing.T) {
	cat := lookPathOrSkip(t, "cat")

	p, err := Start(Options{Executable: cat})
	require.NoError(t, err)
	defer p.Close(context.Background(), time.Second)

	_, err = p.Stdin().Write([]byte("hello\n"))
	require.NoError(t, err)

	scanner := bufio.NewScanner(p.Stdout())
	require.True(t, scanner.Scan())
	require.Equal(t, "hello", scanner.Text())
}

func TestStartCapturesDiagnosticTail(t *testing.T) {
	sh := lookPathOrSkip(t, "sh")

	var lines []string
	p, err := Start(Options{
		Executable: sh,
		Args:       []string{"-c", "echo one 1>&2; echo two 1>&2"},
		OnDiagnosticLine: func(line string) {
			lines = append(lines, line)
		},
	})
	require.NoError(t, err)
	defer p.Close(context.Background(), time.Second)

	<-p.Exited()
	require.Equal(t, []string{"one", "two"}, lines)
	require.Contains(t, p.DiagnosticTail(), "one\ntwo\n")
}

func TestCloseExitsGracefullyOnEOF(t *testing.T) {
	cat := lookPathOrSkip(t, "cat")

	p, err := Start(Options{Executable: cat})
	require.NoError(t, err)

	err = p.Close(context.Background(), 2*time.Second)
	require.NoError(t, err)

	select {
	case <-p.Exited():
	default:
		t.Fatal("expected the child to have exited")
	}
}

func TestCloseKillsAfterGraceElapses(t *testing.T) {
	sleep := lookPathOrSkip(t, "sleep")

	p, err := Start(Options{Executable: sleep, Args: []string{"5"}})
	require.NoError(t, err)

	start := time.Now()
	err = p.Close(context.Background(), 50*time.Millisecond)
	elapsed := time.Since(start)

	require.Less(t, elapsed, 4*time.Second)
	select {
	case <-p.Exited():
	default:
		t.Fatal("expected the child to have been killed")
	}
	_ = err
}

func TestInterruptUnblocksStdoutRead(t *testing.T) {
	sleep := lookPathOrSkip(t, "sleep")

	p, err := Start(Options{Executable: sleep, Args: []string{"5"}})
	require.NoError(t, err)
	defer p.Close(context.Background(), 10*time.Millisecond)

	readDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := p.Stdout().Read(buf)
		readDone <- err
	}()

	time.Sleep(20 * time.Millisecond)
	p.Interrupt()

	select {
	case err := <-readDone:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Interrupt did not unblock the pending stdout read")
	}
}
