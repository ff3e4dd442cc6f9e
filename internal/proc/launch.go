// Package proc launches and supervises the external processes under test.
//
// Process exit is data here, not an error: Run returns a Result carrying
// the exit code and combined output for any command that actually started,
// and reserves the error return for spawn and I/O failures. The targets of
// this harness are expected to crash.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
)

// Result captures the outcome of one process execution.
type Result struct {
	Command  string
	ExitCode int
	Output   []byte
}

// Launcher executes commands for triggers. The zero value is usable; Log
// defaults to the disabled logger.
type Launcher struct {
	Log zerolog.Logger
	Dir string   // optional working directory
	Env []string // optional environment override, nil = inherit
}

// Run executes command through the shell, with the core-size limit lifted
// for the child, and waits for it. A non-zero exit is reported in the
// Result, not as an error.
func (l *Launcher) Run(ctx context.Context, command string) (*Result, error) {
	return l.run(exec.CommandContext(ctx, "sh", "-c", command), command)
}

// RunArgs is Run without shell interpretation; the command is split on
// whitespace. Used for server start/stop commands.
func (l *Launcher) RunArgs(ctx context.Context, command string) (*Result, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	return l.run(exec.CommandContext(ctx, argv[0], argv[1:]...), command)
}

func (l *Launcher) run(cmd *exec.Cmd, command string) (*Result, error) {
	cmd.Dir = l.Dir
	cmd.Env = l.Env

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	l.Log.Debug().Str("command", command).Msg("launching")

	// Start under the lifted limit so the child inherits it; the
	// parent's limit is restored as soon as the fork happened.
	if err := WithUnlimitedCore(cmd.Start); err != nil {
		return nil, fmt.Errorf("starting %q: %w", command, err)
	}

	waitErr := cmd.Wait()
	res := &Result{Command: command, Output: buf.Bytes()}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitCodeOf(exitErr)
			l.Log.Debug().Str("command", command).Int("exit_code", res.ExitCode).Msg("process exited")
			return res, nil
		}
		return nil, fmt.Errorf("running %q: %w", command, waitErr)
	}
	return res, nil
}

// Server is a handle on a background server process started by
// StartServer.
type Server struct {
	cmd  *exec.Cmd
	done chan struct{}
	log  zerolog.Logger
}

// StartServer launches command in the background with the core-size limit
// lifted and reaps it when it exits. Exit status of the server itself is
// logged and otherwise ignored; servers are stopped through their own
// stop command.
func (l *Launcher) StartServer(ctx context.Context, command string) (*Server, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.New("empty server command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = l.Dir
	cmd.Env = l.Env

	l.Log.Debug().Str("command", command).Msg("starting server")
	err := WithUnlimitedCore(func() error {
		return cmd.Start()
	})
	if err != nil {
		return nil, fmt.Errorf("starting server %q: %w", command, err)
	}

	srv := &Server{cmd: cmd, done: make(chan struct{}), log: l.Log}
	go func() {
		defer close(srv.done)
		if err := cmd.Wait(); err != nil {
			srv.log.Debug().Str("command", command).Err(err).Msg("server exited")
		}
	}()
	return srv, nil
}

// Done is closed once the server process has been reaped.
func (s *Server) Done() <-chan struct{} { return s.done }

// Signal forwards sig to the server process. Signalling an already
// exited process is a no-op.
func (s *Server) Signal(sig os.Signal) {
	if s.cmd.Process == nil {
		return
	}
	_ = s.cmd.Process.Signal(sig)
}

func exitCodeOf(err *exec.ExitError) int {
	code := err.ExitCode()
	if code >= 0 {
		return code
	}
	// Killed by signal: report 128+signum, the shell convention the
	// expected-failure codes in the catalog use (e.g. 139 for SIGSEGV).
	if ws, ok := err.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return 1
}
