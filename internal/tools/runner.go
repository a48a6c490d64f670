package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/danmuck/cdpwire/internal/protocol/frame"
	"github.com/danmuck/cdpwire/internal/transport"
	"github.com/rs/zerolog/log"
)

const PipeFlag = "--remote-debugging-pipe"

// Launcher describes how to start a browser.
type Launcher struct {
	Path   string
	Args   []string
	Env    []string
	Stderr io.Writer
	Limits frame.Limits
}

// Process is a running browser and the pipe connected to it.
type Process struct {
	Pipe *transport.Pipe

	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Start launches the browser. Cancelling ctx kills the process.
func (l Launcher) Start(ctx context.Context) (*Process, error) {
	cmdR, cmdW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("tools: command pipe: %w", err)
	}
	msgR, msgW, err := os.Pipe()
	if err != nil {
		cmdR.Close()
		cmdW.Close()
		return nil, fmt.Errorf("tools: message pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, l.Path, append([]string{PipeFlag}, l.Args...)...)
	cmd.ExtraFiles = []*os.File{cmdR, msgW}
	cmd.Env = l.Env
	cmd.Stderr = l.Stderr
	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{cmdR, cmdW, msgR, msgW} {
			f.Close()
		}
		return nil, fmt.Errorf("tools: start %s: %w", l.Path, err)
	}
	// The child holds its own copies.
	cmdR.Close()
	msgW.Close()

	limits := l.Limits
	if limits.MaxMessageBytes == 0 {
		limits = frame.DefaultLimits()
	}
	p := &Process{
		Pipe: transport.NewPipe(msgR, cmdW, limits),
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go func() {
		p.err = cmd.Wait()
		log.Info().Int("pid", cmd.Process.Pid).Int32("exit_code", ExitCode(p.err)).Msg("tools: browser exited")
		close(p.done)
	}()
	log.Info().Str("path", l.Path).Int("pid", cmd.Process.Pid).Msg("tools: browser started")
	return p, nil
}

func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until exit and returns the process error.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// Stop closes the pipe, which asks the browser to exit, and kills it if it
// is still running when ctx ends.
func (p *Process) Stop(ctx context.Context) error {
	_ = p.Pipe.Disconnect(ctx)
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	select {
	case <-p.done:
	case <-time.After(time.Second):
	}
	return ctx.Err()
}

// Factory returns a transport.Factory that launches a browser per call and
// hands each Process to started.
func (l Launcher) Factory(ctx context.Context, started func(*Process)) transport.Factory {
	return func() (transport.Connection, error) {
		p, err := l.Start(ctx)
		if err != nil {
			return nil, err
		}
		if started != nil {
			started(p)
		}
		return p.Pipe, nil
	}
}

// ExitCode maps a Wait error onto a shell-style exit code: 0 on success,
// 127 when the binary could not be run, 1 for other failures.
func ExitCode(err error) int32 {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return int32(exitErr.ExitCode())
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return 127
	}
	return 1
}
