// Package runner executes external system binaries and captures their output.
// It never runs commands through a shell.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrExecution is returned when a command could not be launched at all.
	// A command that starts and exits non-zero is not an error.
	ErrExecution = errors.New("execution error")

	// ErrTruncated is returned together with a Result when stdout could not
	// be read to the end. Result.Lines then holds only the lines read so far.
	ErrTruncated = errors.New("command output truncated")
)

// Result holds the captured stdout lines and exit code of a finished command.
type Result struct {
	Lines    []string
	ExitCode int
}

// Success reports whether the command exited with code 0.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Output returns the captured lines joined by newlines.
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Lines, "\n")
}

// Runner runs a command given as argv. On ErrTruncated the partial Result
// is returned alongside the error.
type Runner interface {
	Run(ctx context.Context, argv []string) (*Result, error)
}

// Exec is the os/exec backed Runner.
// No timeout is applied: the call blocks until the child exits or ctx is done.
type Exec struct {
	logger *zap.Logger
}

// New creates an Exec runner that forwards child stderr to logger at debug level.
func New(logger *zap.Logger) *Exec {
	return &Exec{logger: logger.Named("runner")}
}

// Run launches argv[0] with argv[1:] and waits for it to exit.
func (e *Exec) Run(ctx context.Context, argv []string) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrExecution)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = &logWriter{logger: e.logger, cmd: argv[0]}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExecution, argv[0], err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExecution, argv[0], err)
	}

	lines, readErr := readLines(stdout)

	res := &Result{Lines: lines}
	err = cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		e.logger.Debug("command exited non-zero",
			zap.Strings("argv", argv),
			zap.Int("code", res.ExitCode))
	case err != nil:
		return nil, fmt.Errorf("%w: %s: %v", ErrExecution, argv[0], err)
	}

	if readErr != nil {
		e.logger.Warn("reading command output",
			zap.String("cmd", argv[0]),
			zap.Int("lines", len(lines)),
			zap.Error(readErr))
		return res, fmt.Errorf("%w: %s: %v", ErrTruncated, argv[0], readErr)
	}
	return res, nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		// drain so the child does not block on a full pipe
		_, _ = io.Copy(io.Discard, r)
		return lines, err
	}
	return lines, nil
}

// logWriter sends child stderr to the logger.
type logWriter struct {
	logger *zap.Logger
	cmd    string
}

func (lw *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			lw.logger.Debug(line, zap.String("cmd", lw.cmd), zap.String("stream", "stderr"))
		}
	}
	return len(p), nil
}
