// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
	"github.com/sirupsen/logrus"
)

const (
	// LogDisabledLevel suppresses logging of a stream.
	LogDisabledLevel logrus.Level = logrus.PanicLevel

	DefaultWarnLogLines = 1500
)

// ExecBuilder describes one invocation of an external program. Arguments are passed
// directly to the program and are never interpreted by a shell.
type ExecBuilder struct {
	ctx              context.Context
	command          string
	args             []string
	workingDir       string
	stdin            string
	stdoutLogLevel   logrus.Level
	stderrLogLevel   logrus.Level
	errorStderrLines int
	stdoutCallback   func(line string)
}

func NewExecBuilder(command string, args ...string) ExecBuilder {
	return ExecBuilder{
		ctx:            context.Background(),
		command:        command,
		args:           args,
		stdoutLogLevel: logrus.DebugLevel,
		stderrLogLevel: logrus.DebugLevel,
	}
}

func (b ExecBuilder) Context(ctx context.Context) ExecBuilder {
	b.ctx = ctx
	return b
}

func (b ExecBuilder) WorkingDirectory(dir string) ExecBuilder {
	b.workingDir = dir
	return b
}

func (b ExecBuilder) Stdin(stdin string) ExecBuilder {
	b.stdin = stdin
	return b
}

// LogLevel sets the levels that stdout and stderr lines are logged at.
func (b ExecBuilder) LogLevel(stdoutLogLevel logrus.Level, stderrLogLevel logrus.Level) ExecBuilder {
	b.stdoutLogLevel = stdoutLogLevel
	b.stderrLogLevel = stderrLogLevel
	return b
}

// ErrorStderrLines sets how many trailing stderr lines are included in the returned error.
func (b ExecBuilder) ErrorStderrLines(lines int) ExecBuilder {
	b.errorStderrLines = lines
	return b
}

func (b ExecBuilder) StdoutCallback(callback func(line string)) ExecBuilder {
	b.stdoutCallback = callback
	return b
}

// Command returns the program and its arguments.
func (b ExecBuilder) Command() (string, []string) {
	return b.command, append([]string(nil), b.args...)
}

func (b ExecBuilder) Execute() error {
	_, _, err := b.ExecuteCaptureOutput()
	return err
}

func (b ExecBuilder) ExecuteCaptureOutput() (string, string, error) {
	logger.Log.Debugf("Executing: %s %s", b.command, strings.Join(b.args, " "))

	cmd := exec.CommandContext(b.ctx, b.command, b.args...)
	cmd.Dir = b.workingDir
	if b.stdin != "" {
		cmd.Stdin = strings.NewReader(b.stdin)
	}

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}
	cmd.Stdout = stdoutBuf
	cmd.Stderr = stderrBuf

	runErr := cmd.Run()

	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()

	stdoutLines := splitLines(stdout)
	for _, line := range stdoutLines {
		logLine(b.stdoutLogLevel, line)
		if b.stdoutCallback != nil {
			b.stdoutCallback(line)
		}
	}

	stderrLines := splitLines(stderr)
	for _, line := range stderrLines {
		logLine(b.stderrLogLevel, line)
	}

	if runErr != nil {
		if b.errorStderrLines > 0 && len(stderrLines) > 0 {
			start := max(0, len(stderrLines)-b.errorStderrLines)
			return stdout, stderr, fmt.Errorf("%w:\n%s", runErr, strings.Join(stderrLines[start:], "\n"))
		}
		return stdout, stderr, runErr
	}

	return stdout, stderr, nil
}

// Execute runs a program and returns its stdout and stderr.
func Execute(program string, args ...string) (stdout, stderr string, err error) {
	return NewExecBuilder(program, args...).
		ErrorStderrLines(1).
		ExecuteCaptureOutput()
}

// ExitCode returns the exit status carried by an error from Execute, or -1 when the
// program did not run to completion.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1
	}
	return exitErr.ExitCode()
}

func splitLines(output string) []string {
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return nil
	}
	return strings.Split(output, "\n")
}

func logLine(level logrus.Level, line string) {
	if level == LogDisabledLevel {
		return
	}
	logger.Log.Log(level, line)
}
