// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package shell

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	logger.InitStderrLog()
	os.Exit(m.Run())
}

func TestExecuteCaptureOutput(t *testing.T) {
	stdout, _, err := NewExecBuilder("sh", "-c", "echo one; echo two").ExecuteCaptureOutput()
	assert.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", stdout)
}

func TestExecuteArgumentsAreNotInterpreted(t *testing.T) {
	stdout, _, err := NewExecBuilder("echo", "$(id)", ";", "*").ExecuteCaptureOutput()
	assert.NoError(t, err)
	assert.Equal(t, "$(id) ; *\n", stdout)
}

func TestExecuteFailureIncludesStderr(t *testing.T) {
	err := NewExecBuilder("sh", "-c", "echo first >&2; echo last >&2; exit 3").
		ErrorStderrLines(1).
		Execute()
	assert.ErrorContains(t, err, "last")
	assert.NotContains(t, err.Error(), "first")
	assert.Equal(t, 3, ExitCode(err))
}

func TestExecuteWorkingDirectory(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	assert.NoError(t, err)

	stdout, _, err := NewExecBuilder("pwd").WorkingDirectory(dir).ExecuteCaptureOutput()
	assert.NoError(t, err)
	assert.Equal(t, dir+"\n", stdout)
}

func TestExecuteStdoutCallback(t *testing.T) {
	lines := []string(nil)
	err := NewExecBuilder("sh", "-c", "echo a; echo b").
		StdoutCallback(func(line string) { lines = append(lines, line) }).
		Execute()
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestExitCodeWithoutExitError(t *testing.T) {
	_, _, err := Execute("this-program-does-not-exist-anywhere")
	assert.Error(t, err)
	assert.Equal(t, -1, ExitCode(err))
}
