// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/installerimage/installer-image-tools/toolkit/tools/installerimageapi"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteActions(t *testing.T) {
	treeDir := t.TempDir()
	destDir := filepath.Join(t.TempDir(), "initrd")

	testutils.WriteFile(t, filepath.Join(treeDir, "usr/bin/bash"), "bash")
	testutils.WriteFile(t, filepath.Join(treeDir, "usr/share/anaconda/a.txt"), "a")
	testutils.WriteFile(t, filepath.Join(treeDir, "usr/share/anaconda/sub/b.txt"), "b")
	testutils.WriteFile(t, filepath.Join(treeDir, "usr/share/locale/de/x.mo"), "de")
	testutils.WriteFile(t, filepath.Join(treeDir, "usr/share/locale/fr/x.mo"), "fr")
	require.NoError(t, os.Symlink("bash", filepath.Join(treeDir, "usr/bin/sh")))

	// Stale content is cleared first.
	testutils.WriteFile(t, filepath.Join(destDir, "stale"), "stale")

	actions := []Action{
		&CopyAction{Source: filepath.Join(treeDir, "usr/bin/bash"), Dest: destDir + "/usr/bin/"},
		&CopyAction{Source: filepath.Join(treeDir, "usr/bin/sh"), Dest: filepath.Join(destDir, "usr/bin/sh")},
		&CopyAction{Source: filepath.Join(treeDir, "usr/share/anaconda"), Dest: filepath.Join(destDir, "usr/share/anaconda")},
		&CopyAction{Source: filepath.Join(treeDir, "usr/share/locale"), Dest: filepath.Join(destDir, "usr/share/locale")},
		&MoveAction{Source: filepath.Join(destDir, "usr/bin/bash"), Dest: filepath.Join(destDir, "usr/bin/bash.real")},
		&RemoveAction{Pattern: filepath.Join(destDir, "usr/share/locale/*")},
		&ExecAction{Program: "mkdir", Args: []string{"-p", "run/lock"}},
	}

	err := ExecuteActions(context.Background(), actions, ActionEnv{
		DestDir:            destDir,
		ExternalToolPolicy: installerimageapi.ExternalToolPolicyStrict,
	})
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(destDir, "stale"))
	assert.Equal(t, "bash", testutils.ReadFile(t, filepath.Join(destDir, "usr/bin/bash.real")))
	assert.NoFileExists(t, filepath.Join(destDir, "usr/bin/bash"))

	target, err := os.Readlink(filepath.Join(destDir, "usr/bin/sh"))
	require.NoError(t, err)
	assert.Equal(t, "bash", target)

	assert.Equal(t, "a", testutils.ReadFile(t, filepath.Join(destDir, "usr/share/anaconda/a.txt")))
	assert.Equal(t, "b", testutils.ReadFile(t, filepath.Join(destDir, "usr/share/anaconda/sub/b.txt")))

	entries, err := os.ReadDir(filepath.Join(destDir, "usr/share/locale"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.DirExists(t, filepath.Join(destDir, "run/lock"))
}

func TestCopyActionIntoExistingDir(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	testutils.WriteFile(t, filepath.Join(srcDir, "boot.msg"), "hello")

	action := &CopyAction{Source: filepath.Join(srcDir, "boot.msg"), Dest: destDir}
	require.NoError(t, action.Execute(context.Background(), ActionEnv{DestDir: destDir}))
	assert.Equal(t, "hello", testutils.ReadFile(t, filepath.Join(destDir, "boot.msg")))
}

func TestCopyActionMissingSource(t *testing.T) {
	action := &CopyAction{Source: filepath.Join(t.TempDir(), "missing"), Dest: filepath.Join(t.TempDir(), "dst")}
	err := action.Execute(context.Background(), ActionEnv{})
	assert.ErrorIs(t, err, ErrTypeFilesystem)
}

func TestExecuteActionsStopsAtFirstFailure(t *testing.T) {
	destDir := filepath.Join(t.TempDir(), "initrd")

	actions := []Action{
		&ExecAction{Program: "false"},
		&ExecAction{Program: "touch", Args: []string{"after"}},
	}

	err := ExecuteActions(context.Background(), actions, ActionEnv{
		DestDir:            destDir,
		ExternalToolPolicy: installerimageapi.ExternalToolPolicyStrict,
	})
	assert.ErrorIs(t, err, ErrTypeExternalTool)
	assert.NoFileExists(t, filepath.Join(destDir, "after"))

	err = ExecuteActions(context.Background(), actions, ActionEnv{
		DestDir:            destDir,
		ExternalToolPolicy: installerimageapi.ExternalToolPolicyLenient,
	})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(destDir, "after"))
}
