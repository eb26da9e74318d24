// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/installerimage/installer-image-tools/toolkit/tools/installerimageapi"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/file"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/shell"
	"github.com/sirupsen/logrus"
)

// Action is one filesystem operation of the initrd action list.
type Action interface {
	Execute(ctx context.Context, env ActionEnv) error
	String() string
}

// ActionEnv is the state actions run against.
type ActionEnv struct {
	// DestDir is the working directory of run actions.
	DestDir            string
	ExternalToolPolicy installerimageapi.ExternalToolPolicy
}

// CopyAction copies a file, directory or symlink. Symlinks are copied as symlinks. When
// Dest is an existing directory or ends in '/' the source is copied into it.
type CopyAction struct {
	Source string
	Dest   string
	// Install is set when Source is a file the installer needs at runtime, as opposed to
	// copies of its shared library dependencies.
	Install bool
}

type MoveAction struct {
	Source string
	Dest   string
}

// RemoveAction deletes every path matching a glob pattern.
type RemoveAction struct {
	Pattern string
}

type ExecAction struct {
	Program string
	Args    []string
}

func (a *CopyAction) String() string {
	return fmt.Sprintf("copy %s %s", a.Source, a.Dest)
}

func (a *CopyAction) Execute(ctx context.Context, env ActionEnv) error {
	dest, err := resolveDestination(a.Source, a.Dest)
	if err != nil {
		return err
	}

	info, err := os.Lstat(a.Source)
	if err != nil {
		return NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to stat (%s)", a.Source), err)
	}

	if info.IsDir() {
		err = file.NewDirCopyBuilder(a.Source, dest).Run()
	} else {
		err = file.NewFileCopyBuilder(a.Source, dest).SetNoDereference().Run()
	}
	if err != nil {
		return NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to copy (%s) to (%s)", a.Source, dest), err)
	}

	return nil
}

func (a *MoveAction) String() string {
	return fmt.Sprintf("move %s %s", a.Source, a.Dest)
}

func (a *MoveAction) Execute(ctx context.Context, env ActionEnv) error {
	dest, err := resolveDestination(a.Source, a.Dest)
	if err != nil {
		return err
	}

	err = file.Move(a.Source, dest)
	if err != nil {
		return NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to move (%s) to (%s)", a.Source, dest), err)
	}

	return nil
}

func (a *RemoveAction) String() string {
	return fmt.Sprintf("remove %s", a.Pattern)
}

func (a *RemoveAction) Execute(ctx context.Context, env ActionEnv) error {
	matches, err := filepath.Glob(a.Pattern)
	if err != nil {
		return NewBuildErrorWithCause(ErrTypeConfig, fmt.Sprintf("invalid remove pattern (%s)", a.Pattern), err)
	}

	for _, match := range matches {
		err = file.RemoveFileIfExists(match)
		if err != nil {
			return NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to remove (%s)", match), err)
		}
	}

	return nil
}

func (a *ExecAction) String() string {
	return strings.Join(append([]string{"run", a.Program}, a.Args...), " ")
}

func (a *ExecAction) Execute(ctx context.Context, env ActionEnv) error {
	err := shell.NewExecBuilder(a.Program, a.Args...).
		Context(ctx).
		WorkingDirectory(env.DestDir).
		LogLevel(logrus.DebugLevel, logrus.WarnLevel).
		ErrorStderrLines(1).
		Execute()
	return applyExternalToolPolicy(env.ExternalToolPolicy, fmt.Sprintf("failed to run (%s)", a.Program), err)
}

// resolveDestination returns the path a source lands at, following 'cp' semantics for
// directory destinations.
func resolveDestination(src string, dst string) (string, error) {
	if strings.HasSuffix(dst, "/") {
		return filepath.Join(dst, filepath.Base(src)), nil
	}

	isDir, err := file.DirExists(dst)
	if err != nil {
		return "", NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to stat (%s)", dst), err)
	}
	if isDir {
		return filepath.Join(dst, filepath.Base(src)), nil
	}

	return dst, nil
}

// ExecuteActions recreates destDir empty and runs the actions in order. The first failing
// action stops the run.
func ExecuteActions(ctx context.Context, actions []Action, env ActionEnv) error {
	err := os.RemoveAll(env.DestDir)
	if err != nil {
		return NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to clear (%s)", env.DestDir), err)
	}

	err = os.MkdirAll(env.DestDir, 0o755)
	if err != nil {
		return NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to create (%s)", env.DestDir), err)
	}

	for _, action := range actions {
		logger.Log.Debugf("Action: %s", action)

		err := action.Execute(ctx, env)
		if err != nil {
			return err
		}
	}

	return nil
}
