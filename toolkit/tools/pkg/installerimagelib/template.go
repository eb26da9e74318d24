// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// TemplateVars are the variables an action template may reference.
type TemplateVars struct {
	InstRoot  string
	Initrd    string
	LibDir    string
	BuildArch string
	ConfDir   string
	DataDir   string
}

func (v TemplateVars) environ() expand.Environ {
	return expand.ListEnviron(
		"instroot="+v.InstRoot,
		"initrd="+v.Initrd,
		"libdir="+v.LibDir,
		"buildarch="+v.BuildArch,
		"confdir="+v.ConfDir,
		"datadir="+v.DataDir,
	)
}

// ActionTemplatePath returns the initrd action template of an architecture.
func ActionTemplatePath(configDir string, arch string) string {
	return filepath.Join(configDir, "templates", "initrd."+arch)
}

func ParseActionTemplateFile(path string, vars TemplateVars) ([]Action, error) {
	templateFile, err := os.Open(path)
	if err != nil {
		return nil, NewBuildErrorWithCause(ErrTypeConfig, fmt.Sprintf("failed to open action template (%s)", path), err)
	}
	defer templateFile.Close()

	return ParseActionTemplate(templateFile, path, vars)
}

// ParseActionTemplate parses one directive per command, using shell word syntax:
//
//	copy SRC DST
//	move SRC DST
//	remove PATTERN
//	run PROGRAM ARGS...
//
// Copies whose source is inside vars.InstRoot are install targets.
func ParseActionTemplate(reader io.Reader, name string, vars TemplateVars) ([]Action, error) {
	parsed, err := syntax.NewParser().Parse(reader, name)
	if err != nil {
		return nil, NewBuildErrorWithCause(ErrTypeConfig, fmt.Sprintf("failed to parse action template (%s)", name), err)
	}

	config := &expand.Config{
		Env:     vars.environ(),
		NoUnset: true,
	}

	actions := []Action(nil)
	for _, stmt := range parsed.Stmts {
		line := stmt.Pos().Line()

		call, ok := stmt.Cmd.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 || len(call.Assigns) > 0 || len(stmt.Redirs) > 0 || stmt.Background ||
			stmt.Coprocess || stmt.Negated {
			return nil, NewBuildError(ErrTypeConfig, fmt.Sprintf("unsupported statement in action template (%s:%d)", name, line))
		}

		args := make([]string, 0, len(call.Args))
		for _, word := range call.Args {
			arg, err := expand.Literal(config, word)
			if err != nil {
				return nil, NewBuildErrorWithCause(ErrTypeConfig,
					fmt.Sprintf("failed to expand action template (%s:%d)", name, line), err)
			}
			args = append(args, arg)
		}

		action, err := newTemplateAction(args, vars)
		if err != nil {
			return nil, NewBuildErrorWithCause(ErrTypeConfig, fmt.Sprintf("invalid directive (%s:%d)", name, line), err)
		}

		actions = append(actions, action)
	}

	return actions, nil
}

func newTemplateAction(args []string, vars TemplateVars) (Action, error) {
	directive, args := args[0], args[1:]

	switch directive {
	case "copy":
		if len(args) != 2 {
			return nil, fmt.Errorf("'copy' takes a source and a destination")
		}
		return &CopyAction{
			Source:  args[0],
			Dest:    args[1],
			Install: vars.InstRoot != "" && isPathWithin(args[0], vars.InstRoot),
		}, nil

	case "move":
		if len(args) != 2 {
			return nil, fmt.Errorf("'move' takes a source and a destination")
		}
		return &MoveAction{Source: args[0], Dest: args[1]}, nil

	case "remove":
		if len(args) != 1 {
			return nil, fmt.Errorf("'remove' takes one path")
		}
		return &RemoveAction{Pattern: args[0]}, nil

	case "run":
		if len(args) < 1 {
			return nil, fmt.Errorf("'run' takes a program")
		}
		return &ExecAction{Program: args[0], Args: args[1:]}, nil

	default:
		return nil, fmt.Errorf("unknown directive (%s)", directive)
	}
}

func isPathWithin(path string, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, "../")
}
