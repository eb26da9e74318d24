// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
)

const maxSymlinkHops = 40

var ErrNotDynamicBinary = errors.New("not an ELF binary")

// BinaryDependencies are the runtime dependencies recorded in a binary.
type BinaryDependencies struct {
	// Interpreter is the absolute path of the program interpreter, if any.
	Interpreter string
	// Needed are the sonames of the shared libraries the binary links against.
	Needed []string
}

// LibraryIntrospector reads the shared library dependencies of a binary without running it.
// It returns ErrNotDynamicBinary for files that are not ELF binaries.
type LibraryIntrospector interface {
	Inspect(path string) (BinaryDependencies, error)
}

type ElfIntrospector struct{}

func (ElfIntrospector) Inspect(path string) (BinaryDependencies, error) {
	elfFile, err := elf.Open(path)
	if err != nil {
		var formatErr *elf.FormatError
		if errors.As(err, &formatErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return BinaryDependencies{}, ErrNotDynamicBinary
		}
		return BinaryDependencies{}, err
	}
	defer elfFile.Close()

	dependencies := BinaryDependencies{}

	for _, prog := range elfFile.Progs {
		if prog.Type != elf.PT_INTERP {
			continue
		}

		interp, err := io.ReadAll(prog.Open())
		if err != nil {
			return BinaryDependencies{}, fmt.Errorf("failed to read interpreter of (%s):\n%w", path, err)
		}
		dependencies.Interpreter = string(bytes.TrimRight(interp, "\x00"))
	}

	dependencies.Needed, err = elfFile.ImportedLibraries()
	if err != nil {
		return BinaryDependencies{}, fmt.Errorf("failed to read needed libraries of (%s):\n%w", path, err)
	}

	return dependencies, nil
}

// LibraryRoots returns the directories of treeDir that shared libraries are resolved in.
func LibraryRoots(treeDir string, libDir string) []string {
	roots := []string{
		filepath.Join(treeDir, libDir),
		filepath.Join(treeDir, "usr", libDir),
	}

	if strings.HasSuffix(libDir, "64") {
		roots = append(roots,
			filepath.Join(treeDir, strings.TrimSuffix(libDir, "64")),
			filepath.Join(treeDir, "usr", strings.TrimSuffix(libDir, "64")))
	}

	return roots
}

// DependencyCopyPlanner adds copies of the shared libraries that install targets need.
type DependencyCopyPlanner struct {
	TreeDir      string
	DestDir      string
	LibRoots     []string
	Introspector LibraryIntrospector
}

// Plan returns one copy per library the install targets of actions need, directly or
// through other libraries. Symlinked libraries are copied along with their targets.
func (p *DependencyCopyPlanner) Plan(actions []Action) ([]*CopyAction, error) {
	planned := []*CopyAction(nil)
	plannedSources := make(map[string]bool)
	inspected := make(map[string]bool)

	queue := []string(nil)
	for _, action := range actions {
		copyAction, ok := action.(*CopyAction)
		if ok && copyAction.Install {
			queue = append(queue, copyAction.Source)
		}
	}

	addCopy := func(src string) error {
		if plannedSources[src] {
			return nil
		}

		dst, err := p.destinationOf(src)
		if err != nil {
			return err
		}

		plannedSources[src] = true
		planned = append(planned, &CopyAction{Source: src, Dest: dst})
		return nil
	}

	for len(queue) > 0 {
		binary := queue[0]
		queue = queue[1:]

		realBinary, err := resolveInTree(p.TreeDir, binary)
		if err != nil {
			logger.Log.Warnf("Skipping library dependencies of (%s):\n%v", binary, err)
			continue
		}
		if inspected[realBinary] {
			continue
		}
		inspected[realBinary] = true

		info, err := os.Stat(realBinary)
		if err != nil {
			return nil, NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to stat (%s)", realBinary), err)
		}
		if !info.Mode().IsRegular() {
			continue
		}

		dependencies, err := p.Introspector.Inspect(realBinary)
		if errors.Is(err, ErrNotDynamicBinary) {
			logger.Log.Tracef("(%s) is not an ELF binary", realBinary)
			continue
		}
		if err != nil {
			return nil, NewBuildErrorWithCause(ErrTypeExternalTool,
				fmt.Sprintf("failed to read library dependencies of (%s)", realBinary), err)
		}

		libraries := []string(nil)
		if dependencies.Interpreter != "" {
			libraries = append(libraries, filepath.Join(p.TreeDir, dependencies.Interpreter))
		}
		for _, soname := range dependencies.Needed {
			library, found := p.findLibrary(soname)
			if !found {
				logger.Log.Warnf("Unable to find library (%s) needed by (%s)", soname, realBinary)
				continue
			}
			libraries = append(libraries, library)
		}

		for _, library := range libraries {
			realLibrary, err := resolveInTree(p.TreeDir, library)
			if err != nil {
				logger.Log.Warnf("Unable to resolve library (%s) needed by (%s):\n%v", library, realBinary, err)
				continue
			}

			// The link itself is copied from its real directory, so a relative link target
			// still points at the copied library.
			libraryDir, err := resolveInTree(p.TreeDir, filepath.Dir(library))
			if err != nil {
				return nil, NewBuildErrorWithCause(ErrTypeFilesystem, fmt.Sprintf("failed to resolve (%s)", library), err)
			}
			library = filepath.Join(libraryDir, filepath.Base(library))

			err = addCopy(library)
			if err != nil {
				return nil, err
			}

			if realLibrary != library {
				err = addCopy(realLibrary)
				if err != nil {
					return nil, err
				}
			}

			queue = append(queue, realLibrary)
		}
	}

	logger.Log.Debugf("Planned %d library copies", len(planned))
	return planned, nil
}

func (p *DependencyCopyPlanner) findLibrary(soname string) (string, bool) {
	if strings.Contains(soname, "/") {
		candidate := filepath.Join(p.TreeDir, soname)
		_, err := os.Lstat(candidate)
		return candidate, err == nil
	}

	for _, root := range p.LibRoots {
		candidate := filepath.Join(root, soname)
		_, err := os.Lstat(candidate)
		if err == nil {
			return candidate, true
		}
	}
	return "", false
}

// destinationOf maps a path of the source tree to the same path in the destination tree.
func (p *DependencyCopyPlanner) destinationOf(src string) (string, error) {
	rel, err := filepath.Rel(p.TreeDir, src)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", NewBuildError(ErrTypeFilesystem, fmt.Sprintf("library (%s) is outside of the tree (%s)", src, p.TreeDir))
	}
	return filepath.Join(p.DestDir, rel), nil
}

// resolveInTree resolves every symlink in path as if treeDir were the root directory, so
// absolute link targets stay inside the tree.
func resolveInTree(treeDir string, path string) (string, error) {
	rel, err := filepath.Rel(treeDir, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path (%s) is outside of the tree (%s)", path, treeDir)
	}

	pending := strings.Split(filepath.ToSlash(rel), "/")
	resolved := ""
	hops := 0
	for len(pending) > 0 {
		part := pending[0]
		pending = pending[1:]

		switch part {
		case "", ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			if resolved == "." {
				resolved = ""
			}
			continue
		}

		candidate := filepath.Join(resolved, part)
		info, err := os.Lstat(filepath.Join(treeDir, candidate))
		if err != nil {
			return "", err
		}

		if info.Mode()&os.ModeSymlink == 0 {
			resolved = candidate
			continue
		}

		hops++
		if hops > maxSymlinkHops {
			return "", fmt.Errorf("too many levels of symbolic links (%s)", path)
		}

		target, err := os.Readlink(filepath.Join(treeDir, candidate))
		if err != nil {
			return "", err
		}
		if filepath.IsAbs(target) {
			resolved = ""
		}
		pending = append(strings.Split(filepath.ToSlash(target), "/"), pending...)
	}

	return filepath.Join(treeDir, resolved), nil
}
