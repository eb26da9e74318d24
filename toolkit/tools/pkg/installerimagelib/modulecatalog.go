// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"fmt"
	"io/fs"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/installerimage/installer-image-tools/toolkit/tools/installerimageapi"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
)

// Kernel module file suffixes, longest first.
var moduleFileSuffixes = []string{".ko.gz", ".ko.xz", ".ko.zst", ".ko"}

type ModuleCatalogEntry struct {
	Name     string
	Path     string
	Category string
}

// ModuleCatalog indexes every kernel module file of one kernel by base name.
type ModuleCatalog struct {
	modulesDir string
	entries    map[string]ModuleCatalogEntry
	// All paths of names that occur more than once.
	collisions map[string][]string
}

// moduleBaseName strips a module file suffix. ok is false for files that are not modules.
func moduleBaseName(fileName string) (name string, ok bool) {
	for _, suffix := range moduleFileSuffixes {
		if strings.HasSuffix(fileName, suffix) && len(fileName) > len(suffix) {
			return strings.TrimSuffix(fileName, suffix), true
		}
	}
	return "", false
}

// moduleCategoryHint names the driver directory a module file was found in.
func moduleCategoryHint(relPath string) string {
	dir := filepath.ToSlash(filepath.Dir(relPath))
	parts := strings.Split(dir, "/")

	switch {
	case len(parts) >= 3 && parts[0] == "kernel" && parts[1] == "drivers":
		return parts[2]
	case len(parts) >= 2 && parts[0] == "kernel":
		return parts[1]
	default:
		return filepath.Base(dir)
	}
}

func newModuleCatalog(modulesDir string) *ModuleCatalog {
	return &ModuleCatalog{
		modulesDir: modulesDir,
		entries:    make(map[string]ModuleCatalogEntry),
		collisions: make(map[string][]string),
	}
}

// BuildModuleCatalog walks the module directory of a kernel.
func BuildModuleCatalog(modulesDir string) (*ModuleCatalog, error) {
	catalog := newModuleCatalog(modulesDir)

	err := filepath.WalkDir(modulesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Don't descend into the 'source' and 'build' links.
		if d.Type()&fs.ModeSymlink != 0 || d.IsDir() {
			return nil
		}

		name, ok := moduleBaseName(d.Name())
		if !ok {
			return nil
		}

		relPath, err := filepath.Rel(modulesDir, path)
		if err != nil {
			return err
		}

		catalog.add(ModuleCatalogEntry{
			Name:     name,
			Path:     path,
			Category: moduleCategoryHint(relPath),
		})
		return nil
	})
	if err != nil {
		return nil, NewBuildErrorWithCause(ErrTypeConfig,
			fmt.Sprintf("failed to read module directory (%s)", modulesDir), err)
	}

	logger.Log.Debugf("Found %d kernel modules in (%s)", len(catalog.entries), modulesDir)
	return catalog, nil
}

func (c *ModuleCatalog) add(entry ModuleCatalogEntry) {
	existing, found := c.entries[entry.Name]
	if !found {
		c.entries[entry.Name] = entry
		return
	}

	if _, collided := c.collisions[entry.Name]; !collided {
		c.collisions[entry.Name] = []string{existing.Path}
	}
	c.collisions[entry.Name] = append(c.collisions[entry.Name], entry.Path)
}

func (c *ModuleCatalog) ModulesDir() string {
	return c.modulesDir
}

func (c *ModuleCatalog) Len() int {
	return len(c.entries)
}

func (c *ModuleCatalog) Contains(name string) bool {
	_, ok := c.entries[name]
	return ok
}

func (c *ModuleCatalog) Lookup(name string) (ModuleCatalogEntry, bool) {
	entry, ok := c.entries[name]
	return entry, ok
}

// Names returns every module name, sorted.
func (c *ModuleCatalog) Names() []string {
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// resolveName matches a name as written in a rule or metadata file to a catalog name.
// The kernel treats '-' and '_' in module names as equal.
func (c *ModuleCatalog) resolveName(name string) (string, bool) {
	if c.Contains(name) {
		return name, true
	}

	for _, candidate := range []string{strings.ReplaceAll(name, "-", "_"), strings.ReplaceAll(name, "_", "-")} {
		if c.Contains(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// Ambiguities returns every base name shared by more than one module file.
func (c *ModuleCatalog) Ambiguities() map[string][]string {
	return c.collisions
}

// CheckAmbiguities reports base-name collisions. Module retention matches by base name
// only, so every file of a colliding name is kept or removed together.
func (c *ModuleCatalog) CheckAmbiguities(policy installerimageapi.AmbiguousNamePolicy) error {
	ambiguities := c.Ambiguities()
	if len(ambiguities) == 0 {
		return nil
	}

	names := slices.Sorted(maps.Keys(ambiguities))
	for _, name := range names {
		logger.Log.Warnf("Module name (%s) is ambiguous: %s", name, strings.Join(ambiguities[name], ", "))
	}

	if policy == installerimageapi.AmbiguousNamePolicyFail {
		return NewBuildError(ErrTypeAmbiguousModuleName,
			fmt.Sprintf("found %d ambiguous module names (%s)", len(names), strings.Join(names, ", ")))
	}

	return nil
}
