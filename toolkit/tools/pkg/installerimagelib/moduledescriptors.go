// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/file"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
)

const (
	maxModuleDescriptionLength = 65
	modulesAliasFileName       = "modules.alias"
	modinfoSectionName         = ".modinfo"
)

// ModuleCategory maps category tokens of rule files and the category name written to the
// module description index to the metadata files listing its modules.
type ModuleCategory struct {
	Name   string
	Files  []string
	Tokens []string
}

var moduleCategories = []ModuleCategory{
	{
		Name:   "scsi_hostadapter",
		Files:  []string{"modules.block"},
		Tokens: []string{"scsi_hostadapter", "scsi", "block"},
	},
	{
		Name:   "eth",
		Files:  []string{"modules.networking"},
		Tokens: []string{"eth", "net", "networking"},
	},
}

// Modules never described in the module description index.
var descriptorSkipList = []string{"floppy", "scsi_mod", "libiscsi"}

type ModuleDescriptor struct {
	Name        string
	Category    string
	Description string
}

// ModinfoReader reads the description of a kernel module file.
type ModinfoReader interface {
	Description(modulePath string) (string, error)
}

// ElfModinfoReader reads the 'description' field of a module's .modinfo section.
type ElfModinfoReader struct{}

func (ElfModinfoReader) Description(modulePath string) (string, error) {
	data, err := readModuleFile(modulePath)
	if err != nil {
		return "", fmt.Errorf("failed to read module (%s):\n%w", modulePath, err)
	}

	elfFile, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse module (%s):\n%w", modulePath, err)
	}
	defer elfFile.Close()

	section := elfFile.Section(modinfoSectionName)
	if section == nil {
		return "", nil
	}

	modinfo, err := section.Data()
	if err != nil {
		return "", fmt.Errorf("failed to read %s section of (%s):\n%w", modinfoSectionName, modulePath, err)
	}

	for _, field := range bytes.Split(modinfo, []byte{0}) {
		value, found := bytes.CutPrefix(field, []byte("description="))
		if found {
			return string(value), nil
		}
	}

	return "", nil
}

// ModuleDescriptorStore holds the descriptions and aliases of the categorized modules of a kernel.
type ModuleDescriptorStore struct {
	descriptors map[string]ModuleDescriptor
	// Sorted module names per category name.
	categories map[string][]string
	// Exact alias to module name.
	aliases map[string]string
}

// LoadModuleDescriptorStore reads the category files and modules.alias of the catalog's module
// directory. Missing metadata files are logged and skipped.
func LoadModuleDescriptorStore(catalog *ModuleCatalog, reader ModinfoReader) (*ModuleDescriptorStore, error) {
	store := &ModuleDescriptorStore{
		descriptors: make(map[string]ModuleDescriptor),
		categories:  make(map[string][]string),
		aliases:     make(map[string]string),
	}

	modulesDir := catalog.ModulesDir()

	for _, category := range moduleCategories {
		for _, fileName := range category.Files {
			err := store.loadCategoryFile(catalog, reader, category.Name, filepath.Join(modulesDir, fileName))
			if err != nil {
				return nil, err
			}
		}
		slices.Sort(store.categories[category.Name])
	}

	err := store.loadAliases(catalog, filepath.Join(modulesDir, modulesAliasFileName))
	if err != nil {
		return nil, err
	}

	return store, nil
}

func (s *ModuleDescriptorStore) loadCategoryFile(catalog *ModuleCatalog, reader ModinfoReader, categoryName string,
	path string,
) error {
	lines, err := readOptionalLines(path)
	if err != nil {
		return NewBuildErrorWithCause(ErrTypeConfig, fmt.Sprintf("failed to read module list (%s)", path), err)
	}
	if lines == nil {
		logger.Log.Warnf("Module list (%s) does not exist", path)
		return nil
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fileName := filepath.Base(line)
		name, ok := moduleBaseName(fileName)
		if !ok {
			continue
		}

		entry, ok := catalog.Lookup(name)
		if !ok {
			continue
		}

		if slices.Contains(descriptorSkipList, name) {
			logger.Log.Debugf("Skipping description of module (%s)", name)
			continue
		}

		if _, exists := s.descriptors[name]; exists {
			continue
		}

		description, err := reader.Description(entry.Path)
		if err != nil {
			logger.Log.Warnf("Failed to read description of module (%s):\n%v", name, err)
			description = ""
		}

		s.descriptors[name] = ModuleDescriptor{
			Name:        name,
			Category:    categoryName,
			Description: normalizeModuleDescription(name, description),
		}
		s.categories[categoryName] = append(s.categories[categoryName], name)
	}

	return nil
}

func (s *ModuleDescriptorStore) loadAliases(catalog *ModuleCatalog, path string) error {
	lines, err := readOptionalLines(path)
	if err != nil {
		return NewBuildErrorWithCause(ErrTypeConfig, fmt.Sprintf("failed to read module aliases (%s)", path), err)
	}
	if lines == nil {
		logger.Log.Debugf("Module alias file (%s) does not exist", path)
		return nil
	}

	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != 3 || fields[0] != "alias" {
			continue
		}

		// Wildcard aliases (e.g. device ids) can't be named in rule files.
		if strings.ContainsAny(fields[1], "*?[") {
			continue
		}

		name, ok := catalog.resolveName(fields[2])
		if !ok {
			continue
		}

		if _, exists := s.aliases[fields[1]]; !exists {
			s.aliases[fields[1]] = name
		}
	}

	return nil
}

// normalizeModuleDescription keeps the first line of a description, capped at 65 characters.
func normalizeModuleDescription(name string, description string) string {
	description, _, _ = strings.Cut(description, "\n")
	description = strings.TrimSpace(description)

	if utf8.RuneCountInString(description) > maxModuleDescriptionLength {
		description = string([]rune(description)[:maxModuleDescriptionLength])
	}

	if description == "" {
		description = name + " driver"
	}

	return description
}

// ResolveCategory returns the module names behind a category token of a rule file.
func (s *ModuleDescriptorStore) ResolveCategory(token string) ([]string, error) {
	for _, category := range moduleCategories {
		if slices.Contains(category.Tokens, token) {
			return slices.Clone(s.categories[category.Name]), nil
		}
	}

	return nil, NewBuildError(ErrTypeConfig, fmt.Sprintf("unknown module category (%s)", token))
}

// ResolveAlias returns the module an exact alias (e.g. 'fs-ext4') belongs to.
func (s *ModuleDescriptorStore) ResolveAlias(alias string) (string, bool) {
	name, ok := s.aliases[alias]
	return name, ok
}

func (s *ModuleDescriptorStore) Lookup(name string) (ModuleDescriptor, bool) {
	descriptor, ok := s.descriptors[name]
	return descriptor, ok
}

// Descriptors returns the descriptors of the modules in set, sorted by name.
func (s *ModuleDescriptorStore) Descriptors(set ModuleSet) []ModuleDescriptor {
	descriptors := []ModuleDescriptor(nil)
	for _, name := range set.Sorted() {
		descriptor, ok := s.descriptors[name]
		if ok {
			descriptors = append(descriptors, descriptor)
		}
	}
	return descriptors
}

// readOptionalLines returns nil lines and no error when the file does not exist.
func readOptionalLines(path string) ([]string, error) {
	lines, err := file.ReadLines(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}
