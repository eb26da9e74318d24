// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"maps"
	"slices"
)

// ModuleSet is a set of module base names.
type ModuleSet map[string]struct{}

func NewModuleSet(names ...string) ModuleSet {
	set := make(ModuleSet, len(names))
	for _, name := range names {
		set.Add(name)
	}
	return set
}

// Add reports whether name was not already present.
func (s ModuleSet) Add(name string) bool {
	if _, ok := s[name]; ok {
		return false
	}
	s[name] = struct{}{}
	return true
}

func (s ModuleSet) Remove(name string) {
	delete(s, name)
}

func (s ModuleSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

func (s ModuleSet) Clone() ModuleSet {
	return maps.Clone(s)
}

func (s ModuleSet) Sorted() []string {
	return slices.Sorted(maps.Keys(s))
}
