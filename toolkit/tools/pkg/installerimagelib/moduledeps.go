// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

const moduleDependencyFileName = "modules.dep"

// DependencyGraph is the direct dependency relation between the modules of one kernel.
type DependencyGraph struct {
	graph *simple.DirectedGraph
	ids   map[string]int64
	names []string
}

func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		graph: simple.NewDirectedGraph(),
		ids:   make(map[string]int64),
	}
}

func (g *DependencyGraph) nodeId(name string) int64 {
	id, ok := g.ids[name]
	if ok {
		return id
	}

	id = int64(len(g.names))
	g.ids[name] = id
	g.names = append(g.names, name)
	g.graph.AddNode(simple.Node(id))
	return id
}

// AddModule records a module and its direct dependencies. A module depending on itself
// adds nothing.
func (g *DependencyGraph) AddModule(name string, dependencies ...string) {
	from := g.nodeId(name)
	for _, dependency := range dependencies {
		to := g.nodeId(dependency)
		if from == to {
			continue
		}
		g.graph.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
	}
}

func (g *DependencyGraph) Len() int {
	return len(g.names)
}

// Dependencies returns the direct dependencies of a module, sorted.
func (g *DependencyGraph) Dependencies(name string) []string {
	id, ok := g.ids[name]
	if !ok {
		return nil
	}

	dependencies := []string(nil)
	nodes := g.graph.From(id)
	for nodes.Next() {
		dependencies = append(dependencies, g.names[nodes.Node().ID()])
	}
	slices.Sort(dependencies)
	return dependencies
}

// Close returns the smallest superset of selected that contains every dependency of each
// of its members. selected is not modified.
func (g *DependencyGraph) Close(selected ModuleSet) ModuleSet {
	closure := selected.Clone()

	queue := selected.Sorted()
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		for _, dependency := range g.Dependencies(name) {
			if closure.Add(dependency) {
				logger.Log.Infof("Adding module dependency %s", dependency)
				queue = append(queue, dependency)
			}
		}
	}

	return closure
}

// Cycles returns every group of modules that depend on each other, each sorted by name.
func (g *DependencyGraph) Cycles() [][]string {
	cycles := [][]string(nil)
	for _, component := range topo.TarjanSCC(g.graph) {
		if len(component) < 2 {
			continue
		}

		names := make([]string, 0, len(component))
		for _, node := range component {
			names = append(names, g.names[node.ID()])
		}
		slices.Sort(names)
		cycles = append(cycles, names)
	}

	slices.SortFunc(cycles, func(a, b []string) int {
		return strings.Compare(a[0], b[0])
	})
	return cycles
}

// ParseDependencyFile reads a modules.dep file.
func ParseDependencyFile(depFile string) (*DependencyGraph, error) {
	file, err := os.Open(depFile)
	if err != nil {
		return nil, NewBuildErrorWithCause(ErrTypeConfig, fmt.Sprintf("failed to open module dependency file (%s)", depFile), err)
	}
	defer file.Close()

	return ParseDependencies(file, depFile)
}

// ParseDependencies reads lines of the form '<path>/<name>.ko: <dep>.ko <dep>.ko'.
func ParseDependencies(reader io.Reader, source string) (*DependencyGraph, error) {
	graph := NewDependencyGraph()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		modulePath, dependencyPaths, found := strings.Cut(line, ":")
		if !found {
			return nil, NewBuildError(ErrTypeConfig,
				fmt.Sprintf("malformed module dependency line (%s:%d): missing ':'", source, lineNumber))
		}

		name, ok := moduleBaseName(path.Base(strings.TrimSpace(modulePath)))
		if !ok {
			return nil, NewBuildError(ErrTypeConfig,
				fmt.Sprintf("malformed module dependency line (%s:%d): (%s) is not a module", source, lineNumber, modulePath))
		}

		dependencies := []string(nil)
		for _, dependencyPath := range strings.Fields(dependencyPaths) {
			dependency, ok := moduleBaseName(path.Base(dependencyPath))
			if !ok {
				return nil, NewBuildError(ErrTypeConfig,
					fmt.Sprintf("malformed module dependency line (%s:%d): (%s) is not a module", source, lineNumber,
						dependencyPath))
			}
			dependencies = append(dependencies, dependency)
		}

		graph.AddModule(name, dependencies...)
	}

	err := scanner.Err()
	if err != nil {
		return nil, NewBuildErrorWithCause(ErrTypeConfig, fmt.Sprintf("failed to read module dependency file (%s)", source), err)
	}

	return graph, nil
}
