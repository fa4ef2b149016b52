// Copyright 2020 ZUP IT SERVICOS EM TECNOLOGIA E INOVACAO SA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package taint implements the cross-file taint engine of spec §4.5:
// a global call graph built from dfg.calls edges, per-function taint
// records, and a monotonic fixpoint that propagates tainted_return
// along caller->callee edges. It is grounded directly on
// _examples/original_source/crates/engine/src/dataflow/mod.rs (call
// graph) and function_taint.rs (per-function taint + propagation),
// translated from Rust's OnceLock<RwLock<...>> singletons into
// sync.RWMutex-guarded package-level maps. BuildCallGraph takes its
// files explicitly and returns a value; SetCallGraph/GetCallGraph are
// an optional global layered on top.
package taint

import (
	"sync"

	"github.com/sastforge/engine/ir"
)

// CallGraph is an undirected neighbour-set graph keyed by function
// name, built from every file's dfg.calls edges (spec §4.5).
type CallGraph struct {
	Edges map[string]map[string]bool
}

// NewCallGraph returns an empty call graph.
func NewCallGraph() *CallGraph {
	return &CallGraph{Edges: map[string]map[string]bool{}}
}

func (g *CallGraph) addEdge(a, b string) {
	if g.Edges[a] == nil {
		g.Edges[a] = map[string]bool{}
	}
	g.Edges[a][b] = true
}

// Neighbors returns the set of function names adjacent to fn.
func (g *CallGraph) Neighbors(fn string) map[string]bool {
	return g.Edges[fn]
}

// BuildCallGraph builds an undirected call graph from every file's
// DFG calls edges, resolving caller/callee DFG ids to the IRNode
// path name ("function.X") recorded for each Function IRNode.
func BuildCallGraph(files []*ir.FileIR) *CallGraph {
	g := NewCallGraph()
	for _, f := range files {
		if f.Dfg == nil {
			continue
		}
		idToName := functionIDToName(f)
		for _, call := range f.Dfg.Calls {
			callerName, ok1 := idToName[call.Caller]
			calleeName, ok2 := idToName[call.Callee]
			if !ok1 || !ok2 {
				continue
			}
			g.addEdge(callerName, calleeName)
			g.addEdge(calleeName, callerName)
		}
	}
	return g
}

// functionIDToName maps every "function.X" IRNode's id to its name X.
func functionIDToName(f *ir.FileIR) map[uint64]string {
	out := map[uint64]string{}
	for _, n := range f.Nodes {
		if len(n.Path) > 9 && n.Path[:9] == "function." {
			out[n.ID] = n.Path[9:]
		}
	}
	return out
}

// HasFlow reports whether any sink name is reachable from any source
// name by BFS over the undirected call graph.
func (g *CallGraph) HasFlow(sources, sinks map[string]bool) bool {
	visited := map[string]bool{}
	queue := make([]string, 0, len(sources))
	for s := range sources {
		queue = append(queue, s)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if sinks[cur] {
			return true
		}
		for n := range g.Neighbors(cur) {
			if !visited[n] {
				queue = append(queue, n)
			}
		}
	}
	return false
}

// Global is the process-wide call graph, mirroring the Rust
// reference's set_call_graph/get_call_graph OnceLock<RwLock<...>>
// pair (spec §5 "Global call graph ... shared read-write, rebuilt per
// scan via set_call_graph").
var (
	globalMu sync.RWMutex
	global   = NewCallGraph()
)

// SetCallGraph replaces the global call graph.
func SetCallGraph(g *CallGraph) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = g
}

// GetCallGraph returns the current global call graph.
func GetCallGraph() *CallGraph {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}
