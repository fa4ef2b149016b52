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

package taint

import (
	"strings"
	"sync"

	"github.com/sastforge/engine/ir"
)

// FunctionTaint is the per-function taint record of spec §4.5: which
// argument indices are known tainted, and whether the function's
// return value is tainted.
type FunctionTaint struct {
	Name          string
	TaintedArgs   map[int]bool
	TaintedReturn bool
}

var (
	fnTaintsMu sync.RWMutex
	fnTaints   = map[string]*FunctionTaint{}

	fnIDsMu sync.RWMutex
	fnIDs   = map[uint64]string{} // AST function-node id -> function name

	astCallGraphMu sync.RWMutex
	astCallGraph   = map[uint64]map[uint64]bool{} // caller AST id -> callee AST ids
)

func registerFunction(id uint64, name string) {
	fnIDsMu.Lock()
	defer fnIDsMu.Unlock()
	fnIDs[id] = name
}

func functionName(id uint64) (string, bool) {
	fnIDsMu.RLock()
	defer fnIDsMu.RUnlock()
	name, ok := fnIDs[id]
	return name, ok
}

func registerEdge(caller *uint64, callee uint64) {
	if caller == nil {
		return
	}
	astCallGraphMu.Lock()
	defer astCallGraphMu.Unlock()
	if astCallGraph[*caller] == nil {
		astCallGraph[*caller] = map[uint64]bool{}
	}
	astCallGraph[*caller][callee] = true
}

// registerCall records taint facts observed at one call site: which
// argument indices carried a locally tainted variable, and whether
// the call's destination variable was itself tainted.
func registerCall(name string, taintedArgIdx []int, retTainted bool) {
	if len(taintedArgIdx) == 0 && !retTainted {
		return
	}
	fnTaintsMu.Lock()
	defer fnTaintsMu.Unlock()
	entry, ok := fnTaints[name]
	if !ok {
		entry = &FunctionTaint{Name: name, TaintedArgs: map[int]bool{}}
		fnTaints[name] = entry
	}
	for _, i := range taintedArgIdx {
		entry.TaintedArgs[i] = true
	}
	if retTainted {
		entry.TaintedReturn = true
	}
}

// propagateReturns runs the monotonic fixpoint: while any caller's
// recorded callee has tainted_return and the caller itself does not
// yet, mark the caller tainted_return too, and repeat until stable.
func propagateReturns() {
	for {
		changed := false
		astCallGraphMu.RLock()
		fnIDsMu.RLock()
		for caller, callees := range astCallGraph {
			callerName, ok := fnIDs[caller]
			if !ok {
				continue
			}
			for callee := range callees {
				calleeName, ok := fnIDs[callee]
				if !ok {
					continue
				}
				fnTaintsMu.RLock()
				calleeTainted := fnTaints[calleeName] != nil && fnTaints[calleeName].TaintedReturn
				fnTaintsMu.RUnlock()
				if !calleeTainted {
					continue
				}
				fnTaintsMu.Lock()
				entry, ok := fnTaints[callerName]
				if !ok {
					entry = &FunctionTaint{Name: callerName, TaintedArgs: map[int]bool{}}
					fnTaints[callerName] = entry
				}
				if !entry.TaintedReturn {
					entry.TaintedReturn = true
					changed = true
				}
				fnTaintsMu.Unlock()
			}
		}
		fnIDsMu.RUnlock()
		astCallGraphMu.RUnlock()
		if !changed {
			return
		}
	}
}

// taintedVars computes which variable names in file are tainted by a
// worklist over its DFG: a Def node with no incoming edge and a
// non-sanitized symbol is a source; taint flows along DFG edges and
// is not propagated into a node whose symbol is sanitized; a
// call-return destination is seeded when the callee's tainted_return
// is known.
func taintedVars(file *ir.FileIR) map[string]bool {
	out := map[string]bool{}
	if file.Dfg == nil {
		return out
	}
	dfg := file.Dfg

	indeg := map[int]int{}
	adj := map[int][]int{}
	for _, e := range dfg.Edges {
		adj[e.Source] = append(adj[e.Source], e.Destination)
		indeg[e.Destination]++
	}

	var queue []int
	seen := map[int]bool{}
	for _, n := range dfg.Nodes {
		if n.Kind != ir.DFDef {
			continue
		}
		if indeg[n.ID] != 0 {
			continue
		}
		if sym, ok := file.Symbols[n.Name]; ok && sym.Sanitized {
			continue
		}
		queue = append(queue, n.ID)
		seen[n.ID] = true
		out[n.Name] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if seen[next] {
				continue
			}
			if next < 0 || next >= len(dfg.Nodes) {
				continue
			}
			name := dfg.Nodes[next].Name
			if sym, ok := file.Symbols[name]; ok && sym.Sanitized {
				continue
			}
			seen[next] = true
			out[name] = true
			queue = append(queue, next)
		}
	}
	calleeNames := functionIDToName(file)
	for _, cr := range dfg.CallReturns {
		name, ok := calleeNames[cr.Callee]
		if !ok {
			continue
		}
		t, ok := GetFunctionTaint(name)
		if !ok || !t.TaintedReturn || seen[cr.Destination] {
			continue
		}
		if cr.Destination < 0 || cr.Destination >= len(dfg.Nodes) {
			continue
		}
		seen[cr.Destination] = true
		out[dfg.Nodes[cr.Destination].Name] = true
		queue = append(queue, cr.Destination)
	}
	return out
}

// TaintedVars exposes the per-file DFG worklist used by
// RecordFunctionTaints and the TaintRule matcher: the set of variable
// names reachable, without passing through a sanitized binding, from
// an un-sanitized Def with no incoming data flow edge.
func TaintedVars(file *ir.FileIR) map[string]bool {
	return taintedVars(file)
}

// ParseCall splits "name(arg1, arg2, ...)" into the callee name and
// its top-level, comma-separated arguments, correctly bracketing
// nested `(...)` and generic `<...>` scopes (spec §4.5: must parse
// "foo(bar(baz(1,2)), qux(3,4))" correctly).
func ParseCall(code string) (name string, args []string, ok bool) {
	call := strings.TrimSpace(code)
	openIdx := -1
	paren, angle := 0, 0
	for i, ch := range call {
		switch ch {
		case '<':
			angle++
		case '>':
			if angle > 0 {
				angle--
			}
		case '(':
			if angle == 0 {
				if paren == 0 {
					openIdx = i
				}
				paren++
			}
		case ')':
			if angle == 0 {
				if paren > 0 {
					paren--
				}
				if paren == 0 {
					if openIdx < 0 {
						return "", nil, false
					}
					name = strings.TrimSpace(call[:openIdx])
					args = splitArgs(call[openIdx+1 : i])
					return name, args, true
				}
			}
		}
	}
	return "", nil, false
}

// splitArgs splits s on top-level commas (depth 0 for both `()` and
// `<>`), trimming whitespace and dropping empty trailing entries.
func splitArgs(s string) []string {
	var out []string
	start := 0
	paren, angle := 0, 0
	runes := []rune(s)
	for i, ch := range runes {
		switch ch {
		case '(':
			paren++
		case ')':
			if paren > 0 {
				paren--
			}
		case '<':
			angle++
		case '>':
			if angle > 0 {
				angle--
			}
		case ',':
			if paren == 0 && angle == 0 {
				out = append(out, strings.TrimSpace(string(runes[start:i])))
				start = i + 1
			}
		}
	}
	if start < len(runes) {
		if arg := strings.TrimSpace(string(runes[start:])); arg != "" {
			out = append(out, arg)
		}
	}
	return out
}

// isFunctionKind reports whether an AstNode.Kind names a function
// definition, tolerating both the CamelCase kinds internal/parse
// produces ("FunctionDefinition", "FunctionItem", "FunctionDeclaration")
// and raw tree-sitter node types ("function_definition").
func isFunctionKind(kind string) bool {
	return strings.Contains(strings.ToLower(kind), "function")
}

// isCallKind reports whether an AstNode.Kind names a call expression,
// tolerating both the CamelCase kinds internal/parse produces
// ("CallExpression", "Call") and raw tree-sitter node types ("call",
// "call_expression").
func isCallKind(kind string) bool {
	lower := strings.ToLower(kind)
	return lower == "call" || lower == "callexpression" || strings.Contains(lower, "call_expression")
}

// functionDefName extracts a function-definition node's name from its
// literal Value when present (the teacher's AST shape), falling back
// to the first identifier-kind child (internal/parse's tree-sitter
// AstNode shape, where a FunctionDefinition's name is a child node
// rather than the node's own Value).
func functionDefName(node *ir.AstNode) string {
	if name, ok := node.Value.(string); ok && name != "" {
		return name
	}
	for _, c := range node.Children {
		if strings.Contains(strings.ToLower(c.Kind), "identifier") {
			if name, ok := c.Value.(string); ok && name != "" {
				return name
			}
		}
	}
	return ""
}

// collectFunctionIDs maps every function-definition AST node's name to
// its node id, and registers it globally for propagateReturns.
func collectFunctionIDs(n *ir.AstNode, into map[string]uint64) {
	n.Walk(func(node *ir.AstNode) {
		if !isFunctionKind(node.Kind) {
			return
		}
		if name := functionDefName(node); name != "" {
			into[name] = node.ID
			registerFunction(node.ID, name)
		}
	})
}

// RecordFunctionTaints scans file's AST for call expressions, records
// per-function taint facts for each, and re-runs the fixpoint.
func RecordFunctionTaints(file *ir.FileIR) {
	if file.Ast == nil {
		return
	}
	fnIDsLocal := map[string]uint64{}
	collectFunctionIDs(file.Ast, fnIDsLocal)

	tainted := taintedVars(file)
	lines := strings.Split(file.Source, "\n")

	walkCalls(file.Ast, lines, nil, tainted, fnIDsLocal)
	propagateReturns()
}

func walkCalls(n *ir.AstNode, lines []string, currentFn *uint64, tainted map[string]bool, fnIDsLocal map[string]uint64) {
	curFn := currentFn
	if isFunctionKind(n.Kind) {
		id := n.ID
		curFn = &id
	}
	if isCallKind(n.Kind) {
		line := n.Meta.Line
		var code string
		if line >= 1 && line <= len(lines) {
			code = strings.TrimSpace(lines[line-1])
		}
		lhs, callPart := "", code
		if eq := strings.Index(code, "="); eq >= 0 {
			lhs = strings.TrimSpace(code[:eq])
			callPart = strings.TrimSpace(code[eq+1:])
		}
		if name, args, ok := ParseCall(callPart); ok {
			var taintedIdx []int
			for i, a := range args {
				if tainted[a] {
					taintedIdx = append(taintedIdx, i)
				}
			}
			retTainted := lhs != "" && tainted[lhs]
			registerCall(name, taintedIdx, retTainted)
			if calleeID, ok := fnIDsLocal[name]; ok {
				registerEdge(curFn, calleeID)
			}
		}
	}
	for _, c := range n.Children {
		walkCalls(c, lines, curFn, tainted, fnIDsLocal)
	}
}

// GetFunctionTaint retrieves taint data for a function by name.
func GetFunctionTaint(name string) (FunctionTaint, bool) {
	fnTaintsMu.RLock()
	defer fnTaintsMu.RUnlock()
	t, ok := fnTaints[name]
	if !ok {
		return FunctionTaint{}, false
	}
	return *t, true
}

// AllFunctionTaints returns every recorded function taint record,
// exposed as the §6.3 all_function_taints diagnostic.
func AllFunctionTaints() []FunctionTaint {
	fnTaintsMu.RLock()
	defer fnTaintsMu.RUnlock()
	out := make([]FunctionTaint, 0, len(fnTaints))
	for _, t := range fnTaints {
		out = append(out, *t)
	}
	return out
}

// ResetFunctionTaints clears all recorded taint info; used between
// scans and in tests.
func ResetFunctionTaints() {
	fnTaintsMu.Lock()
	fnTaints = map[string]*FunctionTaint{}
	fnTaintsMu.Unlock()

	fnIDsMu.Lock()
	fnIDs = map[uint64]string{}
	fnIDsMu.Unlock()

	astCallGraphMu.Lock()
	astCallGraph = map[uint64]map[uint64]bool{}
	astCallGraphMu.Unlock()
}
