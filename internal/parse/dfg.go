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

package parse

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/sastforge/engine/internal/catalog"
	"github.com/sastforge/engine/ir"
)

// buildPythonDFG populates file.Dfg from the Python CST (spec §4.2):
// a Def node per assignment target, a sanitized mark when the
// assigned value is a direct call to a catalog Sanitizer, an alias
// edge (with sanitized propagation) for `x = y`, a branch-id on
// defs made inside exactly one arm of an if/elif/else construct, and
// dfg.calls/dfg.call_returns edges tying call sites to same-file
// function definitions. Only Python is covered for this pass (spec's
// literal S5 scenario); the remaining languages still get a non-nil,
// empty DFG from engine.BuildDFG.
func buildPythonDFG(file *ir.FileIR, root *sitter.Node, src []byte) {
	dfg := &ir.DFG{}
	file.Dfg = dfg
	if root == nil {
		return
	}

	funcIDs := map[string]uint64{}
	for _, n := range file.Nodes {
		if name, ok := strings.CutPrefix(n.Path, "function."); ok {
			funcIDs[name] = n.ID
		}
	}

	lastDef := map[string]int{}
	branchSeq := 0

	var walk func(n *sitter.Node, enclosingFn *uint64, branch *string)
	walk = func(n *sitter.Node, enclosingFn *uint64, branch *string) {
		if n == nil {
			return
		}

		switch n.Type() {
		case "function_definition":
			name := firstIdentifier(n, src, "identifier")
			fn := enclosingFn
			if id, ok := funcIDs[name]; ok {
				fn = &id
			}
			count := int(n.NamedChildCount())
			for i := 0; i < count; i++ {
				walk(n.NamedChild(i), fn, branch)
			}
			return

		case "if_statement":
			branchSeq++
			construct := fmt.Sprintf("if@%d.%d", n.StartPoint().Row+1, branchSeq)
			count := int(n.NamedChildCount())
			for i := 0; i < count; i++ {
				child := n.NamedChild(i)
				switch child.Type() {
				case "block", "else_clause", "elif_clause":
					bID := fmt.Sprintf("%s#%d", construct, i)
					walk(child, enclosingFn, &bID)
				default:
					walk(child, enclosingFn, branch)
				}
			}
			return

		case "call":
			if n.NamedChildCount() > 0 && enclosingFn != nil {
				callee := n.NamedChild(0).Content(src)
				if calleeFnID, ok := funcIDs[callee]; ok {
					dfg.Calls = append(dfg.Calls, ir.CallEdge{Caller: *enclosingFn, Callee: calleeFnID})
				}
			}

		case "assignment":
			target := n.NamedChild(0)
			value := n.NamedChild(1)
			if target != nil && target.Type() == "identifier" {
				name := target.Content(src)
				var id int
				if branch != nil {
					id = dfg.AddBranchNode(name, ir.DFDef, *branch)
				} else {
					id = dfg.AddNode(name, ir.DFDef)
				}
				sym := file.Symbol(name)

				if value != nil {
					switch value.Type() {
					case "call":
						if value.NamedChildCount() > 0 {
							callee := value.NamedChild(0).Content(src)
							if kind, ok := catalog.Classify(callee); ok && kind == ir.TypeSanitizer {
								dfg.MarkSanitized(id)
								sym.Sanitized = true
							}
							if calleeFnID, ok := funcIDs[callee]; ok {
								dfg.CallReturns = append(dfg.CallReturns, ir.CallReturn{Destination: id, Callee: calleeFnID})
							}
						}
					case "identifier":
						rhs := value.Content(src)
						if prevID, ok := lastDef[rhs]; ok {
							dfg.AddEdge(prevID, id)
						}
						if file.IsSanitized(rhs) {
							dfg.MarkSanitized(id)
							sym.Sanitized = true
						}
					}
				}
				lastDef[name] = id
			}
		}

		count := int(n.NamedChildCount())
		for i := 0; i < count; i++ {
			walk(n.NamedChild(i), enclosingFn, branch)
		}
	}
	walk(root, nil, nil)
}
