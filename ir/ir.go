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

// Package ir holds the language-neutral data model produced by the
// parsers and consumed by the matchers, the taint engine and the
// analysis scheduler: Meta, IRNode, AstNode, CFG, DFG, Symbol and
// FileIR.
package ir

import (
	"encoding/binary"
	"sort"

	"lukechampine.com/blake3"
)

// ParseErrorSentinel is the symbol_types key that marks a FileIR as a
// partial parse (invariant I5).
const ParseErrorSentinel = "__parse_error__"

// Meta locates an IR/AST/DFG node in its source file. Line and Column
// are 1-based (invariant I1).
type Meta struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// IRNode is one semantic fact extracted by a parser: an import, a
// call, an assignment, and so on. Path encodes the event kind using a
// dotted taxonomy such as "call.X.Y" or "assign.X"; see the parser
// package for the canonical event set.
type IRNode struct {
	ID    uint64      `json:"id"`
	Kind  string      `json:"kind"`
	Path  string      `json:"path"`
	Value interface{} `json:"value"`
	Meta  Meta        `json:"meta"`
}

// NewIRNode builds an IRNode and derives its stable id from
// (file, line, column, path): two parses of unchanged text yield the
// same id, a line shift yields a new one.
func NewIRNode(kind, path string, value interface{}, meta Meta) IRNode {
	return IRNode{
		ID:    StableID(meta.File, meta.Line, meta.Column, path),
		Kind:  kind,
		Path:  path,
		Value: value,
		Meta:  meta,
	}
}

// StableID hashes the quadruple that identifies an IR/AST node.
func StableID(file string, line, column int, discriminator string) uint64 {
	h := blake3.New(32, nil)
	_, _ = h.Write([]byte(file))
	_, _ = h.Write([]byte{0})
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(line))
	_, _ = h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(column))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(discriminator))
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum[:8])
}

// AstNode is the tree-sitter parse tree normalized into a
// language-agnostic envelope: CamelCase Kind, an ordered Children
// sequence, and an optional Parent back-reference by id.
type AstNode struct {
	ID       uint64      `json:"id"`
	Parent   *uint64     `json:"parent,omitempty"`
	Kind     string      `json:"kind"`
	Value    interface{} `json:"value,omitempty"`
	Children []*AstNode  `json:"children,omitempty"`
	Meta     Meta        `json:"meta"`
}

// Walk visits n and every descendant in depth-first, pre-order.
func (n *AstNode) Walk(visit func(*AstNode)) {
	if n == nil {
		return
	}
	visit(n)
	for _, c := range n.Children {
		c.Walk(visit)
	}
}

// CFGNode is one statement-level node of a (simplified,
// intra-procedural) control flow graph.
type CFGNode struct {
	ID   uint64 `json:"id"`
	Line int    `json:"line"`
	Code string `json:"code"`
}

// CFGEdge is a directed predecessor -> successor edge.
type CFGEdge struct {
	Predecessor uint64 `json:"predecessor"`
	Successor   uint64 `json:"successor"`
}

// CFG is only built for JavaScript, TypeScript and Python (spec §3);
// it links call expressions in source order.
type CFG struct {
	Nodes []CFGNode `json:"nodes"`
	Edges []CFGEdge `json:"edges"`
}

// DFNodeKind enumerates the roles a DFG node can play.
type DFNodeKind string

const (
	DFDef    DFNodeKind = "Def"
	DFUse    DFNodeKind = "Use"
	DFAssign DFNodeKind = "Assign"
	DFParam  DFNodeKind = "Param"
	DFReturn DFNodeKind = "Return"
	DFBranch DFNodeKind = "Branch"
)

// DFNode is one node of the data flow graph. Branch carries the
// enclosing branch-id when the node was produced inside a single arm
// of an if/switch/try construct (see BranchMerge).
type DFNode struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	Kind      DFNodeKind `json:"kind"`
	Sanitized bool       `json:"sanitized"`
	Branch    *string    `json:"branch,omitempty"`
}

// DFEdge is a directed source -> destination data flow edge.
type DFEdge struct {
	Source      int `json:"source"`
	Destination int `json:"destination"`
}

// CallEdge records an intra-file call graph edge: caller function
// node id -> callee function node id.
type CallEdge struct {
	Caller uint64 `json:"caller"`
	Callee uint64 `json:"callee"`
}

// CallReturn ties a call site's destination DFG node to the callee
// function node, so call.X return values can be tracked as Def sites.
type CallReturn struct {
	Destination int    `json:"destination"`
	Callee      uint64 `json:"callee"`
}

// BranchMerge is the aggregation point the sanitizer propagator uses
// to decide whether a branch construct cleared sanitized=false in
// every one of its arms (spec §4.2 "Branch handling").
type BranchMerge struct {
	ConstructID string   `json:"construct_id"`
	Branches    []string `json:"branches"`
	Var         string   `json:"var"`
}

// DFG is the per-file data flow graph.
type DFG struct {
	Nodes       []DFNode      `json:"nodes"`
	Edges       []DFEdge      `json:"edges"`
	Calls       []CallEdge    `json:"calls"`
	CallReturns []CallReturn  `json:"call_returns"`
	Merges      []BranchMerge `json:"merges"`
}

// AddNode appends a node; ids are dense, consecutive, and equal to
// the insertion index (invariant I2).
func (g *DFG) AddNode(name string, kind DFNodeKind) int {
	id := len(g.Nodes)
	g.Nodes = append(g.Nodes, DFNode{ID: id, Name: name, Kind: kind})
	return id
}

// AddBranchNode is like AddNode but tags the node with a branch id.
func (g *DFG) AddBranchNode(name string, kind DFNodeKind, branch string) int {
	id := g.AddNode(name, kind)
	g.Nodes[id].Branch = &branch
	return id
}

// AddEdge records a source -> destination data flow edge.
func (g *DFG) AddEdge(src, dst int) {
	g.Edges = append(g.Edges, DFEdge{Source: src, Destination: dst})
}

// MarkSanitized monotonically sets Nodes[id].Sanitized=true (I6: once
// set it is never cleared within the same analysis).
func (g *DFG) MarkSanitized(id int) {
	if id >= 0 && id < len(g.Nodes) {
		g.Nodes[id].Sanitized = true
	}
}

// Symbol records what is known about one name visible in a file:
// whether its current binding is sanitized, where it was defined,
// and, for imports/aliases, the canonical name it stands for.
type Symbol struct {
	Name     string  `json:"name"`
	Sanitized bool    `json:"sanitized"`
	Def      *int    `json:"def,omitempty"`
	AliasOf  *string `json:"alias_of,omitempty"`
}

// ResolveAlias follows Symbol.alias_of chains to their root, tolerating
// cycles via a visited set (invariant I3).
func ResolveAlias(symbols map[string]*Symbol, name string) string {
	visited := map[string]bool{}
	cur := name
	for {
		if visited[cur] {
			return cur
		}
		visited[cur] = true
		sym, ok := symbols[cur]
		if !ok || sym.AliasOf == nil {
			return cur
		}
		cur = *sym.AliasOf
	}
}

// SymbolType classifies a name for taint purposes.
type SymbolType string

const (
	TypeSource    SymbolType = "Source"
	TypeSink      SymbolType = "Sink"
	TypeSanitizer SymbolType = "Sanitizer"
	TypeSpecial   SymbolType = "Special"
)

// FileIR aggregates everything a parser produces for one file.
type FileIR struct {
	FilePath     string             `json:"file_path"`
	FileType     string             `json:"file_type"`
	Nodes        []IRNode           `json:"nodes"`
	Ast          *AstNode           `json:"ast,omitempty"`
	Source       string             `json:"source"`
	Suppressed   map[int]bool       `json:"suppressed"`
	Cfg          *CFG               `json:"cfg,omitempty"`
	Dfg          *DFG               `json:"dfg,omitempty"`
	Symbols      map[string]*Symbol `json:"symbols"`
	SymbolTypes  map[string]SymbolType `json:"symbol_types"`
	SymbolScopes map[string]string  `json:"symbol_scopes"`
	SymbolModules map[string]string `json:"symbol_modules"`
}

// NewFileIR returns a FileIR with all maps initialized.
func NewFileIR(path, fileType, source string) *FileIR {
	return &FileIR{
		FilePath:      path,
		FileType:      fileType,
		Source:        source,
		Suppressed:    map[int]bool{},
		Symbols:       map[string]*Symbol{},
		SymbolTypes:   map[string]SymbolType{},
		SymbolScopes:  map[string]string{},
		SymbolModules: map[string]string{},
	}
}

// MarkParseError sets the I5 sentinel so this file is excluded from
// the successful-parse metric without panicking the caller.
func (f *FileIR) MarkParseError() {
	f.SymbolTypes[ParseErrorSentinel] = TypeSpecial
}

// HasParseError reports whether this FileIR represents a partial parse.
func (f *FileIR) HasParseError() bool {
	_, ok := f.SymbolTypes[ParseErrorSentinel]
	return ok
}

// Symbol returns (creating if absent) the named symbol.
func (f *FileIR) Symbol(name string) *Symbol {
	if s, ok := f.Symbols[name]; ok {
		return s
	}
	s := &Symbol{Name: name}
	f.Symbols[name] = s
	return s
}

// IsSanitized resolves alias chains and reports the current sanitized
// state of name.
func (f *FileIR) IsSanitized(name string) bool {
	canon := ResolveAlias(f.Symbols, name)
	if s, ok := f.Symbols[canon]; ok {
		return s.Sanitized
	}
	return false
}

// SortedNodeIDs returns IRNode ids in insertion order; useful for
// deterministic iteration in tests.
func (f *FileIR) SortedNodeIDs() []uint64 {
	ids := make([]uint64, len(f.Nodes))
	for i, n := range f.Nodes {
		ids[i] = n.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
