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

package match

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sastforge/engine/internal/rx"
	"github.com/sastforge/engine/ir"
)

// AstQueryMatcher implements MatcherKind::AstQuery: visits every
// AstNode and matches when kind and (optional) JSON-value-as-string
// both satisfy their regexes.
type AstQueryMatcher struct {
	KindRegex  rx.Regex
	ValueRegex rx.Regex // nil when no value-regex was given
}

func (m *AstQueryMatcher) Kind() string { return "AstQuery" }

func (m *AstQueryMatcher) Run(file *ir.FileIR) ([]Result, error) {
	if file.Ast == nil {
		return nil, nil
	}
	var results []Result
	file.Ast.Walk(func(n *ir.AstNode) {
		if !m.KindRegex.MatchString(n.Kind) {
			return
		}
		valStr := stringifyValue(n.Value)
		if m.ValueRegex != nil && !m.ValueRegex.MatchString(valStr) {
			return
		}
		results = append(results, Result{Line: n.Meta.Line, Column: n.Meta.Column, Excerpt: valStr})
	})
	return results, nil
}

func stringifyValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

// astPatternToken is one piece of a compiled AstPattern: either a
// literal AST kind to match exactly, or a metavariable ("$X") that
// binds to whatever subtree occupies that position.
type astPatternToken struct {
	literal   string
	metavar   string
	isMetavar bool
}

// AstPatternMatcher implements MatcherKind::AstPattern: a structural
// pattern with $METAVAR placeholders bound consistently across the
// whole match (two occurrences of the same metavariable must bind to
// nodes of the same Kind).
type AstPatternMatcher struct {
	Tokens []astPatternToken
}

var metavarRe = regexp.MustCompile(`^\$[A-Z_][A-Z0-9_]*$`)

// CompileAstPattern tokenizes a whitespace-separated structural
// pattern such as "CallExpression $FUNC $ARGS" into literal-kind and
// metavariable tokens.
func CompileAstPattern(pattern string) *AstPatternMatcher {
	fields := strings.Fields(pattern)
	tokens := make([]astPatternToken, 0, len(fields))
	for _, f := range fields {
		if metavarRe.MatchString(f) {
			tokens = append(tokens, astPatternToken{metavar: f, isMetavar: true})
		} else {
			tokens = append(tokens, astPatternToken{literal: f})
		}
	}
	return &AstPatternMatcher{Tokens: tokens}
}

func (m *AstPatternMatcher) Kind() string { return "AstPattern" }

func (m *AstPatternMatcher) Run(file *ir.FileIR) ([]Result, error) {
	if file.Ast == nil || len(m.Tokens) == 0 {
		return nil, nil
	}
	var results []Result
	file.Ast.Walk(func(n *ir.AstNode) {
		bindings := map[string]string{}
		if m.matchesAt(n, bindings) {
			results = append(results, Result{Line: n.Meta.Line, Column: n.Meta.Column, Excerpt: excerptOf(n, file.Source)})
		}
	})
	return results, nil
}

// matchesAt checks whether n's own kind (token 0) and, positionally,
// its named children (remaining tokens) satisfy the pattern, binding
// metavariables to node kinds and rejecting a match on a repeated
// metavariable whose node kind differs from the earlier binding.
func (m *AstPatternMatcher) matchesAt(n *ir.AstNode, bindings map[string]string) bool {
	if len(m.Tokens) == 0 {
		return false
	}
	root := m.Tokens[0]
	if root.isMetavar {
		return bindMetavar(root.metavar, n.Kind, bindings)
	}
	if n.Kind != root.literal {
		return false
	}
	rest := m.Tokens[1:]
	if len(rest) == 0 {
		return true
	}
	if len(n.Children) < len(rest) {
		return false
	}
	for i, tok := range rest {
		child := n.Children[i]
		if tok.isMetavar {
			if !bindMetavar(tok.metavar, child.Kind, bindings) {
				return false
			}
			continue
		}
		if child.Kind != tok.literal {
			return false
		}
	}
	return true
}

func bindMetavar(name, value string, bindings map[string]string) bool {
	if existing, ok := bindings[name]; ok {
		return existing == value
	}
	bindings[name] = value
	return true
}

func excerptOf(n *ir.AstNode, source string) string {
	if s, ok := n.Value.(string); ok && s != "" {
		return s
	}
	return n.Kind
}
