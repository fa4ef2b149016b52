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

// Package match implements the MatcherKind runtime of spec §4.3: one
// Go type per variant (TextRegex, TextRegexMulti, JsonPathEq,
// JsonPathRegex, AstQuery, AstPattern, RegoWasm, TaintRule), each
// returning a deterministic, insertion-ordered sequence of
// (line, column, excerpt) results that the scheduler wraps into
// ir.Finding values.
package match

import "github.com/sastforge/engine/ir"

// Result is one (line, column, excerpt) match.
type Result struct {
	Line    int
	Column  int
	Excerpt string
}

// Matcher is satisfied by every MatcherKind implementation in this
// package; it also satisfies ir.Matcher so a *ir.CompiledRule can
// store one directly in its Matcher field without an import cycle.
type Matcher interface {
	Kind() string
	Run(file *ir.FileIR) ([]Result, error)
}

var _ ir.Matcher = Matcher(nil)
