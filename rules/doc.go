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

// Package rules loads CompiledRule values from the on-disk rule
// formats of spec §4.1: native YAML documents, and Rego/WASM policy
// modules with an optional sidecar. It is grounded on the teacher's
// own rule-loading idiom (small, typed unmarshal targets, one loader
// func per format) generalized from horusec's "type+value" rule shape
// to the spec's MatcherKind tagged union, and compiles every regex
// fragment through internal/rx so native rules share the dual-engine
// selection with every other matcher.
//
// The Semgrep-subset YAML dialect of spec §4.1(b) (pattern,
// pattern-regex, pattern-either, pattern-inside, pattern-not-inside,
// pattern-not) is implemented in semgrep.go: each pattern fragment is
// translated to a TextRegex/TextRegexMulti matcher by escaping
// literals, turning `$METAVAR` into a named capture and `...` into a
// lazy wildcard, exactly as spec §4.1 describes. `metavariable-regex`/
// `metavariable-pattern`/`focus-metavariable` and the Semgrep taint
// variants (pattern-sources/-sanitizers/-sinks/-reclass) are not
// covered by this pass; native rule documents already drive
// TaintRule fully via raw-regex sources/sinks/sanitizers/reclass, so
// no MatcherKind is unreachable — only that one additional authoring
// dialect for taint rules is deferred (see DESIGN.md).
package rules

import (
	"strings"

	"github.com/sastforge/engine/ir"
)

// ruleDoc is the unmarshal target for one native YAML/JSON rule
// document (spec §4.1(a)), extended with raw-regex source/sink/
// sanitizer/reclass fields so TaintRule rules can be authored natively
// without the Semgrep pattern compiler.
type ruleDoc struct {
	ID          string   `yaml:"id" json:"id"`
	Severity    string   `yaml:"severity" json:"severity"`
	Category    string   `yaml:"category" json:"category"`
	Message     string   `yaml:"message" json:"message"`
	Remediation string   `yaml:"remediation" json:"remediation"`
	Fix         string   `yaml:"fix" json:"fix"`
	Languages   []string `yaml:"languages" json:"languages"`
	Paths       []string `yaml:"paths" json:"paths"`

	Patterns []string `yaml:"patterns" json:"patterns"`

	// Semgrep-subset fields (spec §4.1(b)). Pattern/PatternEither
	// clauses are compiled through the $METAVAR/"..." translator in
	// semgrep.go; PatternRegex is already a regex fragment and
	// compiles directly, matching spec's literal S1 scenario
	// (`pattern-regex: password:\s*".*"`).
	Pattern          string             `yaml:"pattern" json:"pattern"`
	PatternRegex     string             `yaml:"pattern-regex" json:"pattern-regex"`
	PatternEither    []patternClauseDoc `yaml:"pattern-either" json:"pattern-either"`
	PatternInside    string             `yaml:"pattern-inside" json:"pattern-inside"`
	PatternNotInside string             `yaml:"pattern-not-inside" json:"pattern-not-inside"`
	PatternNot       string             `yaml:"pattern-not" json:"pattern-not"`

	AstQuery *struct {
		KindRegex  string `yaml:"kind_regex" json:"kind_regex"`
		ValueRegex string `yaml:"value_regex" json:"value_regex"`
	} `yaml:"ast_query" json:"ast_query"`

	AstPattern string `yaml:"ast_pattern" json:"ast_pattern"`

	Sources    []taintPatternDoc `yaml:"sources" json:"sources"`
	Sinks      []taintPatternDoc `yaml:"sinks" json:"sinks"`
	Sanitizers []taintPatternDoc `yaml:"sanitizers" json:"sanitizers"`
	Reclass    []taintPatternDoc `yaml:"reclass" json:"reclass"`

	Options struct {
		Interfile bool `yaml:"interfile" json:"interfile"`
	} `yaml:"options" json:"options"`
}

// patternClauseDoc is one member of a pattern-either list: either a
// Semgrep pattern body (translated) or an already-a-regex
// pattern-regex fragment, mirroring the two ruleDoc-level fields.
type patternClauseDoc struct {
	Pattern      string `yaml:"pattern" json:"pattern"`
	PatternRegex string `yaml:"pattern-regex" json:"pattern-regex"`
}

// taintPatternDoc is the raw-regex shape of one sources/sinks/
// sanitizers/reclass fragment.
type taintPatternDoc struct {
	Allow            string `yaml:"allow" json:"allow"`
	Deny             string `yaml:"deny" json:"deny"`
	Inside           string `yaml:"inside" json:"inside"`
	NotInside        string `yaml:"not_inside" json:"not_inside"`
	FocusGroup       string `yaml:"focus_group" json:"focus_group"`
	InsideFocusGroup string `yaml:"inside_focus_group" json:"inside_focus_group"`
}

// wasmSidecar is the unmarshal target for a .wasm.json/.wasm.yaml
// policy sidecar (spec §4.1(c)).
type wasmSidecar struct {
	ID          string   `yaml:"id" json:"id"`
	Severity    string   `yaml:"severity" json:"severity"`
	Category    string   `yaml:"category" json:"category"`
	Message     string   `yaml:"message" json:"message"`
	Remediation string   `yaml:"remediation" json:"remediation"`
	Entrypoint  string   `yaml:"entrypoint" json:"entrypoint"`
	Languages   []string `yaml:"languages" json:"languages"`
}

// normalizeSeverity maps a case-insensitive severity string onto
// ir.Severity, defaulting to Medium when absent or unrecognized.
func normalizeSeverity(s string) ir.Severity {
	switch strings.ToLower(s) {
	case "info":
		return ir.SeverityInfo
	case "low":
		return ir.SeverityLow
	case "high":
		return ir.SeverityHigh
	case "critical":
		return ir.SeverityCritical
	case "error":
		return ir.SeverityError
	case "medium", "":
		return ir.SeverityMedium
	default:
		return ir.SeverityMedium
	}
}
