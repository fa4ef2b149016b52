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

package ir

import "github.com/sastforge/engine/internal/rx"

// Severity is the ordered set of finding severities (spec §3).
type Severity string

const (
	SeverityInfo     Severity = "Info"
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
	SeverityError    Severity = "Error"
)

// TaintPattern is the compiled shape of a pattern-sources / sanitizers
// / sinks / reclass fragment (spec §4.1): an `allow` regex that must
// match, an optional `deny` regex that disqualifies the match, and
// optional `inside`/`not_inside` containment regexes, mirroring
// TextRegexMulti's containment semantics at the pattern level.
// AllowFocusGroup names the capturing group (by name) that carries
// the tainted value when `focus-metavariable` narrows the match.
type TaintPattern struct {
	Allow            rx.Regex
	Deny             rx.Regex
	Inside           rx.Regex
	NotInside        rx.Regex
	AllowFocusGroup  string
	InsideFocusGroup string
}

// Matcher is implemented by every MatcherKind variant; it is defined
// here (rather than in internal/match) so CompiledRule has no import
// cycle with the matcher runtime.
type Matcher interface {
	// Kind identifies the matcher variant for diagnostics/logging.
	Kind() string
}

// CompiledRule is a fully loaded, ready-to-execute rule (spec §3).
type CompiledRule struct {
	ID          string
	Severity    Severity
	Category    string
	Message     string
	Remediation string
	Fix         string
	Interfile   bool
	Matcher     Matcher
	SourceFile  string
	Languages   []string
	Paths       []string
	Sources     []TaintPattern
	Sinks       []TaintPattern
	Sanitizers  []TaintPattern
	Reclass     []TaintPattern
}

// AppliesToLanguage implements the §4.1 language filter: a rule
// applies to a file iff Languages contains "generic" or
// case-insensitively contains the file's type.
func (r *CompiledRule) AppliesToLanguage(fileType string) bool {
	if len(r.Languages) == 0 {
		return true
	}
	lower := toLower(fileType)
	for _, l := range r.Languages {
		ll := toLower(l)
		if ll == "generic" || ll == lower {
			return true
		}
	}
	return false
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// RuleSet is the output of the rule loader (spec §4.1).
type RuleSet struct {
	Rules []*CompiledRule
}

// ByLanguage returns the subset of rules that apply to fileType.
func (rs *RuleSet) ByLanguage(fileType string) []*CompiledRule {
	var out []*CompiledRule
	for _, r := range rs.Rules {
		if r.AppliesToLanguage(fileType) {
			out = append(out, r)
		}
	}
	return out
}
