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
	"strconv"
	"strings"

	"github.com/sastforge/engine/internal/rx"
	"github.com/sastforge/engine/internal/taint"
	"github.com/sastforge/engine/ir"
)

// TaintRuleMatcher implements MatcherKind::TaintRule (spec §4.3/§4.5):
// a rule-level taint model. It is a best-effort, catalog-driven
// approximation (spec §1 Non-goals) built on top of the DFG-derived
// taintedVars worklist and the per-symbol sanitized flag the parser
// and sanitizer catalog maintain, rather than a from-scratch
// source-to-sink graph walk: `sources` gates that at least one known
// taint origin appears in the file; `sinks` locates the candidate
// finding sites and the variable name flowing into them; a variable
// is reported iff it is in the DFG taint worklist and not currently
// marked sanitized. `sanitizers` patterns are honored implicitly
// because the parser is what sets Symbol.Sanitized in the first
// place (spec §4.2 "Assignment of a sanitizer call result marks the
// destination sanitized"). `reclass` patterns never clean, so they
// require no special casing here.
type TaintRuleMatcher struct {
	Sources    []ir.TaintPattern
	Sanitizers []ir.TaintPattern
	Reclass    []ir.TaintPattern
	Sinks      []ir.TaintPattern
}

func (m *TaintRuleMatcher) Kind() string { return "TaintRule" }

var identifierLike = func(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

func (m *TaintRuleMatcher) Run(file *ir.FileIR) ([]Result, error) {
	if !anyPatternMatches(m.Sources, file.Source) {
		return nil, nil
	}

	tainted := taint.TaintedVars(file)
	li := newLineIndex(file.Source)

	var results []Result
	seen := map[string]bool{}
	for _, sink := range m.Sinks {
		if sink.Allow == nil {
			continue
		}
		for _, loc := range sink.Allow.FindAllStringSubmatchIndex(file.Source) {
			matchStart, matchEnd := loc[0], loc[1]
			matchText := file.Source[matchStart:matchEnd]
			if sink.Deny != nil && sink.Deny.MatchString(matchText) {
				continue
			}
			arg := focusedGroupText(sink.Allow, sink.AllowFocusGroup, file.Source, loc)
			if arg == "" {
				arg = matchText
			}
			candidate := extractIdentifier(arg)
			if candidate == "" || !tainted[candidate] {
				continue
			}
			if file.IsSanitized(candidate) {
				continue
			}
			key := candidate + ":" + strconv.Itoa(matchStart)
			if seen[key] {
				continue
			}
			seen[key] = true
			line, col := li.LineColumn(matchStart)
			results = append(results, Result{Line: line, Column: col, Excerpt: matchText})
		}
	}
	return results, nil
}

func anyPatternMatches(patterns []ir.TaintPattern, source string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if p.Allow != nil && p.Allow.MatchString(source) {
			if p.Deny != nil && p.Deny.MatchString(source) {
				continue
			}
			return true
		}
	}
	return false
}

// focusedGroupText returns the text captured by the named group
// groupName within a FindAllStringSubmatchIndex loc slice, or "" when
// there is no such group or it didn't participate in the match.
func focusedGroupText(re rx.Regex, groupName, source string, loc []int) string {
	if groupName == "" {
		return ""
	}
	names := re.SubexpNames()
	for i, n := range names {
		if n != groupName {
			continue
		}
		start, end := loc[2*i], loc[2*i+1]
		if start < 0 || end < 0 {
			return ""
		}
		return source[start:end]
	}
	return ""
}

// extractIdentifier pulls a bare variable name out of a sink
// argument expression; composite accessors (obj.field, m["k"]) are
// treated as opaque and not resolved further here, matching the
// matcher's best-effort scope.
func extractIdentifier(s string) string {
	s = strings.TrimSpace(s)
	if identifierLike(s) {
		return s
	}
	return ""
}
