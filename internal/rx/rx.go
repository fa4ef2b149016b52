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

// Package rx selects between two regex engines at compile time,
// mirroring the original implementation's PCRE2/FancyRegex dual-engine
// split (spec §4.1, §9): stdlib `regexp` (RE2, linear) is preferred
// whenever a pattern is RE2-expressible; `github.com/dlclark/regexp2`
// (backtracking) is used only when the pattern needs lookaround,
// backreferences, or named groups beyond what RE2 supports.
package rx

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dlclark/regexp2"
)

// Regex is the common surface the matcher runtime needs from either
// engine.
type Regex interface {
	MatchString(s string) bool
	FindAllStringIndex(s string) [][]int
	FindAllStringSubmatchIndex(s string) [][]int
	SubexpNames() []string
	String() string
}

// reAdapter wraps a stdlib *regexp.Regexp.
type reAdapter struct{ re *regexp.Regexp }

func (a reAdapter) MatchString(s string) bool { return a.re.MatchString(s) }
func (a reAdapter) FindAllStringIndex(s string) [][]int {
	return a.re.FindAllStringIndex(s, -1)
}
func (a reAdapter) FindAllStringSubmatchIndex(s string) [][]int {
	return a.re.FindAllStringSubmatchIndex(s, -1)
}
func (a reAdapter) SubexpNames() []string { return a.re.SubexpNames() }
func (a reAdapter) String() string        { return a.re.String() }

// Unwrap returns the underlying stdlib regexp, for callers (like the
// text matcher adapters) that only ever receive an RE2-compiled
// pattern and want the concrete type back.
func (a reAdapter) Unwrap() *regexp.Regexp { return a.re }

// re2Adapter wraps a backtracking *regexp2.Regexp.
type re2Adapter struct{ re *regexp2.Regexp }

func (a re2Adapter) MatchString(s string) bool {
	ok, _ := a.re.MatchString(s)
	return ok
}

func (a re2Adapter) FindAllStringIndex(s string) [][]int {
	var out [][]int
	m, _ := a.re.FindStringMatch(s)
	for m != nil {
		out = append(out, []int{m.Index, m.Index + m.Length})
		m, _ = a.re.FindNextMatch(m)
	}
	return out
}

func (a re2Adapter) FindAllStringSubmatchIndex(s string) [][]int {
	var out [][]int
	m, _ := a.re.FindStringMatch(s)
	for m != nil {
		groups := m.Groups()
		row := make([]int, 0, len(groups)*2)
		for _, g := range groups {
			if len(g.Captures) == 0 {
				row = append(row, -1, -1)
				continue
			}
			c := g.Captures[len(g.Captures)-1]
			row = append(row, c.Index, c.Index+c.Length)
		}
		out = append(out, row)
		m, _ = a.re.FindNextMatch(m)
	}
	return out
}

func (a re2Adapter) SubexpNames() []string {
	names := []string{""}
	names = append(names, a.re.GetGroupNames()...)
	return names
}

func (a re2Adapter) String() string { return a.re.String() }

// needsBacktracking reports whether pattern uses a construct RE2
// cannot express: lookaround, backreferences, or atomic groups.
func needsBacktracking(pattern string) bool {
	markers := []string{"(?=", "(?!", "(?<=", "(?<!", `\1`, `\2`, `\3`, "(?>"}
	for _, m := range markers {
		if strings.Contains(pattern, m) {
			return true
		}
	}
	return false
}

// Compile picks RE2 when the pattern is RE2-expressible, falling back
// to the backtracking engine for lookaround/backreference patterns.
func Compile(pattern string) (Regex, error) {
	if !needsBacktracking(pattern) {
		if re, err := regexp.Compile(pattern); err == nil {
			return reAdapter{re}, nil
		}
	}
	re2, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return re2Adapter{re2}, nil
}

// MustStdlib compiles pattern with the stdlib engine only, for
// call-sites that never need backtracking semantics.
func MustStdlib(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(pattern)
}
