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
	"sort"

	"github.com/sastforge/engine/internal/rx"
	"github.com/sastforge/engine/ir"
)

// lineIndex turns a file's raw bytes into the same structure the
// teacher's text.TextFile kept: the start-byte-offset of each '\n',
// used to binary-search a byte offset into a (line, column) pair.
type lineIndex struct {
	newlineOffsets []int
}

func newLineIndex(source string) *lineIndex {
	li := &lineIndex{}
	for i := 0; i < len(source); i++ {
		if source[i] == '\n' {
			li.newlineOffsets = append(li.newlineOffsets, i)
		}
	}
	return li
}

// LineColumn converts a byte offset into a 1-based (line, column).
func (li *lineIndex) LineColumn(offset int) (line, column int) {
	idx := sort.Search(len(li.newlineOffsets), func(i int) bool {
		return li.newlineOffsets[i] >= offset
	})
	line = idx + 1
	lineStart := 0
	if idx > 0 {
		lineStart = li.newlineOffsets[idx-1] + 1
	}
	column = offset - lineStart + 1
	return
}

// TextRegexMatcher implements MatcherKind::TextRegex: every
// non-overlapping match yields one finding at the match start.
type TextRegexMatcher struct {
	Pattern rx.Regex
}

func (m *TextRegexMatcher) Kind() string { return "TextRegex" }

func (m *TextRegexMatcher) Run(file *ir.FileIR) ([]Result, error) {
	li := newLineIndex(file.Source)
	locs := m.Pattern.FindAllStringIndex(file.Source)
	results := make([]Result, 0, len(locs))
	for _, loc := range locs {
		line, col := li.LineColumn(loc[0])
		results = append(results, Result{Line: line, Column: col, Excerpt: file.Source[loc[0]:loc[1]]})
	}
	return results, nil
}

// byteRange is a half-open [Start, End) byte interval.
type byteRange struct{ Start, End int }

func contains(outer, inner byteRange) bool {
	return outer.Start <= inner.Start && inner.End <= outer.End
}

// TextRegexMultiMatcher implements MatcherKind::TextRegexMulti: each
// Allow match is admitted iff it is contained in some Inside match
// (or Inside is empty), not contained in any NotInside match, and
// does not also match Deny.
type TextRegexMultiMatcher struct {
	Allow     []rx.Regex
	Deny      rx.Regex
	Inside    []rx.Regex
	NotInside []rx.Regex
}

func (m *TextRegexMultiMatcher) Kind() string { return "TextRegexMulti" }

func (m *TextRegexMultiMatcher) Run(file *ir.FileIR) ([]Result, error) {
	src := file.Source
	li := newLineIndex(src)

	insideRanges := rangesOf(m.Inside, src)
	notInsideRanges := rangesOf(m.NotInside, src)

	var results []Result
	for _, allow := range m.Allow {
		for _, loc := range allow.FindAllStringIndex(src) {
			rng := byteRange{loc[0], loc[1]}
			if len(insideRanges) > 0 && !anyContains(insideRanges, rng) {
				continue
			}
			if anyContains(notInsideRanges, rng) {
				continue
			}
			if m.Deny != nil && m.Deny.MatchString(src[loc[0]:loc[1]]) {
				continue
			}
			line, col := li.LineColumn(loc[0])
			results = append(results, Result{Line: line, Column: col, Excerpt: src[loc[0]:loc[1]]})
		}
	}
	return results, nil
}

func rangesOf(res []rx.Regex, src string) []byteRange {
	var out []byteRange
	for _, re := range res {
		for _, loc := range re.FindAllStringIndex(src) {
			out = append(out, byteRange{loc[0], loc[1]})
		}
	}
	return out
}

func anyContains(ranges []byteRange, inner byteRange) bool {
	for _, r := range ranges {
		if contains(r, inner) {
			return true
		}
	}
	return false
}
