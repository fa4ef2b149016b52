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
	"fmt"
	"strings"
)

// ApplyFix replaces [column, column+len(excerpt)) on line of source
// with template, per spec §4.3: if template contains the literal
// "...", it is substituted by the inner text between the first '('
// and the last ')' of excerpt. Line and column are 1-based. An
// out-of-range location is refused rather than silently truncated.
func ApplyFix(source string, line, column int, excerpt, template string) (string, error) {
	lines := strings.Split(source, "\n")
	if line < 1 || line > len(lines) {
		return "", fmt.Errorf("apply_fix: line %d out of range (file has %d lines)", line, len(lines))
	}
	target := lines[line-1]
	start := column - 1
	end := start + len(excerpt)
	if start < 0 || end > len(target) {
		return "", fmt.Errorf("apply_fix: column range [%d, %d) out of range on line %d (length %d)", start, end, line, len(target))
	}

	replacement := template
	if strings.Contains(template, "...") {
		replacement = strings.ReplaceAll(template, "...", innerParens(excerpt))
	}

	lines[line-1] = target[:start] + replacement + target[end:]
	return strings.Join(lines, "\n"), nil
}

// innerParens returns the text strictly between the first '(' and the
// last ')' in excerpt, or excerpt unchanged if no such pair exists.
func innerParens(excerpt string) string {
	open := strings.IndexByte(excerpt, '(')
	closeIdx := strings.LastIndexByte(excerpt, ')')
	if open < 0 || closeIdx < 0 || closeIdx <= open {
		return excerpt
	}
	return excerpt[open+1 : closeIdx]
}
