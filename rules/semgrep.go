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

package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sastforge/engine/internal/match"
	"github.com/sastforge/engine/internal/rx"
	"github.com/sastforge/engine/ir"
)

// semgrepTokenRe recognizes the three fragment kinds spec §4.1
// translates specially: a `$METAVAR`, an ellipsis, or a whitespace
// run. Everything else is a literal, escaped through regexp.QuoteMeta.
var semgrepTokenRe = regexp.MustCompile(`\$[A-Z_][A-Z0-9_]*|\.\.\.|\s+`)

// translateSemgrepBody converts one Semgrep pattern body into a
// regular expression fragment per spec §4.1: literals (including
// `{}[]`) are escaped, `$METAVAR` becomes a named capture, `...`
// becomes `.*?`, and whitespace runs collapse to `\s+`. A comma
// immediately followed by a collapsed `...` is made optional so
// `foo(...)` matches calls with or without arguments, the same as a
// bare `foo()`.
func translateSemgrepBody(body string) string {
	var b strings.Builder
	last := 0
	for _, loc := range semgrepTokenRe.FindAllStringIndex(body, -1) {
		if loc[0] > last {
			b.WriteString(regexp.QuoteMeta(body[last:loc[0]]))
		}
		tok := body[loc[0]:loc[1]]
		switch {
		case tok == "...":
			b.WriteString(`.*?`)
		case strings.HasPrefix(tok, "$"):
			b.WriteString(`(?P<` + strings.TrimPrefix(tok, "$") + `>.*?)`)
		default:
			b.WriteString(`\s+`)
		}
		last = loc[1]
	}
	if last < len(body) {
		b.WriteString(regexp.QuoteMeta(body[last:]))
	}

	out := b.String()
	out = strings.ReplaceAll(out, `,\s+.*?`, `(?:,\s+.*?)?`)
	out = strings.ReplaceAll(out, `,.*?`, `(?:,.*?)?`)
	return out
}

// compileSemgrepPattern translates a Semgrep pattern body and wraps
// it in the containment form `(?s).*<body>.*` (standalone patterns)
// or the exact form `(?s)<body>` (bodies nested inside patterns/
// pattern-inside), then compiles it through the dual regex engine.
func compileSemgrepPattern(body string, exact bool) (rx.Regex, error) {
	translated := translateSemgrepBody(body)
	if exact {
		return rx.Compile(`(?s)` + translated)
	}
	return rx.Compile(`(?s).*` + translated + `.*`)
}

// compileSemgrepClause compiles one pattern-either member: a
// pattern-regex fragment compiles as-is, a pattern body goes through
// the translator.
func compileSemgrepClause(path string, i int, c patternClauseDoc) (rx.Regex, error) {
	if c.PatternRegex != "" {
		re, err := rx.Compile(c.PatternRegex)
		if err != nil {
			return nil, fmt.Errorf("load rules: rule compile: %s: pattern-either[%d].pattern-regex: %w", path, i, err)
		}
		return re, nil
	}
	re, err := compileSemgrepPattern(c.Pattern, false)
	if err != nil {
		return nil, fmt.Errorf("load rules: rule compile: %s: pattern-either[%d].pattern: %w", path, i, err)
	}
	return re, nil
}

// compileSemgrepMatcher builds a MatcherKind from a rule document's
// Semgrep-subset fields (spec §4.1(b)). It returns (nil, nil) when
// none of those fields are present, so callers can fall through to
// the native-format cases.
func compileSemgrepMatcher(path string, d ruleDoc) (ir.Matcher, error) {
	var allow []rx.Regex
	switch {
	case d.PatternRegex != "":
		re, err := rx.Compile(d.PatternRegex)
		if err != nil {
			return nil, fmt.Errorf("load rules: rule compile: %s: pattern-regex: %w", path, err)
		}
		allow = []rx.Regex{re}

	case d.Pattern != "":
		re, err := compileSemgrepPattern(d.Pattern, false)
		if err != nil {
			return nil, fmt.Errorf("load rules: rule compile: %s: pattern: %w", path, err)
		}
		allow = []rx.Regex{re}

	case len(d.PatternEither) > 0:
		for i, clause := range d.PatternEither {
			re, err := compileSemgrepClause(path, i, clause)
			if err != nil {
				return nil, err
			}
			allow = append(allow, re)
		}

	default:
		return nil, nil
	}

	var inside, notInside []rx.Regex
	if d.PatternInside != "" {
		re, err := compileSemgrepPattern(d.PatternInside, true)
		if err != nil {
			return nil, fmt.Errorf("load rules: rule compile: %s: pattern-inside: %w", path, err)
		}
		inside = []rx.Regex{re}
	}
	if d.PatternNotInside != "" {
		re, err := compileSemgrepPattern(d.PatternNotInside, true)
		if err != nil {
			return nil, fmt.Errorf("load rules: rule compile: %s: pattern-not-inside: %w", path, err)
		}
		notInside = []rx.Regex{re}
	}
	var deny rx.Regex
	if d.PatternNot != "" {
		re, err := compileSemgrepPattern(d.PatternNot, false)
		if err != nil {
			return nil, fmt.Errorf("load rules: rule compile: %s: pattern-not: %w", path, err)
		}
		deny = re
	}

	if len(allow) == 1 && deny == nil && len(inside) == 0 && len(notInside) == 0 {
		return &match.TextRegexMatcher{Pattern: allow[0]}, nil
	}
	return &match.TextRegexMultiMatcher{Allow: allow, Deny: deny, Inside: inside, NotInside: notInside}, nil
}
