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
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sastforge/engine/internal/match"
	"github.com/sastforge/engine/internal/rx"
	"github.com/sastforge/engine/ir"
)

// Load reads every rule document under path (a single file or a
// directory walked recursively) and returns the combined RuleSet.
// Duplicate rule ids anywhere in the load fail the whole call (spec
// §4.1 "Duplicate rule ids within a single load fail with a
// diagnostic").
func Load(path string) (*ir.RuleSet, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	var files []string
	if info.IsDir() {
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			files = append(files, p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
	} else {
		files = []string{path}
	}

	seen := map[string]string{}
	rs := &ir.RuleSet{}

	for _, f := range files {
		switch {
		case isWasmSidecar(f, files):
			continue // consumed alongside its .wasm file below
		case strings.EqualFold(filepath.Ext(f), ".wasm"):
			rule, err := loadWasmRule(f)
			if err != nil {
				return nil, err
			}
			if rule == nil {
				continue
			}
			if err := addRule(rs, seen, rule); err != nil {
				return nil, err
			}
		case isRuleDocExt(f):
			docRules, err := loadRuleDocFile(f)
			if err != nil {
				return nil, err
			}
			for _, r := range docRules {
				if err := addRule(rs, seen, r); err != nil {
					return nil, err
				}
			}
		}
	}

	return rs, nil
}

func addRule(rs *ir.RuleSet, seen map[string]string, r *ir.CompiledRule) error {
	if prev, ok := seen[r.ID]; ok {
		return fmt.Errorf("load rules: duplicate rule id %q in %s and %s", r.ID, prev, r.SourceFile)
	}
	seen[r.ID] = r.SourceFile
	rs.Rules = append(rs.Rules, r)
	return nil
}

func isRuleDocExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}

// isWasmSidecar reports whether f is the `<base>.wasm.json` or
// `<base>.wasm.yaml` metadata file for a sibling `<base>.wasm`, so the
// directory walk doesn't also try to parse it as a standalone native
// rule document.
func isWasmSidecar(f string, all []string) bool {
	lower := strings.ToLower(f)
	if !strings.HasSuffix(lower, ".wasm.json") && !strings.HasSuffix(lower, ".wasm.yaml") && !strings.HasSuffix(lower, ".wasm.yml") {
		return false
	}
	base := f[:strings.LastIndex(lower, ".wasm.")+len(".wasm")]
	for _, other := range all {
		if other == base {
			return true
		}
	}
	return true // orphaned sidecar: still skip it as a rule document
}

func sidecarPath(wasmPath string) (string, bool) {
	for _, ext := range []string{".wasm.json", ".wasm.yaml", ".wasm.yml"} {
		p := wasmPath + ext[len(".wasm"):]
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func loadWasmRule(wasmPath string) (*ir.CompiledRule, error) {
	content, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, fmt.Errorf("load rules: read %s: %w", wasmPath, err)
	}
	if err := match.ValidateWasmModule(content); err != nil {
		return nil, fmt.Errorf("load rules: rule compile: %s: %w", wasmPath, err)
	}

	sc := wasmSidecar{Entrypoint: "deny"}
	if p, ok := sidecarPath(wasmPath); ok {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("load rules: read sidecar %s: %w", p, err)
		}
		if err := unmarshalByExt(p, raw, &sc); err != nil {
			return nil, fmt.Errorf("load rules: rule compile: sidecar %s: %w", p, err)
		}
	}
	if sc.Entrypoint == "" {
		sc.Entrypoint = "deny"
	}
	if sc.ID == "" {
		sc.ID = strings.TrimSuffix(filepath.Base(wasmPath), filepath.Ext(wasmPath))
	}

	return &ir.CompiledRule{
		ID:          sc.ID,
		Severity:    normalizeSeverity(sc.Severity),
		Category:    sc.Category,
		Message:     sc.Message,
		Remediation: sc.Remediation,
		SourceFile:  wasmPath,
		Languages:   lowerAll(sc.Languages),
		Matcher:     &match.RegoWasmMatcher{WasmPath: wasmPath, Entrypoint: sc.Entrypoint},
	}, nil
}

func unmarshalByExt(path string, raw []byte, v interface{}) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.Unmarshal(raw, v)
	}
	return yaml.Unmarshal(raw, v)
}

func loadRuleDocFile(path string) ([]*ir.CompiledRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load rules: read %s: %w", path, err)
	}

	var multi struct {
		Rules []ruleDoc `yaml:"rules" json:"rules"`
	}
	if err := unmarshalByExt(path, raw, &multi); err == nil && len(multi.Rules) > 0 {
		return compileDocs(path, multi.Rules)
	}

	var single ruleDoc
	if err := unmarshalByExt(path, raw, &single); err != nil {
		return nil, fmt.Errorf("load rules: rule compile: %s: %w", path, err)
	}
	if single.ID == "" {
		return nil, nil // not a rule document (e.g. an unrelated YAML/JSON file)
	}
	return compileDocs(path, []ruleDoc{single})
}

func compileDocs(path string, docs []ruleDoc) ([]*ir.CompiledRule, error) {
	out := make([]*ir.CompiledRule, 0, len(docs))
	for _, d := range docs {
		r, err := compileDoc(path, d)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func compileDoc(path string, d ruleDoc) (*ir.CompiledRule, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("load rules: rule compile: %s: rule missing id", path)
	}

	rule := &ir.CompiledRule{
		ID:          d.ID,
		Severity:    normalizeSeverity(d.Severity),
		Category:    d.Category,
		Message:     d.Message,
		Remediation: d.Remediation,
		Fix:         d.Fix,
		Interfile:   d.Options.Interfile,
		SourceFile:  path,
		Languages:   lowerAll(d.Languages),
		Paths:       d.Paths,
	}

	m, err := compileMatcher(path, d)
	if err != nil {
		return nil, err
	}
	rule.Matcher = m

	for _, dst := range []struct {
		docs []taintPatternDoc
		out  *[]ir.TaintPattern
	}{
		{d.Sources, &rule.Sources},
		{d.Sinks, &rule.Sinks},
		{d.Sanitizers, &rule.Sanitizers},
		{d.Reclass, &rule.Reclass},
	} {
		compiled, err := compileTaintPatterns(path, dst.docs)
		if err != nil {
			return nil, err
		}
		*dst.out = compiled
	}

	return rule, nil
}

// compileMatcher picks the MatcherKind a rule document describes:
// ast_pattern, then ast_query, then native text pattern(s), then the
// Semgrep-subset fields of spec §4.1(b) (pattern/pattern-regex/
// pattern-either, optionally narrowed by pattern-inside/
// pattern-not-inside/pattern-not), then TaintRule (a doc with none of
// the above but with sinks set still compiles, its Matcher built
// entirely from its own sources/sinks/sanitizers/reclass).
func compileMatcher(path string, d ruleDoc) (ir.Matcher, error) {
	switch {
	case d.AstPattern != "":
		return match.CompileAstPattern(d.AstPattern), nil

	case d.AstQuery != nil:
		kindRe, err := rx.Compile(d.AstQuery.KindRegex)
		if err != nil {
			return nil, fmt.Errorf("load rules: rule compile: %s: ast_query.kind_regex: %w", path, err)
		}
		var valRe rx.Regex
		if d.AstQuery.ValueRegex != "" {
			valRe, err = rx.Compile(d.AstQuery.ValueRegex)
			if err != nil {
				return nil, fmt.Errorf("load rules: rule compile: %s: ast_query.value_regex: %w", path, err)
			}
		}
		return &match.AstQueryMatcher{KindRegex: kindRe, ValueRegex: valRe}, nil

	case len(d.Patterns) == 1:
		re, err := rx.Compile(d.Patterns[0])
		if err != nil {
			return nil, fmt.Errorf("load rules: rule compile: %s: patterns[0]: %w", path, err)
		}
		return &match.TextRegexMatcher{Pattern: re}, nil

	case len(d.Patterns) > 1:
		allow := make([]rx.Regex, 0, len(d.Patterns))
		for i, p := range d.Patterns {
			re, err := rx.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("load rules: rule compile: %s: patterns[%d]: %w", path, i, err)
			}
			allow = append(allow, re)
		}
		return &match.TextRegexMultiMatcher{Allow: allow}, nil

	case d.Pattern != "" || d.PatternRegex != "" || len(d.PatternEither) > 0:
		return compileSemgrepMatcher(path, d)

	case len(d.Sinks) > 0:
		sources, err := compileTaintPatterns(path, d.Sources)
		if err != nil {
			return nil, err
		}
		sinks, err := compileTaintPatterns(path, d.Sinks)
		if err != nil {
			return nil, err
		}
		sanitizers, err := compileTaintPatterns(path, d.Sanitizers)
		if err != nil {
			return nil, err
		}
		reclass, err := compileTaintPatterns(path, d.Reclass)
		if err != nil {
			return nil, err
		}
		return &match.TaintRuleMatcher{Sources: sources, Sinks: sinks, Sanitizers: sanitizers, Reclass: reclass}, nil

	default:
		return nil, fmt.Errorf("load rules: rule compile: %s: rule %q has no matcher-defining fields", path, d.ID)
	}
}

func compileTaintPatterns(path string, docs []taintPatternDoc) ([]ir.TaintPattern, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	out := make([]ir.TaintPattern, 0, len(docs))
	for i, d := range docs {
		var tp ir.TaintPattern
		var err error
		if d.Allow != "" {
			if tp.Allow, err = rx.Compile(d.Allow); err != nil {
				return nil, fmt.Errorf("load rules: rule compile: %s: taint pattern[%d].allow: %w", path, i, err)
			}
		}
		if d.Deny != "" {
			if tp.Deny, err = rx.Compile(d.Deny); err != nil {
				return nil, fmt.Errorf("load rules: rule compile: %s: taint pattern[%d].deny: %w", path, i, err)
			}
		}
		if d.Inside != "" {
			if tp.Inside, err = rx.Compile(d.Inside); err != nil {
				return nil, fmt.Errorf("load rules: rule compile: %s: taint pattern[%d].inside: %w", path, i, err)
			}
		}
		if d.NotInside != "" {
			if tp.NotInside, err = rx.Compile(d.NotInside); err != nil {
				return nil, fmt.Errorf("load rules: rule compile: %s: taint pattern[%d].not_inside: %w", path, i, err)
			}
		}
		tp.AllowFocusGroup = d.FocusGroup
		tp.InsideFocusGroup = d.InsideFocusGroup
		out = append(out, tp)
	}
	return out, nil
}

func lowerAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}
