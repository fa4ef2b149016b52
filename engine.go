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

// Package engine is the analysis scheduler and public API surface
// (spec §4.4, §6.3): it fans file-level work out across a worker
// pool, consults the rule-evaluation and analysis caches, and
// post-processes findings (canonicalize, suppress, baseline-filter,
// dedup). It is grounded on the teacher's Engine.Run (pool.Submit +
// errgroup + mutex-guarded findings slice), generalized from the
// teacher's Rule.Run(path)-per-file model to the spec's
// (FileIR, RuleSet)-per-file model.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sastforge/engine/internal/cache"
	"github.com/sastforge/engine/internal/match"
	"github.com/sastforge/engine/internal/parse"
	"github.com/sastforge/engine/internal/plugin"
	"github.com/sastforge/engine/internal/taint"
	"github.com/sastforge/engine/internal/workerpool"
	"github.com/sastforge/engine/ir"
	"github.com/sastforge/engine/rules"
)

// DefaultSuppressMarker is the suppression-comment text recognized
// when EngineConfig.SuppressComment is empty (spec §4.6).
const DefaultSuppressMarker = "sast-ignore"

// EngineConfig carries the scan-wide knobs of spec §4.4.
type EngineConfig struct {
	PoolSize        int
	FileTimeout     time.Duration
	RuleTimeout     time.Duration
	Baseline        []ir.BaselineEntry
	SuppressComment string
}

// Metrics accumulates the counters spec §7 says a scan must expose so
// a zero-finding, non-zero-failure run reads as a partial success
// rather than a clean one.
type Metrics struct {
	mu            sync.Mutex
	ParsedFiles   int
	FailedFiles   int
	RuleTimeouts  int
	FileTimeouts  int
	RuleCacheHits int
	RuleCacheMiss int
}

func (m *Metrics) incr(field *int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	*field++
	m.mu.Unlock()
}

// DebugEventKind enumerates the push-based event stream of §6.3.
type DebugEventKind string

const (
	EventParseStart   DebugEventKind = "ParseStart"
	EventParseEnd     DebugEventKind = "ParseEnd"
	EventRuleCompiled DebugEventKind = "RuleCompiled"
	EventMatchAttempt DebugEventKind = "MatchAttempt"
	EventMatchResult  DebugEventKind = "MatchResult"
)

// DebugEvent is one entry in the debug sink stream.
type DebugEvent struct {
	Kind DebugEventKind
	File string
	Rule string
	Note string
}

// DebugSink receives DebugEvents; a nil sink (the default) discards
// them.
type DebugSink interface {
	Emit(DebugEvent)
}

var (
	debugMu   sync.RWMutex
	debugSink DebugSink
)

// SetDebugSink installs (or, with nil, removes) the process-wide debug
// sink (spec §6.3 "set_debug_sink(sink?)").
func SetDebugSink(sink DebugSink) {
	debugMu.Lock()
	debugSink = sink
	debugMu.Unlock()
}

func emit(ev DebugEvent) {
	debugMu.RLock()
	sink := debugSink
	debugMu.RUnlock()
	if sink != nil {
		sink.Emit(ev)
	}
}

// runnableMatcher is the subset of ir.Matcher every concrete
// MatcherKind in internal/match actually implements; kept local so ir
// need not depend on internal/match (avoiding the import cycle noted
// in ir/rule.go).
type runnableMatcher interface {
	Run(file *ir.FileIR) ([]match.Result, error)
}

// LoadRules loads every rule document under path (spec §6.3
// "load_rules(path) -> RuleSet").
func LoadRules(path string) (*ir.RuleSet, error) {
	rs, err := rules.Load(path)
	if err != nil {
		return nil, err
	}
	for _, r := range rs.Rules {
		emit(DebugEvent{Kind: EventRuleCompiled, Rule: r.ID})
	}
	return rs, nil
}

// LoadPluginHost spawns the plugin at manifestPath (spec §4.7) and
// runs its init/ping handshake. Callers are responsible for calling
// Shutdown on the returned host once the scan completes.
func LoadPluginHost(ctx context.Context, manifestPath, workspaceRoot, rulesRoot string, readsFS bool, log plugin.LogFunc) (*plugin.Host, error) {
	return plugin.Load(ctx, manifestPath, workspaceRoot, rulesRoot, readsFS, log)
}

// LoadPluginRules implements the §4.7 "rules" capability: a plugin
// directory's rules/ subfolder is loaded through the same loader as
// every other rule source and appended to rs.
func LoadPluginRules(pluginDir string, rs *ir.RuleSet) error {
	extra, err := rules.Load(pluginDir + "/rules")
	if err != nil {
		return err
	}
	rs.Rules = append(rs.Rules, extra.Rules...)
	for _, r := range extra.Rules {
		emit(DebugEvent{Kind: EventRuleCompiled, Rule: r.ID})
	}
	return nil
}

// ParseFile reads path and produces a FileIR carrying its raw source,
// suppression-marker lines, AST and IRNode facts (spec §6.3
// "parse_file"). The AST and fact extraction is delegated to
// internal/parse, which runs a tree-sitter grammar for the languages
// it supports (go, javascript, typescript, python, rust, yaml, hcl)
// and a line/JSON-oriented fallback otherwise (dockerfile, json, and
// any language with no grammar in this pack, such as ruby/java/php).
// internal/parse also builds file.Dfg directly for Python (spec §4.2,
// §6.3's literal S5 scenario); BuildCFG/BuildDFG below build the CFG
// and guarantee file.Dfg is non-nil for every other language.
func ParseFile(path string, suppressComment string) (*ir.FileIR, error) {
	emit(DebugEvent{Kind: EventParseStart, File: path})
	content, err := os.ReadFile(path)
	if err != nil {
		emit(DebugEvent{Kind: EventParseEnd, File: path, Note: "error"})
		return nil, fmt.Errorf("parse_file: %w", err)
	}

	marker := suppressComment
	if marker == "" {
		marker = DefaultSuppressMarker
	}

	file := ir.NewFileIR(path, fileType(path), string(content))
	for i, line := range strings.Split(string(content), "\n") {
		if strings.Contains(line, marker) {
			file.Suppressed[i+1] = true
		}
	}

	if parse.Supports(file.FileType) {
		if err := parse.Parse(file); err != nil {
			file.MarkParseError()
		}
	} else {
		parse.ParseFallback(file)
	}

	emit(DebugEvent{Kind: EventParseEnd, File: path})
	return file, nil
}

func fileType(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".ts") || strings.HasSuffix(lower, ".tsx"):
		return "typescript"
	case strings.HasSuffix(lower, ".js") || strings.HasSuffix(lower, ".jsx"):
		return "javascript"
	case strings.HasSuffix(lower, ".py"):
		return "python"
	case strings.HasSuffix(lower, ".go"):
		return "go"
	case strings.HasSuffix(lower, ".rb"):
		return "ruby"
	case strings.HasSuffix(lower, ".rs"):
		return "rust"
	case strings.HasSuffix(lower, ".java"):
		return "java"
	case strings.HasSuffix(lower, ".php"):
		return "php"
	case strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml"):
		return "yaml"
	case strings.HasSuffix(lower, ".json"):
		return "json"
	case strings.HasSuffix(lower, ".tf") || strings.HasSuffix(lower, ".hcl"):
		return "hcl"
	case strings.HasSuffix(lower, "dockerfile"):
		return "dockerfile"
	default:
		return "generic"
	}
}

// BuildCFG builds the intra-procedural control flow graph for
// JavaScript, TypeScript and Python files (spec §3, §6.3
// "build_cfg"); a no-op for every other language, since a CFG is
// never built for them.
func BuildCFG(file *ir.FileIR) {
	switch file.FileType {
	case "javascript", "typescript", "python":
		cfg := &ir.CFG{}
		var prev *uint64
		for _, n := range file.Nodes {
			if n.Kind != "call" {
				continue
			}
			cfg.Nodes = append(cfg.Nodes, ir.CFGNode{ID: n.ID, Line: n.Meta.Line, Code: n.Path})
			if prev != nil {
				cfg.Edges = append(cfg.Edges, ir.CFGEdge{Predecessor: *prev, Successor: n.ID})
			}
			id := n.ID
			prev = &id
		}
		file.Cfg = cfg
	}
}

// BuildDFG builds (or extends) file.Dfg in place (spec §6.3
// "build_dfg(FileIR mut)"). Python's DFG is already populated by
// internal/parse.Parse by the time this runs; for every other
// language this only guarantees the field is non-nil so downstream
// DFG consumers (internal/taint, TaintRuleMatcher) never have to
// nil-check it.
func BuildDFG(file *ir.FileIR) {
	if file.Dfg == nil {
		file.Dfg = &ir.DFG{}
	}
}

// AnalyzeFile runs every rule in rs that applies to file's language
// against file, with no caching and no timeouts (spec §6.3
// "analyze_file(FileIR, RuleSet) -> [Finding]"): the single-file,
// single-shot entry point AnalyzeFilesWithConfig builds on.
func AnalyzeFile(file *ir.FileIR, rs *ir.RuleSet) ([]ir.Finding, error) {
	return analyzeFile(context.Background(), file, rs, nil, nil, nil)
}

func analyzeFile(ctx context.Context, file *ir.FileIR, rs *ir.RuleSet, ruleTimeout *time.Duration, evalCache *cache.RuleEvalCache, metrics *Metrics) ([]ir.Finding, error) {
	var findings []ir.Finding
	fileDigest := cache.HashContent(file.Source)
	patternCache := cache.NewPatternCache(cache.DefaultCapacity)

	for _, rule := range rs.ByLanguage(file.FileType) {
		if !rulePathMatches(patternCache, rule, file.FilePath) {
			continue
		}
		runnable, ok := rule.Matcher.(runnableMatcher)
		if !ok {
			continue
		}

		emit(DebugEvent{Kind: EventMatchAttempt, File: file.FilePath, Rule: rule.ID})

		var ruleDigest string
		if evalCache != nil {
			ruleDigest = cache.HashRule(rule)
			if cached, hit := evalCache.Get(ruleDigest, fileDigest); hit {
				metrics.incr(&metrics.RuleCacheHits)
				findings = append(findings, cached...)
				continue
			}
			metrics.incr(&metrics.RuleCacheMiss)
		}

		results, err := runMatcherWithTimeout(ctx, runnable, file, ruleTimeout)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr // per-file deadline: the caller drops this file's findings
			}
			metrics.incr(&metrics.RuleTimeouts)
			emit(DebugEvent{Kind: EventMatchResult, File: file.FilePath, Rule: rule.ID, Note: "timeout"})
			continue // error class 5: rule yields no findings for this file
		}

		ruleFindings := make([]ir.Finding, 0, len(results))
		for _, res := range results {
			ruleFindings = append(ruleFindings, ir.NewFinding(
				rule.ID, file.FilePath, res.Line, res.Column, res.Excerpt,
				rule.Message, rule.Remediation, rule.Fix,
			))
		}
		if evalCache != nil {
			evalCache.Put(ruleDigest, fileDigest, ruleFindings)
		}
		emit(DebugEvent{Kind: EventMatchResult, File: file.FilePath, Rule: rule.ID, Note: fmt.Sprintf("%d", len(ruleFindings))})
		findings = append(findings, ruleFindings...)
	}

	return findings, nil
}

// rulePathMatches reports whether rule applies to filePath: a rule
// with no Paths glob list applies everywhere; otherwise it applies iff
// filePath matches at least one of the doublestar-style globs in
// Paths (spec §4.8's path-pattern cache, consulted here rather than in
// ir.CompiledRule itself since internal/cache already imports ir and
// an ir -> internal/cache import would cycle).
func rulePathMatches(pc *cache.PatternCache, rule *ir.CompiledRule, filePath string) bool {
	if len(rule.Paths) == 0 {
		return true
	}
	for _, pattern := range rule.Paths {
		if pc.Match(pattern, filePath) {
			return true
		}
	}
	return false
}

// runMatcherWithTimeout runs m.Run on a background goroutine so a
// per-rule deadline (spec §4.4 step 2) or the cancellation of ctx (the
// per-file deadline) can abandon a pathological matcher instead of
// blocking the whole file; the goroutine itself is always allowed to
// finish (Go offers no safe preemption), it is just no longer waited on.
func runMatcherWithTimeout(ctx context.Context, m runnableMatcher, file *ir.FileIR, timeout *time.Duration) ([]match.Result, error) {
	if (timeout == nil || *timeout <= 0) && ctx.Done() == nil {
		return m.Run(file)
	}
	var timer <-chan time.Time
	if timeout != nil && *timeout > 0 {
		timer = time.After(*timeout)
	}

	type outcome struct {
		results []match.Result
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		results, err := m.Run(file)
		done <- outcome{results, err}
	}()

	select {
	case o := <-done:
		return o.results, o.err
	case <-timer:
		return nil, context.DeadlineExceeded
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AnalyzeFilesWithConfig is the full scheduler of spec §4.4/§6.3: it
// parallelizes per-file analysis across a worker pool, applies the
// per-rule-evaluation cache and per-file/per-rule timeouts, and
// post-processes the merged findings (canonicalize, suppress,
// baseline-filter, dedup).
func AnalyzeFilesWithConfig(ctx context.Context, files []*ir.FileIR, rs *ir.RuleSet, cfg EngineConfig, ac *cache.AnalysisCache, metrics *Metrics) ([]ir.Finding, error) {
	pool, err := workerpool.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("analyze_files_with_config: %w", err)
	}
	defer pool.Release()

	evalCache := cache.NewRuleEvalCache(cache.DefaultCapacity)
	pathCache := cache.NewPathCache(cache.DefaultCapacity)

	if ac != nil && ac.RulesChanged(rs.Rules) {
		ac.UpdateRules(rs.Rules)
	}

	var (
		mu  sync.Mutex
		all []ir.Finding
		wg  sync.WaitGroup
	)
	group, _ := errgroup.WithContext(ctx)

	wg.Add(len(files))
	for _, f := range files {
		file := f
		submitErr := workerpool.SubmitCtx(ctx, pool, func() {
			group.Go(func() error {
				defer wg.Done()

				if file.HasParseError() {
					metrics.incr(&metrics.FailedFiles)
					return nil
				}
				metrics.incr(&metrics.ParsedFiles)

				if ac != nil {
					canon := pathCache.Canonicalize(file.FilePath)
					if !ac.FileChanged(canon, file.Source) {
						if cached, hit := ac.FileResults(canon); hit {
							mu.Lock()
							all = append(all, cached...)
							mu.Unlock()
							return nil
						}
					}
				}

				fileCtx := ctx
				var cancel context.CancelFunc
				if cfg.FileTimeout > 0 {
					fileCtx, cancel = context.WithTimeout(ctx, cfg.FileTimeout)
					defer cancel()
				}

				var ruleTimeout *time.Duration
				if cfg.RuleTimeout > 0 {
					ruleTimeout = &cfg.RuleTimeout
				}

				findings, err := analyzeFile(fileCtx, file, rs, ruleTimeout, evalCache, metrics)
				if err != nil {
					if fileCtx.Err() != nil {
						metrics.incr(&metrics.FileTimeouts)
						return nil // error class 5: drop remaining rules for this file
					}
					return err
				}

				if ac != nil {
					canon := pathCache.Canonicalize(file.FilePath)
					ac.UpdateFile(canon, file.Source)
					ac.UpdateFileResults(canon, findings)
				}

				mu.Lock()
				all = append(all, findings...)
				mu.Unlock()
				return nil
			})
		})
		if submitErr != nil {
			wg.Done()
			return nil, fmt.Errorf("analyze_files_with_config: %w", submitErr)
		}
	}

	wg.Wait()
	if err := group.Wait(); err != nil {
		return nil, err
	}

	result := postProcess(all, files, pathCache, cfg.Baseline)

	if ac != nil {
		ac.Save()
	}

	return result, nil
}

// postProcess implements spec §4.4 step 5: canonicalize each
// finding's file, drop suppressed and baselined findings, and
// deduplicate by Finding.id.
func postProcess(findings []ir.Finding, files []*ir.FileIR, pathCache *cache.PathCache, baseline []ir.BaselineEntry) []ir.Finding {
	suppressedByFile := map[string]map[int]bool{}
	for _, f := range files {
		suppressedByFile[pathCache.Canonicalize(f.FilePath)] = f.Suppressed
	}

	seenIDs := map[string]bool{}
	out := make([]ir.Finding, 0, len(findings))
	for _, f := range findings {
		f.File = pathCache.Canonicalize(f.File)
		f.ID = ir.FindingID(f.RuleID, f.File, f.Line, f.Column, f.Excerpt, f.Message, f.Remediation, f.Fix)

		if suppressed := suppressedByFile[f.File]; suppressed != nil && suppressed[f.Line] {
			continue
		}
		if matchesBaseline(f, baseline) {
			continue
		}
		if seenIDs[f.ID] {
			continue
		}
		seenIDs[f.ID] = true
		out = append(out, f)
	}
	return out
}

func matchesBaseline(f ir.Finding, baseline []ir.BaselineEntry) bool {
	for _, b := range baseline {
		if b.Matches(f) {
			return true
		}
	}
	return false
}

// MergePluginFindings merges plugin-produced findings (spec §4.7) into
// the core's own result set, running them through the same
// canonicalize/suppress/baseline/dedup pipeline (spec §6.3
// "merge_plugin_findings").
func MergePluginFindings(files []*ir.FileIR, findings []ir.Finding, pluginFindings []ir.Finding, cfg EngineConfig) []ir.Finding {
	pathCache := cache.NewPathCache(cache.DefaultCapacity)
	combined := append(append([]ir.Finding{}, findings...), pluginFindings...)
	return postProcess(combined, files, pathCache, cfg.Baseline)
}

// LoadBaseline reads and re-canonicalizes a baseline file (spec §6.3
// "load_baseline", §4.6).
func LoadBaseline(path string) ([]ir.BaselineEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load_baseline: %w", err)
	}
	var entries []ir.BaselineEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("load_baseline: %w", err)
	}
	pathCache := cache.NewPathCache(cache.DefaultCapacity)
	for i := range entries {
		entries[i].File = pathCache.Canonicalize(entries[i].File)
	}
	return entries, nil
}

// WriteBaseline canonicalizes and serializes findings as a baseline
// file (spec §6.3 "write_baseline", §4.6).
func WriteBaseline(path string, findings []ir.Finding) error {
	pathCache := cache.NewPathCache(cache.DefaultCapacity)
	entries := make([]ir.BaselineEntry, 0, len(findings))
	for _, f := range findings {
		f.File = pathCache.Canonicalize(f.File)
		entries = append(entries, ir.BaselineEntryFromFinding(f))
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("write_baseline: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

// ResetRuleCache clears a rule-evaluation cache (spec §6.3
// "reset_rule_cache"); exposed as a free function operating on a
// caller-owned cache since AnalyzeFilesWithConfig builds its own
// per-call cache rather than a hidden package-level singleton.
func ResetRuleCache(c *cache.RuleEvalCache) { c.Reset() }

// ResetCanonicalCache clears a path cache (spec §6.3
// "reset_canonical_cache").
func ResetCanonicalCache(c *cache.PathCache) { c.Reset() }

// RecordFunctionTaints runs the cross-file taint recorder over file
// (spec §6.3 "record_function_taints").
func RecordFunctionTaints(file *ir.FileIR) { taint.RecordFunctionTaints(file) }

// AllFunctionTaints returns every recorded FunctionTaint (spec §6.3
// "all_function_taints").
func AllFunctionTaints() []taint.FunctionTaint { return taint.AllFunctionTaints() }

// SummaryReport renders a human-readable severity distribution table,
// grounded on crashappsec-zero's markdown report generator
// (pkg/reports/markdown/generator.go's writeSummarySection): a title
// caser applied to each severity name via golang.org/x/text, ordered
// from most to least severe.
func SummaryReport(findings []ir.Finding) string {
	counts := map[ir.Severity]int{}
	for _, f := range findings {
		counts[f.Severity]++
	}

	titleCaser := cases.Title(language.English)
	var b strings.Builder
	b.WriteString("Severity Distribution\n")
	for _, sev := range []ir.Severity{
		ir.SeverityCritical, ir.SeverityError, ir.SeverityHigh,
		ir.SeverityMedium, ir.SeverityLow, ir.SeverityInfo,
	} {
		if n := counts[sev]; n > 0 {
			fmt.Fprintf(&b, "  %-10s %d\n", titleCaser.String(string(sev)), n)
		}
	}
	return b.String()
}
