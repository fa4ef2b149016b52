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

package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sastforge/engine/ir"
)

func writeRuleFile(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestAnalyzeFileFindsTextRegexMatch(t *testing.T) {
	dir := t.TempDir()
	rulesPath := writeRuleFile(t, dir, `
id: debug-print
severity: low
category: style
message: debug print left in source
languages: [python]
patterns:
  - "print\\("
`)
	rs, err := LoadRules(rulesPath)
	require.NoError(t, err)

	file := ir.NewFileIR("app.py", "python", "print('hi')\n# sast-ignore next line is fine\nprint('bye')\n")
	findings, err := AnalyzeFile(file, rs)
	require.NoError(t, err)
	assert.Len(t, findings, 2)
	assert.Equal(t, "debug-print", findings[0].RuleID)
}

func TestParseFileHonorsSuppressMarker(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "app.py")
	require.NoError(t, os.WriteFile(src, []byte("print('a') # sast-ignore\nprint('b')\n"), 0o644))

	file, err := ParseFile(src, "")
	require.NoError(t, err)
	assert.True(t, file.Suppressed[1])
	assert.False(t, file.Suppressed[2])
}

func TestAnalyzeFilesWithConfigSuppressesAndDedups(t *testing.T) {
	dir := t.TempDir()
	rulesPath := writeRuleFile(t, dir, `
id: debug-print
severity: low
category: style
message: debug print left in source
languages: [python]
patterns:
  - "print\\("
`)
	rs, err := LoadRules(rulesPath)
	require.NoError(t, err)

	src := filepath.Join(dir, "app.py")
	require.NoError(t, os.WriteFile(src, []byte("print('a') # sast-ignore\nprint('b')\n"), 0o644))

	file, err := ParseFile(src, "")
	require.NoError(t, err)
	BuildCFG(file)
	BuildDFG(file)

	metrics := &Metrics{}
	findings, err := AnalyzeFilesWithConfig(context.Background(), []*ir.FileIR{file}, rs, EngineConfig{}, nil, metrics)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, 2, findings[0].Line)
	assert.Equal(t, 1, metrics.ParsedFiles)
}

func TestLoadBaselineAndFilter(t *testing.T) {
	dir := t.TempDir()
	rulesPath := writeRuleFile(t, dir, `
id: debug-print
severity: low
category: style
message: debug print left in source
languages: [python]
patterns:
  - "print\\("
`)
	rs, err := LoadRules(rulesPath)
	require.NoError(t, err)

	src := filepath.Join(dir, "app.py")
	require.NoError(t, os.WriteFile(src, []byte("print('a')\n"), 0o644))
	file, err := ParseFile(src, "")
	require.NoError(t, err)

	findings, err := AnalyzeFile(file, rs)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	baselinePath := filepath.Join(dir, "baseline.json")
	require.NoError(t, WriteBaseline(baselinePath, findings))

	baseline, err := LoadBaseline(baselinePath)
	require.NoError(t, err)
	require.Len(t, baseline, 1)

	merged := MergePluginFindings([]*ir.FileIR{file}, findings, nil, EngineConfig{Baseline: baseline})
	assert.Empty(t, merged)
}

// TestYAMLPlaintextPasswordSemgrepRule reproduces spec's literal S1
// scenario: a Semgrep pattern-regex rule finding a plaintext password
// in a one-line YAML file.
func TestYAMLPlaintextPasswordSemgrepRule(t *testing.T) {
	dir := t.TempDir()
	rulesPath := writeRuleFile(t, dir, `
id: plaintext-password
severity: high
category: secrets
message: plaintext password in YAML
languages: [yaml]
pattern-regex: 'password:\s*".*"'
`)
	rs, err := LoadRules(rulesPath)
	require.NoError(t, err)

	src := filepath.Join(dir, "a.yaml")
	require.NoError(t, os.WriteFile(src, []byte(`password: "p@ss"`+"\n"), 0o644))
	file, err := ParseFile(src, "")
	require.NoError(t, err)

	findings, err := AnalyzeFile(file, rs)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "plaintext-password", findings[0].RuleID)
	assert.Equal(t, ir.SeverityHigh, findings[0].Severity)
	assert.Equal(t, 1, findings[0].Line)
	assert.Equal(t, 1, findings[0].Column)
}

// TestDockerfileRootUserNativeRule reproduces spec's literal S2
// scenario: a native patterns rule flagging `USER root`.
func TestDockerfileRootUserNativeRule(t *testing.T) {
	dir := t.TempDir()
	rulesPath := writeRuleFile(t, dir, `
id: dockerfile-root-user
severity: medium
category: hardening
message: container runs as root
languages: [dockerfile]
patterns:
  - "(?m)^\\s*USER\\s+root\\b"
`)
	rs, err := LoadRules(rulesPath)
	require.NoError(t, err)

	src := filepath.Join(dir, "Dockerfile")
	require.NoError(t, os.WriteFile(src, []byte("FROM ubuntu\nUSER root\n"), 0o644))
	file, err := ParseFile(src, "")
	require.NoError(t, err)

	findings, err := AnalyzeFile(file, rs)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, 2, findings[0].Line)
}

// TestPythonTaintFlowNativeRule reproduces spec's literal S5
// scenario with a native taint rule (sources/sinks/sanitizers fields):
// it finds an unsanitized source reaching a sink, and stays silent once
// the value passes through a catalog sanitizer.
func TestPythonTaintFlowNativeRule(t *testing.T) {
	dir := t.TempDir()
	rulesPath := writeRuleFile(t, dir, `
id: tainted-sink
severity: critical
category: injection
message: tainted value reaches sink
languages: [python]
sources:
  - allow: "source\\("
sinks:
  - allow: "sink\\((?P<arg>\\w+)\\)"
    focus_group: "arg"
sanitizers:
  - allow: "sanitize\\("
`)
	rs, err := LoadRules(rulesPath)
	require.NoError(t, err)

	tainted := filepath.Join(dir, "tainted.py")
	require.NoError(t, os.WriteFile(tainted, []byte("user = source()\nsink(user)\n"), 0o644))
	taintedFile, err := ParseFile(tainted, "")
	require.NoError(t, err)
	findings, err := AnalyzeFile(taintedFile, rs)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "tainted-sink", findings[0].RuleID)

	clean := filepath.Join(dir, "clean.py")
	require.NoError(t, os.WriteFile(clean, []byte("user = sanitize(source())\nsink(user)\n"), 0o644))
	cleanFile, err := ParseFile(clean, "")
	require.NoError(t, err)
	cleanFindings, err := AnalyzeFile(cleanFile, rs)
	require.NoError(t, err)
	assert.Empty(t, cleanFindings)
}

func TestSummaryReportCountsBySeverity(t *testing.T) {
	report := SummaryReport([]ir.Finding{
		{RuleID: "a", Severity: ir.SeverityHigh},
		{RuleID: "b", Severity: ir.SeverityHigh},
		{RuleID: "c", Severity: ir.SeverityLow},
	})
	assert.Contains(t, report, "High")
	assert.Contains(t, report, "2")
	assert.Contains(t, report, "Low")
	assert.NotContains(t, report, "Critical")
}
