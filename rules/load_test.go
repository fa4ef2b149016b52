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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRule(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadSinglePatternRule(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "hardcoded-secret.yaml", `
id: hardcoded-secret
severity: high
category: secrets
message: possible hardcoded secret
languages: [python]
patterns:
  - "API_KEY\\s*=\\s*['\"]"
`)

	rs, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)
	assert.Equal(t, "hardcoded-secret", rs.Rules[0].ID)
	assert.Equal(t, "TextRegex", rs.Rules[0].Matcher.Kind())
}

func TestLoadTaintRuleFromRawRegexFragments(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "sql-injection.yaml", `
id: sql-injection
severity: critical
category: injection
message: tainted value reaches a SQL sink
languages: [python]
sources:
  - allow: "request\\.(GET|POST)"
sinks:
  - allow: "cursor\\.execute"
sanitizers:
  - allow: "escape_sql"
`)

	rs, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)
	r := rs.Rules[0]
	assert.Equal(t, "TaintRule", r.Matcher.Kind())
	assert.Len(t, r.Sources, 1)
	assert.Len(t, r.Sinks, 1)
	assert.Len(t, r.Sanitizers, 1)
}

func TestLoadDuplicateIDFails(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "a.yaml", "id: dup\nseverity: low\npatterns: [\"foo\"]\n")
	writeRule(t, dir, "b.yaml", "id: dup\nseverity: low\npatterns: [\"bar\"]\n")

	_, err := Load(dir)
	assert.ErrorContains(t, err, "duplicate rule id")
}

func TestLoadSkipsNonRuleYAML(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "config.yaml", "some: config\nnot: a-rule\n")

	rs, err := Load(dir)
	require.NoError(t, err)
	assert.Empty(t, rs.Rules)
}

func TestLoadMissingPathErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}
