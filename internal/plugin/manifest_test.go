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

package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "plugin.toml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadManifestValid(t *testing.T) {
	p := writeManifest(t, `
name = "secret-scanner"
version = "1.2.0"
api_version = "1.0"
entry = "python3 plugin.py --mode rules"
capabilities = ["analyze", "rules"]
concurrency = "single"
timeout_ms = 5000
mem_mb = 256
reads_fs = true
`)

	m, err := LoadManifest(p)
	require.NoError(t, err)
	assert.Equal(t, "secret-scanner", m.Name)
	assert.True(t, m.HasCapability(CapAnalyze))
	assert.True(t, m.HasCapability(CapRules))
	assert.False(t, m.HasCapability(CapDiscover))

	argv, err := m.Argv()
	require.NoError(t, err)
	assert.Equal(t, []string{"python3", "plugin.py", "--mode", "rules"}, argv)
}

func TestLoadManifestRejectsUnsupportedAPIVersion(t *testing.T) {
	p := writeManifest(t, `
name = "bad"
api_version = "2.0"
entry = "plugin"
`)
	_, err := LoadManifest(p)
	assert.ErrorContains(t, err, "api_version")
}

func TestLoadManifestRequiresEntry(t *testing.T) {
	p := writeManifest(t, `
name = "no-entry"
api_version = "1"
`)
	_, err := LoadManifest(p)
	assert.ErrorContains(t, err, "entry is required")
}

func TestArgvQuotedFields(t *testing.T) {
	m := &Manifest{Entry: `node index.js --config "my config.json"`}
	argv, err := m.Argv()
	require.NoError(t, err)
	assert.Equal(t, []string{"node", "index.js", "--config", "my config.json"}, argv)
}

func TestArgvUnterminatedQuoteErrors(t *testing.T) {
	m := &Manifest{Entry: `node "unterminated`}
	_, err := m.Argv()
	assert.Error(t, err)
}

func TestVirtualPathStableForSameContent(t *testing.T) {
	a := VirtualPath("/real/path/app.py", "print(1)")
	b := VirtualPath("/other/path/app.py", "print(1)")
	c := VirtualPath("/real/path/app.py", "print(2)")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
