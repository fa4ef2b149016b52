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

// Package plugin implements the external-process plugin host of spec
// §4.7: manifest parsing, process lifecycle (spawn, init, ping,
// shutdown), and line-delimited JSON-RPC request/response framing over
// stdin/stdout. It is grounded on the teacher's worker-pool/errgroup
// idiom (internal/workerpool, engine.go) for the "multi" concurrency
// mode, and on crashappsec-zero's pkg/scanners/common subprocess
// helpers for the exec.Cmd plumbing, generalized from one-shot command
// execution to a long-lived piped child.
package plugin

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Capability names a plugin.toml "capabilities" entry (spec §4.7).
type Capability string

const (
	CapDiscover  Capability = "discover"
	CapTransform Capability = "transform"
	CapAnalyze   Capability = "analyze"
	CapReport    Capability = "report"
	CapRules     Capability = "rules"
)

// Concurrency is the plugin.toml "concurrency" value.
type Concurrency string

const (
	ConcurrencySingle Concurrency = "single"
	ConcurrencyMulti  Concurrency = "multi"
)

// Manifest is the parsed shape of a plugin.toml file (spec §4.7).
type Manifest struct {
	Name         string   `toml:"name"`
	Version      string   `toml:"version"`
	APIVersion   string   `toml:"api_version"`
	Entry        string   `toml:"entry"`
	Capabilities []string `toml:"capabilities"`
	Concurrency  string   `toml:"concurrency"`
	TimeoutMS    int      `toml:"timeout_ms"`
	MemMB        int      `toml:"mem_mb"`
	ReadsFS      bool     `toml:"reads_fs"`
	NeedsContent bool     `toml:"needs_content"`
	ConfigSchema string   `toml:"config_schema"`
}

// LoadManifest reads and validates path as a plugin.toml document. The
// only hard structural requirements are a non-empty entry and a major
// component of api_version equal to "1"; every other field is permissive
// since unknown capabilities are simply never requested.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("load manifest: parse %s: %w", path, err)
	}
	if m.Entry == "" {
		return nil, fmt.Errorf("load manifest: %s: entry is required", path)
	}
	major := m.APIVersion
	if i := strings.IndexByte(major, '.'); i >= 0 {
		major = major[:i]
	}
	if major != "1" {
		return nil, fmt.Errorf("load manifest: %s: unsupported api_version %q (major must be \"1\")", path, m.APIVersion)
	}
	return &m, nil
}

// HasCapability reports whether m declares cap.
func (m *Manifest) HasCapability(cap Capability) bool {
	for _, c := range m.Capabilities {
		if Capability(c) == cap {
			return true
		}
	}
	return false
}

// Argv shell-splits m.Entry into an argv slice. Entry is documented as
// "shell-quoted argv"; a minimal quote-aware splitter is enough since
// plugin authors do not need full shell semantics (no pipes/redirects).
func (m *Manifest) Argv() ([]string, error) {
	return splitArgv(m.Entry)
}

func splitArgv(s string) ([]string, error) {
	var out []string
	var cur strings.Builder
	var quote rune
	inField := false
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inField = true
		case r == ' ' || r == '\t':
			if inField {
				out = append(out, cur.String())
				cur.Reset()
				inField = false
			}
		default:
			cur.WriteRune(r)
			inField = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("splitArgv: unterminated quote in %q", s)
	}
	if inField {
		out = append(out, cur.String())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("splitArgv: empty entry")
	}
	return out, nil
}
