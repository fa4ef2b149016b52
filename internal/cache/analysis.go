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

package cache

import (
	"encoding/json"
	"fmt"
	"os"

	"lukechampine.com/blake3"

	"github.com/sastforge/engine/ir"
)

// analysisCacheData is the on-disk JSON shape of AnalysisCache: a
// canonical path -> content hash map, a rule-id -> digest map, and a
// canonical path -> cached findings map (spec §4.4, §6.1), grounded on
// _examples/original_source/crates/engine/src/hash.rs's CacheData.
type analysisCacheData struct {
	Files       map[string]string      `json:"files"`
	Rules       map[string]string      `json:"rules"`
	FileResults map[string][]ir.Finding `json:"file_results"`
}

// AnalysisCache is the optional persistent cache described in spec
// §4.4: any change in the compiled rule set invalidates the entire
// file-findings cache; a change in a single file invalidates that
// file only (error class 7: a corrupt cache is discarded and rebuilt
// rather than failing the scan).
type AnalysisCache struct {
	path string
	data analysisCacheData
}

// LoadAnalysisCache reads path, tolerating a missing or corrupt file
// by returning an empty cache (spec §7 class 7 "cache corruption").
func LoadAnalysisCache(path string) *AnalysisCache {
	c := &AnalysisCache{path: path, data: analysisCacheData{
		Files:       map[string]string{},
		Rules:       map[string]string{},
		FileResults: map[string][]ir.Finding{},
	}}
	raw, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	var d analysisCacheData
	if err := json.Unmarshal(raw, &d); err != nil {
		return c
	}
	if d.Files == nil {
		d.Files = map[string]string{}
	}
	if d.Rules == nil {
		d.Rules = map[string]string{}
	}
	if d.FileResults == nil {
		d.FileResults = map[string][]ir.Finding{}
	}
	c.data = d
	return c
}

// HashContent returns the blake3 digest used throughout the cache.
func HashContent(content string) string {
	h := blake3.Sum256([]byte(content))
	return fmt.Sprintf("%x", h[:])
}

// HashRule returns blake3(rule debug form), used to invalidate the
// whole file-findings cache when any rule changes.
func HashRule(r *ir.CompiledRule) string {
	return HashContent(fmt.Sprintf("%+v", *r))
}

// RulesChanged reports whether the current rule set differs in size
// or per-rule digest from what was last persisted.
func (c *AnalysisCache) RulesChanged(rules []*ir.CompiledRule) bool {
	if len(rules) != len(c.data.Rules) {
		return true
	}
	for _, r := range rules {
		if c.data.Rules[r.ID] != HashRule(r) {
			return true
		}
	}
	return false
}

// UpdateRules replaces stored rule digests and clears the
// now-invalid per-file state.
func (c *AnalysisCache) UpdateRules(rules []*ir.CompiledRule) {
	c.data.Rules = map[string]string{}
	c.data.Files = map[string]string{}
	c.data.FileResults = map[string][]ir.Finding{}
	for _, r := range rules {
		c.data.Rules[r.ID] = HashRule(r)
	}
}

// FileChanged reports whether canonicalPath's content hash differs
// from what is stored (or is absent entirely).
func (c *AnalysisCache) FileChanged(canonicalPath, content string) bool {
	old, ok := c.data.Files[canonicalPath]
	return !ok || old != HashContent(content)
}

// UpdateFile records the current content hash for canonicalPath.
func (c *AnalysisCache) UpdateFile(canonicalPath, content string) {
	c.data.Files[canonicalPath] = HashContent(content)
}

// FileResults returns the cached findings for canonicalPath, if any.
func (c *AnalysisCache) FileResults(canonicalPath string) ([]ir.Finding, bool) {
	f, ok := c.data.FileResults[canonicalPath]
	return f, ok
}

// UpdateFileResults stores the findings produced for canonicalPath.
func (c *AnalysisCache) UpdateFileResults(canonicalPath string, findings []ir.Finding) {
	c.data.FileResults[canonicalPath] = findings
}

// Save persists the cache to disk; write failures are swallowed, the
// way the Rust reference's HashCache.save does, since a cache is
// advisory and never load-bearing for correctness.
func (c *AnalysisCache) Save() {
	raw, err := json.Marshal(c.data)
	if err != nil {
		return
	}
	_ = os.WriteFile(c.path, raw, 0o644)
}
