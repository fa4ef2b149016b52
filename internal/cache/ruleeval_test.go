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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sastforge/engine/ir"
)

func TestRuleEvalCacheHitsAndMisses(t *testing.T) {
	c := NewRuleEvalCache(DefaultCapacity)
	findings := []ir.Finding{{RuleID: "r1", File: "a.go", Line: 1}}

	_, hit := c.Get("rule-digest", "file-digest")
	assert.False(t, hit)

	c.Put("rule-digest", "file-digest", findings)
	got, hit := c.Get("rule-digest", "file-digest")
	assert.True(t, hit)
	assert.Equal(t, findings, got)

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)

	c.Reset()
	_, hit = c.Get("rule-digest", "file-digest")
	assert.False(t, hit)
}

func TestHashContentIsStableAndSensitiveToChange(t *testing.T) {
	a := HashContent("package main")
	b := HashContent("package main")
	c := HashContent("package main2")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestHashRuleChangesWithSeverity(t *testing.T) {
	low := HashRule(&ir.CompiledRule{ID: "x", Severity: ir.SeverityLow})
	high := HashRule(&ir.CompiledRule{ID: "x", Severity: ir.SeverityHigh})
	assert.NotEqual(t, low, high)
}
