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
	"github.com/sastforge/engine/ir"
)

// RuleEvalCache is the LRU of spec §4.4: an exclusive lock held only
// across read and write of one entry, keyed by (rule-digest,
// file-digest) -> findings, with explicit hit/miss counters and an
// explicit Reset (property P7).
type RuleEvalCache struct {
	backing *lru
}

// NewRuleEvalCache builds a rule-evaluation cache with the given
// capacity (0 means DefaultCapacity).
func NewRuleEvalCache(capacity int) *RuleEvalCache {
	return &RuleEvalCache{backing: newLRU(capacity)}
}

func ruleEvalKey(ruleDigest, fileDigest string) string {
	return ruleDigest + "\x00" + fileDigest
}

// Get returns the cached findings for (ruleDigest, fileDigest), if any.
func (c *RuleEvalCache) Get(ruleDigest, fileDigest string) ([]ir.Finding, bool) {
	v, ok := c.backing.get(ruleEvalKey(ruleDigest, fileDigest))
	if !ok {
		return nil, false
	}
	return v.([]ir.Finding), true
}

// Put stores the findings produced evaluating ruleDigest against
// fileDigest.
func (c *RuleEvalCache) Put(ruleDigest, fileDigest string, findings []ir.Finding) {
	c.backing.put(ruleEvalKey(ruleDigest, fileDigest), findings)
}

// Stats returns (hits, misses) since the last Reset.
func (c *RuleEvalCache) Stats() (hits, misses uint64) { return c.backing.stats() }

// Reset clears all entries and counters (spec §4.4 "Reset is explicit").
func (c *RuleEvalCache) Reset() { c.backing.reset() }

// Len returns the number of cached entries.
func (c *RuleEvalCache) Len() int { return c.backing.len() }
