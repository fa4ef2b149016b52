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

// Package cache implements the process-wide LRU caches described in
// spec §4.8: canonical-path, path-pattern-regex, and rule-evaluation,
// plus the persistent AnalysisCache of §4.4/§6.1. It is grounded on
// _examples/original_source/crates/engine/src/path.rs and hash.rs,
// translated from the Rust OnceLock<RwLock<...>> + VecDeque eviction
// pattern into Go sync primitives.
package cache

import (
	"container/list"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// DefaultCapacity is the production default for both the canonical
// path cache and the path-pattern regex cache (spec §4.8, §9 "Open
// questions": exact capacity is a re-implementation choice that MUST
// be exposed for tests).
const DefaultCapacity = 1024

// lruEntry is the shared node shape for both string->string and
// string->glob.Glob caches below.
type lruEntry struct {
	key   string
	value interface{}
}

// lru is a small fixed-capacity, mutex-guarded LRU used by both
// caches in this file. Go has no lock "poisoning" (a panicking holder
// does not taint the mutex for later lockers), so the "recover a
// poisoned lock" behavior from path.rs is represented here by simply
// never holding the lock across a panic: every critical section is a
// few map/list operations with no opportunity to fail midway.
type lru struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
	hits     uint64
	misses   uint64
}

func newLRU(capacity int) *lru {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &lru{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *lru) get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		c.hits++
		return el.Value.(*lruEntry).value, true
	}
	c.misses++
	return nil, false
}

func (c *lru) put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).value = value
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&lruEntry{key: key, value: value})
	c.items[key] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
		}
	}
}

func (c *lru) stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *lru) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.hits, c.misses = 0, 0
}

func (c *lru) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// PathCache canonicalizes filesystem paths and caches the result
// (spec §4.8, invariant I4, property P2).
type PathCache struct {
	backing *lru
}

// NewPathCache builds a canonical-path cache with the given capacity
// (0 means DefaultCapacity).
func NewPathCache(capacity int) *PathCache {
	return &PathCache{backing: newLRU(capacity)}
}

// Canonicalize returns the filesystem-canonical form of p, caching the
// result. On platforms or inputs where filepath.Abs/EvalSymlinks
// fails (e.g. a non-existent path, or Windows path quirks), it falls
// back to replacing backslashes with forward slashes, as the original
// does for its Windows fallback.
func (c *PathCache) Canonicalize(p string) string {
	if v, ok := c.backing.get(p); ok {
		return v.(string)
	}
	canon := canonicalize(p)
	c.backing.put(p, canon)
	return canon
}

func canonicalize(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return strings.ReplaceAll(p, `\`, "/")
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return strings.ReplaceAll(abs, `\`, "/")
	}
	return strings.ReplaceAll(resolved, `\`, "/")
}

// Stats returns (hits, misses) since the last Reset.
func (c *PathCache) Stats() (hits, misses uint64) { return c.backing.stats() }

// Reset clears all entries and counters.
func (c *PathCache) Reset() { c.backing.reset() }

// Len returns the current number of cached entries.
func (c *PathCache) Len() int { return c.backing.len() }

// PatternCache compiles glob-like path patterns (spec §4.8, used by a
// CompiledRule's optional path-include/exclude list) and caches the
// compiled form, keyed by pattern text.
type PatternCache struct {
	backing *lru
}

// NewPatternCache builds a path-pattern cache with the given capacity
// (0 means DefaultCapacity).
func NewPatternCache(capacity int) *PatternCache {
	return &PatternCache{backing: newLRU(capacity)}
}

// Compile compiles pattern with gobwas/glob and caches the result.
func (c *PatternCache) Compile(pattern string) (glob.Glob, error) {
	if v, ok := c.backing.get(pattern); ok {
		return v.(glob.Glob), nil
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, err
	}
	c.backing.put(pattern, g)
	return g, nil
}

// Match reports whether path matches pattern, compiling (and caching)
// the pattern's glob form as needed.
func (c *PatternCache) Match(pattern, path string) bool {
	g, err := c.Compile(pattern)
	if err != nil {
		return false
	}
	return g.Match(path)
}

// Stats returns (hits, misses) since the last Reset.
func (c *PatternCache) Stats() (hits, misses uint64) { return c.backing.stats() }

// Reset clears all entries and counters.
func (c *PatternCache) Reset() { c.backing.reset() }
