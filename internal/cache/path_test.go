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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathCacheCanonicalizeCachesResult(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(f, []byte("package a"), 0o644))

	c := NewPathCache(DefaultCapacity)
	first := c.Canonicalize(f)
	second := c.Canonicalize(f)
	assert.Equal(t, first, second)

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestPathCacheEvictsAtCapacity(t *testing.T) {
	c := NewPathCache(2)
	c.Canonicalize("/tmp/does-not-exist-1")
	c.Canonicalize("/tmp/does-not-exist-2")
	c.Canonicalize("/tmp/does-not-exist-3")
	assert.Equal(t, 2, c.Len())
}

func TestPatternCacheMatchesGlob(t *testing.T) {
	c := NewPatternCache(DefaultCapacity)
	assert.True(t, c.Match("**/*.go", "internal/cache/path.go"))
	assert.False(t, c.Match("**/*.py", "internal/cache/path.go"))
}

func TestPatternCacheInvalidPatternDoesNotMatch(t *testing.T) {
	c := NewPatternCache(DefaultCapacity)
	assert.False(t, c.Match("[", "anything"))
}
