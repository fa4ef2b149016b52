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

package rx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileSelectsEngineByConstruct(t *testing.T) {
	testCases := []struct {
		name          string
		pattern       string
		wantBacktrack bool
	}{
		{name: "plain literal uses RE2", pattern: `foo\d+`, wantBacktrack: false},
		{name: "lookahead forces backtracking", pattern: `foo(?=bar)`, wantBacktrack: true},
		{name: "negative lookbehind forces backtracking", pattern: `(?<!bar)foo`, wantBacktrack: true},
		{name: "backreference forces backtracking", pattern: `(foo)\1`, wantBacktrack: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			re, err := Compile(tc.pattern)
			require.NoError(t, err)
			_, isRE2 := re.(reAdapter)
			assert.Equal(t, !tc.wantBacktrack, isRE2)
		})
	}
}

func TestCompileMatchesAcrossEngines(t *testing.T) {
	re, err := Compile(`(?<=\$)\d+`)
	require.NoError(t, err)
	assert.True(t, re.MatchString("$100"))
	assert.False(t, re.MatchString("100"))

	re2, err := Compile(`\d+`)
	require.NoError(t, err)
	assert.True(t, re2.MatchString("abc123"))
	matches := re2.FindAllStringIndex("1 22 333")
	assert.Len(t, matches, 3)
}

func TestCompileInvalidPatternErrors(t *testing.T) {
	_, err := Compile(`(unclosed`)
	assert.Error(t, err)
}
