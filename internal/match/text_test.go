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

package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sastforge/engine/internal/rx"
	"github.com/sastforge/engine/ir"
)

func TestTextRegexMatcherReportsLineAndColumn(t *testing.T) {
	re, err := rx.Compile(`TODO`)
	require.NoError(t, err)
	m := &TextRegexMatcher{Pattern: re}

	file := ir.NewFileIR("a.go", "go", "line one\nsecond TODO here\n")
	results, err := m.Run(file)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Line)
	assert.Equal(t, 8, results[0].Column)
	assert.Equal(t, "TODO", results[0].Excerpt)
}

func TestTextRegexMultiMatcherAppliesInsideAndDeny(t *testing.T) {
	allow, err := rx.Compile(`password`)
	require.NoError(t, err)
	deny, err := rx.Compile(`password_hash`)
	require.NoError(t, err)
	inside, err := rx.Compile(`(?s)func login.*?\n\}`)
	require.NoError(t, err)

	m := &TextRegexMultiMatcher{Allow: []rx.Regex{allow}, Deny: deny, Inside: []rx.Regex{inside}}

	src := "func login() {\n  password := \"x\"\n}\nfunc other() {\n  password := \"y\"\n}\n"
	file := ir.NewFileIR("a.go", "go", src)
	results, err := m.Run(file)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Line)
}
