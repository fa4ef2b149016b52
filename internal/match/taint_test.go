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

	"github.com/sastforge/engine/internal/parse"
	"github.com/sastforge/engine/internal/rx"
	"github.com/sastforge/engine/ir"
)

func newTaintRuleMatcher(t *testing.T) *TaintRuleMatcher {
	t.Helper()
	source, err := rx.Compile(`source\(`)
	require.NoError(t, err)
	sanitizer, err := rx.Compile(`sanitize\(`)
	require.NoError(t, err)
	sink, err := rx.Compile(`sink\((?P<arg>\w+)\)`)
	require.NoError(t, err)
	return &TaintRuleMatcher{
		Sources:    []ir.TaintPattern{{Allow: source}},
		Sanitizers: []ir.TaintPattern{{Allow: sanitizer}},
		Sinks:      []ir.TaintPattern{{Allow: sink, AllowFocusGroup: "arg"}},
	}
}

func TestTaintRuleMatcherReportsUnsanitizedFlow(t *testing.T) {
	file := ir.NewFileIR("app.py", "python", "user = source()\nsink(user)\n")
	require.NoError(t, parse.Parse(file))

	results, err := newTaintRuleMatcher(t).Run(file)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Line)
}

func TestTaintRuleMatcherSilentAfterSanitizer(t *testing.T) {
	file := ir.NewFileIR("app.py", "python", "user = sanitize(source())\nsink(user)\n")
	require.NoError(t, parse.Parse(file))

	results, err := newTaintRuleMatcher(t).Run(file)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTaintRuleMatcherSkipsWithoutSourcePresent(t *testing.T) {
	file := ir.NewFileIR("app.py", "python", "sink(user)\n")
	require.NoError(t, parse.Parse(file))

	results, err := newTaintRuleMatcher(t).Run(file)
	require.NoError(t, err)
	assert.Empty(t, results)
}
