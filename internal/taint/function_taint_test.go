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

package taint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sastforge/engine/internal/parse"
	"github.com/sastforge/engine/ir"
)

func pythonFile(t *testing.T, src string) *ir.FileIR {
	t.Helper()
	file := ir.NewFileIR("app.py", "python", src)
	require.NoError(t, parse.Parse(file))
	return file
}

func TestTaintedVarsSeedsUnsanitizedAssignment(t *testing.T) {
	file := pythonFile(t, "user = source()\nsink(user)\n")
	tainted := TaintedVars(file)
	assert.True(t, tainted["user"])
}

func TestTaintedVarsClearedBySanitizerCall(t *testing.T) {
	file := pythonFile(t, "user = sanitize(source())\nsink(user)\n")
	tainted := TaintedVars(file)
	assert.False(t, tainted["user"])
	assert.True(t, file.IsSanitized("user"))
}

func TestTaintedVarsPropagatesThroughAlias(t *testing.T) {
	file := pythonFile(t, "user = source()\ncopy = user\nsink(copy)\n")
	tainted := TaintedVars(file)
	assert.True(t, tainted["user"])
	assert.True(t, tainted["copy"])
}

func TestTaintedVarsEmptyWithoutDFG(t *testing.T) {
	file := ir.NewFileIR("app.go", "go", "x := 1\n")
	assert.Empty(t, TaintedVars(file))
}

func TestParseCallHandlesNestedCalls(t *testing.T) {
	name, args, ok := ParseCall("foo(bar(baz(1,2)), qux(3,4))")
	require.True(t, ok)
	assert.Equal(t, "foo", name)
	assert.Equal(t, []string{"bar(baz(1,2))", "qux(3,4)"}, args)
}
