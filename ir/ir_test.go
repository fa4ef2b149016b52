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

package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStableIDIsDeterministicAndPositionSensitive(t *testing.T) {
	id1 := StableID("a.go", 3, 1, "call.foo")
	id2 := StableID("a.go", 3, 1, "call.foo")
	assert.Equal(t, id1, id2)

	idShifted := StableID("a.go", 4, 1, "call.foo")
	assert.NotEqual(t, id1, idShifted)

	idOtherFile := StableID("b.go", 3, 1, "call.foo")
	assert.NotEqual(t, id1, idOtherFile)
}

func TestResolveAliasFollowsChainAndToleratesCycles(t *testing.T) {
	b := "b"
	a := "a"
	symbols := map[string]*Symbol{
		"x": {Name: "x", AliasOf: &b},
		"b": {Name: "b", AliasOf: &a},
		"a": {Name: "a"},
	}
	assert.Equal(t, "a", ResolveAlias(symbols, "x"))

	// y -> z -> y is a cycle; ResolveAlias must terminate.
	y, z := "z", "y"
	symbols["y"] = &Symbol{Name: "y", AliasOf: &y}
	symbols["z"] = &Symbol{Name: "z", AliasOf: &z}
	assert.NotPanics(t, func() { ResolveAlias(symbols, "y") })
}

func TestFileIRSanitizationTracksAliases(t *testing.T) {
	file := NewFileIR("a.py", "python", "x = input()")
	file.Symbol("raw").Sanitized = false
	alias := "raw"
	file.Symbol("clean").AliasOf = &alias
	file.Symbol("raw").Sanitized = true

	assert.True(t, file.IsSanitized("clean"))
	assert.False(t, file.IsSanitized("unknown"))
}

func TestFileIRParseErrorSentinel(t *testing.T) {
	file := NewFileIR("broken.py", "python", "")
	assert.False(t, file.HasParseError())
	file.MarkParseError()
	assert.True(t, file.HasParseError())
	assert.Equal(t, TypeSpecial, file.SymbolTypes[ParseErrorSentinel])
}

func TestDFGAddNodeAssignsDenseIDs(t *testing.T) {
	g := &DFG{}
	id0 := g.AddNode("x", DFDef)
	id1 := g.AddNode("y", DFUse)
	assert.Equal(t, 0, id0)
	assert.Equal(t, 1, id1)
	g.MarkSanitized(id0)
	assert.True(t, g.Nodes[0].Sanitized)
}
