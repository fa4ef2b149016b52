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

package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sastforge/engine/ir"
)

func TestSupports(t *testing.T) {
	assert.True(t, Supports("go"))
	assert.True(t, Supports("python"))
	assert.False(t, Supports("dockerfile"))
	assert.False(t, Supports("ruby"))
}

func TestParseGoExtractsCallAndFunctionFacts(t *testing.T) {
	src := `package main

func greet(name string) string {
	return fmt.Sprintf("hello %s", name)
}

func main() {
	greet("world")
}
`
	file := ir.NewFileIR("main.go", "go", src)
	require.NoError(t, Parse(file))
	require.NotNil(t, file.Ast)
	assert.False(t, file.HasParseError())

	var sawCall, sawFunc bool
	for _, n := range file.Nodes {
		switch n.Kind {
		case "call":
			sawCall = true
		case "function":
			sawFunc = true
		}
	}
	assert.True(t, sawCall)
	assert.True(t, sawFunc)
}

func TestParseSyntaxErrorMarksSentinel(t *testing.T) {
	file := ir.NewFileIR("broken.go", "go", "func ( { this is not valid go at all +++ ]")
	require.NoError(t, Parse(file))
	assert.True(t, file.HasParseError())
}

func TestParseFallbackJSONFlattensKeys(t *testing.T) {
	file := ir.NewFileIR("config.json", "json", `{"db": {"host": "localhost", "ports": [5432, 5433]}}`)
	ParseFallback(file)
	assert.False(t, file.HasParseError())
	var sawHost bool
	for _, n := range file.Nodes {
		if n.Path == "key.db.host" {
			sawHost = true
			assert.Equal(t, "localhost", n.Value)
		}
	}
	assert.True(t, sawHost)
}

func TestParseFallbackDockerfileExtractsInstructions(t *testing.T) {
	file := ir.NewFileIR("Dockerfile", "dockerfile", "FROM alpine:3.19\nRUN apk add --no-cache curl\n# comment\nCMD [\"/bin/sh\"]\n")
	ParseFallback(file)
	require.Len(t, file.Nodes, 3)
	assert.Equal(t, "instruction.FROM", file.Nodes[0].Path)
	assert.Equal(t, "instruction.RUN", file.Nodes[1].Path)
	assert.Equal(t, "instruction.CMD", file.Nodes[2].Path)
}

func TestParseFallbackInvalidJSONMarksSentinel(t *testing.T) {
	file := ir.NewFileIR("broken.json", "json", "{not valid json")
	ParseFallback(file)
	assert.True(t, file.HasParseError())
}
