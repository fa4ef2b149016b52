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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sastforge/engine/ir"
)

// dockerfileInstruction matches the leading keyword of a Dockerfile
// line (FROM, RUN, COPY, ...); Dockerfile has no tree-sitter grammar in
// this pack, so it is scanned line by line instead.
func dockerfileInstruction(line string) (string, string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", ""
	}
	fields := strings.SplitN(trimmed, " ", 2)
	if len(fields) == 0 {
		return "", ""
	}
	kw := strings.ToUpper(fields[0])
	rest := ""
	if len(fields) > 1 {
		rest = strings.TrimSpace(fields[1])
	}
	return kw, rest
}

// ParseFallback fills in file.Nodes for file types with no tree-sitter
// grammar. Dockerfiles get one instruction fact per instruction line
// and JSON documents get one fact per flattened key path; every other
// file type reaching this function gets no structural facts.
func ParseFallback(file *ir.FileIR) {
	lines := strings.Split(file.Source, "\n")
	switch file.FileType {
	case "dockerfile":
		for i, line := range lines {
			kw, rest := dockerfileInstruction(line)
			if kw == "" {
				continue
			}
			meta := ir.Meta{File: file.FilePath, Line: i + 1, Column: 1}
			file.Nodes = append(file.Nodes, ir.NewIRNode("instruction", "instruction."+kw, rest, meta))
		}
	case "json":
		var doc interface{}
		if err := json.Unmarshal([]byte(file.Source), &doc); err != nil {
			file.MarkParseError()
			return
		}
		flattenJSON(file, "$", doc)
	default:
		// generic: no structural facts beyond the raw source; the text
		// and line matchers still operate directly on file.Source.
	}
}

// flattenJSON records one IRNode per JSON key path, mirroring the
// dotted-path convention extractFacts uses for source languages.
// encoding/json discards source positions, so every node's line is 1;
// text/line matchers on JSON files fall back to file.Source directly.
func flattenJSON(file *ir.FileIR, path string, v interface{}) {
	meta := ir.Meta{File: file.FilePath, Line: 1, Column: 1}
	switch val := v.(type) {
	case map[string]interface{}:
		for k, child := range val {
			flattenJSON(file, path+"."+k, child)
		}
	case []interface{}:
		for i, child := range val {
			flattenJSON(file, fmt.Sprintf("%s[%d]", path, i), child)
		}
	default:
		file.Nodes = append(file.Nodes, ir.NewIRNode("value", "key"+strings.TrimPrefix(path, "$"), val, meta))
	}
}
