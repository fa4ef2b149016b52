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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/sastforge/engine/internal/rx"
	"github.com/sastforge/engine/ir"
)

// irNodesToXML normalizes a FileIR's IRNode stream into a small XML
// document so the JsonPathEq/JsonPathRegex matchers can reuse the
// teacher's structural-query backend (platforms/android/manifest.go,
// adapted here from an Android-manifest-specific use to a general
// configuration-language one) instead of hand-rolling a JSON-path
// walker: one <node> element per IRNode, carrying its `kind`, dotted
// `path`, `line` and `column` as attributes and its JSON-encoded value
// as the element text.
func irNodesToXML(file *ir.FileIR) (*xmlquery.Node, error) {
	var b strings.Builder
	b.WriteString("<irnodes>")
	for _, n := range file.Nodes {
		valJSON, err := json.Marshal(n.Value)
		if err != nil {
			valJSON = []byte("null")
		}
		fmt.Fprintf(&b, "<node kind=%q path=%q line=%d column=%d>%s</node>",
			n.Kind, n.Path, n.Meta.Line, n.Meta.Column, xmlEscape(string(valJSON)))
	}
	b.WriteString("</irnodes>")
	return xmlquery.Parse(strings.NewReader(b.String()))
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func selectByPath(doc *xmlquery.Node, path string) ([]*xmlquery.Node, error) {
	query := "//node[@path=" + quoteXPathLiteral(path) + "]"
	if _, err := xpath.Compile(query); err != nil {
		return nil, fmt.Errorf("compile xpath query %q: %w", query, err)
	}
	return xmlquery.Find(doc, query), nil
}

// quoteXPathLiteral quotes s as an XPath 1.0 string literal, falling
// back to concat() when s itself contains both quote characters.
func quoteXPathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2-1)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		quoted = append(quoted, `"`+p+`"`)
	}
	return "concat(" + strings.Join(quoted, ",") + ")"
}

// JSONPathEqMatcher implements MatcherKind::JsonPathEq: walks IRNodes
// whose `path` matches Path, structurally comparing Value as JSON.
type JSONPathEqMatcher struct {
	Path  string
	Value interface{}
}

func (m *JSONPathEqMatcher) Kind() string { return "JsonPathEq" }

func (m *JSONPathEqMatcher) Run(file *ir.FileIR) ([]Result, error) {
	doc, err := irNodesToXML(file)
	if err != nil {
		return nil, fmt.Errorf("jsonpath_eq: normalize IR to XML: %w", err)
	}
	wantJSON, err := json.Marshal(m.Value)
	if err != nil {
		return nil, fmt.Errorf("jsonpath_eq: marshal expected value: %w", err)
	}
	nodes, err := selectByPath(doc, m.Path)
	if err != nil {
		return nil, err
	}
	var results []Result
	for _, node := range nodes {
		if node.InnerText() == string(wantJSON) {
			results = append(results, resultFromXMLNode(node))
		}
	}
	return results, nil
}

// JSONPathRegexMatcher implements MatcherKind::JsonPathRegex: same
// node selection as JsonPathEq, but matches Regex against the
// stringified value instead of structural equality.
type JSONPathRegexMatcher struct {
	Path  string
	Regex rx.Regex
}

func (m *JSONPathRegexMatcher) Kind() string { return "JsonPathRegex" }

func (m *JSONPathRegexMatcher) Run(file *ir.FileIR) ([]Result, error) {
	doc, err := irNodesToXML(file)
	if err != nil {
		return nil, fmt.Errorf("jsonpath_regex: normalize IR to XML: %w", err)
	}
	nodes, err := selectByPath(doc, m.Path)
	if err != nil {
		return nil, err
	}
	var results []Result
	for _, node := range nodes {
		if m.Regex.MatchString(node.InnerText()) {
			results = append(results, resultFromXMLNode(node))
		}
	}
	return results, nil
}

func resultFromXMLNode(node *xmlquery.Node) Result {
	line, column := 1, 1
	for _, a := range node.Attr {
		switch a.Name.Local {
		case "line":
			fmt.Sscanf(a.Value, "%d", &line)
		case "column":
			fmt.Sscanf(a.Value, "%d", &column)
		}
	}
	return Result{Line: line, Column: column, Excerpt: node.InnerText()}
}
