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

func TestCompiledRuleAppliesToLanguage(t *testing.T) {
	testCases := []struct {
		name      string
		languages []string
		fileType  string
		want      bool
	}{
		{name: "empty languages applies everywhere", languages: nil, fileType: "python", want: true},
		{name: "generic marker applies everywhere", languages: []string{"generic"}, fileType: "rust", want: true},
		{name: "exact case-insensitive match", languages: []string{"Python"}, fileType: "python", want: true},
		{name: "no match", languages: []string{"go"}, fileType: "python", want: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := &CompiledRule{Languages: tc.languages}
			assert.Equal(t, tc.want, r.AppliesToLanguage(tc.fileType))
		})
	}
}

func TestRuleSetByLanguageFilters(t *testing.T) {
	rs := &RuleSet{Rules: []*CompiledRule{
		{ID: "py-only", Languages: []string{"python"}},
		{ID: "go-only", Languages: []string{"go"}},
		{ID: "any", Languages: nil},
	}}
	got := rs.ByLanguage("python")
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"py-only", "any"}, ids)
}
