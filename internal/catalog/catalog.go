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

// Package catalog is the shared, runtime-extensible sanitizer catalog
// of spec §4.2: a registry of function/macro names classified as
// Source, Sink or Sanitizer, consulted by internal/parse's Python DFG
// builder (its only caller) so Symbol.Sanitized and symbol_types get set
// consistently regardless of which rule, if any, ends up querying
// them. It mirrors internal/taint's sync.RWMutex-guarded package-level
// map idiom (itself a translation of the Rust reference's
// OnceLock<RwLock<...>> singletons), since the catalog is exactly the
// same kind of process-wide, rebuildable-per-scan fact table.
package catalog

import (
	"strings"
	"sync"

	"github.com/sastforge/engine/ir"
)

var (
	mu    sync.RWMutex
	table = map[string]ir.SymbolType{
		"source":   ir.TypeSource,
		"sink":     ir.TypeSink,
		"sanitize": ir.TypeSanitizer,
		"escape":   ir.TypeSanitizer,
		"quote":    ir.TypeSanitizer,
	}
)

// Register adds or overrides a catalog entry at runtime, so a plugin
// or a project-specific configuration can extend the default table
// (spec §4.2 "runtime-extensible registry").
func Register(name string, kind ir.SymbolType) {
	mu.Lock()
	defer mu.Unlock()
	table[strings.ToLower(name)] = kind
}

// Classify returns the catalog's classification of name, if any.
func Classify(name string) (ir.SymbolType, bool) {
	mu.RLock()
	defer mu.RUnlock()
	t, ok := table[strings.ToLower(name)]
	return t, ok
}

// Reset restores the catalog to its built-in default table; used
// between scans and in tests so Register calls don't leak across
// runs.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	table = map[string]ir.SymbolType{
		"source":   ir.TypeSource,
		"sink":     ir.TypeSink,
		"sanitize": ir.TypeSanitizer,
		"escape":   ir.TypeSanitizer,
		"quote":    ir.TypeSanitizer,
	}
}
