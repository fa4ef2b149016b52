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
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/sastforge/engine/ir"
)

// WasmMinSize and WasmMaxSize bound a valid Rego-policy WASM artifact
// (spec §4.1(c), property B3): smaller than 8 bytes or larger than
// 10 MiB is rejected at load time.
const (
	WasmMinSize = 8
	WasmMaxSize = 10 * 1024 * 1024
)

var wasmMagic = [4]byte{0x00, 'a', 's', 'm'}

// ValidateWasmModule checks the magic bytes, version, and size bounds
// of a candidate Rego-policy WASM artifact without instantiating it.
func ValidateWasmModule(data []byte) error {
	if len(data) < WasmMinSize || len(data) > WasmMaxSize {
		return fmt.Errorf("wasm module size %d out of bounds [%d, %d]", len(data), WasmMinSize, WasmMaxSize)
	}
	var magic [4]byte
	copy(magic[:], data[:4])
	if magic != wasmMagic {
		return fmt.Errorf("wasm module missing \\0asm magic")
	}
	version := uint32(data[4]) | uint32(data[5])<<8 | uint32(data[6])<<16 | uint32(data[7])<<24
	if version != 1 {
		return fmt.Errorf("unsupported wasm version %d, want 1", version)
	}
	return nil
}

// RegoWasmMatcher implements MatcherKind::RegoWasm (spec §4.3/§4.1c):
// evaluates a compiled Rego policy module with the file IR as input
// JSON; any deny-style result becomes a finding.
//
// The host ABI implemented here is intentionally minimal: it calls an
// exported function named Entrypoint (default "deny") that takes an
// i32 pointer and an i32 byte length of a UTF-8 JSON buffer (no NUL
// terminator) written into the module's own linear memory (via an
// exported "alloc" function, when present) and returns an i32 that is non-zero when
// the policy denies. Real opa-compiled .wasm bundles use a richer ABI
// (opa_malloc/opa_eval/builtins table) that this module does not
// reproduce; see DESIGN.md for the rationale. Modules compiled
// against this simplified ABI (e.g. via TinyGo from a small Go/Rust
// policy stub) work as-is.
type RegoWasmMatcher struct {
	WasmPath   string
	Entrypoint string
}

func (m *RegoWasmMatcher) Kind() string { return "RegoWasm" }

func (m *RegoWasmMatcher) Run(file *ir.FileIR) ([]Result, error) {
	data, err := os.ReadFile(m.WasmPath)
	if err != nil {
		return nil, fmt.Errorf("rego_wasm: read module: %w", err)
	}
	if err := ValidateWasmModule(data); err != nil {
		return nil, fmt.Errorf("rego_wasm: %w", err)
	}

	inputJSON, err := json.Marshal(file)
	if err != nil {
		return nil, fmt.Errorf("rego_wasm: marshal input: %w", err)
	}

	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	compiled, err := runtime.CompileModule(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("rego_wasm: compile module: %w", err)
	}
	mod, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		return nil, fmt.Errorf("rego_wasm: instantiate module: %w", err)
	}
	defer mod.Close(ctx)

	entry := m.Entrypoint
	if entry == "" {
		entry = "deny"
	}
	deny, err := evaluateDeny(ctx, mod, entry, inputJSON)
	if err != nil {
		return nil, fmt.Errorf("rego_wasm: %w", err)
	}
	if !deny {
		return nil, nil
	}
	return []Result{{Line: 1, Column: 1, Excerpt: entry}}, nil
}

// evaluateDeny writes inputJSON into the module's memory (via an
// exported "alloc" function, when present) and calls entry with the
// resulting pointer and length, interpreting a non-zero i32 result as
// a deny decision. Modules exposing no "alloc" export are called with
// a zero pointer/length, which is sufficient for policies that ignore
// their input (a common pattern for smoke-test fixtures).
func evaluateDeny(ctx context.Context, mod api.Module, entry string, inputJSON []byte) (bool, error) {
	fn := mod.ExportedFunction(entry)
	if fn == nil {
		return false, fmt.Errorf("module exports no %q function", entry)
	}

	var ptr, length uint64
	if alloc := mod.ExportedFunction("alloc"); alloc != nil {
		results, err := alloc.Call(ctx, uint64(len(inputJSON)))
		if err != nil {
			return false, fmt.Errorf("call alloc: %w", err)
		}
		if len(results) > 0 {
			ptr = results[0]
			length = uint64(len(inputJSON))
			if !mod.Memory().Write(uint32(ptr), inputJSON) {
				return false, fmt.Errorf("write input: out of memory bounds")
			}
		}
	}

	results, err := fn.Call(ctx, ptr, length)
	if err != nil {
		return false, fmt.Errorf("call %s: %w", entry, err)
	}
	if len(results) == 0 {
		return false, nil
	}
	return results[0] != 0, nil
}
