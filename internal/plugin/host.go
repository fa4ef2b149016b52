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

package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
)

// initParams is the plugin.init request body (spec §4.7 step 2).
type initParams struct {
	APIVersion          string            `json:"api_version"`
	SessionID           string            `json:"session_id"`
	WorkspaceRoot       string            `json:"workspace_root"`
	RulesRoot           string            `json:"rules_root"`
	CapabilitiesWant    []string          `json:"capabilities_requested"`
	Options             map[string]any    `json:"options,omitempty"`
	Limits              map[string]int    `json:"limits,omitempty"`
	Env                 map[string]string `json:"env,omitempty"`
	Cwd                 string            `json:"cwd"`
}

type initResult struct {
	OK             bool     `json:"ok"`
	Capabilities   []string `json:"capabilities"`
	PluginVersion  string   `json:"plugin_version"`
}

// Host is one loaded plugin: its manifest plus either a single Process
// (concurrency="single") or a round-robin worker pool
// (concurrency="multi", one worker per CPU, spec §4.7 step 6).
type Host struct {
	Manifest     *Manifest
	Capabilities []string
	SessionID    string

	workers []*Process
	mu      sync.Mutex // guards next
	next    int
}

// Load reads the manifest at manifestPath, spawns its workers, runs plugin.init and
// plugin.ping, and fails loading per spec §4.7 steps 2-3 on a missing
// capability, ok=false, or an unanswered ping.
func Load(ctx context.Context, manifestPath, workspaceRoot, rulesRoot string, readsFS bool, log LogFunc) (*Host, error) {
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	workerCount := 1
	if Concurrency(m.Concurrency) == ConcurrencyMulti {
		workerCount = runtime.NumCPU()
		if workerCount < 1 {
			workerCount = 1
		}
	}

	h := &Host{Manifest: m, SessionID: NewSessionID()}
	for i := 0; i < workerCount; i++ {
		proc, err := Spawn(ctx, m, log)
		if err != nil {
			h.killAll(ctx)
			return nil, fmt.Errorf("plugin %s: spawn worker %d: %w", m.Name, i, err)
		}
		if err := h.initAndPing(ctx, proc, workspaceRoot, rulesRoot, readsFS); err != nil {
			proc.Shutdown(ctx)
			h.killAll(ctx)
			return nil, fmt.Errorf("plugin %s: %w", m.Name, err)
		}
		h.workers = append(h.workers, proc)
	}
	return h, nil
}

func (h *Host) initAndPing(ctx context.Context, proc *Process, workspaceRoot, rulesRoot string, readsFS bool) error {
	root := workspaceRoot
	rRoot := rulesRoot
	if !readsFS {
		root, rRoot = "/", "/"
	}
	params := initParams{
		APIVersion:       h.Manifest.APIVersion,
		SessionID:        h.SessionID,
		WorkspaceRoot:    root,
		RulesRoot:        rRoot,
		CapabilitiesWant: h.Manifest.Capabilities,
		Limits: map[string]int{
			"timeout_ms": h.Manifest.TimeoutMS,
			"mem_mb":     h.Manifest.MemMB,
		},
	}
	raw, err := proc.Call(ctx, "plugin.init", params)
	if err != nil {
		return fmt.Errorf("plugin.init: %w", err)
	}
	var res initResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("plugin.init: decode response: %w", err)
	}
	if !res.OK {
		return fmt.Errorf("plugin.init: plugin reported ok=false")
	}
	for _, want := range h.Manifest.Capabilities {
		found := false
		for _, got := range res.Capabilities {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("plugin.init: missing requested capability %q", want)
		}
	}
	h.Capabilities = res.Capabilities

	if _, err := proc.Call(ctx, "plugin.ping", nil); err != nil {
		return fmt.Errorf("plugin.ping: %w", err)
	}
	return nil
}

func (h *Host) killAll(ctx context.Context) {
	for _, w := range h.workers {
		w.Shutdown(ctx)
	}
	h.workers = nil
}

// pick round-robins across workers (spec §4.7 step 6); each worker
// remains individually serialized by its own Process.mu.
func (h *Host) pick() *Process {
	h.mu.Lock()
	defer h.mu.Unlock()
	w := h.workers[h.next%len(h.workers)]
	h.next++
	return w
}

// Call dispatches method to the next worker in round-robin order. A
// poisoned worker returns ErrWorkerUnavailable rather than panicking
// the caller (spec §4.7 step 6).
func (h *Host) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if len(h.workers) == 0 {
		return nil, fmt.Errorf("plugin %s: no workers available", h.Manifest.Name)
	}
	return h.pick().Call(ctx, method, params)
}

// Shutdown sends plugin.shutdown to and kills every worker.
func (h *Host) Shutdown(ctx context.Context) { h.killAll(ctx) }
