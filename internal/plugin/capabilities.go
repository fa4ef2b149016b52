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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/sastforge/engine/ir"
)

// DiscoverResult is the repo.discover response shape (spec §4.7
// "discover").
type DiscoverResult struct {
	Files    []string          `json:"files"`
	External map[string]string `json:"external"`
	Metrics  map[string]int    `json:"metrics"`
}

// Discover invokes repo.discover and merges the returned file list
// into dedup against the loader-discovered set, per spec §4.7's
// "host merges discovered files..., canonicalizing paths and
// deduplicating against loader-discovered files".
func (h *Host) Discover(ctx context.Context, workspaceRoot string, already map[string]bool) (*DiscoverResult, error) {
	raw, err := h.Call(ctx, "repo.discover", map[string]string{"workspace_root": workspaceRoot})
	if err != nil {
		return nil, fmt.Errorf("repo.discover: %w", err)
	}
	var res DiscoverResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("repo.discover: decode: %w", err)
	}
	var merged []string
	for _, f := range res.Files {
		canon := filepath.Clean(f)
		if already[canon] {
			continue
		}
		already[canon] = true
		merged = append(merged, canon)
	}
	res.Files = merged
	return &res, nil
}

// TransformResult is the file.transform response shape.
type TransformResult struct {
	ContentB64 string `json:"content_b64"`
	Language   string `json:"language"`
}

// Transform invokes file.transform for one file.
func (h *Host) Transform(ctx context.Context, path, content string) (*TransformResult, error) {
	raw, err := h.Call(ctx, "file.transform", map[string]string{"path": path, "content": content})
	if err != nil {
		return nil, fmt.Errorf("file.transform: %w", err)
	}
	var res TransformResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("file.transform: decode: %w", err)
	}
	return &res, nil
}

// VirtualPath builds the `/virtual/<basename>-<content-hash>` path
// spec §4.7 "analyze" names for plugins with reads_fs=false: stable
// per distinct content, so two same-named files never collide while
// the plugin still cannot observe real filesystem paths.
func VirtualPath(path, content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("/virtual/%s-%s", filepath.Base(path), hex.EncodeToString(sum[:8]))
}

// Analyze invokes file.analyze and decodes the response (a bare
// findings array or a {findings: [...]} object) into Findings.
// When readsFS is false, path must already be the VirtualPath, per the
// §4.7 "analyze" capability contract.
func (h *Host) Analyze(ctx context.Context, path, content, language string) ([]ir.Finding, error) {
	raw, err := h.Call(ctx, "file.analyze", map[string]string{"path": path, "content": content, "language": language})
	if err != nil {
		return nil, fmt.Errorf("file.analyze: %w", err)
	}
	var findings []ir.Finding
	if err := json.Unmarshal(raw, &findings); err != nil {
		var wrapped struct {
			Findings []ir.Finding `json:"findings"`
		}
		if werr := json.Unmarshal(raw, &wrapped); werr != nil {
			return nil, fmt.Errorf("file.analyze: decode: %w", err)
		}
		findings = wrapped.Findings
	}
	return findings, nil
}

// Report invokes scan.report once with the final findings and
// metrics (spec §4.7 "report"), best-effort: a report sink failing
// does not invalidate the scan it describes.
func (h *Host) Report(ctx context.Context, findings []ir.Finding, metrics map[string]int) error {
	_, err := h.Call(ctx, "scan.report", map[string]interface{}{"findings": findings, "metrics": metrics})
	return err
}
