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

// Command sastcheck is a minimal driver over the engine package: load
// a rule set, parse every file under a project path, run the
// scheduler, and print findings as JSON lines.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/sastforge/engine"
	"github.com/sastforge/engine/internal/plugin"
	"github.com/sastforge/engine/ir"
)

func main() {
	rulesPath := flag.String("rules", "", "path to a rule file or directory")
	projectPath := flag.String("path", ".", "project path to scan")
	baselinePath := flag.String("baseline", "", "optional baseline file to filter against")
	writeBaselineTo := flag.String("write-baseline", "", "write the resulting findings as a baseline instead of printing them")
	fileTimeout := flag.Duration("file-timeout", 30*time.Second, "per-file analysis timeout")
	ruleTimeout := flag.Duration("rule-timeout", 5*time.Second, "per-rule analysis timeout")
	poolSize := flag.Int("pool-size", 0, "worker pool size (0 = GOMAXPROCS)")
	excludeGlob := flag.String("exclude", "", "doublestar glob of paths to skip, relative to -path (e.g. **/vendor/**)")
	pluginManifest := flag.String("plugin", "", "path to a plugin.toml manifest to load (spec §4.7)")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if *rulesPath == "" {
		logger.Fatal().Msg("-rules is required")
	}

	rs, err := engine.LoadRules(*rulesPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load rules")
	}
	logger.Info().Int("rule_count", len(rs.Rules)).Msg("rules loaded")

	var baseline []ir.BaselineEntry
	if *baselinePath != "" {
		baseline, err = engine.LoadBaseline(*baselinePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("load baseline")
		}
	}

	var pluginHost *plugin.Host
	if *pluginManifest != "" {
		absProject, err := filepath.Abs(*projectPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("resolve project path")
		}
		absRules, err := filepath.Abs(*rulesPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("resolve rules path")
		}
		pluginHost, err = engine.LoadPluginHost(context.Background(), *pluginManifest, absProject, absRules, true, func(level, message string) {
			logger.Info().Str("plugin", *pluginManifest).Str("level", level).Msg(message)
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("load plugin")
		}
		defer pluginHost.Shutdown(context.Background())

		if pluginHost.Manifest.HasCapability(plugin.CapRules) {
			if err := engine.LoadPluginRules(filepath.Dir(*pluginManifest), rs); err != nil {
				logger.Fatal().Err(err).Msg("load plugin rules")
			}
		}
	}

	var files []*ir.FileIR
	err = filepath.WalkDir(*projectPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // error class 1: walker skips the entry, continues
		}
		if d.IsDir() || strings.Contains(path, ".git"+string(os.PathSeparator)) {
			return nil
		}
		if *excludeGlob != "" {
			if rel, relErr := filepath.Rel(*projectPath, path); relErr == nil {
				if matched, _ := doublestar.Match(*excludeGlob, filepath.ToSlash(rel)); matched {
					return nil
				}
			}
		}
		file, parseErr := engine.ParseFile(path, "")
		if parseErr != nil {
			logger.Debug().Err(parseErr).Str("path", path).Msg("skip file")
			return nil
		}
		engine.BuildCFG(file)
		engine.BuildDFG(file)
		files = append(files, file)
		return nil
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("walk project path")
	}

	metrics := &engine.Metrics{}
	findings, err := engine.AnalyzeFilesWithConfig(context.Background(), files, rs, engine.EngineConfig{
		PoolSize:    *poolSize,
		FileTimeout: *fileTimeout,
		RuleTimeout: *ruleTimeout,
		Baseline:    baseline,
	}, nil, metrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("analyze")
	}

	if pluginHost != nil && pluginHost.Manifest.HasCapability(plugin.CapAnalyze) {
		var pluginFindings []ir.Finding
		for _, f := range files {
			path := f.FilePath
			if !pluginHost.Manifest.ReadsFS {
				path = plugin.VirtualPath(f.FilePath, f.Source)
			}
			pf, err := pluginHost.Analyze(context.Background(), path, f.Source, f.FileType)
			if err != nil {
				logger.Warn().Err(err).Str("path", f.FilePath).Msg("plugin analyze failed")
				continue
			}
			pluginFindings = append(pluginFindings, pf...)
		}
		findings = engine.MergePluginFindings(files, findings, pluginFindings, engine.EngineConfig{Baseline: baseline})
	}

	if pluginHost != nil && pluginHost.Manifest.HasCapability(plugin.CapReport) {
		if err := pluginHost.Report(context.Background(), findings, map[string]int{
			"parsed_files":  metrics.ParsedFiles,
			"failed_files":  metrics.FailedFiles,
			"rule_timeouts": metrics.RuleTimeouts,
		}); err != nil {
			logger.Warn().Err(err).Msg("plugin report failed")
		}
	}

	logger.Info().
		Int("findings", len(findings)).
		Int("parsed_files", metrics.ParsedFiles).
		Int("failed_files", metrics.FailedFiles).
		Int("rule_timeouts", metrics.RuleTimeouts).
		Msg("scan complete")
	fmt.Fprint(os.Stderr, engine.SummaryReport(findings))

	if *writeBaselineTo != "" {
		if err := engine.WriteBaseline(*writeBaselineTo, findings); err != nil {
			logger.Fatal().Err(err).Msg("write baseline")
		}
		return
	}

	enc := json.NewEncoder(os.Stdout)
	for _, f := range findings {
		if err := enc.Encode(f); err != nil {
			log.Fatal(err)
		}
	}
	if len(findings) > 0 {
		fmt.Fprintln(os.Stderr)
	}
}
