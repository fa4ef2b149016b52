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
	"encoding/binary"
	"strconv"

	"lukechampine.com/blake3"
)

// Finding is one emitted problem report (spec §3). It is produced,
// filtered, merged and emitted; never mutated after emission.
type Finding struct {
	ID          string   `json:"id"`
	RuleID      string   `json:"rule_id"`
	RuleFile    string   `json:"rule_file,omitempty"`
	Severity    Severity `json:"severity"`
	File        string   `json:"file"`
	Line        int      `json:"line"`
	Column      int      `json:"column"`
	Excerpt     string   `json:"excerpt"`
	Message     string   `json:"message"`
	Remediation string   `json:"remediation,omitempty"`
	Fix         string   `json:"fix,omitempty"`
}

// NewFinding builds a Finding and derives its stable id.
func NewFinding(ruleID, canonicalFile string, line, column int, excerpt, message, remediation, fix string) Finding {
	f := Finding{
		RuleID:      ruleID,
		File:        canonicalFile,
		Line:        line,
		Column:      column,
		Excerpt:     excerpt,
		Message:     message,
		Remediation: remediation,
		Fix:         fix,
	}
	f.ID = FindingID(ruleID, canonicalFile, line, column, excerpt, message, remediation, fix)
	return f
}

// FindingID hashes the tuple (rule_id, canonical_file, line, column,
// excerpt, message, remediation, fix) per spec §3.
func FindingID(ruleID, canonicalFile string, line, column int, excerpt, message, remediation, fix string) string {
	h := blake3.New(32, nil)
	parts := []string{ruleID, canonicalFile, strconv.Itoa(line), strconv.Itoa(column), excerpt, message, remediation, fix}
	for _, p := range parts {
		var l [8]byte
		binary.LittleEndian.PutUint64(l[:], uint64(len(p)))
		_, _ = h.Write(l[:])
		_, _ = h.Write([]byte(p))
	}
	sum := h.Sum(nil)
	return hexEncode(sum)
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}

// BaselineEntry is one recorded, pre-acknowledged finding (spec §4.6).
// Field order in the on-disk form matches §6.1: id, rule_id, rule_file,
// severity, file, line, column, excerpt.
type BaselineEntry struct {
	ID          string   `json:"id"`
	RuleID      string   `json:"rule_id"`
	RuleFile    string   `json:"rule_file,omitempty"`
	Severity    Severity `json:"severity"`
	File        string   `json:"file"`
	Line        int      `json:"line"`
	Column      int      `json:"column"`
	ExcerptHash string   `json:"excerpt"`
}

// ExcerptHash hashes a finding excerpt for baseline comparisons so the
// on-disk baseline never stores raw source text verbatim twice.
func ExcerptHash(excerpt string) string {
	h := blake3.New(16, nil)
	_, _ = h.Write([]byte(excerpt))
	return hexEncode(h.Sum(nil))
}

// BaselineEntryFromFinding builds the BaselineEntry recorded for f.
func BaselineEntryFromFinding(f Finding) BaselineEntry {
	return BaselineEntry{
		ID:          f.ID,
		RuleID:      f.RuleID,
		RuleFile:    f.RuleFile,
		Severity:    f.Severity,
		File:        f.File,
		Line:        f.Line,
		Column:      f.Column,
		ExcerptHash: ExcerptHash(f.Excerpt),
	}
}

// Matches reports whether e matches finding f by (canonical file,
// rule_id, line, excerpt-hash), per §4.6.
func (e BaselineEntry) Matches(f Finding) bool {
	return e.File == f.File && e.RuleID == f.RuleID && e.Line == f.Line && e.ExcerptHash == ExcerptHash(f.Excerpt)
}
