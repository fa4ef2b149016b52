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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// LogFunc receives a forwarded plugin.log notification.
type LogFunc func(level, message string)

// rpcRequest is one JSON-RPC 2.0 request frame (spec §4.7 step 4).
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcResponse is the tolerant response shape spec §4.7 step 5 names:
// {result: value}, {result: {findings: value}}, or an error frame.
// Notifications ({method: "plugin.log", ...}) are unmarshaled into the
// same struct and routed before a caller ever sees them.
type rpcResponse struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Process is one spawned plugin child: a piped process with a
// dedicated reader goroutine forwarding line-delimited JSON-RPC
// responses to waiting callers via a bounded channel, and routing
// plugin.log notifications to a LogFunc.
type Process struct {
	manifest *Manifest
	cmd      *exec.Cmd
	stdin    *bufio.Writer

	mu       sync.Mutex // serializes one request/response pair at a time
	nextID   int64
	pending  map[int64]chan rpcResponse
	pendMu   sync.Mutex
	poisoned atomic.Bool

	log LogFunc
}

// Spawn starts m's entry process with stdin/stdout piped and launches
// the reader goroutine. log receives forwarded plugin.log
// notifications; it may be nil.
func Spawn(ctx context.Context, m *Manifest, log LogFunc) (*Process, error) {
	argv, err := m.Argv()
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("plugin spawn: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("plugin spawn: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("plugin spawn: %s: %w", m.Name, err)
	}

	p := &Process{
		manifest: m,
		cmd:      cmd,
		stdin:    bufio.NewWriter(stdin),
		pending:  map[int64]chan rpcResponse{},
		log:      log,
	}
	go p.readLoop(stdout)
	return p, nil
}

// readLoop owns stdout: it decodes one JSON object per line and either
// routes it to the pending caller with the matching id, or (for a
// plugin.log notification, which carries no id) forwards it to log.
// Channel sends use a buffer of 1 so readLoop never blocks on a slow
// caller (spec §4.7 step 1 "bounded channel").
func (p *Process) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		if resp.ID == nil {
			if resp.Method == "plugin.log" && p.log != nil {
				var params struct {
					Level   string `json:"level"`
					Message string `json:"message"`
				}
				_ = json.Unmarshal(resp.Params, &params)
				p.log(params.Level, params.Message)
			}
			continue
		}
		p.pendMu.Lock()
		ch, ok := p.pending[*resp.ID]
		if ok {
			delete(p.pending, *resp.ID)
		}
		p.pendMu.Unlock()
		if ok {
			ch <- resp
		}
	}
	// EOF or read error: fail every still-pending call rather than
	// leaving callers blocked forever.
	p.pendMu.Lock()
	for id, ch := range p.pending {
		delete(p.pending, id)
		ch <- rpcResponse{Error: &struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}{Code: -1, Message: "plugin process closed stdout"}}
	}
	p.pendMu.Unlock()
}

// ErrWorkerUnavailable is returned when a Process's request mutex
// cannot be acquired because a previous call on it panicked (spec
// §4.7 step 6 "if a mutex becomes poisoned, callers get a 'worker
// unavailable' error instead of a panic"). Go mutexes do not poison
// themselves; Poison marks the Process explicitly instead.
var ErrWorkerUnavailable = fmt.Errorf("plugin worker unavailable")

// Poison marks p so every future Call fails fast with
// ErrWorkerUnavailable instead of attempting to use a process that is
// known to be in an inconsistent state.
func (p *Process) Poison() { p.poisoned.Store(true) }

// Call sends one JSON-RPC request and blocks for the matching
// response, honoring ctx and the manifest's timeout_ms, whichever is
// shorter. A request/response pair is fully serialized by p.mu so two
// concurrent callers on the same Process can never interleave frames.
func (p *Process) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if p.poisoned.Load() {
		return nil, ErrWorkerUnavailable
	}

	timeout := time.Duration(p.manifest.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.Poison()
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()

	id := atomic.AddInt64(&p.nextID, 1)
	ch := make(chan rpcResponse, 1)
	p.pendMu.Lock()
	p.pending[id] = ch
	p.pendMu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("plugin call %s: marshal request: %w", method, err)
	}
	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("plugin call %s: write request: %w", method, err)
	}
	if err := p.stdin.Flush(); err != nil {
		return nil, fmt.Errorf("plugin call %s: flush request: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("plugin call %s: %s", method, resp.Error.Message)
		}
		return resultOf(resp.Result), nil
	case <-callCtx.Done():
		p.pendMu.Lock()
		delete(p.pending, id)
		p.pendMu.Unlock()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("plugin call %s: timed out after %s", method, timeout)
	}
}

// resultOf implements the §4.7 step 5 response tolerance: a bare
// `null` result becomes an empty JSON array so callers expecting a
// sequence can always json.Unmarshal the return value directly.
func resultOf(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("[]")
	}
	return raw
}

// NewSessionID returns a fresh session identifier for plugin.init
// (spec §4.7 step 2 "session_id"); grounded on crashappsec-zero's
// agent.Session id generation.
func NewSessionID() string { return uuid.New().String() }

// Shutdown sends plugin.shutdown best-effort, then kills and reaps the
// child process (spec §4.7 step 7).
func (p *Process) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, _ = p.Call(shutdownCtx, "plugin.shutdown", nil)
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
}
