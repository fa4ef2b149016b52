// Copyright 2022 ZUP IT SERVICOS EM TECNOLOGIA E INOVACAO SA
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

// Package workerpool wraps ants.Pool for the analysis scheduler of
// spec §4.4/§5: a work-stealing pool sized to available CPUs by
// default, used to fan file-level work out across goroutines while
// per-file state stays owned by a single worker. Adapted from the
// teacher's pool/pool.go, generalized with a context-aware Submit
// that bails out early once ctx is done instead of enqueuing more
// work behind an already-cancelled scan.
package workerpool

import (
	"context"
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"
)

// ExpiryDuration is the interval at which idle workers are cleaned up.
const ExpiryDuration = 10 * time.Second

// Pool is the alias of ants.Pool.
type Pool = ants.Pool

// NewPool instantiates a new goroutine pool sized to poolSize, or to
// runtime.GOMAXPROCS(0) when poolSize <= 0 (spec §5 "sized to
// available_parallelism() by default").
func NewPool(poolSize int) (*Pool, error) {
	return ants.NewPool(defaultOrInformedSize(poolSize), ants.WithOptions(ants.Options{
		ExpiryDuration: ExpiryDuration,
	}))
}

func defaultOrInformedSize(poolSize int) int {
	if poolSize > 0 {
		return poolSize
	}
	if n := runtime.GOMAXPROCS(0); n > 0 {
		return n
	}
	return 1
}

// SubmitCtx submits fn to pool unless ctx is already done, in which
// case it returns ctx.Err() without enqueuing the work. This keeps a
// cancelled scan from continuing to pile up goroutines for files it
// will never report on.
func SubmitCtx(ctx context.Context, pool *Pool, fn func()) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return pool.Submit(fn)
}
