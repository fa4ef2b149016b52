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

package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPoolDefaultsToGOMAXPROCS(t *testing.T) {
	pool, err := NewPool(0)
	require.NoError(t, err)
	defer pool.Release()
	assert.Greater(t, pool.Cap(), 0)
}

func TestSubmitCtxRunsAllSubmittedWork(t *testing.T) {
	pool, err := NewPool(2)
	require.NoError(t, err)
	defer pool.Release()

	var count int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := SubmitCtx(context.Background(), pool, func() {
			defer wg.Done()
			atomic.AddInt64(&count, 1)
		})
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, int64(10), count)
}

func TestSubmitCtxRejectsAfterCancel(t *testing.T) {
	pool, err := NewPool(1)
	require.NoError(t, err)
	defer pool.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = SubmitCtx(ctx, pool, func() {})
	assert.ErrorIs(t, err, context.Canceled)
}
