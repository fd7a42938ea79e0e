package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func shutdown(t *testing.T, pool *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))
}

func TestWorkerPool(t *testing.T) {
	t.Run("基本的なタスク実行", func(t *testing.T) {
		pool := NewPool(2, 4)
		defer shutdown(t, pool)

		result, err := pool.Submit(context.Background(), Task{
			Name: "echo",
			Execute: func(ctx context.Context) (interface{}, error) {
				return "success", nil
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "success", result)
	})

	t.Run("コンテキストキャンセル", func(t *testing.T) {
		pool := NewPool(2, 4)
		defer shutdown(t, pool)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := pool.Submit(ctx, Task{
			Execute: func(ctx context.Context) (interface{}, error) {
				return nil, nil
			},
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("結果が呼び出し元ごとに返る", func(t *testing.T) {
		pool := NewPool(4, 8)
		defer shutdown(t, pool)

		var wg sync.WaitGroup
		numTasks := 100
		results := make([]interface{}, numTasks)

		for i := 0; i < numTasks; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				result, err := pool.Submit(context.Background(), Task{
					Execute: func(ctx context.Context) (interface{}, error) {
						return i, nil
					},
				})
				assert.NoError(t, err)
				results[i] = result
			}(i)
		}
		wg.Wait()

		for i, r := range results {
			assert.Equal(t, i, r)
		}
		assert.Equal(t, int64(numTasks), pool.GetStats().TasksProcessed)
	})

	t.Run("エラー処理", func(t *testing.T) {
		pool := NewPool(2, 4)
		defer shutdown(t, pool)

		expectedErr := errors.New("test error")
		_, err := pool.Submit(context.Background(), Task{
			Execute: func(ctx context.Context) (interface{}, error) {
				return nil, expectedErr
			},
		})
		assert.ErrorIs(t, err, expectedErr)
		assert.Greater(t, pool.GetStats().ErrorRate, 0.0)
	})

	t.Run("パニックはエラーになる", func(t *testing.T) {
		pool := NewPool(1, 1)
		defer shutdown(t, pool)

		_, err := pool.Submit(context.Background(), Task{
			Name: "boom",
			Execute: func(ctx context.Context) (interface{}, error) {
				panic("boom")
			},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")

		// ワーカーは生き残る
		result, err := pool.Submit(context.Background(), Task{
			Execute: func(ctx context.Context) (interface{}, error) { return 1, nil },
		})
		require.NoError(t, err)
		assert.Equal(t, 1, result)
	})

	t.Run("nilタスク", func(t *testing.T) {
		pool := NewPool(1, 1)
		defer shutdown(t, pool)

		_, err := pool.Submit(context.Background(), Task{})
		assert.ErrorIs(t, err, ErrNilTask)
		assert.ErrorIs(t, pool.Go(Task{}), ErrNilTask)
	})
}

func TestWorkerPool_Scaling(t *testing.T) {
	pool := NewPoolWithIdleTimeout(1, 4, 20*time.Millisecond)
	defer shutdown(t, pool)

	release := make(chan struct{})
	var started atomic.Int32
	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Go(Task{
			Execute: func(ctx context.Context) (interface{}, error) {
				started.Add(1)
				<-release
				return nil, nil
			},
		}))
	}

	require.Eventually(t, func() bool { return started.Load() == 4 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(4), pool.GetStats().CurrentWorkers)
	assert.Equal(t, int32(4), pool.GetStats().BusyWorkers)

	close(release)

	// アイドルが続くと最小数まで減る
	require.Eventually(t, func() bool {
		return pool.GetStats().CurrentWorkers == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWorkerPool_GoQueueFull(t *testing.T) {
	pool := NewPool(1, 1)
	defer shutdown(t, pool)

	release := make(chan struct{})
	defer close(release)

	block := Task{
		Execute: func(ctx context.Context) (interface{}, error) {
			<-release
			return nil, nil
		},
	}

	// 1つは実行中、残りはキュー (容量4) を埋める
	var rejected int
	for i := 0; i < 10; i++ {
		if err := pool.Go(block); errors.Is(err, ErrQueueFull) {
			rejected++
		}
	}
	assert.Greater(t, rejected, 0)
	assert.Equal(t, int64(rejected), pool.GetStats().TasksRejected)
}

func TestWorkerPool_Shutdown(t *testing.T) {
	t.Run("キュー済みのタスクを実行してから終了する", func(t *testing.T) {
		pool := NewPool(1, 2)

		var completed atomic.Int32
		for i := 0; i < 5; i++ {
			require.NoError(t, pool.Go(Task{
				Execute: func(ctx context.Context) (interface{}, error) {
					time.Sleep(5 * time.Millisecond)
					completed.Add(1)
					return nil, nil
				},
			}))
		}

		shutdown(t, pool)
		assert.Equal(t, int32(5), completed.Load())

		_, err := pool.Submit(context.Background(), Task{
			Execute: func(ctx context.Context) (interface{}, error) { return nil, nil },
		})
		assert.ErrorIs(t, err, ErrPoolShutdown)
		assert.ErrorIs(t, pool.Go(Task{
			Execute: func(ctx context.Context) (interface{}, error) { return nil, nil },
		}), ErrPoolShutdown)

		// 2回目の呼び出しは何もしない
		assert.NoError(t, pool.Shutdown(context.Background()))
	})

	t.Run("タイムアウトで実行中のタスクをキャンセルする", func(t *testing.T) {
		pool := NewPool(1, 1)

		canceled := make(chan struct{})
		require.NoError(t, pool.Go(Task{
			Execute: func(ctx context.Context) (interface{}, error) {
				<-ctx.Done()
				close(canceled)
				return nil, ctx.Err()
			},
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := pool.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		select {
		case <-canceled:
		case <-time.After(2 * time.Second):
			t.Fatal("タスクがキャンセルされませんでした")
		}
		require.Eventually(t, func() bool {
			return pool.GetStats().CurrentWorkers == 0
		}, 2*time.Second, 5*time.Millisecond)
	})
}

func BenchmarkPool_Submit(b *testing.B) {
	pool := NewPool(4, 8)
	defer pool.Shutdown(context.Background())

	task := Task{
		Execute: func(ctx context.Context) (interface{}, error) {
			return nil, nil
		},
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = pool.Submit(context.Background(), task)
		}
	})
}
