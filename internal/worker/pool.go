// Package worker は分析処理を実行する可変サイズのワーカープールを提供する。
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolShutdown = errors.New("worker pool is shutdown")
	ErrQueueFull    = errors.New("worker pool queue is full")
	ErrNilTask      = errors.New("task execute function is nil")
)

// 既定のアイドルタイムアウト。これを超えて待機した余剰ワーカーは終了する
const DefaultIdleTimeout = 5 * time.Second

// タスクの実行結果
type Result struct {
	Value interface{}
	Err   error
}

// ワーカーが実行するタスク
type Task struct {
	Name    string
	Execute func(ctx context.Context) (interface{}, error)
}

// キューに積まれるタスク。resultがnilなら結果は捨てる
type job struct {
	task   Task
	ctx    context.Context
	result chan Result
}

// ワーカープールの統計情報
type Stats struct {
	CurrentWorkers   int32
	BusyWorkers      int32
	MaxWorkers       int32
	TasksProcessed   int64
	TasksQueued      int64
	TasksRejected    int64
	AverageLatency   time.Duration
	ErrorRate        float64
	QueueUtilization float64
}

type metrics struct {
	tasksProcessed int64
	tasksQueued    int64
	tasksRejected  int64
	processingTime int64 // ナノ秒単位の合計処理時間
	errors         int64
}

// ワーカープール
// 負荷に応じてminWorkersからmaxWorkersまで増え、アイドルが続くと減る
type Pool struct {
	tasks         chan job
	minWorkers    int32
	maxWorkers    int32
	idleTimeout   time.Duration
	metrics       metrics
	activeWorkers atomic.Int32
	busyWorkers   atomic.Int32
	isShutdown    atomic.Bool
	mu            sync.RWMutex
	wg            sync.WaitGroup
	shutdownOnce  sync.Once
	shutdownChan  chan struct{}

	// 投げっぱなしのタスクに渡すコンテキスト。強制終了時にキャンセルする
	baseCtx context.Context
	cancel  context.CancelFunc
}

// 新しいワーカープールを作成
func NewPool(minWorkers, maxWorkers int32) *Pool {
	return NewPoolWithIdleTimeout(minWorkers, maxWorkers, DefaultIdleTimeout)
}

// アイドルタイムアウトを指定してワーカープールを作成
func NewPoolWithIdleTimeout(minWorkers, maxWorkers int32, idleTimeout time.Duration) *Pool {
	if minWorkers <= 0 {
		minWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:        make(chan job, int(maxWorkers*4)),
		minWorkers:   minWorkers,
		maxWorkers:   maxWorkers,
		idleTimeout:  idleTimeout,
		shutdownChan: make(chan struct{}),
		baseCtx:      ctx,
		cancel:       cancel,
	}

	// 初期ワーカーの起動
	for i := int32(0); i < minWorkers; i++ {
		p.activeWorkers.Add(1)
		p.startWorker()
	}

	return p
}

// 新しいワーカーを起動。呼び出し側でactiveWorkersを加算しておく
func (p *Pool) startWorker() {
	p.wg.Add(1)
	go p.runWorker()
}

// キューが溜まっていて空きワーカーがいなければワーカーを追加
func (p *Pool) maybeGrow() {
	for {
		current := p.activeWorkers.Load()
		if current >= p.maxWorkers {
			return
		}
		if p.busyWorkers.Load() < current && len(p.tasks) == 0 {
			return
		}
		if p.activeWorkers.CompareAndSwap(current, current+1) {
			p.startWorker()
			return
		}
	}
}

// 最小数を超えている場合にワーカー数を1つ減らす
func (p *Pool) tryRetire() bool {
	for {
		current := p.activeWorkers.Load()
		if current <= p.minWorkers {
			return false
		}
		if p.activeWorkers.CompareAndSwap(current, current-1) {
			return true
		}
	}
}

// ワーカーのメインループ
func (p *Pool) runWorker() {
	defer p.wg.Done()

	idle := time.NewTimer(p.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case j, ok := <-p.tasks:
			if !ok {
				p.activeWorkers.Add(-1)
				return
			}
			p.execute(j)
		case <-idle.C:
			if p.tryRetire() {
				return
			}
		}

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(p.idleTimeout)
	}
}

func (p *Pool) execute(j job) {
	p.busyWorkers.Add(1)
	defer p.busyWorkers.Add(-1)

	ctx := j.ctx
	if ctx == nil {
		ctx = p.baseCtx
	}

	start := time.Now()
	value, err := runTask(ctx, j.task)
	duration := time.Since(start)

	atomic.AddInt64(&p.metrics.tasksProcessed, 1)
	atomic.AddInt64(&p.metrics.processingTime, duration.Nanoseconds())
	if err != nil {
		atomic.AddInt64(&p.metrics.errors, 1)
	}

	if j.result != nil {
		j.result <- Result{Value: value, Err: err}
	}
}

// タスクを実行する。パニックはエラーとして返す
func runTask(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", task.Name, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return task.Execute(ctx)
}

// ワーカープールの統計情報
func (p *Pool) GetStats() Stats {
	tasksProcessed := atomic.LoadInt64(&p.metrics.tasksProcessed)
	processTime := atomic.LoadInt64(&p.metrics.processingTime)
	errors := atomic.LoadInt64(&p.metrics.errors)

	var averageLatency time.Duration
	var errorRate float64

	if tasksProcessed > 0 {
		averageLatency = time.Duration(processTime / tasksProcessed)
		errorRate = float64(errors) / float64(tasksProcessed)
	}

	var queueUtilization float64
	if queueCap := cap(p.tasks); queueCap > 0 {
		queueUtilization = float64(len(p.tasks)) / float64(queueCap)
	}

	return Stats{
		CurrentWorkers:   p.activeWorkers.Load(),
		BusyWorkers:      p.busyWorkers.Load(),
		MaxWorkers:       p.maxWorkers,
		TasksProcessed:   tasksProcessed,
		TasksQueued:      atomic.LoadInt64(&p.metrics.tasksQueued),
		TasksRejected:    atomic.LoadInt64(&p.metrics.tasksRejected),
		AverageLatency:   averageLatency,
		ErrorRate:        errorRate,
		QueueUtilization: queueUtilization,
	}
}

// ワーカープールを終了
// キュー済みのタスクは実行してから終了する。ctxが先に終わった場合は実行中のタスクをキャンセルする
func (p *Pool) Shutdown(ctx context.Context) error {
	var err error
	p.shutdownOnce.Do(func() {
		// 送信待ちのSubmitを解放してからキューを閉じる
		close(p.shutdownChan)
		p.mu.Lock()
		p.isShutdown.Store(true)
		close(p.tasks)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-ctx.Done():
			p.cancel()
			err = ctx.Err()
		case <-done:
			p.cancel()
		}
	})
	return err
}

// タスクをキューに積む。満杯の場合はblockがtrueなら空くまで待つ
func (p *Pool) enqueue(ctx context.Context, j job, block bool) error {
	if j.task.Execute == nil {
		return ErrNilTask
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.isShutdown.Load() {
		return ErrPoolShutdown
	}

	if block {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.shutdownChan:
			return ErrPoolShutdown
		case p.tasks <- j:
		}
	} else {
		select {
		case p.tasks <- j:
		default:
			atomic.AddInt64(&p.metrics.tasksRejected, 1)
			return ErrQueueFull
		}
	}

	atomic.AddInt64(&p.metrics.tasksQueued, 1)
	p.maybeGrow()
	return nil
}

// タスクを投入し、結果を待つ
func (p *Pool) Submit(ctx context.Context, task Task) (interface{}, error) {
	j := job{task: task, ctx: ctx, result: make(chan Result, 1)}
	if err := p.enqueue(ctx, j, true); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-j.result:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Value, nil
	}
}

// タスクを投入し、結果を待たずに戻る
// キューが満杯ならErrQueueFullを返す
func (p *Pool) Go(task Task) error {
	return p.enqueue(p.baseCtx, job{task: task}, false)
}
