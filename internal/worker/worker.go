package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"chaos-runner/internal/logger"
)

// Job はワーカーが実行するジョブを表す。ctx はプールの停止でキャンセルされる。
type Job func(ctx context.Context)

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	NumWorkers  int // ワーカー数（0でCPU数）
	QueueFactor int // キューサイズ = NumWorkers * QueueFactor
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers:  0,
		QueueFactor: 4,
	}
}

// Stats はプールの統計
type Stats struct {
	Completed uint64 // 完了したジョブ数
	Panicked  uint64 // panic したジョブ数
	Rejected  uint64 // キューが満杯または停止中で受け付けなかったジョブ数
}

// Pool はゴルーチンのプールを管理する。
// Submit はブロックしない。キューが満杯の場合はジョブを破棄する。
type Pool struct {
	numWorkers int
	queueSize  int

	mu      sync.Mutex
	jobs    chan Job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool

	completed atomic.Uint64
	panicked  atomic.Uint64
	rejected  atomic.Uint64
}

// NewPool は新しいワーカープールを作成する
// numWorkers が 0 の場合は CPU 数を使用
func NewPool(numWorkers int) *Pool {
	config := DefaultPoolConfig()
	config.NumWorkers = numWorkers
	return NewPoolWithConfig(config)
}

// NewPoolWithConfig は設定を指定してワーカープールを作成する
func NewPoolWithConfig(config PoolConfig) *Pool {
	numWorkers := config.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	queueFactor := config.QueueFactor
	if queueFactor <= 0 {
		queueFactor = DefaultPoolConfig().QueueFactor
	}
	return &Pool{
		numWorkers: numWorkers,
		queueSize:  numWorkers * queueFactor,
	}
}

// Start はワーカープールを起動する。停止後に再度起動できる。
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.jobs = make(chan Job, p.queueSize)
	p.started = true

	for range p.numWorkers {
		p.wg.Add(1)
		go p.worker(p.ctx, p.jobs)
	}

	logger.Debug("", "worker pool started with %d workers", p.numWorkers)
}

// worker は個々のワーカーゴルーチン
func (p *Pool) worker(ctx context.Context, jobs <-chan Job) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-jobs:
			p.run(ctx, job)
		}
	}
}

// run は1つのジョブを実行する。panic はワーカーを止めない。
func (p *Pool) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			logger.Error("", "worker job panicked: %v", r)
		}
	}()
	job(ctx)
	p.completed.Add(1)
}

// Submit はジョブをキューに入れる。受け付けなかった場合は false を返す。
func (p *Pool) Submit(job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.ctx.Err() != nil {
		p.rejected.Add(1)
		return false
	}

	select {
	case p.jobs <- job:
		return true
	default:
		p.rejected.Add(1)
		return false
	}
}

// Stop はワーカープールを停止し、実行中のジョブの終了を待つ。
// キューに残ったジョブは実行されない。
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()

	stats := p.Stats()
	logger.Debug("", "worker pool stopped (completed: %d, panicked: %d, rejected: %d)",
		stats.Completed, stats.Panicked, stats.Rejected)
}

// NumWorkers はワーカー数を返す
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// QueueSize は現在のキューサイズを返す
func (p *Pool) QueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.jobs == nil {
		return 0
	}
	return len(p.jobs)
}

// Stats は統計を返す
func (p *Pool) Stats() Stats {
	return Stats{
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
		Rejected:  p.rejected.Load(),
	}
}
