package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"chaos-runner/internal/logger"
	"chaos-runner/internal/worker"
)

// Probe は1つのターゲットの状態を計測する
type Probe interface {
	// TargetID は計測対象のターゲット ID を返す
	TargetID() string
	// Sample は現在の計測値を返す
	Sample(ctx context.Context) ([]Reading, error)
}

// Config はサンプラーの設定
type Config struct {
	Interval     time.Duration // 計測間隔
	ProbeTimeout time.Duration // 1回のプローブのタイムアウト（0で Interval）
	MaxSamples   int           // 保持するサンプルの上限
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Interval:   1 * time.Second,
		MaxSamples: 100000,
	}
}

type probeSlot struct {
	probe Probe
	busy  atomic.Bool
}

// Sampler はフェーズの境界とは独立に一定間隔でプローブを実行する。
// 各サンプルには計測開始時点のフェーズ名が付く。
type Sampler struct {
	config Config
	slots  []*probeSlot
	pool   *worker.Pool

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	phase   string
	samples []Sample
	gaps    map[string]int
	dropped uint64
}

// NewSampler は新しいサンプラーを作成する
func NewSampler(config Config, probes ...Probe) *Sampler {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = config.Interval
	}
	if config.MaxSamples <= 0 {
		config.MaxSamples = def.MaxSamples
	}

	s := &Sampler{
		config: config,
		gaps:   make(map[string]int),
	}
	for _, p := range probes {
		s.slots = append(s.slots, &probeSlot{probe: p})
	}
	s.pool = worker.NewPool(max(1, len(s.slots)))
	return s
}

// Start はサンプリングを開始する
func (s *Sampler) Start(ctx context.Context) {
	if s.running.Swap(true) {
		return
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.pool.Start(s.ctx)

	s.wg.Add(1)
	go s.loop()

	logger.Debug("", "sampler started (interval: %v, probes: %d)", s.config.Interval, len(s.slots))
}

// Stop はサンプリングを停止し、実行中のプローブの終了を待つ
func (s *Sampler) Stop() {
	if !s.running.Swap(false) {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.pool.Stop()

	s.mu.RLock()
	n := len(s.samples)
	s.mu.RUnlock()
	logger.Debug("", "sampler stopped (%d samples)", n)
}

// SetPhase は以降のサンプルに付けるフェーズ名を設定する
func (s *Sampler) SetPhase(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = name
}

// Phase は現在のフェーズ名を返す
func (s *Sampler) Phase() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Sampler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick は全プローブを1回ずつ実行する。前回の計測が終わっていないプローブは飛ばす。
func (s *Sampler) tick(now time.Time) {
	phase := s.Phase()
	for _, slot := range s.slots {
		if !slot.busy.CompareAndSwap(false, true) {
			s.gap(phase, slot.probe.TargetID(), "previous probe still running")
			continue
		}
		if !s.pool.Submit(s.job(slot, phase, now)) {
			slot.busy.Store(false)
			s.gap(phase, slot.probe.TargetID(), "probe queue full")
		}
	}
}

func (s *Sampler) job(slot *probeSlot, phase string, at time.Time) worker.Job {
	return func(ctx context.Context) {
		defer slot.busy.Store(false)

		pctx, cancel := context.WithTimeout(ctx, s.config.ProbeTimeout)
		defer cancel()

		targetID := slot.probe.TargetID()
		readings, err := slot.probe.Sample(pctx)
		if err != nil {
			if ctx.Err() == nil {
				s.gap(phase, targetID, err.Error())
			}
			return
		}
		s.record(at, phase, targetID, readings)
	}
}

func (s *Sampler) record(at time.Time, phase, targetID string, readings []Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range readings {
		if len(s.samples) >= s.config.MaxSamples {
			s.dropped++
			continue
		}
		s.samples = append(s.samples, Sample{
			Timestamp: at,
			Phase:     phase,
			TargetID:  targetID,
			Metric:    r.Metric,
			Value:     r.Value,
		})
	}
}

func (s *Sampler) gap(phase, targetID, reason string) {
	s.mu.Lock()
	s.gaps[phase]++
	s.mu.Unlock()
	logger.Debug(targetID, "sample gap in phase %q: %s", phase, reason)
}

// Samples は全サンプルのコピーを返す
func (s *Sampler) Samples() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// PhaseSamples は指定したフェーズのサンプルを返す
func (s *Sampler) PhaseSamples(phase string) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ByPhase(s.samples, phase)
}

// Gaps は指定したフェーズで失敗または省略された計測の数を返す
func (s *Sampler) Gaps(phase string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gaps[phase]
}

// Dropped は上限を超えて破棄したサンプル数を返す
func (s *Sampler) Dropped() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}
