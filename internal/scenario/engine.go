package scenario

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chaos-runner/internal/chaos"
	"chaos-runner/internal/chaos/simnet"
	"chaos-runner/internal/command"
	"chaos-runner/internal/errs"
	"chaos-runner/internal/events"
	"chaos-runner/internal/hostinfo"
	"chaos-runner/internal/logger"
	"chaos-runner/internal/metrics"
	"chaos-runner/internal/platform"
	"chaos-runner/internal/registry"
	"chaos-runner/internal/target"
)

// Injectors は障害種類から Injector を引く。*chaos.Catalog が実装する。
type Injectors interface {
	Lookup(k chaos.Kind) (chaos.Injector, bool)
}

// Resolver はターゲットを解決する。*target.Resolver が実装する。
type Resolver interface {
	Resolve(ctx context.Context, spec target.Spec) (*target.Resolved, error)
}

// simulatedNetwork はシミュレーション方式のネットワーク障害を持つ Injectors
type simulatedNetwork interface {
	NetworkBackend() platform.Backend
	SimTable() *simnet.Table
}

// Snapshot は実行中のエンジンの状態
type Snapshot struct {
	RunID      string    `json:"run_id,omitempty"`
	Scenario   string    `json:"scenario,omitempty"`
	Status     Status    `json:"status"`
	Phase      string    `json:"phase,omitempty"`
	PhaseIndex int       `json:"phase_index"`
	PhaseCount int       `json:"phase_count"`
	StartTime  time.Time `json:"start_time,omitempty"`
	Active     int       `json:"active_handles"`
	Leaked     int       `json:"leaked_handles"`
}

// Engine はシナリオのフェーズを順に実行する
type Engine struct {
	config   Config
	eventBus *events.Bus

	injectors Injectors
	resolver  Resolver
	reader    hostinfo.Reader
	probes    []metrics.Probe
	probesSet bool

	mu         sync.RWMutex
	running    bool
	cancel     context.CancelFunc
	registry   *registry.Registry
	snapshot   Snapshot
	lastResult *Result
}

// New は新しいEngineを作成する
func New(config Config) *Engine {
	return &Engine{
		config:   config,
		snapshot: Snapshot{PhaseIndex: -1},
	}
}

// SetEventBus はイベントバスを設定する
func (e *Engine) SetEventBus(bus *events.Bus) {
	e.eventBus = bus
}

// SetInjectors は使用する Injector を設定する。未設定ならホストに合わせた Catalog を使う。
func (e *Engine) SetInjectors(inj Injectors) {
	e.injectors = inj
}

// SetResolver はターゲットの解決方法を設定する
func (e *Engine) SetResolver(r Resolver) {
	e.resolver = r
}

// SetHostReader はホスト情報の読み取り方法を設定する
func (e *Engine) SetHostReader(r hostinfo.Reader) {
	e.reader = r
}

// SetProbes はメトリクスのプローブを設定する。未設定ならホストとターゲットのプローブを使う。
func (e *Engine) SetProbes(probes ...metrics.Probe) {
	e.probes = probes
	e.probesSet = true
}

// publishEvent はイベントを発行する
func (e *Engine) publishEvent(event events.Event) {
	if e.eventBus != nil {
		e.eventBus.Publish(event)
	}
}

// Run はシナリオを実行する。
// 検証エラーの場合は StatusInvalid の結果とエラーを返し、障害は適用しない。
// キャンセルはエラーではなく StatusCancelled として返す。
func (e *Engine) Run(ctx context.Context, s *Scenario) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("scenario is already running")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		e.mu.Unlock()
	}()

	result := &Result{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
	}
	if s != nil {
		result.ScenarioName = s.Name
		result.Description = s.Description
		result.Labels = s.Labels
	}

	if violations := ValidateOnly(s, e.config); len(violations) > 0 {
		result.Status = StatusInvalid
		for _, v := range violations {
			result.Violations = append(result.Violations, v.Error())
		}
		result.EndTime = time.Now()
		e.finish(result)
		return result, errs.Combine(violations...)
	}

	e.setup()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := registry.New(registry.Config{CleanupTimeout: e.config.CleanupTimeout})
	reg.SetEventBus(e.eventBus)

	e.mu.Lock()
	e.cancel = cancel
	e.registry = reg
	e.snapshot = Snapshot{
		RunID:      result.RunID,
		Scenario:   s.Name,
		Status:     StatusRunning,
		PhaseIndex: -1,
		PhaseCount: len(s.Phases),
		StartTime:  result.StartTime,
	}
	e.mu.Unlock()

	if sim, ok := e.injectors.(simulatedNetwork); ok {
		result.NetworkBackend = sim.NetworkBackend().String()
	}

	sampler := metrics.NewSampler(metrics.Config{Interval: e.config.SampleInterval}, e.probesFor(s)...)
	sampler.Start(context.WithoutCancel(ctx))

	logger.Info("", "=== Scenario '%s' started (run %s) ===", s.Name, result.RunID)
	if s.Description != "" {
		logger.Info("", "Description: %s", s.Description)
	}
	e.publishEvent(events.NewScenarioStartedEvent(s.Name))

	r := &run{
		engine:   e,
		scenario: s,
		registry: reg,
		sampler:  sampler,
		result:   result,
	}
	r.execute(runCtx)

	// どの経路で終わっても Active なハンドルを残さない
	if reg.Count(registry.StateActive) > 0 {
		_, _ = reg.CloseAllImmediate(ctx)
	}

	sampler.Stop()
	all := sampler.Samples()
	result.Overall = metrics.Aggregate(all)
	result.SLOs, _ = metrics.EvaluateSLOs(s.SLOs, all)
	result.Leaked = reg.Leaked()
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.finish(result)
	e.publishEvent(events.NewScenarioFinishedEvent(s.Name, result.Status.String()))

	if len(result.Leaked) > 0 {
		logger.Error("", "=== Scenario '%s' %s with %d LEAKED handle(s) ===", s.Name, result.Status, len(result.Leaked))
	} else {
		logger.Info("", "=== Scenario '%s' %s ===", s.Name, result.Status)
	}
	return result, nil
}

// setup は未設定の依存をホストに合わせて作成する
func (e *Engine) setup() {
	if e.reader == nil {
		e.reader = hostinfo.NewReader()
	}
	runner := command.NewExec(command.DefaultConfig())
	if e.injectors == nil {
		e.injectors = chaos.NewCatalog(chaos.CatalogOptions{
			Runner:      runner,
			Host:        platform.Detect(runner, platform.Current()),
			NetworkMode: e.config.NetworkMode,
			Memory:      e.reader,
			MemoryCap:   e.config.MemoryCap,
			ScratchDir:  e.config.ScratchDir,
		})
	}
	if e.resolver == nil {
		e.resolver = target.NewResolver(target.NewProcessFinder(runner), nil)
	}
}

// probesFor はシナリオのターゲットに合わせたプローブを返す
func (e *Engine) probesFor(s *Scenario) []metrics.Probe {
	if e.probesSet {
		return e.probes
	}

	probes := []metrics.Probe{metrics.NewHostProbe(e.reader)}
	var table *simnet.Table
	if sim, ok := e.injectors.(simulatedNetwork); ok && sim.NetworkBackend() == platform.BackendSimulated {
		table = sim.SimTable()
	}

	for _, t := range s.Targets {
		spec := t
		if spec.Kind == target.KindProcess {
			probes = append(probes, metrics.NewProcessProbe(spec.ID, func(ctx context.Context) (int, error) {
				res, err := e.resolver.Resolve(ctx, spec)
				if err != nil {
					return 0, err
				}
				return res.PID, nil
			}, e.reader))
		}
		if spec.ProbeAddress != "" {
			var dialer metrics.Dialer
			if table != nil {
				dialer = &simnet.Dialer{Table: table, TargetID: spec.ID}
			}
			probes = append(probes, metrics.NewLatencyProbe(spec.ID, spec.ProbeAddress, dialer))
		}
	}
	return probes
}

func (e *Engine) finish(result *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot.Status = result.Status
	e.snapshot.Phase = ""
	e.lastResult = result
}

func (e *Engine) setPhase(name string, index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot.Phase = name
	e.snapshot.PhaseIndex = index
}

// Cancel は実行中のシナリオをキャンセルする。実行中でなければ false を返す。
func (e *Engine) Cancel() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.cancel == nil {
		return false
	}
	e.cancel()
	return true
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Snapshot は現在の状態を返す
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	snap := e.snapshot
	reg := e.registry
	e.mu.RUnlock()

	if reg != nil {
		snap.Active = reg.Count(registry.StateActive)
		snap.Leaked = reg.Count(registry.StateLeaked)
	}
	return snap
}

// Handles は現在または直前の実行のハンドルを返す
func (e *Engine) Handles() []registry.HandleInfo {
	e.mu.RLock()
	reg := e.registry
	e.mu.RUnlock()

	if reg == nil {
		return nil
	}
	return reg.Snapshot()
}

// LastResult は直前の実行結果を返す
func (e *Engine) LastResult() *Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastResult
}

// run は1回の実行の状態
type run struct {
	engine   *Engine
	scenario *Scenario
	registry *registry.Registry
	sampler  *metrics.Sampler
	result   *Result
}

// execute はランプアップとフェーズを順に実行し、result.Status を決める
func (r *run) execute(ctx context.Context) {
	s := r.scenario

	if s.RampUp > 0 {
		logger.Info("", "ramp up %v", s.RampUp)
		if !sleep(ctx, s.RampUp) {
			r.cancelled(ctx, 0)
			return
		}
	}

	for i, p := range s.Phases {
		if ctx.Err() != nil {
			r.cancelled(ctx, i)
			return
		}

		pr, outcome := r.runPhase(ctx, i, p)
		r.result.Phases = append(r.result.Phases, pr)

		switch outcome {
		case phaseCancelled:
			r.cancelled(ctx, i+1)
			return
		case phaseFailed:
			r.result.Status = StatusFailed
			r.skip(i + 1)
			return
		}
	}
	r.result.Status = StatusCompleted
}

// cancelled は全ハンドルを復元し、from 以降のフェーズを Skipped にする
func (r *run) cancelled(ctx context.Context, from int) {
	if _, err := r.registry.CloseAllImmediate(ctx); err != nil {
		logger.Error("", "cleanup after cancellation: %v", err)
	}
	r.result.Status = StatusCancelled
	r.skip(from)
	logger.Warn("", "scenario cancelled; %d phase(s) completed", r.completedPhases())
}

func (r *run) skip(from int) {
	for i := from; i < len(r.scenario.Phases); i++ {
		p := r.scenario.Phases[i]
		r.result.Phases = append(r.result.Phases, PhaseResult{
			Name:     p.Name,
			Index:    i,
			State:    PhaseSkipped,
			Parallel: p.Parallel,
			Declared: p.Duration,
		})
	}
}

func (r *run) completedPhases() int {
	n := 0
	for _, p := range r.result.Phases {
		if p.State == PhaseCompleted {
			n++
		}
	}
	return n
}

type phaseOutcome int

const (
	phaseOK phaseOutcome = iota
	phaseFailed
	phaseCancelled
)

// pending は解決済みで適用待ちの注入
type pending struct {
	index    int
	injector chaos.Injector
	target   *target.Resolved
	params   chaos.Params
}

// runPhase は1つのフェーズを実行する
func (r *run) runPhase(ctx context.Context, idx int, p Phase) (PhaseResult, phaseOutcome) {
	e := r.engine
	pr := PhaseResult{
		Name:       p.Name,
		Index:      idx,
		State:      PhaseRunning,
		Parallel:   p.Parallel,
		Declared:   p.Duration,
		StartTime:  time.Now(),
		Injections: make([]InjectionOutcome, len(p.Injections)),
	}

	r.sampler.SetPhase(p.Name)
	e.setPhase(p.Name, idx)
	e.publishEvent(events.NewPhaseStartedEvent(p.Name, idx))
	logger.Info("", "--- Phase %d/%d '%s' started (%v, %d injection(s)) ---",
		idx+1, len(r.scenario.Phases), p.Name, p.Duration, len(p.Injections))

	// ターゲット解決
	var (
		queue              []pending
		resolutionFailures int
	)
	for j, spec := range p.Injections {
		out := &pr.Injections[j]
		out.Status = OutcomeSkipped
		out.Kind = spec.Kind.String()
		out.TargetID = injectionTargetID(spec)
		out.Params = spec.Params.Summary(spec.Kind)

		pend, err := r.prepare(ctx, j, spec)
		if err != nil {
			recordFailure(out, err)
			if errors.Is(err, errs.ErrTargetResolution) {
				resolutionFailures++
			}
			e.publishEvent(events.NewInjectionFailedEvent(p.Name, out.TargetID, out.Kind, out.ErrorKind, err))
			logger.Warn(out.TargetID, "%s skipped: %v", out.Kind, err)
			continue
		}
		queue = append(queue, pend)
	}

	var failure error
	if len(p.Injections) > 0 && resolutionFailures == len(p.Injections) {
		failure = fmt.Errorf("phase %q: no injection target could be resolved", p.Name)
	} else if e.config.FailFast && len(queue) < len(p.Injections) {
		failure = fmt.Errorf("phase %q: injection failed (fail-fast)", p.Name)
	}

	// 適用
	if failure == nil {
		if p.Parallel {
			r.openParallel(ctx, p.Name, queue, &pr)
		} else {
			r.openSequential(ctx, p.Name, queue, &pr)
		}
		if ctx.Err() == nil && e.config.FailFast && pr.Count(OutcomeApplyFailed) > 0 {
			failure = fmt.Errorf("phase %q: injection failed (fail-fast)", p.Name)
		}
	}

	// 全ての注入が開いてから継続時間を数える
	outcome := phaseOK
	switch {
	case ctx.Err() != nil:
		outcome = phaseCancelled
	case failure != nil:
		outcome = phaseFailed
		r.result.Error = failure.Error()
		logger.Error("", "%v", failure)
	default:
		if !sleep(ctx, p.Duration) {
			outcome = phaseCancelled
		}
	}

	// 復元
	if outcome == phaseCancelled {
		_, _ = r.registry.CloseAllImmediate(ctx)
	} else {
		_, _ = r.registry.CloseAll(context.WithoutCancel(ctx), p.Name)
	}
	applyCleanup(&pr, r.registry.Snapshot())

	r.sampler.SetPhase("")
	samples := r.sampler.PhaseSamples(p.Name)
	pr.Stats = metrics.Aggregate(samples)
	pr.SLOs, pr.SLOViolations = metrics.EvaluateSLOs(r.scenario.SLOs, samples)
	pr.Samples = len(samples)
	pr.Gaps = r.sampler.Gaps(p.Name)
	pr.EndTime = time.Now()

	switch outcome {
	case phaseCancelled:
		pr.State = PhaseCancelled
	case phaseFailed:
		pr.State = PhaseFailed
	default:
		pr.State = PhaseCompleted
	}

	e.setPhase("", idx)
	e.publishEvent(events.NewPhaseCompletedEvent(p.Name, idx))
	logger.Info("", "--- Phase '%s' %s in %v (%d succeeded, %d failed) ---",
		p.Name, pr.State, pr.Duration().Round(time.Millisecond),
		pr.Count(OutcomeSucceeded), pr.Count(OutcomeApplyFailed)+pr.Count(OutcomeCleanupFailed))
	return pr, outcome
}

// prepare は Injector を選び、ターゲットを解決する
func (r *run) prepare(ctx context.Context, j int, spec InjectionSpec) (pending, error) {
	inj, ok := r.engine.injectors.Lookup(spec.Kind)
	if !ok {
		return pending{}, errs.Unsupported(spec.Kind.String(), nil, "no injector registered")
	}

	var t *target.Resolved
	if spec.Target == "" {
		t = &target.Resolved{Spec: target.Spec{ID: metrics.HostTargetID}}
	} else {
		ts, _ := r.scenario.Target(spec.Target)
		res, err := r.engine.resolver.Resolve(ctx, ts)
		if err != nil {
			if !errors.Is(err, errs.ErrTargetResolution) && !errors.Is(err, errs.ErrPlatformUnsupported) {
				err = errs.Resolution(ts.ID, err, "resolve %s", ts.Kind)
			}
			return pending{}, err
		}
		t = res
	}
	return pending{index: j, injector: inj, target: t, params: spec.Params}, nil
}

func (r *run) open(ctx context.Context, phase string, pend pending, out *InjectionOutcome) error {
	h, err := r.registry.Open(ctx, phase, registry.Request{
		Injector: pend.injector,
		Target:   pend.target,
		Params:   pend.params,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			out.Status = OutcomeSkipped
		} else {
			recordFailure(out, err)
		}
		return err
	}
	info := r.registry.Info(h)
	out.HandleID = h.ID
	out.Variant = info.Variant
	out.Metadata = info.Metadata
	out.Status = OutcomeActive
	return nil
}

// openSequential は宣言順に1つずつ適用する
func (r *run) openSequential(ctx context.Context, phase string, queue []pending, pr *PhaseResult) {
	for i, pend := range queue {
		if ctx.Err() != nil {
			markSkipped(pr, queue[i:])
			return
		}
		err := r.open(ctx, phase, pend, &pr.Injections[pend.index])
		if err != nil && r.engine.config.FailFast {
			markSkipped(pr, queue[i+1:])
			return
		}
	}
}

// openParallel は全ての注入を並行に適用し、全ての完了を待つ
func (r *run) openParallel(ctx context.Context, phase string, queue []pending, pr *PhaseResult) {
	g, gctx := errgroup.WithContext(ctx)
	for _, pend := range queue {
		g.Go(func() error {
			err := r.open(gctx, phase, pend, &pr.Injections[pend.index])
			if r.engine.config.FailFast {
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
}

func markSkipped(pr *PhaseResult, rest []pending) {
	for _, pend := range rest {
		out := &pr.Injections[pend.index]
		out.Status = OutcomeSkipped
	}
}

func recordFailure(out *InjectionOutcome, err error) {
	out.Status = OutcomeApplyFailed
	out.ErrorKind = errs.KindName(err)
	out.Error = err.Error()
}

// applyCleanup は復元結果を注入の結果に反映する
func applyCleanup(pr *PhaseResult, handles []registry.HandleInfo) {
	byID := make(map[string]registry.HandleInfo, len(handles))
	for _, h := range handles {
		byID[h.ID] = h
	}
	for j := range pr.Injections {
		out := &pr.Injections[j]
		if out.Status != OutcomeActive {
			continue
		}
		h, ok := byID[out.HandleID]
		if !ok {
			continue
		}
		out.Metadata = h.Metadata
		switch h.State {
		case registry.StateCleaned.String():
			out.Status = OutcomeSucceeded
		case registry.StateLeaked.String():
			out.Status = OutcomeCleanupFailed
			out.ErrorKind = errs.KindName(errs.ErrCleanup)
			out.Error = h.Error
		}
	}
}

func injectionTargetID(spec InjectionSpec) string {
	if spec.Target == "" {
		return metrics.HostTargetID
	}
	return spec.Target
}

// sleep は d だけ待つ。ctx がキャンセルされたら false を返す。
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
