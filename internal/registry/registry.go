package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chaos-runner/internal/chaos"
	"chaos-runner/internal/errs"
	"chaos-runner/internal/events"
	"chaos-runner/internal/logger"
	"chaos-runner/internal/target"
)

// State はハンドルの状態
type State int

const (
	StateActive State = iota
	StateCleaning
	StateCleaned
	StateLeaked
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCleaning:
		return "cleaning"
	case StateCleaned:
		return "cleaned"
	case StateLeaked:
		return "leaked"
	default:
		return "unknown"
	}
}

// Config はレジストリの設定
type Config struct {
	CleanupTimeout time.Duration // 1ハンドルあたりの復元タイムアウト
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		CleanupTimeout: 30 * time.Second,
	}
}

// Request は1つの注入の要求
type Request struct {
	Injector chaos.Injector
	Target   *target.Resolved
	Params   chaos.Params
}

// Handle は適用中の障害の記録
type Handle struct {
	ID       string
	Seq      uint64
	Kind     chaos.Kind
	TargetID string
	Class    string
	Phase    string
	Created  time.Time

	injector chaos.Injector
	effect   *chaos.Effect

	// 以下は Registry.mu で保護される
	state    State
	closedAt time.Time
	err      error
}

// HandleInfo はハンドルのスナップショット
type HandleInfo struct {
	ID       string            `json:"id"`
	Kind     string            `json:"kind"`
	TargetID string            `json:"target_id"`
	Phase    string            `json:"phase"`
	Variant  string            `json:"variant"`
	State    string            `json:"state"`
	Created  time.Time         `json:"created"`
	Closed   time.Time         `json:"closed,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Registry は有効な障害を管理する唯一の場所
type Registry struct {
	config   Config
	eventBus *events.Bus

	mu      sync.Mutex
	seq     uint64
	handles []*Handle // 作成順
	locks   map[string]chan struct{}
}

// New は新しいレジストリを作成する
func New(config Config) *Registry {
	if config.CleanupTimeout <= 0 {
		config.CleanupTimeout = DefaultConfig().CleanupTimeout
	}
	return &Registry{
		config: config,
		locks:  make(map[string]chan struct{}),
	}
}

// SetEventBus はイベントバスを設定する
func (r *Registry) SetEventBus(bus *events.Bus) {
	r.eventBus = bus
}

// publishEvent はイベントを発行する
func (r *Registry) publishEvent(event events.Event) {
	if r.eventBus != nil {
		r.eventBus.Publish(event)
	}
}

func lockKey(targetID, class string) string {
	return targetID + "/" + class
}

// acquire は (target, class) ごとのクリティカルセクションに入る
func (r *Registry) acquire(ctx context.Context, key string) (func(), error) {
	r.mu.Lock()
	ch, ok := r.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		r.locks[key] = ch
	}
	r.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Open は Injector の Apply を呼び、成功したらハンドルを Active として登録する。
// 同じ (target, resource class) への Open と Close は直列化される。
func (r *Registry) Open(ctx context.Context, phase string, req Request) (*Handle, error) {
	desc := req.Injector.Describe()
	kind := desc.Kind
	targetID := ""
	if req.Target != nil {
		targetID = req.Target.ID
	}
	class := kind.ResourceClass()

	release, err := r.acquire(ctx, lockKey(targetID, class))
	if err != nil {
		return nil, err
	}
	defer release()

	effect, err := req.Injector.Apply(ctx, req.Target, req.Params)
	if err != nil {
		logger.Warn(targetID, "%s apply failed: %v", kind, err)
		r.publishEvent(events.NewInjectionFailedEvent(phase, targetID, kind.String(), errs.KindName(err), err))
		return nil, err
	}

	r.mu.Lock()
	r.seq++
	h := &Handle{
		ID:       fmt.Sprintf("%s/%s#%d", kind, targetID, r.seq),
		Seq:      r.seq,
		Kind:     kind,
		TargetID: targetID,
		Class:    class,
		Phase:    phase,
		Created:  time.Now(),
		injector: req.Injector,
		effect:   effect,
		state:    StateActive,
	}
	r.handles = append(r.handles, h)
	r.mu.Unlock()

	logger.Info(targetID, "handle %s active (%s)", h.ID, effect.Variant)
	r.publishEvent(events.NewInjectionAppliedEvent(phase, targetID, kind.String(), effect.Variant, h.ID))
	return h, nil
}

// collect は条件に一致する Active なハンドルを作成の逆順で返し、Cleaning にする
func (r *Registry) collect(match func(*Handle) bool) []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Handle
	for i := len(r.handles) - 1; i >= 0; i-- {
		h := r.handles[i]
		if h.state == StateActive && match(h) {
			h.state = StateCleaning
			out = append(out, h)
		}
	}
	return out
}

// CloseAll はフェーズで作成された全ての Active なハンドルを作成の逆順に復元する。
// 復元に失敗したハンドルは Leaked になり、残りのハンドルの復元は継続する。
func (r *Registry) CloseAll(ctx context.Context, phase string) ([]HandleInfo, error) {
	handles := r.collect(func(h *Handle) bool { return h.Phase == phase })
	return r.closeHandles(ctx, handles)
}

// CloseAllImmediate はキャンセル時に使う。フェーズに関係なく全ての Active なハンドルを
// 作成の逆順に復元する。ctx がキャンセル済みでも復元は CleanupTimeout まで実行される。
func (r *Registry) CloseAllImmediate(ctx context.Context) ([]HandleInfo, error) {
	handles := r.collect(func(*Handle) bool { return true })
	return r.closeHandles(context.WithoutCancel(ctx), handles)
}

func (r *Registry) closeHandles(ctx context.Context, handles []*Handle) ([]HandleInfo, error) {
	var (
		infos    []HandleInfo
		failures []error
	)
	for _, h := range handles {
		if err := r.close(ctx, h); err != nil {
			failures = append(failures, err)
		}
		infos = append(infos, r.info(h))
	}
	return infos, errs.Combine(failures...)
}

func (r *Registry) close(ctx context.Context, h *Handle) error {
	cctx, cancel := context.WithTimeout(ctx, r.config.CleanupTimeout)
	defer cancel()

	var err error
	release, lockErr := r.acquire(cctx, lockKey(h.TargetID, h.Class))
	if lockErr != nil {
		err = lockErr
	} else {
		err = h.injector.Revert(cctx, h.effect)
		release()
	}

	r.mu.Lock()
	h.closedAt = time.Now()
	if err != nil {
		h.state = StateLeaked
		h.err = errs.Cleanup(h.ID, err)
		err = h.err
	} else {
		h.state = StateCleaned
	}
	r.mu.Unlock()

	if err != nil {
		logger.Error(h.TargetID, "LEAKED handle %s: %v (fault may still be active on this host)", h.ID, err)
		r.publishEvent(events.NewHandleLeakedEvent(h.Phase, h.TargetID, h.Kind.String(), h.ID, err))
		return err
	}

	logger.Info(h.TargetID, "handle %s cleaned", h.ID)
	r.publishEvent(events.NewHandleCleanedEvent(h.Phase, h.TargetID, h.Kind.String(), h.ID))
	return nil
}

func (r *Registry) info(h *Handle) HandleInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.infoLocked(h)
}

func (r *Registry) infoLocked(h *Handle) HandleInfo {
	info := HandleInfo{
		ID:       h.ID,
		Kind:     h.Kind.String(),
		TargetID: h.TargetID,
		Phase:    h.Phase,
		State:    h.state.String(),
		Created:  h.Created,
		Closed:   h.closedAt,
	}
	if h.effect != nil {
		info.Variant = h.effect.Variant
		info.Metadata = h.effect.Metadata()
	}
	if h.err != nil {
		info.Error = h.err.Error()
	}
	return info
}

// State はハンドルの現在の状態を返す
func (r *Registry) State(h *Handle) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return h.state
}

// Info はハンドルのスナップショットを返す
func (r *Registry) Info(h *Handle) HandleInfo {
	return r.info(h)
}

// Snapshot は全ハンドルのスナップショットを作成順に返す
func (r *Registry) Snapshot() []HandleInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]HandleInfo, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, r.infoLocked(h))
	}
	return out
}

// Count は状態ごとのハンドル数を返す
func (r *Registry) Count(state State) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, h := range r.handles {
		if h.state == state {
			n++
		}
	}
	return n
}

// Leaked は Leaked になったハンドルを返す
func (r *Registry) Leaked() []HandleInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []HandleInfo
	for _, h := range r.handles {
		if h.state == StateLeaked {
			out = append(out, r.infoLocked(h))
		}
	}
	return out
}
