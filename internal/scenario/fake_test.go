package scenario

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chaos-runner/internal/chaos"
	"chaos-runner/internal/metrics"
	"chaos-runner/internal/target"
)

// world は fake Injector の適用状態を共有する
type world struct {
	mu       sync.Mutex
	log      []string
	active   map[string]bool
	applied  []time.Time
	reverted []time.Time

	barrierN int
	entered  int
	barrier  chan struct{}
}

func newWorld() *world {
	return &world{active: make(map[string]bool), barrier: make(chan struct{})}
}

// waitAll は barrierN 個の Apply が同時に入るまで待つ
func (w *world) waitAll(ctx context.Context) error {
	w.mu.Lock()
	if w.barrierN == 0 {
		w.mu.Unlock()
		return nil
	}
	w.entered++
	if w.entered == w.barrierN {
		close(w.barrier)
	}
	w.mu.Unlock()

	select {
	case <-w.barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
		return errors.New("applies did not overlap")
	}
}

func (w *world) Log() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.log...)
}

func (w *world) ActiveCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.active)
}

// cpuProbe は障害が1つでも有効なら 80、そうでなければ 5 を返すプローブ
func (w *world) cpuProbe() metrics.Probe {
	return metrics.ProbeFunc{
		ID: metrics.HostTargetID,
		Fn: func(context.Context) ([]metrics.Reading, error) {
			v := 5.0
			if w.ActiveCount() > 0 {
				v = 80
			}
			return []metrics.Reading{{Metric: metrics.MetricCPUPercent, Value: v}}, nil
		},
	}
}

// latencyProbe は障害が有効なら 250ms、そうでなければ 10ms を返すプローブ
func (w *world) latencyProbe(targetID string) metrics.Probe {
	return metrics.ProbeFunc{
		ID: targetID,
		Fn: func(context.Context) ([]metrics.Reading, error) {
			v := 10.0
			if w.ActiveCount() > 0 {
				v = 250
			}
			return []metrics.Reading{{Metric: metrics.MetricLatencyMs, Value: v}}, nil
		},
	}
}

type fakeInjector struct {
	kind      chaos.Kind
	w         *world
	applyErr  error
	revertErr error
}

func (f *fakeInjector) Describe() chaos.Descriptor {
	return chaos.Descriptor{Kind: f.kind, Name: f.kind.String(), Variant: "fake"}
}

func (f *fakeInjector) Apply(ctx context.Context, t *target.Resolved, _ chaos.Params) (*chaos.Effect, error) {
	if err := f.w.waitAll(ctx); err != nil {
		return nil, err
	}
	if f.applyErr != nil {
		return nil, f.applyErr
	}

	key := fmt.Sprintf("%s %s", f.kind, t.ID)
	f.w.mu.Lock()
	f.w.log = append(f.w.log, "apply "+key)
	f.w.active[key] = true
	f.w.applied = append(f.w.applied, time.Now())
	f.w.mu.Unlock()

	e := chaos.NewEffect(f.kind, t.ID, "fake", func(context.Context) error {
		if f.revertErr != nil {
			return f.revertErr
		}
		f.w.mu.Lock()
		defer f.w.mu.Unlock()
		f.w.log = append(f.w.log, "revert "+key)
		delete(f.w.active, key)
		f.w.reverted = append(f.w.reverted, time.Now())
		return nil
	})
	e.Set("key", key)
	return e, nil
}

func (f *fakeInjector) Revert(ctx context.Context, e *chaos.Effect) error {
	if e == nil {
		return nil
	}
	return e.Revert(ctx)
}

// fakeCatalog は全ての障害種類に fakeInjector を登録した Injectors
type fakeCatalog map[chaos.Kind]*fakeInjector

func newFakeCatalog(w *world) fakeCatalog {
	c := make(fakeCatalog)
	for _, k := range chaos.AllKinds() {
		c[k] = &fakeInjector{kind: k, w: w}
	}
	return c
}

func (c fakeCatalog) Lookup(k chaos.Kind) (chaos.Injector, bool) {
	inj, ok := c[k]
	return inj, ok
}

// fakeResolver は登録されたエラーを返し、それ以外は Descriptor をそのまま使う
type fakeResolver struct {
	errs map[string]error
}

func (r *fakeResolver) Resolve(_ context.Context, spec target.Spec) (*target.Resolved, error) {
	if err := r.errs[spec.ID]; err != nil {
		return nil, err
	}
	res := &target.Resolved{Spec: spec}
	if spec.Kind == target.KindNetworkInterface {
		res.Interface = spec.Descriptor
	} else {
		res.PID = 4242
		res.Name = spec.Descriptor
	}
	return res, nil
}

func testConfig() Config {
	config := DefaultConfig()
	config.SampleInterval = 10 * time.Millisecond
	config.CleanupTimeout = time.Second
	return config
}

func newTestEngine(config Config, w *world, cat fakeCatalog) *Engine {
	e := New(config)
	e.SetInjectors(cat)
	e.SetResolver(&fakeResolver{errs: map[string]error{}})
	e.SetProbes(w.cpuProbe())
	return e
}

func cpuInjection() InjectionSpec {
	params := chaos.DefaultParams(chaos.KindCPUStarvation)
	params.Intensity = 0.5
	return InjectionSpec{Kind: chaos.KindCPUStarvation, Params: params}
}

func hostInjection(k chaos.Kind) InjectionSpec {
	return InjectionSpec{Kind: k, Params: chaos.DefaultParams(k)}
}
