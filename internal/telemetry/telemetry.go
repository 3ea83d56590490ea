package telemetry

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chaos-runner/internal/events"
	"chaos-runner/internal/logger"
)

const namespace = "chaos_runner"

// Collector はイベントバスのイベントを Prometheus のメトリクスに変換する
type Collector struct {
	registry *prometheus.Registry

	injections *prometheus.CounterVec
	closed     *prometheus.CounterVec
	leaked     prometheus.Gauge
	phaseIndex prometheus.Gauge
	phase      *prometheus.GaugeVec
	scenarios  *prometheus.CounterVec

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	bus     *events.Bus
	ch      <-chan events.Event

	mu          sync.Mutex
	activePhase string
}

// New は専用のレジストリを持つ Collector を作成する
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		injections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "injections_total",
				Help:      "Injections by kind and outcome (applied or failed)",
			},
			[]string{"kind", "outcome"},
		),
		closed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handles_closed_total",
				Help:      "Closed handles by kind and final state (cleaned or leaked)",
			},
			[]string{"kind", "state"},
		),
		leaked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leaked_handles",
			Help:      "Handles whose revert failed; the fault may still be active",
		}),
		phaseIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_index",
			Help:      "Index of the running phase, -1 when no phase is running",
		}),
		phase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "phase_running",
				Help:      "1 for the phase that is currently running",
			},
			[]string{"phase"},
		),
		scenarios: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scenarios_total",
				Help:      "Finished scenarios by terminal status",
			},
			[]string{"status"},
		),
	}
	c.phaseIndex.Set(-1)

	c.registry.MustRegister(
		c.injections,
		c.closed,
		c.leaked,
		c.phaseIndex,
		c.phase,
		c.scenarios,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// GaugeFunc は呼び出し時に値を読むゲージを登録する
func (c *Collector) GaugeFunc(name, help string, fn func() float64) error {
	return c.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
		fn,
	))
}

// Registry はレジストリを返す
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler は /metrics 用の HTTP ハンドラを返す
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Start は bus を購読してメトリクスを更新する
func (c *Collector) Start(ctx context.Context, bus *events.Bus) {
	if c.running.Swap(true) {
		return
	}

	var cctx context.Context
	cctx, c.cancel = context.WithCancel(ctx)
	c.bus = bus
	c.ch = bus.Subscribe()

	c.wg.Add(1)
	go c.loop(cctx, c.ch)
}

// Stop は購読を終了する
func (c *Collector) Stop() {
	if !c.running.Swap(false) {
		return
	}
	c.cancel()
	c.wg.Wait()
	c.bus.Unsubscribe(c.ch)
}

func (c *Collector) loop(ctx context.Context, ch <-chan events.Event) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(ev)
		}
	}
}

// Observe は1つのイベントをメトリクスに反映する
func (c *Collector) Observe(ev events.Event) {
	switch ev.Type {
	case events.EventInjectionApplied:
		c.injections.WithLabelValues(ev.Data.Kind, "applied").Inc()
	case events.EventInjectionFailed:
		c.injections.WithLabelValues(ev.Data.Kind, "failed").Inc()
	case events.EventHandleCleaned:
		c.closed.WithLabelValues(ev.Data.Kind, "cleaned").Inc()
	case events.EventHandleLeaked:
		c.closed.WithLabelValues(ev.Data.Kind, "leaked").Inc()
		c.leaked.Inc()
	case events.EventPhaseStarted:
		c.setPhase(ev.Phase, ev.Data.PhaseIndex)
	case events.EventPhaseCompleted:
		c.setPhase("", -1)
	case events.EventScenarioFinished:
		c.setPhase("", -1)
		c.scenarios.WithLabelValues(ev.Data.Status).Inc()
	case events.EventScenarioStarted:
	default:
		logger.Debug("", "telemetry: ignoring event %s", ev.Type)
	}
}

func (c *Collector) setPhase(name string, index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activePhase != "" {
		c.phase.WithLabelValues(c.activePhase).Set(0)
	}
	c.activePhase = name
	if name != "" {
		c.phase.WithLabelValues(name).Set(1)
	}
	c.phaseIndex.Set(float64(index))
}
