package chaos

import (
	"context"
	"runtime"
	"strconv"
	"sync"
	"time"

	"chaos-runner/internal/logger"
	"chaos-runner/internal/target"
)

// cpuInjector はデューティ比 intensity でビジーループするワーカーを起動する
type cpuInjector struct {
	base
}

func newCPUInjector() *cpuInjector {
	return &cpuInjector{base: base{desc: Descriptor{
		Kind:        KindCPUStarvation,
		Name:        KindCPUStarvation.String(),
		Variant:     "busy-loop",
		Platforms:   allPlatforms,
		Description: "spins worker goroutines at a duty cycle equal to intensity",
	}}}
}

func (i *cpuInjector) Apply(ctx context.Context, t *target.Resolved, p Params) (*Effect, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	period := p.Period
	if period <= 0 {
		period = DefaultCPUPeriod
	}
	busy := time.Duration(float64(period) * p.Intensity)
	idle := period - busy
	workers := p.workers()

	burnCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	if busy > 0 {
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				burn(burnCtx, busy, idle)
			}()
		}
	}

	e := NewEffect(KindCPUStarvation, targetID(t), i.desc.Variant, func(context.Context) error {
		cancel()
		wg.Wait()
		return nil
	})
	e.Set("workers", strconv.Itoa(workers))
	e.Set("intensity", strconv.FormatFloat(p.Intensity, 'f', -1, 64))
	e.Set("period", period.String())

	logger.Warn(targetID(t), "cpu_starvation applied (%s)", p.Summary(KindCPUStarvation))
	return e, nil
}

// burn は busy の間ループし、idle の間スリープすることを繰り返す
func burn(ctx context.Context, busy, idle time.Duration) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var timer *time.Timer
	if idle > 0 {
		timer = time.NewTimer(idle)
		defer timer.Stop()
	}

	for {
		deadline := time.Now().Add(busy)
		for time.Now().Before(deadline) {
		}

		if idle <= 0 {
			select {
			case <-ctx.Done():
				return
			default:
			}
			continue
		}

		timer.Reset(idle)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}
