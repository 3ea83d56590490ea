package chaos

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"

	"chaos-runner/internal/hostinfo"
	"chaos-runner/internal/logger"
	"chaos-runner/internal/target"
)

// defaultChunkSize は1回に確保するメモリ量
const defaultChunkSize = 64 << 20

// memoryInjector はシステムメモリ使用率が target_usage に達するまでメモリを確保する
type memoryInjector struct {
	base
	reader    hostinfo.Reader
	limit     uint64 // 確保量の上限（0 で無制限）
	chunkSize int
}

func newMemoryInjector(r hostinfo.Reader, limit uint64) *memoryInjector {
	return &memoryInjector{
		base: base{desc: Descriptor{
			Kind:        KindMemoryPressure,
			Name:        KindMemoryPressure.String(),
			Variant:     "allocate",
			Platforms:   allPlatforms,
			Description: "allocates and retains memory until system usage reaches target_usage",
		}},
		reader:    r,
		limit:     limit,
		chunkSize: defaultChunkSize,
	}
}

// plan は確保すべきバイト数を返す
func (i *memoryInjector) plan(m hostinfo.Memory, targetUsage float64) uint64 {
	if !(targetUsage > 0 && targetUsage <= 1) {
		return 0
	}
	want := uint64(float64(m.Total) * targetUsage)
	used := m.Used()
	if want <= used {
		return 0
	}
	n := want - used
	if i.limit > 0 && n > i.limit {
		n = i.limit
	}
	return n
}

func (i *memoryInjector) Apply(ctx context.Context, t *target.Resolved, p Params) (*Effect, error) {
	mem, err := i.reader.Memory()
	if err != nil {
		return nil, err
	}

	total := i.plan(mem, p.TargetUsage)
	var chunks [][]byte
	var allocated uint64
	for allocated < total {
		if err := ctx.Err(); err != nil {
			chunks = nil
			debug.FreeOSMemory()
			return nil, err
		}
		size := uint64(i.chunkSize)
		if rest := total - allocated; rest < size {
			size = rest
		}
		chunk := make([]byte, size)
		touch(chunk)
		chunks = append(chunks, chunk)
		allocated += size
	}

	e := NewEffect(KindMemoryPressure, targetID(t), i.desc.Variant, func(context.Context) error {
		runtime.KeepAlive(chunks)
		chunks = nil
		debug.FreeOSMemory()
		return nil
	})
	e.Set("allocated_bytes", strconv.FormatUint(allocated, 10))
	e.Set("baseline_used_bytes", strconv.FormatUint(mem.Used(), 10))
	e.Set("target_usage", strconv.FormatFloat(p.TargetUsage, 'f', -1, 64))

	logger.Warn(targetID(t), "memory_pressure applied (%d bytes, %s)", allocated, p.Summary(KindMemoryPressure))
	return e, nil
}

// touch は常駐メモリにするため各ページに書き込む
func touch(b []byte) {
	for i := 0; i < len(b); i += 4096 {
		b[i] = 1
	}
}
