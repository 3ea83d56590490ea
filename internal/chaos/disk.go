package chaos

import (
	"context"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"chaos-runner/internal/logger"
	"chaos-runner/internal/target"
)

// diskInjector はスクラッチファイルに対する同期書き込みの前に固定の遅延を挟む。
// 書き込みと fsync を繰り返すことでディスクに負荷をかけ続ける。
type diskInjector struct {
	base
	scratchDir string
}

func newDiskInjector(dir string) *diskInjector {
	return &diskInjector{
		base: base{desc: Descriptor{
			Kind:        KindDiskSlow,
			Name:        KindDiskSlow.String(),
			Variant:     "scratch-file",
			Platforms:   allPlatforms,
			Description: "delays each synchronous write+fsync against a scratch file",
		}},
		scratchDir: dir,
	}
}

func (i *diskInjector) Apply(ctx context.Context, t *target.Resolved, p Params) (*Effect, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(i.scratchDir, "chaos-disk-*.dat")
	if err != nil {
		return nil, err
	}
	path := f.Name()

	blockSize := p.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	ioCtx, cancel := context.WithCancel(context.Background())
	var (
		wg  sync.WaitGroup
		ops atomic.Uint64
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slowIO(ioCtx, f, p.Latency, blockSize, &ops)
	}()

	e := NewEffect(KindDiskSlow, targetID(t), i.desc.Variant, func(context.Context) error {
		cancel()
		wg.Wait()
		_ = f.Close()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		logger.Debug(targetID(t), "disk_slow reverted after %d ops", ops.Load())
		return nil
	})
	e.Set("scratch_file", path)
	e.Set("latency", p.Latency.String())
	e.Set("block_size", strconv.Itoa(blockSize))

	logger.Warn(targetID(t), "disk_slow applied (%s, file=%s)", p.Summary(KindDiskSlow), path)
	return e, nil
}

// slowIO は latency 待ってから1ブロック書き込み fsync することを繰り返す
func slowIO(ctx context.Context, f *os.File, latency time.Duration, blockSize int, ops *atomic.Uint64) {
	block := make([]byte, blockSize)
	var offset int64
	const maxSize = 16 << 20

	timer := time.NewTimer(latency)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := f.WriteAt(block, offset); err != nil {
			logger.Debug("", "disk_slow write failed: %v", err)
			return
		}
		if err := f.Sync(); err != nil {
			logger.Debug("", "disk_slow sync failed: %v", err)
			return
		}
		ops.Add(1)

		offset += int64(blockSize)
		if offset >= maxSize {
			offset = 0
		}
		timer.Reset(latency)
	}
}
