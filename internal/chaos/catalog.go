package chaos

import (
	"os"
	"sort"

	"chaos-runner/internal/chaos/simnet"
	"chaos-runner/internal/command"
	"chaos-runner/internal/hostinfo"
	"chaos-runner/internal/logger"
	"chaos-runner/internal/platform"
)

// CatalogOptions は Catalog の構築オプション
type CatalogOptions struct {
	Runner      command.Runner
	Host        platform.Host
	NetworkMode platform.NetworkMode
	Memory      hostinfo.Reader
	MemoryCap   uint64 // memory_pressure の確保上限（0 で無制限）
	ScratchDir  string // disk_slow のスクラッチファイル置き場（空なら一時ディレクトリ）
	Sim         *simnet.Table
	Launch      Launcher

	processControl processControl
}

// Catalog は障害種類ごとに、このホストで使う Injector を保持する
type Catalog struct {
	injectors map[Kind]Injector
	backend   platform.Backend
	sim       *simnet.Table
}

// NewCatalog はホストに合わせて Injector を選択する
func NewCatalog(opts CatalogOptions) *Catalog {
	if opts.Runner == nil {
		opts.Runner = command.NewExec(command.DefaultConfig())
	}
	if opts.Memory == nil {
		opts.Memory = hostinfo.NewReader()
	}
	if opts.Sim == nil {
		opts.Sim = simnet.NewTable()
	}
	if opts.Launch == nil {
		opts.Launch = command.Launch
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	if opts.processControl == nil {
		opts.processControl = newProcessControl(opts.Runner)
	}

	c := &Catalog{
		injectors: make(map[Kind]Injector),
		sim:       opts.Sim,
	}

	backend, err := opts.Host.NetworkBackend(opts.NetworkMode)
	var net network
	switch {
	case err != nil:
		net = unavailableNetwork{err: err}
		logger.Warn("", "network injectors unavailable: %v", err)
	case backend == platform.BackendNetem:
		net = newKernelNetwork(&netemBackend{runner: opts.Runner})
	case backend == platform.BackendDummynet:
		net = newKernelNetwork(newDummynetBackend(opts.Runner))
	default:
		net = &simulatedNetwork{table: opts.Sim}
	}
	c.backend = backend

	for _, k := range []Kind{KindNetworkLatency, KindPacketLoss, KindTCPReset} {
		c.injectors[k] = newNetworkInjector(k, net, err == nil && backend.RequiresPrivilege())
	}
	c.injectors[KindCPUStarvation] = newCPUInjector()
	c.injectors[KindMemoryPressure] = newMemoryInjector(opts.Memory, opts.MemoryCap)
	c.injectors[KindDiskSlow] = newDiskInjector(opts.ScratchDir)
	c.injectors[KindProcessKill] = newProcessKillInjector(opts.processControl, opts.Launch)

	logger.Debug("", "injector catalog ready (os=%s, network=%s)", opts.Host.OS, net.variant())
	return c
}

// Lookup は障害種類に対応する Injector を返す
func (c *Catalog) Lookup(k Kind) (Injector, bool) {
	inj, ok := c.injectors[k]
	return inj, ok
}

// Descriptors は全 Injector のメタデータを種類順に返す
func (c *Catalog) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(c.injectors))
	for _, inj := range c.injectors {
		out = append(out, inj.Describe())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// NetworkBackend は選択されたネットワークバックエンドを返す
func (c *Catalog) NetworkBackend() platform.Backend {
	return c.backend
}

// SimTable はシミュレーション障害のテーブルを返す
func (c *Catalog) SimTable() *simnet.Table {
	return c.sim
}
