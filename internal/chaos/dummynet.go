package chaos

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"chaos-runner/internal/command"
	"chaos-runner/internal/logger"
)

// pf のアンカー名
const (
	shapeAnchor = "chaos-runner/shape"
	resetAnchor = "chaos-runner/reset"
)

var pfTokenPattern = regexp.MustCompile(`Token\s*:\s*(\d+)`)

// dummynetBackend は macOS の dnctl と pfctl を使う。
// インターフェースごとに1つのパイプを割り当て、アンカーのルールは毎回全体を再読み込みする。
// アンカーと pf トークンはホスト全体で共有されるため、全操作を mu で直列化する。
type dummynetBackend struct {
	runner command.Runner

	mu       sync.Mutex
	nextPipe int
	pipes    map[string]int // interface -> pipe 番号
	resets   map[string]int // ルール -> 参照数
	token    string         // pfctl -E の参照トークン
}

func newDummynetBackend(r command.Runner) *dummynetBackend {
	return &dummynetBackend{
		runner:   r,
		nextPipe: 1,
		pipes:    make(map[string]int),
		resets:   make(map[string]int),
	}
}

func (b *dummynetBackend) variant() string { return "dummynet" }

// pipeArgs は dnctl pipe config の引数を組み立てる。
// dummynet はジッターをサポートしないため遅延のみ設定する。
func pipeArgs(pipe int, s shaping) []string {
	args := []string{"pipe", strconv.Itoa(pipe), "config"}
	if s.hasDelay() {
		args = append(args, "delay", strconv.FormatInt(s.Delay.Milliseconds(), 10))
	}
	if s.hasLoss() {
		args = append(args, "plr", strconv.FormatFloat(s.Loss, 'f', -1, 64))
	}
	return args
}

// enablePF は pf を有効化し、参照トークンを保持する
func (b *dummynetBackend) enablePF(ctx context.Context) error {
	if b.token != "" {
		return nil
	}
	res, err := command.RunChecked(ctx, b.runner, command.Command{Binary: "pfctl", Arguments: []string{"-E"}})
	if err != nil {
		return err
	}
	if m := pfTokenPattern.FindStringSubmatch(res.Stderr + res.Stdout); m != nil {
		b.token = m[1]
	}
	return nil
}

// releasePF はシェーピングもリセットも無くなったらトークンを返却する
func (b *dummynetBackend) releasePF(ctx context.Context) error {
	if b.token == "" || len(b.pipes) > 0 || len(b.resets) > 0 {
		return nil
	}
	_, err := command.RunChecked(ctx, b.runner, command.Command{Binary: "pfctl", Arguments: []string{"-X", b.token}})
	if err != nil {
		return err
	}
	b.token = ""
	return nil
}

// loadAnchor はアンカーのルールを置き換える。ルールが空ならフラッシュする。
func (b *dummynetBackend) loadAnchor(ctx context.Context, anchor string, rules []string) error {
	if len(rules) == 0 {
		_, err := command.RunChecked(ctx, b.runner, command.Command{
			Binary:    "pfctl",
			Arguments: []string{"-a", anchor, "-F", "rules"},
		})
		return err
	}
	sort.Strings(rules)
	_, err := command.RunChecked(ctx, b.runner, command.Command{
		Binary:    "pfctl",
		Arguments: []string{"-a", anchor, "-f", "-"},
		Stdin:     strings.Join(rules, "\n") + "\n",
	})
	return err
}

func (b *dummynetBackend) shapeRules() []string {
	rules := make([]string, 0, len(b.pipes))
	for iface, pipe := range b.pipes {
		rules = append(rules, fmt.Sprintf("dummynet out quick on %s all pipe %d", iface, pipe))
	}
	return rules
}

func (b *dummynetBackend) applyShaping(ctx context.Context, iface string, s shaping) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pipe, existed := b.pipes[iface]
	if !existed {
		pipe = b.nextPipe
	}

	cmd := command.Command{Binary: "dnctl", Arguments: pipeArgs(pipe, s)}
	if _, err := command.RunChecked(ctx, b.runner, cmd); err != nil {
		return nil, err
	}

	meta := map[string]string{"command": cmd.String(), "pipe": strconv.Itoa(pipe)}
	if s.Jitter > 0 {
		meta["jitter"] = "unsupported"
	}
	if existed {
		return meta, nil
	}

	b.pipes[iface] = pipe
	if err := b.loadAnchor(ctx, shapeAnchor, b.shapeRules()); err != nil {
		delete(b.pipes, iface)
		b.deletePipe(ctx, pipe)
		return nil, err
	}
	if err := b.enablePF(ctx); err != nil {
		delete(b.pipes, iface)
		_ = b.loadAnchor(ctx, shapeAnchor, b.shapeRules())
		b.deletePipe(ctx, pipe)
		return nil, err
	}
	b.nextPipe++
	return meta, nil
}

func (b *dummynetBackend) deletePipe(ctx context.Context, pipe int) {
	if _, err := command.RunChecked(ctx, b.runner, command.Command{
		Binary:    "dnctl",
		Arguments: []string{"pipe", strconv.Itoa(pipe), "delete"},
	}); err != nil {
		logger.Warn("", "failed to delete dummynet pipe %d: %v", pipe, err)
	}
}

func (b *dummynetBackend) clearShaping(ctx context.Context, iface string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pipe, ok := b.pipes[iface]
	if !ok {
		return nil
	}

	delete(b.pipes, iface)
	if err := b.loadAnchor(ctx, shapeAnchor, b.shapeRules()); err != nil {
		b.pipes[iface] = pipe
		return err
	}
	if _, err := command.RunChecked(ctx, b.runner, command.Command{
		Binary:    "dnctl",
		Arguments: []string{"pipe", strconv.Itoa(pipe), "delete"},
	}); alreadyRemoved(iface, err) != nil {
		return err
	}
	return b.releasePF(ctx)
}

func resetPFRule(iface string, port int) string {
	return fmt.Sprintf("block return-rst out quick on %s proto tcp to any port %d", iface, port)
}

func (b *dummynetBackend) resetRules() []string {
	rules := make([]string, 0, len(b.resets))
	for r := range b.resets {
		rules = append(rules, r)
	}
	return rules
}

func (b *dummynetBackend) addReset(ctx context.Context, iface string, port int) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rule := resetPFRule(iface, port)
	b.resets[rule]++
	if b.resets[rule] > 1 {
		return map[string]string{"rule": rule}, nil
	}

	if err := b.loadAnchor(ctx, resetAnchor, b.resetRules()); err != nil {
		delete(b.resets, rule)
		return nil, err
	}
	if err := b.enablePF(ctx); err != nil {
		delete(b.resets, rule)
		_ = b.loadAnchor(ctx, resetAnchor, b.resetRules())
		return nil, err
	}
	return map[string]string{"rule": rule, "anchor": resetAnchor}, nil
}

func (b *dummynetBackend) removeReset(ctx context.Context, iface string, port int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rule := resetPFRule(iface, port)
	n, ok := b.resets[rule]
	if !ok {
		return nil
	}
	if n > 1 {
		b.resets[rule] = n - 1
		return nil
	}

	delete(b.resets, rule)
	if err := b.loadAnchor(ctx, resetAnchor, b.resetRules()); err != nil {
		b.resets[rule] = n
		return err
	}
	return b.releasePF(ctx)
}
