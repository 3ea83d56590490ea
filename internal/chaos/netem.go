package chaos

import (
	"context"
	"errors"
	"strconv"

	"chaos-runner/internal/command"
	"chaos-runner/internal/logger"
)

// netemBackend は Linux の tc netem と iptables を使う
type netemBackend struct {
	runner command.Runner
}

func (b *netemBackend) variant() string { return "netem" }

// netemArgs は tc qdisc replace の引数を組み立てる
func netemArgs(iface string, s shaping) []string {
	args := []string{"qdisc", "replace", "dev", iface, "root", "netem"}
	if s.hasDelay() {
		args = append(args, "delay", formatMillis(s.Delay))
		if s.Jitter > 0 {
			args = append(args, formatMillis(s.Jitter))
			if s.DelayCorr > 0 {
				args = append(args, formatPercent(s.DelayCorr))
			}
			args = append(args, "distribution", "normal")
		}
	}
	if s.hasLoss() {
		args = append(args, "loss", formatPercent(s.Loss))
		if s.LossCorr > 0 {
			args = append(args, formatPercent(s.LossCorr))
		}
	}
	return args
}

func (b *netemBackend) applyShaping(ctx context.Context, iface string, s shaping) (map[string]string, error) {
	cmd := command.Command{Binary: "tc", Arguments: netemArgs(iface, s)}
	if _, err := command.RunChecked(ctx, b.runner, cmd); err != nil {
		return nil, err
	}
	return map[string]string{"command": cmd.String()}, nil
}

func (b *netemBackend) clearShaping(ctx context.Context, iface string) error {
	_, err := command.RunChecked(ctx, b.runner, command.Command{
		Binary:    "tc",
		Arguments: []string{"qdisc", "del", "dev", iface, "root"},
	})
	return alreadyRemoved(iface, err)
}

// resetRule は iptables のルール指定部分（-A / -D の後ろ）を返す。
// 別のインターフェースへの操作と並行するため、呼び出し側は -w で xtables ロックを待つ。
func resetRule(iface string, port int) []string {
	return []string{
		"OUTPUT", "-o", iface,
		"-p", "tcp", "--dport", strconv.Itoa(port),
		"-j", "REJECT", "--reject-with", "tcp-reset",
	}
}

func (b *netemBackend) addReset(ctx context.Context, iface string, port int) (map[string]string, error) {
	cmd := command.Command{Binary: "iptables", Arguments: append([]string{"-w", "-A"}, resetRule(iface, port)...)}
	if _, err := command.RunChecked(ctx, b.runner, cmd); err != nil {
		return nil, err
	}
	return map[string]string{"command": cmd.String()}, nil
}

// removeReset は -A で追加したルールを1つだけ削除する
func (b *netemBackend) removeReset(ctx context.Context, iface string, port int) error {
	_, err := command.RunChecked(ctx, b.runner, command.Command{
		Binary:    "iptables",
		Arguments: append([]string{"-w", "-D"}, resetRule(iface, port)...),
	})
	return alreadyRemoved(iface, err)
}

// alreadyRemoved は削除対象が既に無いエラーを成功として扱う
func alreadyRemoved(iface string, err error) error {
	if errors.Is(err, command.ErrNothingToRemove) {
		logger.Debug("", "%s: nothing left to remove: %v", iface, err)
		return nil
	}
	return err
}
