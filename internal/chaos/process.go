package chaos

import (
	"context"
	"strconv"
	"strings"
	"time"

	"chaos-runner/internal/errs"
	"chaos-runner/internal/logger"
	"chaos-runner/internal/target"
)

// signalNumbers は指定可能なシグナル
var signalNumbers = map[string]int{
	"SIGHUP":  1,
	"SIGINT":  2,
	"SIGKILL": 9,
	"SIGTERM": 15,
}

const killPollInterval = 100 * time.Millisecond

// processControl はプロセスへのシグナル送信と生存確認を行う
type processControl interface {
	signal(ctx context.Context, targetID string, pid int, sig string) error
	alive(ctx context.Context, pid int) bool
}

// Launcher は argv のプロセスを起動し PID を返す
type Launcher func(argv []string) (int, error)

// processKillInjector はターゲットプロセスにシグナルを送り、終了を待つ。
// restart が指定されていれば Revert で取得済みの起動コマンドから再起動する。
type processKillInjector struct {
	base
	ctl    processControl
	launch Launcher
}

func newProcessKillInjector(ctl processControl, launch Launcher) *processKillInjector {
	return &processKillInjector{
		base: base{desc: Descriptor{
			Kind:        KindProcessKill,
			Name:        KindProcessKill.String(),
			Variant:     "signal",
			Platforms:   allPlatforms,
			Description: "terminates the target process, optionally restarting it on revert",
		}},
		ctl:    ctl,
		launch: launch,
	}
}

func (i *processKillInjector) Apply(ctx context.Context, t *target.Resolved, p Params) (*Effect, error) {
	if t == nil || t.PID <= 0 {
		return nil, errs.Resolution(targetID(t), nil, "process_kill requires a resolved process target")
	}

	sig := strings.ToUpper(p.Signal)
	if sig == "" {
		sig = DefaultSignal
	}
	if err := i.ctl.signal(ctx, t.ID, t.PID, sig); err != nil {
		return nil, err
	}
	logger.Warn(t.ID, "process_kill sent %s to pid %d", sig, t.PID)

	// シグナル送信後は必ず Effect を返し、再起動の責任をレジストリに渡す
	exited := i.waitExit(ctx, t.PID, p.Wait)
	switch exited {
	case exitUnknown:
		logger.Warn(t.ID, "stopped waiting for pid %d: %v", t.PID, ctx.Err())
	case exitNo:
		logger.Warn(t.ID, "pid %d still alive after %s", t.PID, p.Wait)
	}

	cmdline := append([]string(nil), t.Cmdline...)
	restart := p.Restart && len(cmdline) > 0
	if p.Restart && !restart {
		logger.Warn(t.ID, "restart requested but launch command of pid %d is unknown", t.PID)
	}

	e := NewEffect(KindProcessKill, t.ID, i.desc.Variant, nil)
	if restart {
		e.undo = func(context.Context) error {
			pid, err := i.launch(cmdline)
			if err != nil {
				return errs.Command(strings.Join(cmdline, " "), err, "restart failed")
			}
			e.Set("restarted_pid", strconv.Itoa(pid))
			logger.Info(t.ID, "restarted as pid %d", pid)
			return nil
		}
	}
	i.annotate(e, t, sig, exited, restart)
	return e, nil
}

func (i *processKillInjector) annotate(e *Effect, t *target.Resolved, sig string, exited exitState, restart bool) {
	e.Set("pid", strconv.Itoa(t.PID))
	e.Set("signal", sig)
	e.Set("exited", string(exited))
	e.Set("restart", strconv.FormatBool(restart))
}

// exitState はシグナル送信後のプロセスの終了状態
type exitState string

const (
	exitYes     exitState = "true"
	exitNo      exitState = "false"
	exitUnknown exitState = "unknown"
)

func exitedIf(gone bool) exitState {
	if gone {
		return exitYes
	}
	return exitNo
}

// waitExit はプロセスの終了を最大 wait まで待つ。
// ctx がキャンセルされたら待機をやめて exitUnknown を返す。
func (i *processKillInjector) waitExit(ctx context.Context, pid int, wait time.Duration) exitState {
	if ctx.Err() != nil {
		return exitUnknown
	}
	if !i.ctl.alive(ctx, pid) {
		return exitYes
	}
	if wait <= 0 {
		return exitNo
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(killPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return exitUnknown
		case <-deadline.C:
			return exitedIf(!i.ctl.alive(ctx, pid))
		case <-ticker.C:
			if !i.ctl.alive(ctx, pid) {
				return exitYes
			}
		}
	}
}
