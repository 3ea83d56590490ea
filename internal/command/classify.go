package command

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"chaos-runner/internal/errs"
)

// ErrNothingToRemove は削除コマンドの対象が既に存在しないことを示す。
// 復元処理はこれを成功として扱える。errs.ErrCommandExecution としても判定される。
var ErrNothingToRemove = errors.New("nothing to remove")

// 権限不足を示す出力パターン（小文字で比較）
var privilegePatterns = []string{
	"operation not permitted",
	"permission denied",
	"you must be root",
	"must be run as root",
	"access is denied",
	"requires elevation",
	"are you root",
}

// toolRules はツール固有の出力パターン（小文字で比較）
type toolRules struct {
	privilege   []string
	unsupported []string
	missing     []string // 対象のデバイスやプロセスが存在しない
	absent      []string // 削除対象が既にない（削除コマンドのみ）
	removal     func(args []string) bool
}

var rules = map[string]toolRules{
	"tc": {
		unsupported: []string{"specified qdisc kind is unknown", "specified qdisc not found", "unknown qdisc"},
		missing:     []string{"cannot find device"},
		absent:      []string{"no such file or directory", "cannot delete qdisc with handle of zero"},
		removal:     hasArg("del"),
	},
	"iptables": {
		unsupported: []string{"can't initialize iptables table", "table does not exist"},
		absent:      []string{"bad rule (does a matching rule exist", "does a matching rule exist in that chain"},
		removal:     hasArg("-D"),
	},
	"dnctl": {
		absent:  []string{"no such file or directory", "does not exist"},
		removal: hasArg("delete"),
	},
	"pfctl": {
		privilege:   []string{"/dev/pf: permission denied"},
		unsupported: []string{"/dev/pf: no such file or directory"},
		absent:      []string{"pf not enabled", "no such anchor"},
		removal:     func(args []string) bool { return hasArg("-F")(args) || hasArg("-X")(args) },
	},
	"taskkill": {
		missing: []string{"not found"},
	},
}

func hasArg(arg string) func([]string) bool {
	return func(args []string) bool {
		for _, a := range args {
			if a == arg {
				return true
			}
		}
		return false
	}
}

// Classify は Run の結果をエラー種別に変換する。
// op はコマンド文字列で、先頭の語でツール固有のパターンを選ぶ。
// 成功した場合は nil を返す。
func Classify(op string, res *Result, err error) error {
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("%s: %w", op, err)
		case errors.Is(err, exec.ErrNotFound):
			return errs.Unsupported(op, err, "tool not found")
		default:
			return errs.Command(op, err, "failed to start")
		}
	}
	if res == nil {
		return errs.Command(op, nil, "no result")
	}
	if res.ExitCode == 0 {
		return nil
	}

	output := strings.TrimSpace(res.Stderr)
	if output == "" {
		output = strings.TrimSpace(res.Stdout)
	}
	lower := strings.ToLower(output)

	fields := strings.Fields(op)
	var tool toolRules
	if len(fields) > 0 {
		tool = rules[filepath.Base(fields[0])]
	}

	switch {
	case res.ExitCode == 127:
		return errs.Unsupported(op, nil, "exit %d: %s", res.ExitCode, output)
	case res.ExitCode == 126 || contains(lower, privilegePatterns) || contains(lower, tool.privilege):
		return errs.Privilege(op, nil, "exit %d: %s", res.ExitCode, output)
	case contains(lower, tool.unsupported):
		return errs.Unsupported(op, nil, "exit %d: %s", res.ExitCode, output)
	case contains(lower, tool.missing):
		return errs.Resolution(op, nil, "exit %d: %s", res.ExitCode, output)
	case tool.removal != nil && tool.removal(fields[1:]) && contains(lower, tool.absent):
		return errs.Command(op, ErrNothingToRemove, "exit %d: %s", res.ExitCode, output)
	default:
		return errs.Command(op, nil, "exit %d: %s", res.ExitCode, output)
	}
}

func contains(lower string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// RunChecked は Run と Classify をまとめて実行する
func RunChecked(ctx context.Context, r Runner, cmd Command) (*Result, error) {
	res, err := r.Run(ctx, cmd)
	if cerr := Classify(cmd.String(), res, err); cerr != nil {
		return res, cerr
	}
	return res, nil
}

// Available は必要なツールがすべて PATH 上にあるかを返す
func Available(r Runner, binaries ...string) bool {
	for _, b := range binaries {
		if _, err := r.LookPath(b); err != nil {
			return false
		}
	}
	return true
}
