//go:build !linux && !darwin && !windows

package target

import "chaos-runner/internal/command"

// NewProcessFinder はこのプラットフォームでは nil を返す
func NewProcessFinder(_ command.Runner) ProcessFinder {
	return nil
}
