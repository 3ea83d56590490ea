package hostinfo

import "chaos-runner/internal/errs"

type unsupportedReader struct{}

func (unsupportedReader) Memory() (Memory, error) {
	return Memory{}, errs.Unsupported("memory", nil, "system memory not available")
}

func (unsupportedReader) CPUTimes() (CPUTimes, error) {
	return CPUTimes{}, errs.Unsupported("cpu times", nil, "host cpu times not available")
}

func (unsupportedReader) Process(int) (ProcessUsage, error) {
	return ProcessUsage{}, errs.Unsupported("process usage", nil, "per-process usage not available")
}
