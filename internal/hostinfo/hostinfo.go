package hostinfo

import (
	"time"
)

// Memory はシステムメモリの状態（バイト単位）
type Memory struct {
	Total     uint64
	Available uint64
}

// Used は使用中のメモリ量を返す
func (m Memory) Used() uint64 {
	if m.Available > m.Total {
		return 0
	}
	return m.Total - m.Available
}

// UsedFraction は使用率 (0.0-1.0) を返す
func (m Memory) UsedFraction() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Used()) / float64(m.Total)
}

// CPUTimes はホスト全体の累積 CPU 時間（秒）
type CPUTimes struct {
	Busy  float64
	Total float64
}

// UsagePercent は2つの時点間の CPU 使用率 (%) を返す
func UsagePercent(prev, cur CPUTimes) float64 {
	total := cur.Total - prev.Total
	if total <= 0 {
		return 0
	}
	busy := cur.Busy - prev.Busy
	if busy < 0 {
		busy = 0
	}
	return busy / total * 100
}

// ProcessUsage はプロセスのリソース使用量
type ProcessUsage struct {
	CPUTime time.Duration // 累積 CPU 時間
	RSS     uint64        // 常駐メモリ（バイト）
}

// Reader はホストのリソース情報を読み取る
type Reader interface {
	Memory() (Memory, error)
	CPUTimes() (CPUTimes, error)
	Process(pid int) (ProcessUsage, error)
}

// CPUPercent は累積 CPU 時間の差分から使用率 (%) を返す（100% = 1コア）
func CPUPercent(prev, cur time.Duration, elapsed time.Duration) float64 {
	if elapsed <= 0 || cur < prev {
		return 0
	}
	return float64(cur-prev) / float64(elapsed) * 100
}
