package simnet

import (
	"sort"
	"sync"
	"time"
)

// Fault はシミュレートされたネットワーク障害
type Fault struct {
	Kind        string        `json:"kind"`
	Delay       time.Duration `json:"delay,omitempty"`
	Jitter      time.Duration `json:"jitter,omitempty"`
	LossRate    float64       `json:"loss_rate,omitempty"`
	Correlation float64       `json:"correlation,omitempty"`
	ResetPort   int           `json:"reset_port,omitempty"`
	Since       time.Time     `json:"since"`
}

// State はターゲットに現在有効な障害の合成値
type State struct {
	Delay      time.Duration
	Jitter     time.Duration
	LossRate   float64
	ResetPorts []int
}

// Active は何らかの障害が有効かどうかを返す
func (s State) Active() bool {
	return s.Delay > 0 || s.Jitter > 0 || s.LossRate > 0 || len(s.ResetPorts) > 0
}

// Resets は port への接続がリセット対象かどうかを返す
func (s State) Resets(port int) bool {
	for _, p := range s.ResetPorts {
		if p == port {
			return true
		}
	}
	return false
}

type entry struct {
	id    uint64
	fault Fault
}

// Table はターゲットごとに有効なシミュレーション障害を保持する
type Table struct {
	mu      sync.RWMutex
	nextID  uint64
	entries map[string][]entry
}

// NewTable は新しい Table を作成する
func NewTable() *Table {
	return &Table{entries: make(map[string][]entry)}
}

// Add は障害を登録し、削除用の ID を返す
func (t *Table) Add(targetID string, f Fault) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	if f.Since.IsZero() {
		f.Since = time.Now()
	}
	t.entries[targetID] = append(t.entries[targetID], entry{id: t.nextID, fault: f})
	return t.nextID
}

// Remove は障害を削除する。存在しない ID は無視する。
func (t *Table) Remove(targetID string, id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.entries[targetID]
	for i, e := range list {
		if e.id == id {
			list = append(list[:i], list[i+1:]...)
			if len(list) == 0 {
				delete(t.entries, targetID)
			} else {
				t.entries[targetID] = list
			}
			return true
		}
	}
	return false
}

// Lookup はターゲットの合成状態を返す。
// 遅延とロスは最も新しい障害の値を使い、リセットは全てのポートを合わせる。
func (t *Table) Lookup(targetID string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var s State
	for _, e := range t.entries[targetID] {
		f := e.fault
		switch f.Kind {
		case "network_latency":
			s.Delay, s.Jitter = f.Delay, f.Jitter
		case "packet_loss":
			s.LossRate = f.LossRate
		case "tcp_reset":
			if !s.Resets(f.ResetPort) {
				s.ResetPorts = append(s.ResetPorts, f.ResetPort)
			}
		}
	}
	sort.Ints(s.ResetPorts)
	return s
}

// Faults は全ターゲットの障害一覧を返す
func (t *Table) Faults() map[string][]Fault {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string][]Fault, len(t.entries))
	for id, list := range t.entries {
		for _, e := range list {
			out[id] = append(out[id], e.fault)
		}
	}
	return out
}

// Len は登録中の障害の数を返す
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, list := range t.entries {
		n += len(list)
	}
	return n
}
