package chaos

import (
	"context"
	"strconv"

	"chaos-runner/internal/chaos/simnet"
	"chaos-runner/internal/target"
)

// simulatedNetwork はカーネルを変更せず、意図した障害を simnet.Table に記録する。
// 権限は不要で、権限エラーを返すことはない。
type simulatedNetwork struct {
	table *simnet.Table
}

func (n *simulatedNetwork) variant() string { return "simulated" }

func (n *simulatedNetwork) record(t *target.Resolved, kind Kind, f simnet.Fault) *Effect {
	f.Kind = kind.String()
	id := n.table.Add(t.ID, f)

	e := NewEffect(kind, t.ID, n.variant(), func(context.Context) error {
		n.table.Remove(t.ID, id)
		return nil
	})
	e.Set("interface", t.Interface)
	e.Set("enforcement", "application")
	return e
}

func (n *simulatedNetwork) shape(_ context.Context, t *target.Resolved, kind Kind, s shaping) (*Effect, error) {
	f := simnet.Fault{Delay: s.Delay, Jitter: s.Jitter, LossRate: s.Loss}
	if kind == KindPacketLoss {
		f.Correlation = s.LossCorr
	} else {
		f.Correlation = s.DelayCorr
	}

	e := n.record(t, kind, f)
	switch kind {
	case KindNetworkLatency:
		e.Set("delay", s.Delay.String())
		e.Set("jitter", s.Jitter.String())
	case KindPacketLoss:
		e.Set("loss_rate", strconv.FormatFloat(s.Loss, 'f', -1, 64))
	}
	return e, nil
}

func (n *simulatedNetwork) reset(_ context.Context, t *target.Resolved, port int) (*Effect, error) {
	e := n.record(t, KindTCPReset, simnet.Fault{ResetPort: port})
	e.Set("port", strconv.Itoa(port))
	return e, nil
}
