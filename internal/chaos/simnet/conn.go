package simnet

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// RetransmitDelay はロスした書き込みに加える再送相当の遅延
const RetransmitDelay = 200 * time.Millisecond

// ErrReset はシミュレートされた接続リセット
var ErrReset = &net.OpError{Op: "write", Net: "tcp", Err: syscall.ECONNRESET}

// Conn は Table の状態に従って書き込みを遅延・リセットする net.Conn
type Conn struct {
	net.Conn
	table    *Table
	targetID string
	port     int

	mu  sync.Mutex
	rng *rand.Rand
}

// Wrap は conn を targetID の障害で包む
func Wrap(conn net.Conn, table *Table, targetID string) *Conn {
	port := 0
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		port = addr.Port
	} else if addr := conn.RemoteAddr(); addr != nil {
		if _, p, err := net.SplitHostPort(addr.String()); err == nil {
			port, _ = strconv.Atoi(p)
		}
	}
	return &Conn{
		Conn:     conn,
		table:    table,
		targetID: targetID,
		port:     port,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// penalty は次の書き込みに加える遅延を計算する
func (c *Conn) penalty(s State) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := s.Delay
	if s.Jitter > 0 {
		d += time.Duration(c.rng.NormFloat64() * float64(s.Jitter))
	}
	if d < 0 {
		d = 0
	}
	if s.LossRate > 0 && c.rng.Float64() < s.LossRate {
		d += RetransmitDelay
	}
	return d
}

func (c *Conn) Write(b []byte) (int, error) {
	s := c.table.Lookup(c.targetID)
	if s.Resets(c.port) {
		_ = c.Conn.Close()
		return 0, ErrReset
	}
	if d := c.penalty(s); d > 0 {
		time.Sleep(d)
	}
	return c.Conn.Write(b)
}

// Dialer は Table の障害を適用する接続を作成する
type Dialer struct {
	Table    *Table
	TargetID string
	Dialer   net.Dialer
}

// DialContext は接続し、Conn で包んで返す。
// リセット対象のポートへの接続は即座に ErrReset で失敗する。
// ハンドシェイクにも書き込みと同じ遅延が加わる。
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if _, p, err := net.SplitHostPort(address); err == nil {
		port, _ := strconv.Atoi(p)
		if d.Table.Lookup(d.TargetID).Resets(port) {
			return nil, &net.OpError{Op: "dial", Net: network, Err: syscall.ECONNRESET}
		}
	}
	conn, err := d.Dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	c := Wrap(conn, d.Table, d.TargetID)

	if delay := c.penalty(d.Table.Lookup(d.TargetID)); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			_ = conn.Close()
			return nil, ctx.Err()
		}
	}
	return c, nil
}

// IsReset はエラーがシミュレートされたリセットかどうかを返す
func IsReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET)
}
