package collector

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemcachedCollector polls the memcached `stats` command over a persistent
// TCP connection. Kumofs and other servers speaking the memcached text
// protocol work the same way.
type MemcachedCollector struct {
	Addr        string // host:port
	DialTimeout time.Duration
	Log         *zap.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	closed bool
}

func NewMemcachedCollector(addr string, log *zap.Logger) *MemcachedCollector {
	return &MemcachedCollector{Addr: addr, Log: log}
}

func (m *MemcachedCollector) Collect(ctx context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, net.ErrClosed
	}
	if err := m.connect(ctx); err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultHTTPTimeout)
	}
	if err := m.conn.SetDeadline(deadline); err != nil {
		m.reset()
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if _, err := m.conn.Write([]byte("stats\r\n")); err != nil {
		m.reset()
		return nil, fmt.Errorf("write stats to %s: %w", m.Addr, err)
	}
	metrics, err := ParseMemcachedStats(m.reader)
	if err != nil {
		// the stream position is unknown after a failed read
		m.reset()
		return nil, fmt.Errorf("read stats from %s: %w", m.Addr, err)
	}
	return metrics, nil
}

func (m *MemcachedCollector) connect(ctx context.Context) error {
	if m.conn != nil {
		return nil
	}
	timeout := m.DialTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", m.Addr)
	if err != nil {
		return fmt.Errorf("error connecting to address %s: %w", m.Addr, err)
	}
	m.conn = conn
	m.reader = bufio.NewReader(conn)
	if m.Log != nil {
		m.Log.Debug("memcached connected", zap.String("addr", m.Addr))
	}
	return nil
}

func (m *MemcachedCollector) reset() {
	if m.conn != nil {
		m.conn.Close()
	}
	m.conn = nil
	m.reader = nil
}

func (m *MemcachedCollector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	m.reader = nil
	return err
}
