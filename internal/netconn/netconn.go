// Package netconn manages the bot's single wire-protocol connection: a
// server-list round robin, optional local bind address, optional TLS
// (with a flag to skip hostname/chain verification), and a fixed 5-second
// reconnect back-off whenever the connection drops.
package netconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/relaycore/relaybot/internal/metrics"
)

// ReconnectDelay is the fixed back-off between reconnect attempts.
// Per the protocol's concurrency model, this is deliberately fixed
// rather than exponential.
const ReconnectDelay = 5 * time.Second

// DialTimeout bounds a single connection attempt to one server.
const DialTimeout = 30 * time.Second

// Server is one candidate in the round-robin server list.
type Server struct {
	Host       string
	Port       int
	TLS        bool
	VerifyCert bool
	Password   string
}

func (s Server) addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprintf("%d", s.Port))
}

// serverLabel is the metrics label identifying a server candidate.
func serverLabel(s Server) string {
	if s.Host == "" {
		return "unknown"
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Config carries everything the connection manager needs to dial.
type Config struct {
	Servers  []Server
	BindHost string // optional local bind address, "" to let the OS choose
}

// Manager owns the live connection and the round-robin index into the
// server list. It does not itself speak the wire protocol; that is the
// session state machine's job once a connection is established.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	index    int
	conn     net.Conn
	logger   *slog.Logger
}

// New returns a Manager over cfg.
func New(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger}
}

// nextServer returns the next candidate in the round robin and advances
// the index.
func (m *Manager) nextServer() (Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.cfg.Servers) == 0 {
		return Server{}, fmt.Errorf("netconn: no servers configured")
	}
	s := m.cfg.Servers[m.index%len(m.cfg.Servers)]
	m.index++
	return s, nil
}

// dial opens one TCP (optionally TLS) connection to s, honoring the
// configured bind address.
func (m *Manager) dial(ctx context.Context, s Server) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: DialTimeout}
	if m.cfg.BindHost != "" {
		localAddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(m.cfg.BindHost, "0"))
		if err != nil {
			return nil, fmt.Errorf("resolve bindhost %q: %w", m.cfg.BindHost, err)
		}
		dialer.LocalAddr = localAddr
	}

	if !s.TLS {
		conn, err := dialer.DialContext(ctx, "tcp", s.addr())
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", s.addr(), err)
		}
		return conn, nil
	}

	tlsCfg := &tls.Config{
		ServerName:         s.Host,
		InsecureSkipVerify: !s.VerifyCert, //nolint:gosec // explicit per-server opt-out
	}
	conn, err := tls.DialWithDialer(dialer, "tcp", s.addr(), tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("dial TLS %s: %w", s.addr(), err)
	}
	return conn, nil
}

// Connect advances the round robin and dials the next server. The
// returned connection becomes the manager's live connection.
func (m *Manager) Connect(ctx context.Context) (net.Conn, Server, error) {
	s, err := m.nextServer()
	if err != nil {
		return nil, Server{}, err
	}

	conn, err := m.dial(ctx, s)
	if err != nil {
		return nil, s, err
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	return conn, s, nil
}

// Close closes the live connection, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Run drives the reconnect loop: on each iteration it connects, invokes
// onConnected with the new connection and server, and blocks until
// onConnected returns (normally when the connection drops or an I/O
// error occurs in steady state). It then waits ReconnectDelay and tries
// the next server. Run returns when ctx is canceled.
func (m *Manager) Run(ctx context.Context, onConnected func(ctx context.Context, conn net.Conn, server Server)) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, server, err := m.Connect(ctx)
		if err != nil {
			m.logger.Warn("connect failed", "error", err)
			metrics.Reconnects.WithLabelValues(serverLabel(server), "error").Inc()
			if !sleepOrDone(ctx, ReconnectDelay) {
				return
			}
			continue
		}

		m.logger.Info("connected", "host", server.Host, "port", server.Port, "tls", server.TLS)
		metrics.Reconnects.WithLabelValues(serverLabel(server), "ok").Inc()
		onConnected(ctx, conn, server)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		m.logger.Info("disconnected, reconnecting", "delay", ReconnectDelay)
		if !sleepOrDone(ctx, ReconnectDelay) {
			return
		}
	}
}

// sleepOrDone sleeps for d, or returns early reporting false if ctx is
// canceled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
