// Package master exposes a control program over a transport: it derives one
// channel per catalog level (root, robot, device), answers catalog requests,
// dispatches device commands and forwards device events.
package master

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nicebartender/robotsock/mcp"
	"github.com/nicebartender/robotsock/metrics"
	"github.com/nicebartender/robotsock/transport"
)

const defaultCommandTimeout = 30 * time.Second

// Master owns the transport, the channel registry and the control program.
type Master struct {
	program  *mcp.Program
	registry *Registry
	log      *slog.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration

	srv transport.Server
	ctx context.Context

	wireOnce sync.Once

	bridgeMu sync.Mutex
	bridged  map[Path]bool
}

type Option func(*Master)

func WithLogger(l *slog.Logger) Option {
	return func(m *Master) { m.log = l }
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Master) { m.metrics = mx }
}

// WithCommandTimeout bounds each command invocation. Zero disables the bound.
func WithCommandTimeout(d time.Duration) Option {
	return func(m *Master) { m.timeout = d }
}

func New(program *mcp.Program, opts ...Option) *Master {
	m := &Master{
		program:  program,
		registry: NewRegistry(),
		log:      slog.Default(),
		timeout:  defaultCommandTimeout,
		bridged:  make(map[Path]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Master) Registry() *Registry {
	return m.registry
}

// Start provisions every channel derived from the program and wires the root
// connection handler. The catalog publishers are attached on the first root
// connection. Commands in flight are cancelled when ctx is done.
func (m *Master) Start(ctx context.Context, srv transport.Server) error {
	if m.srv != nil {
		return errors.New("master already started")
	}
	m.srv = srv
	m.ctx = ctx

	for _, p := range Paths(m.program) {
		if _, err := m.provision(p); err != nil {
			return err
		}
	}

	srv.OnConnection(func(conn transport.Conn) {
		conn.On(transport.EventDisconnect, m.logDisconnect(conn))
		m.wireOnce.Do(func() {
			if err := m.publishAll(); err != nil {
				m.log.Error("catalog wiring failed", "err", err)
			}
		})
	})

	m.log.Info("master started", "robots", len(m.program.RobotNames()), "channels", m.registry.Len())
	return nil
}

func (m *Master) publishAll() error {
	if err := m.publishRoot(); err != nil {
		return err
	}
	if err := m.publishRobots(m.program.Robots()); err != nil {
		return err
	}
	for _, r := range m.program.Robots() {
		if err := m.publishDevices(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *Master) provision(p Path) (transport.Channel, error) {
	ch, err := m.srv.Of(p.String())
	if err != nil {
		return nil, fmt.Errorf("provision %s: %w", p, err)
	}
	m.registry.set(p, ch)
	return ch, nil
}

// emit sends on the registered channel for p.
func (m *Master) emit(p Path, event string, args ...any) error {
	ch, ok := m.registry.Channel(p)
	if !ok {
		m.log.Error("emit on unprovisioned channel", "nsp", p.String(), "event", event)
		return fmt.Errorf("channel %s not provisioned", p)
	}
	return ch.Emit(event, args...)
}

func (m *Master) logDisconnect(conn transport.Conn) transport.Handler {
	return func(args ...any) {
		reason := ""
		if len(args) > 0 {
			reason, _ = args[0].(string)
		}
		m.log.Info("A user disconnected", "conn", conn.ID(), "nsp", conn.Path(), "reason", reason)
	}
}

type item[T any] struct {
	name string
	path Path
	data T
}

// bind provisions a channel per item and calls onConnect for every
// connection to it, after attaching the disconnect notice.
func bind[T any](m *Master, items []item[T], onConnect func(conn transport.Conn, name string, data T)) error {
	for _, it := range items {
		ch, err := m.provision(it.path)
		if err != nil {
			return err
		}
		ch.OnConnection(func(conn transport.Conn) {
			conn.On(transport.EventDisconnect, m.logDisconnect(conn))
			onConnect(conn, it.name, it.data)
		})
	}
	return nil
}

// publishRoot answers "robots" on the root channel.
func (m *Master) publishRoot() error {
	items := []item[*mcp.Program]{{name: "robots", path: RootPath(), data: m.program}}
	return bind(m, items, func(conn transport.Conn, _ string, program *mcp.Program) {
		conn.On("robots", func(...any) {
			m.emit(RootPath(), "robots", program.RobotNames())
		})
	})
}

// publishRobots answers "devices" on each robot channel.
func (m *Master) publishRobots(robots []*mcp.Robot) error {
	items := make([]item[*mcp.Robot], 0, len(robots))
	for _, r := range robots {
		items = append(items, item[*mcp.Robot]{name: r.Name, path: RobotPath(r.Name), data: r})
	}
	return bind(m, items, func(conn transport.Conn, name string, robot *mcp.Robot) {
		conn.On("devices", func(...any) {
			m.emit(RobotPath(name), "devices", robot.DeviceNames())
		})
	})
}

// publishDevices wires the device protocol on each of robot's device channels.
func (m *Master) publishDevices(robot *mcp.Robot) error {
	devices := robot.Devices()
	items := make([]item[*mcp.Device], 0, len(devices))
	for _, d := range devices {
		items = append(items, item[*mcp.Device]{name: d.Name, path: DevicePath(robot.Name, d.Name), data: d})
	}
	return bind(m, items, func(conn transport.Conn, name string, device *mcp.Device) {
		s := &deviceSession{m: m, conn: conn, path: DevicePath(robot.Name, name), device: device}
		for _, h := range deviceProtocol {
			h.attach(s)
		}
	})
}
