package master

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nicebartender/robotsock/mcp"
	"github.com/nicebartender/robotsock/metrics"
	"github.com/nicebartender/robotsock/transport"
)

// Device channel messages.
const (
	EventMessage  = "message"
	EventCommands = "commands"
	EventEvents   = "events"
	EventCommand  = "command"
)

// deviceSession is one connection to a device channel.
type deviceSession struct {
	m      *Master
	conn   transport.Conn
	path   Path
	device *mcp.Device
}

type protocolHandler struct {
	name   string
	attach func(s *deviceSession)
}

// deviceProtocol is attached in order to every device connection.
var deviceProtocol = []protocolHandler{
	{EventMessage, attachRelay},
	{EventCommands, attachCommandCatalog},
	{EventEvents, attachEventCatalog},
	{EventCommand, attachCommandEnvelope},
	{"direct commands", attachDirectCommands},
	{"event bridge", attachEventBridge},
}

func attachRelay(s *deviceSession) {
	s.conn.On(EventMessage, func(args ...any) {
		s.m.emit(s.path, EventMessage, args...)
	})
}

func attachCommandCatalog(s *deviceSession) {
	s.conn.On(EventCommands, func(...any) {
		s.m.emit(s.path, EventCommands, s.device.CommandNames())
	})
}

func attachEventCatalog(s *deviceSession) {
	s.conn.On(EventEvents, func(...any) {
		s.m.emit(s.path, EventEvents, s.device.Events())
	})
}

// attachCommandEnvelope accepts ("command", name, args...) and also the
// object form ("command", {"command": name, "args": [...]}).
func attachCommandEnvelope(s *deviceSession) {
	s.conn.On(EventCommand, func(args ...any) {
		name, cmdArgs := parseEnvelope(args)
		s.m.dispatch(s.path, s.device, name, cmdArgs, func(result any) error {
			return s.m.emit(s.path, EventCommand, name, result)
		})
	})
}

func parseEnvelope(args []any) (string, []any) {
	if len(args) == 0 {
		return "", nil
	}
	switch v := args[0].(type) {
	case string:
		return v, args[1:]
	case map[string]any:
		name, _ := v["command"].(string)
		cmdArgs, _ := v["args"].([]any)
		return name, cmdArgs
	}
	return "", nil
}

var reservedEvents = map[string]bool{
	transport.EventDisconnect: true,
	EventMessage:              true,
	EventCommands:             true,
	EventEvents:               true,
	EventCommand:              true,
}

// attachDirectCommands listens on every command name. Names that collide
// with protocol messages stay reachable through the "command" envelope only.
func attachDirectCommands(s *deviceSession) {
	for _, name := range s.device.CommandNames() {
		if reservedEvents[name] {
			s.m.log.Warn("command shadows protocol message, direct invocation disabled", "nsp", s.path.String(), "command", name)
			continue
		}
		s.conn.On(name, func(args ...any) {
			s.m.dispatch(s.path, s.device, name, args, func(result any) error {
				return s.m.emit(s.path, name, result)
			})
		})
	}
}

// attachEventBridge subscribes to the device's declared events once per
// channel; every firing is forwarded to the channel with its arguments.
func attachEventBridge(s *deviceSession) {
	if !s.m.markBridged(s.path) {
		return
	}
	for _, ev := range s.device.Events() {
		s.device.On(ev, func(args ...any) {
			s.m.emit(s.path, ev, args...)
		})
	}
}

func (m *Master) markBridged(p Path) bool {
	m.bridgeMu.Lock()
	defer m.bridgeMu.Unlock()
	if m.bridged[p] {
		return false
	}
	m.bridged[p] = true
	return true
}

// dispatch runs the named command off the caller's goroutine and hands the
// result to reply. Failures, including a result reply cannot send, are
// emitted as command_error on p.
func (m *Master) dispatch(p Path, device *mcp.Device, name string, args []any, reply func(result any) error) {
	cmd, ok := device.Command(name)
	if !ok {
		m.metrics.Command(metrics.OutcomeUnknownCommand, 0)
		m.commandFailed(p, unknownCommand(name))
		return
	}

	go func() {
		start := time.Now()
		result, err := m.invoke(cmd, args)
		elapsed := time.Since(start)

		if err == nil {
			if err = reply(result); err == nil {
				m.metrics.Command(metrics.OutcomeOK, elapsed)
				return
			}
			m.metrics.Command(metrics.OutcomeFailure, elapsed)
			m.commandFailed(p, handlerFailure(name, fmt.Errorf("result not sendable: %w", err)))
			return
		}

		switch {
		case errors.Is(err, context.DeadlineExceeded):
			m.metrics.Command(metrics.OutcomeTimeout, elapsed)
			m.commandFailed(p, timedOut(name, err))
		default:
			m.metrics.Command(metrics.OutcomeFailure, elapsed)
			m.commandFailed(p, handlerFailure(name, err))
		}
	}()
}

// invoke calls cmd under the command timeout. A handler that ignores its
// context is abandoned when the deadline passes.
func (m *Master) invoke(cmd mcp.Command, args []any) (any, error) {
	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		result, err := cmd(ctx, args...)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Master) commandFailed(p Path, cerr *CommandError) {
	m.log.Warn("command failed", "nsp", p.String(), "command", cerr.Command, "code", cerr.Code, "err", cerr.Message)
	m.emit(p, EventCommandError, cerr)
}
