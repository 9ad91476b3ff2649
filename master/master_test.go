package master

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/nicebartender/robotsock/mcp"
	"github.com/nicebartender/robotsock/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(v any) mcp.Command {
	return func(ctx context.Context, args ...any) (any, error) { return v, nil }
}

// testProgram mirrors the two-robot fixture: rosie/led and thelma/asensor.
func testProgram(t *testing.T) *mcp.Program {
	t.Helper()
	p := mcp.NewProgram()

	rosie, err := p.AddRobot("rosie")
	require.NoError(t, err)
	led, err := rosie.AddDevice("led")
	require.NoError(t, err)
	require.NoError(t, led.AddCommand("turn_on", constant(1)))
	led.DeclareEvent("analogRead")

	thelma, err := p.AddRobot("thelma")
	require.NoError(t, err)
	asensor, err := thelma.AddDevice("asensor")
	require.NoError(t, err)
	require.NoError(t, asensor.AddCommand("turn_on", constant(nil)))
	asensor.DeclareEvent("analogRead")

	return p
}

type harness struct {
	srv     *fakeServer
	master  *Master
	program *mcp.Program
	logs    *syncBuffer
}

func start(t *testing.T, program *mcp.Program, opts ...Option) *harness {
	t.Helper()
	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	srv := newFakeServer()
	m := New(program, append([]Option{WithLogger(logger)}, opts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, m.Start(ctx, srv))
	return &harness{srv: srv, master: m, program: program, logs: logs}
}

// started returns a harness with the catalog wired by one root connection.
func started(t *testing.T, opts ...Option) *harness {
	h := start(t, testProgram(t), opts...)
	h.srv.root.connect()
	return h
}

func (h *harness) device(t *testing.T, robot, device string) (*fakeChannel, *fakeConn) {
	ch := h.srv.channel(t, DevicePath(robot, device).String())
	return ch, ch.connect()
}

func TestPathString(t *testing.T) {
	assert.Equal(t, "/api/", RootPath().String())
	assert.Equal(t, "/api/", Path{}.String())
	assert.Equal(t, "/api/robots/rosie", RobotPath("rosie").String())
	assert.Equal(t, "/api/robots/rosie/devices/led", DevicePath("rosie", "led").String())
	assert.NotEqual(t, RobotPath("robots"), RootPath())
}

func TestPathAccessors(t *testing.T) {
	root := RootPath()
	assert.Equal(t, KindRoot, root.Kind())
	assert.Empty(t, root.Robot())
	assert.Empty(t, root.Device())

	robot := RobotPath("rosie")
	assert.Equal(t, KindRobot, robot.Kind())
	assert.Equal(t, "rosie", robot.Robot())
	assert.Empty(t, robot.Device())

	device := DevicePath("rosie", "led")
	assert.Equal(t, KindDevice, device.Kind())
	assert.Equal(t, "rosie", device.Robot())
	assert.Equal(t, "led", device.Device())

	assert.Equal(t, KindRoot, Path{}.Kind())
}

func TestPathsDerivedFromProgram(t *testing.T) {
	var got []string
	for _, p := range Paths(testProgram(t)) {
		got = append(got, p.String())
	}
	assert.Equal(t, []string{
		"/api/",
		"/api/robots/rosie",
		"/api/robots/thelma",
		"/api/robots/rosie/devices/led",
		"/api/robots/thelma/devices/asensor",
	}, got)
}

func TestStartProvisionsEveryChannel(t *testing.T) {
	h := start(t, testProgram(t))

	assert.Equal(t, 5, h.master.Registry().Len())
	for _, p := range Paths(h.program) {
		ch, ok := h.master.Registry().Channel(p)
		require.True(t, ok, p.String())
		assert.Equal(t, p.String(), ch.Path())
	}
	assert.Equal(t, 1, h.srv.root.handlerCount())
	assert.Equal(t, 0, h.srv.channel(t, "/api/").handlerCount(), "publishers wait for a root connection")
}

func TestStartTwice(t *testing.T) {
	h := start(t, testProgram(t))
	assert.Error(t, h.master.Start(context.Background(), newFakeServer()))
}

func TestStartProvisionFailure(t *testing.T) {
	srv := newFakeServer()
	srv.failPath = "/api/robots/thelma/devices/asensor"

	m := New(testProgram(t), WithLogger(slog.New(slog.NewTextHandler(&syncBuffer{}, nil))))
	err := m.Start(context.Background(), srv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), srv.failPath)
}

func TestRootConnectionWiresPublishersOnce(t *testing.T) {
	h := start(t, testProgram(t))

	h.srv.root.connect()
	h.srv.root.connect()

	for _, p := range Paths(h.program) {
		assert.Equal(t, 1, h.srv.channel(t, p.String()).handlerCount(), p.String())
	}
}

func TestRootDisconnectLogged(t *testing.T) {
	h := start(t, testProgram(t))
	conn := h.srv.root.connect()

	assert.Equal(t, 1, conn.listeners(transport.EventDisconnect))
	conn.fire(transport.EventDisconnect, "transport close")
	assert.Equal(t, 1, h.logs.count("A user disconnected"))
}

func TestBinderCallsOnConnectWithItem(t *testing.T) {
	h := start(t, testProgram(t))

	type call struct {
		name string
		data string
	}
	var calls []call
	items := []item[string]{
		{name: "rosie", path: RobotPath("rosie"), data: "r"},
		{name: "thelma", path: RobotPath("thelma"), data: "t"},
	}
	require.NoError(t, bind(h.master, items, func(conn transport.Conn, name string, data string) {
		calls = append(calls, call{name, data})
	}))

	h.srv.channel(t, "/api/robots/rosie").connect()
	conn := h.srv.channel(t, "/api/robots/thelma").connect()

	assert.Equal(t, []call{{"rosie", "r"}, {"thelma", "t"}}, calls)
	assert.Equal(t, 1, conn.listeners(transport.EventDisconnect))

	ch, ok := h.master.Registry().Channel(RobotPath("thelma"))
	require.True(t, ok)
	assert.Equal(t, "/api/robots/thelma", ch.Path())
}

func TestRootCatalog(t *testing.T) {
	h := started(t)
	root := h.srv.channel(t, "/api/")
	conn := root.connect()

	conn.fire("robots")
	e := root.await(t, "robots")
	assert.Equal(t, []any{[]string{"rosie", "thelma"}}, e.args)
}

func TestRobotCatalog(t *testing.T) {
	h := started(t)
	rosie := h.srv.channel(t, "/api/robots/rosie")
	rosie.connect().fire("devices")
	assert.Equal(t, []any{[]string{"led"}}, rosie.await(t, "devices").args)

	thelma := h.srv.channel(t, "/api/robots/thelma")
	thelma.connect().fire("devices")
	assert.Equal(t, []any{[]string{"asensor"}}, thelma.await(t, "devices").args)
	assert.Len(t, rosie.emitsOf("devices"), 1)
}

func TestDeviceProtocolOrder(t *testing.T) {
	h := started(t)
	_, conn := h.device(t, "rosie", "led")

	assert.Equal(t, []string{
		transport.EventDisconnect,
		EventMessage,
		EventCommands,
		EventEvents,
		EventCommand,
		"turn_on",
	}, conn.order)

	var names []string
	for _, ph := range deviceProtocol {
		names = append(names, ph.name)
	}
	assert.Equal(t, []string{"message", "commands", "events", "command", "direct commands", "event bridge"}, names)
}

func TestDeviceCatalogs(t *testing.T) {
	h := started(t)
	led, conn := h.device(t, "rosie", "led")

	conn.fire(EventCommands)
	assert.Equal(t, []any{[]string{"turn_on"}}, led.await(t, EventCommands).args)

	conn.fire(EventEvents)
	assert.Equal(t, []any{[]string{"analogRead"}}, led.await(t, EventEvents).args)
}

func TestMessageRelay(t *testing.T) {
	h := started(t)
	led, conn := h.device(t, "rosie", "led")

	conn.fire(EventMessage, "hello", map[string]any{"x": 1.0})
	assert.Equal(t, []any{"hello", map[string]any{"x": 1.0}}, led.await(t, EventMessage).args)
}

func TestCommandEnvelope(t *testing.T) {
	h := started(t)
	led, conn := h.device(t, "rosie", "led")

	conn.fire(EventCommand, "turn_on")
	assert.Equal(t, []any{"turn_on", 1}, led.await(t, EventCommand).args)
}

func TestCommandEnvelopeObjectForm(t *testing.T) {
	h := started(t)
	led, conn := h.device(t, "rosie", "led")

	conn.fire(EventCommand, map[string]any{"command": "turn_on", "args": []any{}})
	assert.Equal(t, []any{"turn_on", 1}, led.await(t, EventCommand).args)
}

func TestCommandArgsPassed(t *testing.T) {
	p := mcp.NewProgram()
	r, _ := p.AddRobot("r")
	d, _ := r.AddDevice("servo")
	require.NoError(t, d.AddCommand("angle", func(ctx context.Context, args ...any) (any, error) {
		return args, nil
	}))
	h := start(t, p)
	h.srv.root.connect()

	ch, conn := h.device(t, "r", "servo")
	conn.fire(EventCommand, "angle", 90.0, "fast")
	assert.Equal(t, []any{"angle", []any{90.0, "fast"}}, ch.await(t, EventCommand).args)

	conn.fire("angle", 45.0)
	assert.Equal(t, []any{[]any{45.0}}, ch.await(t, "angle").args)
}

func TestDirectCommand(t *testing.T) {
	h := started(t)
	led, conn := h.device(t, "rosie", "led")

	conn.fire("turn_on")
	assert.Equal(t, []any{1}, led.await(t, "turn_on").args)
}

func TestEventBridge(t *testing.T) {
	h := started(t)
	led, _ := h.device(t, "rosie", "led")
	led.connect()

	rosie, _ := h.program.Robot("rosie")
	device, _ := rosie.Device("led")
	device.Emit("analogRead")

	e := led.await(t, "analogRead")
	assert.Empty(t, e.args)
	assert.Len(t, led.emitsOf("analogRead"), 1, "bridged once per channel")

	device.Emit("analogRead", 512.0)
	assert.Len(t, led.emitsOf("analogRead"), 2)
	assert.Equal(t, []any{512.0}, led.emitsOf("analogRead")[1].args)
}

func TestNoCrossTalkBetweenDevices(t *testing.T) {
	h := started(t)
	led, ledConn := h.device(t, "rosie", "led")
	asensor, asensorConn := h.device(t, "thelma", "asensor")

	ledConn.fire("turn_on")
	asensorConn.fire("turn_on")
	assert.Equal(t, []any{1}, led.await(t, "turn_on").args)
	assert.Equal(t, []any{nil}, asensor.await(t, "turn_on").args)

	thelma, _ := h.program.Robot("thelma")
	device, _ := thelma.Device("asensor")
	device.Emit("analogRead", 7.0)
	asensor.await(t, "analogRead")

	assert.Len(t, led.emitsOf("turn_on"), 1)
	assert.Len(t, asensor.emitsOf("turn_on"), 1)
	assert.Empty(t, led.emitsOf("analogRead"))
}

func TestUnknownCommand(t *testing.T) {
	h := started(t)
	led, conn := h.device(t, "rosie", "led")

	conn.fire(EventCommand, "self_destruct")
	e := led.await(t, EventCommandError)
	require.Len(t, e.args, 1)
	cerr, ok := e.args[0].(*CommandError)
	require.True(t, ok)
	assert.Equal(t, CodeUnknownCommand, cerr.Code)
	assert.Equal(t, "self_destruct", cerr.Command)
	assert.True(t, errors.Is(cerr, ErrUnknownCommand))
	assert.Empty(t, led.emitsOf(EventCommand))
	assert.Equal(t, 1, h.logs.count("command failed"))
}

func TestCommandWithoutName(t *testing.T) {
	h := started(t)
	led, conn := h.device(t, "rosie", "led")

	conn.fire(EventCommand)
	conn.fire(EventCommand, 42.0)
	require.Eventually(t, func() bool { return len(led.emitsOf(EventCommandError)) == 2 }, time.Second, 5*time.Millisecond)
	for _, e := range led.emitsOf(EventCommandError) {
		assert.Equal(t, CodeUnknownCommand, e.args[0].(*CommandError).Code)
	}
}

func failingProgram(t *testing.T) *mcp.Program {
	p := mcp.NewProgram()
	r, _ := p.AddRobot("r")
	d, _ := r.AddDevice("motor")
	require.NoError(t, d.AddCommand("spin", func(ctx context.Context, args ...any) (any, error) {
		return nil, errors.New("stalled")
	}))
	require.NoError(t, d.AddCommand("crash", func(ctx context.Context, args ...any) (any, error) {
		panic("gearbox")
	}))
	require.NoError(t, d.AddCommand("hang", func(ctx context.Context, args ...any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	require.NoError(t, d.AddCommand("ignore", func(ctx context.Context, args ...any) (any, error) {
		time.Sleep(time.Second)
		return "late", nil
	}))
	return p
}

func TestHandlerFailure(t *testing.T) {
	h := start(t, failingProgram(t))
	h.srv.root.connect()
	ch, conn := h.device(t, "r", "motor")

	conn.fire("spin")
	cerr := ch.await(t, EventCommandError).args[0].(*CommandError)
	assert.Equal(t, CodeHandlerFailure, cerr.Code)
	assert.Equal(t, "stalled", cerr.Message)
	assert.True(t, errors.Is(cerr, ErrHandlerFailure))
	assert.Empty(t, ch.emitsOf("spin"))

	conn.fire(EventCommand, "crash")
	require.Eventually(t, func() bool { return len(ch.emitsOf(EventCommandError)) == 2 }, time.Second, 5*time.Millisecond)
	cerr = ch.emitsOf(EventCommandError)[1].args[0].(*CommandError)
	assert.Equal(t, CodeHandlerFailure, cerr.Code)
	assert.Contains(t, cerr.Message, "gearbox")
}

func TestUnsendableResultReportsFailure(t *testing.T) {
	p := mcp.NewProgram()
	r, _ := p.AddRobot("r")
	d, _ := r.AddDevice("gauge")
	require.NoError(t, d.AddCommand("nan", constant(math.NaN())))
	require.NoError(t, d.AddCommand("callback", constant(func() {})))

	h := start(t, p)
	h.srv.root.connect()
	ch, conn := h.device(t, "r", "gauge")

	conn.fire("nan")
	cerr := ch.await(t, EventCommandError).args[0].(*CommandError)
	assert.Equal(t, CodeHandlerFailure, cerr.Code)
	assert.Equal(t, "nan", cerr.Command)
	assert.Contains(t, cerr.Message, "result not sendable")

	conn.fire(EventCommand, "callback")
	require.Eventually(t, func() bool { return len(ch.emitsOf(EventCommandError)) == 2 }, time.Second, 5*time.Millisecond)
	cerr = ch.emitsOf(EventCommandError)[1].args[0].(*CommandError)
	assert.Equal(t, CodeHandlerFailure, cerr.Code)
	assert.Equal(t, "callback", cerr.Command)

	assert.Empty(t, ch.emitsOf("nan"))
	assert.Empty(t, ch.emitsOf(EventCommand))
}

func TestCommandTimeout(t *testing.T) {
	h := start(t, failingProgram(t), WithCommandTimeout(20*time.Millisecond))
	h.srv.root.connect()
	ch, conn := h.device(t, "r", "motor")

	conn.fire("hang")
	cerr := ch.await(t, EventCommandError).args[0].(*CommandError)
	assert.Equal(t, CodeTimeout, cerr.Code)
	assert.True(t, errors.Is(cerr, context.DeadlineExceeded))

	begin := time.Now()
	conn.fire("ignore")
	require.Eventually(t, func() bool { return len(ch.emitsOf(EventCommandError)) == 2 }, time.Second, 5*time.Millisecond)
	assert.Less(t, time.Since(begin), 500*time.Millisecond)
	assert.Empty(t, ch.emitsOf("ignore"))
}

func TestSlowCommandDoesNotBlockOthers(t *testing.T) {
	p := mcp.NewProgram()
	r, _ := p.AddRobot("r")
	d, _ := r.AddDevice("arm")
	release := make(chan struct{})
	require.NoError(t, d.AddCommand("slow", func(ctx context.Context, args ...any) (any, error) {
		<-release
		return "slow", nil
	}))
	require.NoError(t, d.AddCommand("fast", constant("fast")))

	h := start(t, p)
	h.srv.root.connect()
	ch, conn := h.device(t, "r", "arm")

	conn.fire("slow")
	conn.fire("fast")
	ch.await(t, "fast")
	assert.Empty(t, ch.emitsOf("slow"))

	close(release)
	ch.await(t, "slow")
}

func TestReservedCommandNameSkipsDirectListener(t *testing.T) {
	p := mcp.NewProgram()
	r, _ := p.AddRobot("r")
	d, _ := r.AddDevice("d")
	require.NoError(t, d.AddCommand("disconnect", constant("bye")))

	h := start(t, p)
	h.srv.root.connect()
	ch, conn := h.device(t, "r", "d")

	assert.Equal(t, 1, conn.listeners(transport.EventDisconnect))
	conn.fire(EventCommand, "disconnect")
	assert.Equal(t, []any{"disconnect", "bye"}, ch.await(t, EventCommand).args)
}

func TestDeviceDisconnectLogsOnce(t *testing.T) {
	h := started(t)
	_, conn := h.device(t, "rosie", "led")

	conn.fire(transport.EventDisconnect, "client namespace disconnect")
	assert.Equal(t, 1, h.logs.count("A user disconnected"))
}

func TestCancelledMasterContext(t *testing.T) {
	logs := &syncBuffer{}
	srv := newFakeServer()
	m := New(failingProgram(t), WithLogger(slog.New(slog.NewTextHandler(logs, nil))), WithCommandTimeout(0))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx, srv))
	srv.root.connect()

	ch := srv.channel(t, DevicePath("r", "motor").String())
	conn := ch.connect()
	conn.fire("hang")
	cancel()

	cerr := ch.await(t, EventCommandError).args[0].(*CommandError)
	assert.Equal(t, CodeHandlerFailure, cerr.Code)
	assert.True(t, errors.Is(cerr, context.Canceled))
}
