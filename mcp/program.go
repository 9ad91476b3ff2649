// Package mcp models the control program: robots, their devices, and the
// commands and events each device exposes. Every mapping keeps insertion
// order so name listings are stable.
package mcp

import (
	"context"
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Command is the single calling convention for device commands. Handlers
// that complete asynchronously block until done or ctx is cancelled.
type Command func(ctx context.Context, args ...any) (any, error)

// EventHandler receives the arguments a device passed when firing an event.
type EventHandler func(args ...any)

type Program struct {
	robots *orderedmap.OrderedMap[string, *Robot]
}

func NewProgram() *Program {
	return &Program{robots: orderedmap.New[string, *Robot]()}
}

// AddRobot registers a robot. Names must be unique and non-empty.
func (p *Program) AddRobot(name string) (*Robot, error) {
	if name == "" {
		return nil, fmt.Errorf("robot name is empty")
	}
	if _, ok := p.robots.Get(name); ok {
		return nil, fmt.Errorf("duplicate robot %q", name)
	}
	r := &Robot{Name: name, devices: orderedmap.New[string, *Device]()}
	p.robots.Set(name, r)
	return r, nil
}

func (p *Program) Robot(name string) (*Robot, bool) {
	return p.robots.Get(name)
}

func (p *Program) RobotNames() []string {
	return keys(p.robots)
}

func (p *Program) Robots() []*Robot {
	return values(p.robots)
}

type Robot struct {
	Name    string
	devices *orderedmap.OrderedMap[string, *Device]
}

func (r *Robot) AddDevice(name string) (*Device, error) {
	if name == "" {
		return nil, fmt.Errorf("robot %s: device name is empty", r.Name)
	}
	if _, ok := r.devices.Get(name); ok {
		return nil, fmt.Errorf("robot %s: duplicate device %q", r.Name, name)
	}
	d := &Device{
		Name:     name,
		Robot:    r.Name,
		commands: orderedmap.New[string, Command](),
		handlers: make(map[string][]EventHandler),
	}
	r.devices.Set(name, d)
	return d, nil
}

func (r *Robot) Device(name string) (*Device, bool) {
	return r.devices.Get(name)
}

func (r *Robot) DeviceNames() []string {
	return keys(r.devices)
}

func (r *Robot) Devices() []*Device {
	return values(r.devices)
}

// Device exposes named commands and fires named events.
type Device struct {
	Name  string
	Robot string

	commands *orderedmap.OrderedMap[string, Command]
	events   []string

	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

func (d *Device) AddCommand(name string, cmd Command) error {
	if name == "" {
		return fmt.Errorf("device %s: command name is empty", d.Name)
	}
	if cmd == nil {
		return fmt.Errorf("device %s: command %q has no handler", d.Name, name)
	}
	if _, ok := d.commands.Get(name); ok {
		return fmt.Errorf("device %s: duplicate command %q", d.Name, name)
	}
	d.commands.Set(name, cmd)
	return nil
}

// DeclareEvent adds name to the advertised event catalog.
func (d *Device) DeclareEvent(name string) {
	d.events = append(d.events, name)
}

func (d *Device) Command(name string) (Command, bool) {
	return d.commands.Get(name)
}

func (d *Device) CommandNames() []string {
	return keys(d.commands)
}

// Events returns the declared event names as stored.
func (d *Device) Events() []string {
	out := make([]string, len(d.events))
	copy(out, d.events)
	return out
}

// On subscribes h to event.
func (d *Device) On(event string, h EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[event] = append(d.handlers[event], h)
}

// Emit fires event synchronously on every subscriber.
func (d *Device) Emit(event string, args ...any) {
	d.mu.RLock()
	handlers := append([]EventHandler(nil), d.handlers[event]...)
	d.mu.RUnlock()

	for _, h := range handlers {
		h(args...)
	}
}

func keys[V any](m *orderedmap.OrderedMap[string, V]) []string {
	out := make([]string, 0, m.Len())
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

func values[V any](m *orderedmap.OrderedMap[string, V]) []V {
	out := make([]V, 0, m.Len())
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}
