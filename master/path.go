package master

import (
	"sync"

	"github.com/nicebartender/robotsock/mcp"
	"github.com/nicebartender/robotsock/transport"
)

// PathKind tells the catalog level a Path addresses.
type PathKind int

const (
	KindRoot PathKind = iota
	KindRobot
	KindDevice
)

const (
	apiPrefix    = "/api/"
	robotsPrefix = "/api/robots/"
	devicesPart  = "/devices/"
)

// Path identifies a catalog channel. Build one with RootPath, RobotPath or
// DevicePath; the zero value is the root channel.
type Path struct {
	kind   PathKind
	robot  string
	device string
}

func RootPath() Path {
	return Path{kind: KindRoot}
}

func RobotPath(robot string) Path {
	return Path{kind: KindRobot, robot: robot}
}

func DevicePath(robot, device string) Path {
	return Path{kind: KindDevice, robot: robot, device: device}
}

func (p Path) Kind() PathKind { return p.kind }

// Robot is empty for the root path.
func (p Path) Robot() string { return p.robot }

// Device is empty unless p is a device path.
func (p Path) Device() string { return p.device }

// String renders the channel address.
func (p Path) String() string {
	switch p.kind {
	case KindRobot:
		return robotsPrefix + p.robot
	case KindDevice:
		return robotsPrefix + p.robot + devicesPart + p.device
	}
	return apiPrefix
}

// Paths lists every channel derived from program, parents first.
func Paths(program *mcp.Program) []Path {
	paths := []Path{RootPath()}
	for _, r := range program.Robots() {
		paths = append(paths, RobotPath(r.Name))
	}
	for _, r := range program.Robots() {
		for _, name := range r.DeviceNames() {
			paths = append(paths, DevicePath(r.Name, name))
		}
	}
	return paths
}

// Registry maps catalog paths to provisioned channels. Entries are never
// removed.
type Registry struct {
	mu       sync.RWMutex
	channels map[Path]transport.Channel
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[Path]transport.Channel)}
}

func (r *Registry) Channel(p Path) (transport.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[p]
	return ch, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

func (r *Registry) set(p Path, ch transport.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[p] = ch
}
