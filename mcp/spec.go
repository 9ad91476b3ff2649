package mcp

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Spec is the declarative form of a control program, as stored in YAML
// files and in the program database.
type Spec struct {
	Robots []RobotSpec `yaml:"robots"`
}

type RobotSpec struct {
	Name    string       `yaml:"name"`
	Devices []DeviceSpec `yaml:"devices"`
}

type DeviceSpec struct {
	Name     string        `yaml:"name"`
	Commands []CommandSpec `yaml:"commands"`
	Events   []string      `yaml:"events"`
}

type CommandSpec struct {
	Name   string         `yaml:"name"`
	Kind   string         `yaml:"kind"`
	Params map[string]any `yaml:"params,omitempty"`
}

// Build turns a spec into a live program.
func Build(spec *Spec) (*Program, error) {
	p := NewProgram()
	for _, rs := range spec.Robots {
		robot, err := p.AddRobot(rs.Name)
		if err != nil {
			return nil, err
		}
		for _, ds := range rs.Devices {
			device, err := robot.AddDevice(ds.Name)
			if err != nil {
				return nil, err
			}
			for _, cs := range ds.Commands {
				cmd, err := NewCommand(device, cs.Kind, cs.Params)
				if err != nil {
					return nil, fmt.Errorf("robot %s device %s command %s: %w", rs.Name, ds.Name, cs.Name, err)
				}
				if err := device.AddCommand(cs.Name, cmd); err != nil {
					return nil, err
				}
			}
			for _, ev := range ds.Events {
				device.DeclareEvent(ev)
			}
		}
	}
	return p, nil
}

// DecodeYAML reads a spec document.
func DecodeYAML(r io.Reader) (*Spec, error) {
	var spec Spec
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode program: %w", err)
	}
	return &spec, nil
}

// LoadYAMLFile reads a spec from path.
func LoadYAMLFile(path string) (*Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open program: %w", err)
	}
	defer f.Close()
	return DecodeYAML(f)
}
