package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nicebartender/robotsock/mcp"
)

// SaveSpec replaces the stored program with spec.
func (db *DB) SaveSpec(ctx context.Context, spec *mcp.Spec) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM robots"); err != nil {
		return fmt.Errorf("clear program: %w", err)
	}

	for ri, r := range spec.Robots {
		if _, err := tx.ExecContext(ctx, "INSERT INTO robots (name, position) VALUES (?, ?)", r.Name, ri); err != nil {
			return fmt.Errorf("insert robot %s: %w", r.Name, err)
		}
		for di, d := range r.Devices {
			if _, err := tx.ExecContext(ctx, "INSERT INTO devices (robot, name, position) VALUES (?, ?, ?)", r.Name, d.Name, di); err != nil {
				return fmt.Errorf("insert device %s/%s: %w", r.Name, d.Name, err)
			}
			for ci, c := range d.Commands {
				params := "{}"
				if len(c.Params) > 0 {
					data, err := json.Marshal(c.Params)
					if err != nil {
						return fmt.Errorf("encode params of %s/%s/%s: %w", r.Name, d.Name, c.Name, err)
					}
					params = string(data)
				}
				_, err := tx.ExecContext(ctx, `
					INSERT INTO commands (robot, device, name, kind, params, position)
					VALUES (?, ?, ?, ?, ?, ?)
				`, r.Name, d.Name, c.Name, c.Kind, params, ci)
				if err != nil {
					return fmt.Errorf("insert command %s/%s/%s: %w", r.Name, d.Name, c.Name, err)
				}
			}
			for ei, ev := range d.Events {
				_, err := tx.ExecContext(ctx, "INSERT INTO device_events (robot, device, name, position) VALUES (?, ?, ?, ?)", r.Name, d.Name, ev, ei)
				if err != nil {
					return fmt.Errorf("insert event %s/%s/%s: %w", r.Name, d.Name, ev, err)
				}
			}
		}
	}

	return tx.Commit()
}

type deviceKey struct {
	robot, device string
}

// LoadSpec reads the stored program in its saved order.
func (db *DB) LoadSpec(ctx context.Context) (*mcp.Spec, error) {
	commands, err := db.loadCommands(ctx)
	if err != nil {
		return nil, err
	}
	events, err := db.loadEvents(ctx)
	if err != nil {
		return nil, err
	}

	devices := make(map[string][]mcp.DeviceSpec)
	rows, err := db.QueryContext(ctx, "SELECT robot, name FROM devices ORDER BY robot, position")
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var robot, name string
		if err := rows.Scan(&robot, &name); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		key := deviceKey{robot, name}
		devices[robot] = append(devices[robot], mcp.DeviceSpec{
			Name:     name,
			Commands: commands[key],
			Events:   events[key],
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	spec := &mcp.Spec{}
	robotRows, err := db.QueryContext(ctx, "SELECT name FROM robots ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("query robots: %w", err)
	}
	defer robotRows.Close()
	for robotRows.Next() {
		var name string
		if err := robotRows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan robot: %w", err)
		}
		spec.Robots = append(spec.Robots, mcp.RobotSpec{Name: name, Devices: devices[name]})
	}
	return spec, robotRows.Err()
}

func (db *DB) loadCommands(ctx context.Context) (map[deviceKey][]mcp.CommandSpec, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT robot, device, name, kind, params
		FROM commands ORDER BY robot, device, position
	`)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	defer rows.Close()

	out := make(map[deviceKey][]mcp.CommandSpec)
	for rows.Next() {
		var key deviceKey
		var c mcp.CommandSpec
		var params string
		if err := rows.Scan(&key.robot, &key.device, &c.Name, &c.Kind, &params); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &c.Params); err != nil {
			return nil, fmt.Errorf("decode params of %s/%s/%s: %w", key.robot, key.device, c.Name, err)
		}
		if len(c.Params) == 0 {
			c.Params = nil
		}
		out[key] = append(out[key], c)
	}
	return out, rows.Err()
}

func (db *DB) loadEvents(ctx context.Context) (map[deviceKey][]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT robot, device, name FROM device_events ORDER BY robot, device, position")
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := make(map[deviceKey][]string)
	for rows.Next() {
		var key deviceKey
		var name string
		if err := rows.Scan(&key.robot, &key.device, &name); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out[key] = append(out[key], name)
	}
	return out, rows.Err()
}
