package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nicebartender/robotsock/db"
	"github.com/nicebartender/robotsock/mcp"
)

// loadSpec reads a control program from a YAML file or a program database.
func loadSpec(ctx context.Context, path string) (*mcp.Spec, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return mcp.LoadYAMLFile(path)
	case ".db", ".sqlite", ".sqlite3":
		database, err := db.Open(path)
		if err != nil {
			return nil, err
		}
		defer database.Close()
		return database.LoadSpec(ctx)
	}
	return nil, fmt.Errorf("unsupported program file %q", path)
}

func loadProgram(ctx context.Context, path string) (*mcp.Program, error) {
	spec, err := loadSpec(ctx, path)
	if err != nil {
		return nil, err
	}
	program, err := mcp.Build(spec)
	if err != nil {
		return nil, fmt.Errorf("build program %s: %w", path, err)
	}
	return program, nil
}
