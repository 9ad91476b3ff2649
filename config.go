package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Config is shared by the commands that load a program or run the server.
type Config struct {
	ListenAddr     string
	ProgramPath    string
	RedisAddr      string
	RedisPassword  string
	LogLevel       string
	LogFormat      string
	CommandTimeout time.Duration
}

func bindConfig(cmd *cobra.Command, cfg *Config) {
	f := cmd.Flags()
	f.StringVar(&cfg.ListenAddr, "addr", defaultAddr(), "Listen address")
	f.StringVar(&cfg.ProgramPath, "program", envOrDefault("ROBOTSOCK_PROGRAM", "robots.yaml"), "Control program (.yaml, .yml, .db or .sqlite)")
	f.StringVar(&cfg.RedisAddr, "redis-addr", envOrDefault("ROBOTSOCK_REDIS_ADDR", ""), "Redis address for cross-instance fan-out (disabled when empty)")
	f.StringVar(&cfg.RedisPassword, "redis-password", os.Getenv("ROBOTSOCK_REDIS_PASSWORD"), "Redis password")
	f.DurationVar(&cfg.CommandTimeout, "command-timeout", durationEnv("ROBOTSOCK_COMMAND_TIMEOUT", 30*time.Second), "Bound on each device command invocation (0 disables)")
}

func bindLogFlags(cmd *cobra.Command, cfg *Config) {
	f := cmd.PersistentFlags()
	f.StringVar(&cfg.LogLevel, "log-level", envOrDefault("ROBOTSOCK_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	f.StringVar(&cfg.LogFormat, "log-format", envOrDefault("ROBOTSOCK_LOG_FORMAT", "text"), "Log format: text or json")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ignoring %s=%q: %v\n", key, v, err)
		return fallback
	}
	return d
}

func defaultAddr() string {
	if v := os.Getenv("ROBOTSOCK_ADDR"); v != "" {
		return v
	}
	// Railway, Render, etc. set PORT
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":8090"
}
