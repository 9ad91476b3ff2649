package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nicebartender/robotsock/master"
	"github.com/nicebartender/robotsock/mcp"
	"github.com/nicebartender/robotsock/metrics"
	"github.com/nicebartender/robotsock/socket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the control program over websockets",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	bindConfig(serveCmd, &cfg)
	rootCmd.AddCommand(serveCmd)
}

// app is the wired server: transport, orchestrator and HTTP routes.
type app struct {
	sockets *socket.Server
	master  *master.Master
	handler http.Handler
}

func newApp(ctx context.Context, program *mcp.Program, cfg Config) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mx, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	opts := []socket.Option{socket.WithLogger(slog.Default()), socket.WithMetrics(mx)}
	if cfg.RedisAddr != "" {
		opts = append(opts, socket.WithAdapter(socket.NewRedisAdapter(cfg.RedisAddr, cfg.RedisPassword, 0)))
	}
	sockets := socket.NewServer(opts...)
	if err := sockets.Start(ctx); err != nil {
		return nil, err
	}

	m := master.New(program,
		master.WithLogger(slog.Default()),
		master.WithMetrics(mx),
		master.WithCommandTimeout(cfg.CommandTimeout),
	)
	if err := m.Start(ctx, sockets); err != nil {
		sockets.Close()
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/socket", sockets.ServeHTTP)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"robots":   program.RobotNames(),
			"channels": m.Registry().Len(),
		})
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &app{sockets: sockets, master: m, handler: r}, nil
}

func serve(ctx context.Context, cfg Config) error {
	program, err := loadProgram(ctx, cfg.ProgramPath)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, program, cfg)
	if err != nil {
		return err
	}
	defer a.sockets.Close()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: a.handler,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("robotsock starting", "addr", cfg.ListenAddr, "program", cfg.ProgramPath)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// websockets are hijacked, Shutdown does not wait for them
		a.sockets.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("graceful shutdown did not complete", "err", err)
			return srv.Close()
		}
		return nil
	}
}
