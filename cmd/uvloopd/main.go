// ============================================================================
// uvloopd - demo reactor loop server
// ============================================================================
//
// Command tree:
//
//	uvloopd run            # start the loop, accept connections, serve /metrics
//	    --config, -c        # path to YAML config (default: config.yaml)
//
// Configuration (YAML):
//
//	listen: ":8080"
//	shutdown_timeout: 5s
//	write_pool_block_size: 65536
//	metrics:
//	  enabled: true
//	  addr: ":9090"
//
// Signal handling:
//
//	run captures SIGINT/SIGTERM and calls Loop.Stop with the configured
//	shutdown_timeout, then exits once the three-phase sequence finishes
//	(or the timeout elapses, whichever comes first).
//
// ============================================================================
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/quiver-io/uvloop"
)

// Config is the uvloopd YAML configuration shape.
type Config struct {
	Listen             string        `yaml:"listen"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	WritePoolBlockSize int           `yaml:"write_pool_block_size"`
	Metrics            struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`
}

func defaultConfig() Config {
	cfg := Config{
		Listen:             ":8080",
		ShutdownTimeout:    5 * time.Second,
		WritePoolBlockSize: 64 * 1024,
	}
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = ":9090"
	return cfg
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

var configPath string

func main() {
	root := &cobra.Command{
		Use:     "uvloopd",
		Short:   "demo reactor loop server built on the uvloop module",
		Version: "0.1.0",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "config file path")
	root.AddCommand(buildRunCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "start the loop and accept connections until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func runServer(cfg Config) error {
	logger := uvloop.NewLogger(slog.NewJSONHandler(os.Stdout, nil))

	reg := prometheus.NewRegistry()
	metrics := uvloop.NewMetrics(reg)

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			_ = srv.ListenAndServe()
		}()
	}

	pool := uvloop.NewSlabPool(cfg.WritePoolBlockSize)

	loop := uvloop.New(
		uvloop.WithShutdownTimeout(cfg.ShutdownTimeout),
		uvloop.WithLogger(logger),
		uvloop.WithMetrics(metrics),
		uvloop.WithMemoryPool(pool),
	)
	registry := uvloop.NewRegistry(loop)
	// ConnectionManager can't be supplied until after New, since Registry
	// needs the Loop it tracks connections for; Stop reads it via the
	// exported setter below rather than a constructor option.
	loop.SetConnectionManager(registry)

	startFut := loop.Start()
	if err := startFut.Wait(context.Background()); err != nil {
		return fmt.Errorf("loop start: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	defer ln.Close()

	go acceptLoop(ln, loop, registry, pool, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+time.Second)
	defer cancel()
	return loop.Stop(ctx, cfg.ShutdownTimeout)
}

// acceptLoop is the out-of-scope "connection acceptance" piece, present
// only so the demo binary can exercise OutputPump end to end: each
// accepted connection is registered with the Loop and handed an
// OutputPump via Registry.Add.
func acceptLoop(ln net.Listener, loop *uvloop.Loop, registry *uvloop.Registry, pool *uvloop.SlabPool, logger uvloop.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		raw, err := rawFD(conn)
		if err != nil {
			conn.Close()
			continue
		}
		if _, _, err := registry.Add(raw, pool, logger); err != nil {
			conn.Close()
		}
	}
}

// rawFD extracts the underlying non-blocking fd from an accepted TCP
// connection, detaching it from Go's own netpoller so the Loop's reactor
// can own it exclusively.
func rawFD(conn net.Conn) (int, error) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return -1, fmt.Errorf("uvloopd: not a tcp connection")
	}
	file, err := tcp.File()
	if err != nil {
		return -1, err
	}
	fd := int(file.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		file.Close()
		return -1, err
	}
	// The reactor now owns fd's lifecycle; drop file's finalizer so GC
	// never closes the duplicated fd out from under a live connection.
	runtime.SetFinalizer(file, nil)
	_ = tcp.Close()
	return fd, nil
}
