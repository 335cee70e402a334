package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tobert/rdmwatch/internal/mcpserver"
	"github.com/tobert/rdmwatch/internal/webui"
)

// WatchCommand returns the CLI command definition for the 'watch' subcommand.
// This command runs the monitor until interrupted.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Monitor a device and serve the live dashboard",
		Description: `Polls the device every poll interval, keeps the /ws push channel open
(retrying after the reconnect delay when it drops), and serves the
dashboard at http://<ui-host>:<ui-port>/ui/.

Optional outputs:
  --mcp stdio|http     expose the dashboard as MCP tools
  --otlp-endpoint      push derived metrics to an OTLP collector
  --otlp-file          append OTLP metrics as JSONL
  --mqtt-broker        publish retained state topics`,
		Flags: append(commonFlags(),
			&cli.StringFlag{
				Name:  "poll-interval",
				Usage: "Time between polls (e.g. 2s)",
			},
			&cli.StringFlag{
				Name:  "reconnect-delay",
				Usage: "Delay before retrying the push channel (e.g. 5s)",
			},
			&cli.StringFlag{
				Name:  "ui-host",
				Usage: "Web UI bind address",
			},
			&cli.IntFlag{
				Name:  "ui-port",
				Usage: "Web UI port (-1 to disable)",
			},
			&cli.StringFlag{
				Name:  "mcp",
				Usage: "MCP transport: none, stdio or http",
			},
			&cli.IntFlag{
				Name:  "mcp-port",
				Usage: "MCP HTTP transport port",
			},
			&cli.StringFlag{
				Name:  "otlp-endpoint",
				Usage: "OTLP gRPC collector address (e.g. localhost:4317)",
			},
			&cli.StringFlag{
				Name:  "otel-config",
				Usage: "Take the OTLP endpoint from an OpenTelemetry Collector config",
			},
			&cli.StringFlag{
				Name:  "otlp-file",
				Usage: "Append OTLP metrics JSONL to this file",
			},
			&cli.StringFlag{
				Name:  "mqtt-broker",
				Usage: "MQTT broker URL (e.g. tcp://localhost:1883)",
			},
			&cli.StringFlag{
				Name:  "mqtt-topic",
				Usage: "MQTT topic prefix",
			},
			&cli.StringFlag{
				Name:  "feed-file",
				Usage: "JSONL channel level file to show instead of the simulation",
			},
		),
		Action: runWatch,
	}
}

// runWatch is the action handler for the watch command.
func runWatch(cliCtx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	durs, _ := cfg.Durations()

	if cfg.Verbose {
		log.Println("🔧 Configuration:")
		log.Printf("  Device: %s\n", cfg.DeviceURL)
		log.Printf("  Poll interval: %s\n", durs.PollInterval)
		log.Printf("  Reconnect delay: %s\n", durs.ReconnectDelay)
		log.Printf("  Notifications: %s + %s fade\n", durs.ToastDuration, durs.ToastFade)
		log.Printf("  MCP transport: %s\n", cfg.MCPTransport)
		log.Println()
	}

	c, err := newComponents(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.withFeed(); err != nil {
		return fmt.Errorf("failed to start feed: %w", err)
	}
	if err := c.withSinks(); err != nil {
		return fmt.Errorf("failed to start sinks: %w", err)
	}
	if err := c.withLive(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cliCtx)
	defer cancel()

	// Setup graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			if cfg.Verbose {
				log.Printf("📡 Received signal %v, initiating graceful shutdown...\n", sig)
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	errCh := make(chan error, 3)

	if cfg.UIPort >= 0 {
		ui := webui.New(webui.Config{
			Store:         c.store,
			Notifications: c.center,
			Actions:       c.actions,
			Source:        c.source,
		})
		addr := net.JoinHostPort(cfg.UIHost, strconv.Itoa(cfg.UIPort))
		go func() {
			if err := ui.ListenAndServe(ctx, addr); err != nil {
				errCh <- fmt.Errorf("web UI: %w", err)
			}
		}()
		log.Printf("🌐 Dashboard at http://%s/ui/\n", addr)
	}

	if cfg.MCPTransport == "stdio" || cfg.MCPTransport == "http" {
		mcpSrv, err := mcpserver.NewServer(c.store, c.center, mcpserver.ServerOptions{
			Actions: c.actions,
			Poller:  c.sched,
			Source:  c.source,
			Verbose: cfg.Verbose,
		})
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}

		switch cfg.MCPTransport {
		case "stdio":
			go func() {
				// stdin closing ends the session and the monitor with it
				err := mcpSrv.Run(ctx)
				if err != nil && ctx.Err() == nil {
					errCh <- fmt.Errorf("MCP server: %w", err)
					return
				}
				cancel()
			}()
			log.Println("🎯 MCP server ready on stdio")
		case "http":
			addr := net.JoinHostPort(cfg.UIHost, strconv.Itoa(cfg.MCPHTTPPort))
			go func() {
				if err := serveMCPHTTP(ctx, addr, mcpSrv.HTTPHandler()); err != nil {
					errCh <- fmt.Errorf("MCP HTTP: %w", err)
				}
			}()
			log.Printf("🎯 MCP server at http://%s/mcp\n", addr)
		}
	}

	c.channel.Connect()
	log.Printf("🔌 Watching %s (push channel %s)\n", cfg.DeviceURL, c.channel.Endpoint())

	go func() {
		_ = c.sched.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func serveMCPHTTP(ctx context.Context, addr string, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
