package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/invopop/jsonschema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/term"

	"github.com/fpt/framebridge/internal/app"
	"github.com/fpt/framebridge/internal/bridge"
	"github.com/fpt/framebridge/internal/channel"
	"github.com/fpt/framebridge/internal/config"
	"github.com/fpt/framebridge/internal/control"
	"github.com/fpt/framebridge/internal/detector"
	"github.com/fpt/framebridge/internal/mcp"
	"github.com/fpt/framebridge/internal/metrics"
	"github.com/fpt/framebridge/internal/source"
	"github.com/fpt/framebridge/pkg/dom"
	pkgLogger "github.com/fpt/framebridge/pkg/logger"
)

const version = "0.3.0"

func printUsage() {
	fmt.Println("framebridge - finds an embedded frame on a host page and drives a worker inside it")
	fmt.Println()
	fmt.Println("Modes:")
	fmt.Println("  console                 Interactive operator console (default)")
	fmt.Println("  serve                   HTTP control server only")
	fmt.Println("  mcp                     MCP server on stdio")
	fmt.Println()
	fmt.Println("Settings are loaded from:")
	fmt.Println("  -settings <path>        Explicit JSON or YAML file")
	fmt.Println("  .framebridge/           Project settings")
	fmt.Println("  ~/.framebridge/         Personal settings (created on first run)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  framebridge                              # Console")
	fmt.Println("  framebridge -mode serve                  # Control server")
	fmt.Println("  echo /stats | framebridge                # Scripted console")
	fmt.Println("  framebridge -schema > schema.json        # Settings JSON schema")
	fmt.Println()
}

func main() {
	var settingsPath = flag.String("settings", "", "Path to settings file")
	var mode = flag.String("mode", "console", "Run mode (console, serve, or mcp)")
	var verbose = flag.Bool("v", false, "Enable verbose logging (debug level)")
	var verboseLong = flag.Bool("verbose", false, "Enable verbose logging (debug level)")
	var schema = flag.Bool("schema", false, "Print the settings JSON schema and exit")

	flag.Usage = func() {
		printUsage()
		fmt.Println("Flags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *schema {
		if err := printSchema(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate schema: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch *mode {
	case "console", "serve", "mcp":
	default:
		fmt.Fprintf(os.Stderr, "Unknown mode %q (want console, serve, or mcp)\n", *mode)
		os.Exit(2)
	}

	settings, err := config.LoadSettings(*settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		os.Exit(1)
	}
	if err := config.ValidateSettings(settings); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid settings: %v\n", err)
		os.Exit(1)
	}

	// stdout belongs to the MCP protocol in mcp mode
	out := os.Stdout
	if *mode == "mcp" {
		out = os.Stderr
	}
	level := settings.LoggerLevel()
	if *verbose || *verboseLong {
		level = pkgLogger.LogLevelDebug
	}
	pkgLogger.SetGlobalLoggerWithConsoleWriter(level, out)
	logger := pkgLogger.NewLoggerWithConsoleWriter(level, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cancel, *mode, settings, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, mode string, settings *config.Settings, logger *pkgLogger.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	page, err := dom.NewPage(settings.Page.URL)
	if err != nil {
		return fmt.Errorf("page: %w", err)
	}

	det, err := detector.New(settings.DetectorConfig(),
		detector.WithLogger(logger),
		detector.WithAttemptObserver(func(a detector.Attempt) {
			metrics.ObserveAttempt(string(a.Stage))
		}),
	)
	if err != nil {
		return fmt.Errorf("detector: %w", err)
	}

	hub := channel.NewHub(settings.Channel.BufferSize, logger)
	defer hub.Close()

	coord, err := bridge.New(settings.BridgeConfig(), page, det, hub, bridge.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}

	poller := source.NewPoller(source.Config{
		Interval:    settings.PollInterval(),
		Timeout:     settings.FetchTimeout(),
		FetchFrames: settings.Page.FetchFrames,
		UserAgent:   settings.Page.UserAgent,
	}, page, logger)

	srv := control.NewServer(settings.Control.Addr, coord, hub, registry, logger)

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	goRun := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && ctx.Err() == nil {
				errCh <- err
				cancel()
			}
		}()
	}

	goRun(func() error { return coord.Run(ctx) })
	goRun(func() error { return srv.Run(ctx) })
	goRun(func() error { poller.Run(ctx); return nil })

	logger.InfoWithIntention(pkgLogger.IntentionStatus, "framebridge started",
		"mode", mode, "page", settings.Page.URL, "control", settings.Control.Addr)

	switch mode {
	case "mcp":
		if err := mcp.NewServer("framebridge", version, coord, logger).ServeStdio(); err != nil {
			logger.Warn("MCP server stopped", "error", err)
		}
		cancel()
	case "console":
		console := app.NewConsole(ctx, coord, os.Stdout)
		if term.IsTerminal(int(os.Stdin.Fd())) {
			console.StartInteractiveMode()
		} else if err := console.RunScript(os.Stdin); err != nil && ctx.Err() == nil {
			logger.Warn("Script stopped", "error", err)
		}
		cancel()
	default:
		<-ctx.Done()
	}

	wg.Wait()
	close(errCh)
	return <-errCh
}

func printSchema() error {
	r := &jsonschema.Reflector{DoNotReference: true}
	s := r.Reflect(&config.Settings{})
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
