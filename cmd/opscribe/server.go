package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kalambet/opscribe/internal/api"
	"github.com/kalambet/opscribe/internal/broadcast"
	"github.com/kalambet/opscribe/internal/config"
	"github.com/kalambet/opscribe/internal/describe"
	"github.com/kalambet/opscribe/internal/engine"
	"github.com/kalambet/opscribe/internal/ingest"
	"github.com/kalambet/opscribe/internal/pipeline"
	"github.com/kalambet/opscribe/internal/session"
	"github.com/kalambet/opscribe/internal/storage"
	"github.com/kalambet/opscribe/internal/synth"
	"github.com/kalambet/opscribe/internal/workflow"
)

const (
	shutdownGrace = 5 * time.Second
	stopWait      = 10 * time.Second
	meetingsLimit = 100
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the opscribe daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcp, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcp)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running opscribe daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", true, "serve MCP tools over stdio")
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// requiredModels lists the models EnsureReady must find on the local
// backend. The synthesis model only lives there when synthesis runs locally.
func requiredModels(cfg config.Config) []string {
	models := []string{cfg.Ollama.VisionModel}
	if cfg.Synth.Backend == config.BackendOllama {
		models = append(models, cfg.Ollama.SynthModel)
	}
	return models
}

func synthModel(cfg config.Config) string {
	if cfg.Synth.Backend == config.BackendOpenRouter {
		return cfg.Proxy.DefaultModel
	}
	return cfg.Ollama.SynthModel
}

// daemon holds the long-lived components of a running server.
type daemon struct {
	store     *storage.Store
	hub       *broadcast.Hub
	relay     *broadcast.RedisRelay
	templates *synth.TemplateStore
	machine   *workflow.Machine
	observer  *pipeline.Observer
	worker    *ingest.Worker
	handler   http.Handler
}

func (d *daemon) close() {
	d.observer.Close()
	if d.relay != nil {
		d.relay.Close()
	}
	if err := d.store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
}

func runServer(serveMCP bool) error {
	fmt.Fprintf(os.Stderr, "opscribe version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))
	if cfg.Synth.Backend == config.BackendOpenRouter && cfg.Proxy.OpenRouterAPIKey == "" {
		slog.Warn("OpenRouter API key not configured; synthesis will fail until it is", "hint", config.MissingSecretHint())
	}

	token, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	pid := pidFileIn(cfg.Storage.DataDir)
	if err := ensureNotRunning(cfg, pid); err != nil {
		return err
	}
	if err := pid.write(); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer pid.remove()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := assemble(ctx, cfg, token)
	if err != nil {
		return err
	}
	defer d.close()

	return d.run(ctx, cfg, serveMCP)
}

// ensureNotRunning refuses a second daemon, either one recorded in the PID
// file or anything already answering /health on the configured port.
func ensureNotRunning(cfg config.Config, pid pidFile) error {
	if p, ok := pid.live(); ok {
		printWarning("opscribe is already running (PID %d)", p)
		return fmt.Errorf("server already running (PID %d)", p)
	}
	health := localClient(cfg.Server.Port, "", 2*time.Second)
	if err := health.call(context.Background(), http.MethodGet, "/health", nil, nil); !errors.Is(err, errNotRunning) {
		printWarning("opscribe is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	return nil
}

// assemble checks the backends and builds every component. Frames are
// always described locally; synthesis may go remote.
func assemble(ctx context.Context, cfg config.Config, token string) (*daemon, error) {
	vision := engine.Instrument(engine.NewOllamaEngine(cfg.Ollama.BaseURL))
	printStep("Checking models at %s", cfg.Ollama.BaseURL)
	if err := engine.EnsureReady(ctx, vision, requiredModels(cfg), os.Stderr); err != nil {
		return nil, err
	}
	synthEngine, err := engine.Detect(engine.DetectConfig{
		Backend:          cfg.Synth.Backend,
		OllamaBaseURL:    cfg.Ollama.BaseURL,
		OpenRouterAPIKey: cfg.Proxy.OpenRouterAPIKey,
		DefaultModel:     cfg.Proxy.DefaultModel,
	})
	if err != nil {
		return nil, fmt.Errorf("selecting synthesis backend: %w", err)
	}
	synthEngine = engine.Instrument(synthEngine)
	slog.Info("synthesis backend selected", "backend", synthEngine.Name(), "model", synthModel(cfg))

	if cfg.Synth.TemplateDir != "" {
		if err := os.MkdirAll(cfg.Synth.TemplateDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating template dir: %w", err)
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	d := &daemon{
		store:     store,
		hub:       broadcast.NewHub(broadcast.DefaultBuffer),
		templates: synth.NewTemplateStore(cfg.Synth.TemplateDir),
		machine:   workflow.NewMachine(store),
	}
	if cfg.Redis.Addr != "" {
		d.relay, err = broadcast.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Channel, d.hub)
		if err != nil {
			store.Close()
			return nil, err
		}
		slog.Info("cross-instance broadcast enabled", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}

	d.observer = pipeline.NewObserver(pipeline.Deps{
		Registry: session.NewRegistry(session.Options{
			IdleTimeout:      cfg.Session.IdleTimeout,
			TranscriptWindow: cfg.Session.TranscriptWindow,
		}),
		Workflow:    d.machine,
		Store:       store,
		Describer:   describe.NewDescriber(vision, cfg.Ollama.VisionModel, 0),
		Synthesizer: synth.NewSynthesizer(synthEngine, synthModel(cfg), cfg.Synth.Timeout),
		Templates:   d.templates,
		Publisher:   d.hub,
		Debounce:    cfg.Session.Debounce,
		MaxWait:     cfg.Session.DebounceMaxWait,
	})
	d.worker = ingest.NewWorker(store, synth.NewFlowchartDeriver(synthEngine, synthModel(cfg)), ingest.Options{
		PollInterval: cfg.Worker.PollInterval,
		Retention:    cfg.Worker.Retention,
	})
	d.handler = api.NewRouter(api.Deps{
		Store:    store,
		Observer: d.observer,
		Workflow: d.machine,
		Hub:      d.hub,
		Token:    token,
		Backend:  synthEngine,
		WSRate:   rate.Limit(cfg.WS.MaxMessagesPerSec),
		WSBurst:  cfg.WS.Burst,
	})
	return d, nil
}

// run serves until ctx is cancelled or the listener fails. Background
// loops log their own errors so one of them stopping never takes the HTTP
// API down.
func (d *daemon) run(ctx context.Context, cfg config.Config, serveMCP bool) error {
	if serveMCP {
		// Listen blocks on stdin, so it stays outside the group.
		stdio := server.NewStdioServer(api.NewMCPServer(api.MCPDeps{
			Store:    d.store,
			Workflow: d.machine,
			Advancer: d.observer,
		}))
		go func() {
			if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: d.handler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := d.templates.Watch(gctx); err != nil {
			slog.Warn("template hot reload disabled", "error", err)
		}
		return nil
	})
	if d.relay != nil {
		g.Go(func() error {
			if err := d.relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("redis relay stopped", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "opscribe listening on %s\n", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	// In-flight syntheses finish before storage closes.
	d.observer.Wait()
	return err
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pid, ok := pidFileIn(cfg.Storage.DataDir).live()
	if !ok {
		printError("opscribe is not running")
		return errors.New("not running")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop opscribe (PID %d): %v", pid, err)
		return err
	}

	printStep("Waiting for opscribe (PID %d) to exit", pid)
	if !waitExit(pid, stopWait) {
		printWarning("opscribe (PID %d) is still shutting down", pid)
		return nil
	}
	printSuccess("opscribe stopped")
	return nil
}

// healthReport mirrors the daemon's /health body.
type healthReport struct {
	Status  string `json:"status"`
	Backend *struct {
		Name    string `json:"name"`
		Running bool   `json:"running"`
	} `json:"backend"`
	Sessions int `json:"sessions"`
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	ctx := context.Background()

	token, tokenErr := config.GetAPIToken(config.NewKeychain())
	client := localClient(cfg.Server.Port, token, 2*time.Second)

	var h healthReport
	running := false
	var se *serverError
	switch err := client.call(ctx, http.MethodGet, "/health", nil, &h); {
	case err == nil:
		running = true
		printStatus("Server", "running on port %d", cfg.Server.Port)
		if h.Backend != nil {
			state := "unreachable"
			if h.Backend.Running {
				state = "reachable"
			}
			printStatus("Synthesis", "%s (%s)", h.Backend.Name, state)
		}
		printStatus("Live sessions", "%d", h.Sessions)
	case errors.As(err, &se):
		printStatus("Server", "error (HTTP %d)", se.Status)
	default:
		printStatus("Server", "stopped")
	}

	if engine.NewOllamaEngine(cfg.Ollama.BaseURL).IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}
	printStatus("Vision model", "%s", cfg.Ollama.VisionModel)
	printStatus("Synth model", "%s (%s)", synthModel(cfg), cfg.Synth.Backend)

	if running && tokenErr == nil {
		var meetings []struct{}
		if client.call(ctx, http.MethodGet, fmt.Sprintf("/meetings?limit=%d", meetingsLimit), nil, &meetings) == nil {
			printStatus("Meetings", "%s", countLabel(len(meetings), meetingsLimit))
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
