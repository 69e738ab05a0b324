package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/switchyard-ai/switchyard/internal/agent"
	"github.com/switchyard-ai/switchyard/internal/canvas"
	"github.com/switchyard-ai/switchyard/internal/channels"
	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/internal/mcp"
	"github.com/switchyard-ai/switchyard/internal/memory"
	"github.com/switchyard-ai/switchyard/internal/providers"
	"github.com/switchyard-ai/switchyard/internal/security"
	"github.com/switchyard-ai/switchyard/internal/sessions"
	"github.com/switchyard-ai/switchyard/internal/supervisor"
	"github.com/switchyard-ai/switchyard/internal/tools"
	"github.com/switchyard-ai/switchyard/internal/workerpool"
)

// Daemon assembles the full runtime from configuration: security policy,
// memory, provider, tools, worker pool, engine, sessions, channels, and
// the control plane, with channels and the HTTP server running as
// supervised children.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	policy     *security.Policy
	store      *memory.Store
	provider   providers.Provider
	mcpManager *mcp.Manager
	registry   *tools.Registry
	pool       *workerpool.Pool
	engine     *agent.Engine
	sessions   *sessions.Manager
	channels   *channels.Registry
	canvasCh   *channels.CanvasChannel
	boards     *canvas.Manager
	dispatcher *Dispatcher
	metrics    *Metrics
	monitor    *supervisor.Monitor
	super      *supervisor.Supervisor
	server     *Server

	maintenance *cron.Cron
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func NewDaemon(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("gateway: config is required")
	}
	if logger == nil {
		logger = NewLogger(cfg.Logging)
	}

	policy, err := security.NewPolicy(security.Options{
		WorkspaceRoot:    cfg.Workspace.Root,
		Autonomy:         security.Autonomy(cfg.Workspace.Autonomy),
		BlockedPaths:     cfg.Workspace.BlockedPaths,
		CommandAllowlist: cfg.Tools.CommandAllowlist,
		AllowShellMeta:   cfg.Tools.AllowShellMeta,
		EnforceSymlinks:  cfg.Workspace.EnforceSymlinks,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: security policy: %w", err)
	}

	var embedder memory.Embedder
	if cfg.LLM.OpenAIKey != "" {
		embedder = memory.NewOpenAIEmbedder(cfg.LLM.OpenAIKey, cfg.Memory.Dimension)
	}
	store, err := memory.NewStore(memory.Config{
		Path:          cfg.Memory.Path,
		VectorWeight:  cfg.Memory.VectorWeight,
		KeywordWeight: cfg.Memory.KeywordWeight,
		CacheMaxSize:  cfg.Memory.CacheMaxSize,
	}, embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("gateway: memory store: %w", err)
	}

	provider, err := buildProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}

	mcpManager := mcp.NewManager(mcpServerConfigs(cfg.MCP), logger)
	registry := tools.NewDefaultRegistry(tools.Deps{
		MCP:        mcpManager,
		Skills:     loadSkills(cfg.Tools.SkillsDir, logger),
		HTTPClient: &http.Client{Timeout: cfg.Tools.Timeout},
		WebFetch: tools.WebFetchOptions{
			BlockedHosts: cfg.Tools.WebFetch.BlockedHosts,
			MaxChars:     cfg.Tools.WebFetch.MaxChars,
		},
	})

	maxNodes := cfg.Channels.Canvas.MaxNodes
	if maxNodes <= 0 {
		maxNodes = cfg.Tools.CanvasMaxNodes
	}
	boards := canvas.NewManager(maxNodes)

	var workerCommand []string
	if cfg.Worker.Binary != "" {
		workerCommand = []string{cfg.Worker.Binary}
	}
	pool := workerpool.New(workerpool.Options{
		Size:          cfg.Worker.PoolSize,
		WorkerCommand: workerCommand,
		Registry:      registry,
		TaskTimeout:   cfg.Worker.TaskTimeout,
		Logger:        logger,
	})

	engine, err := agent.NewEngine(agent.Options{
		Provider:  provider,
		Registry:  registry,
		Pool:      pool,
		Logger:    logger,
		MaxTokens: cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: engine: %w", err)
	}

	sessionMgr := sessions.NewManager(cfg.Session, func(string) sessions.Config {
		return sessions.Config{
			Model:        cfg.LLM.Model,
			Provider:     cfg.LLM.Provider,
			Autonomy:     cfg.Workspace.Autonomy,
			SystemPrompt: cfg.LLM.SystemPrompt,
		}
	}, logger)

	channelReg, err := channels.Build(cfg.Channels, logger)
	if err != nil {
		return nil, fmt.Errorf("gateway: channels: %w", err)
	}
	var canvasCh *channels.CanvasChannel
	if cfg.Channels.Canvas.Enabled {
		canvasCh, err = channels.NewCanvasChannel(cfg.Channels.Canvas, boards, logger)
		if err != nil {
			return nil, fmt.Errorf("gateway: canvas channel: %w", err)
		}
		if err := channelReg.Register(canvasCh); err != nil {
			return nil, fmt.Errorf("gateway: canvas channel: %w", err)
		}
	}

	metrics := NewMetrics(MetricsOptions{
		SessionCount: sessionMgr.Count,
		PoolStats:    pool.Stats,
	})

	dispatcher, err := NewDispatcher(DispatcherOptions{
		Engine:   engine,
		Sessions: sessionMgr,
		Channels: channelReg,
		Canvas:   canvasCh,
		Boards:   boards,
		ToolContext: &tools.Context{
			Cwd:    cfg.Workspace.Root,
			Policy: policy,
			Memory: store,
		},
		Metrics:      metrics,
		DefaultModel: cfg.LLM.Model,
		SystemPrompt: cfg.LLM.SystemPrompt,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	monitor := supervisor.NewMonitor(cfg.Supervisor, nil, logger)
	super := supervisor.New(cfg.Supervisor, monitor, logger)

	var ws http.Handler
	if canvasCh != nil {
		ws = canvasCh
	}
	server, err := NewServer(ServerOptions{
		Config:   cfg,
		Sessions: sessionMgr,
		WS:       ws,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	return &Daemon{
		cfg:        cfg,
		logger:     logger.With("component", "daemon"),
		policy:     policy,
		store:      store,
		provider:   provider,
		mcpManager: mcpManager,
		registry:   registry,
		pool:       pool,
		engine:     engine,
		sessions:   sessionMgr,
		channels:   channelReg,
		canvasCh:   canvasCh,
		boards:     boards,
		dispatcher: dispatcher,
		metrics:    metrics,
		monitor:    monitor,
		super:      super,
		server:     server,
	}, nil
}

// Run blocks until ctx is cancelled, then shuts the runtime down in
// dependency order.
func (d *Daemon) Run(ctx context.Context) error {
	d.channels.OnMessage(d.dispatcher.HandleInbound)

	if err := d.mcpManager.Start(ctx); err != nil {
		d.logger.Warn("mcp startup incomplete", "error", err)
	}
	if err := d.sessions.Start(); err != nil {
		return fmt.Errorf("gateway: session manager: %w", err)
	}

	d.maintenance = cron.New()
	if _, err := d.maintenance.AddFunc("@daily", d.reindexMemory); err != nil {
		return fmt.Errorf("gateway: schedule reindex: %w", err)
	}
	d.maintenance.Start()

	if err := d.super.Add("channels", d.runChannels); err != nil {
		return err
	}
	if err := d.super.Add("control-plane", d.runControlPlane); err != nil {
		return err
	}
	d.monitor.Start()
	d.super.Start(ctx)

	d.logger.Info("daemon up",
		"provider", d.provider.Name(),
		"model", d.cfg.LLM.Model,
		"autonomy", d.cfg.Workspace.Autonomy)

	<-ctx.Done()
	d.super.Wait()
	d.monitor.Stop()
	<-d.maintenance.Stop().Done()
	d.sessions.Stop()
	d.pool.Shutdown()
	if err := d.mcpManager.Stop(); err != nil {
		d.logger.Warn("mcp shutdown error", "error", err)
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warn("memory close error", "error", err)
	}
	return nil
}

func (d *Daemon) reindexMemory() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := d.store.Reindex(ctx); err != nil {
		d.logger.Warn("memory reindex failed", "error", err)
	}
}

func (d *Daemon) runChannels(ctx context.Context) error {
	d.channels.StartAll(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.channels.StopAll(stopCtx)
	}()
	d.heartbeatLoop(ctx, "channels")
	return ctx.Err()
}

func (d *Daemon) runControlPlane(ctx context.Context) error {
	if err := d.server.Start(ctx); err != nil {
		return err
	}
	defer d.server.Stop(nil)
	d.heartbeatLoop(ctx, "control-plane")
	return ctx.Err()
}

func (d *Daemon) heartbeatLoop(ctx context.Context, childID string) {
	ticker := time.NewTicker(d.cfg.Supervisor.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.monitor.Heartbeat(childID)
		}
	}
}

func buildProvider(cfg config.LLMConfig) (providers.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       cfg.OpenAIKey,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
		})
	case "scripted":
		return providers.NewScriptedProvider(), nil
	case "", "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.AnthropicKey,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("gateway: unsupported provider %q", cfg.Provider)
	}
}

func mcpServerConfigs(servers []config.MCPServer) []*mcp.ServerConfig {
	out := make([]*mcp.ServerConfig, 0, len(servers))
	for _, s := range servers {
		out = append(out, &mcp.ServerConfig{
			ID:        s.ID,
			Transport: mcp.TransportType(s.Transport),
			Command:   s.Command,
			Args:      s.Args,
			Env:       s.Env,
			URL:       s.URL,
			Headers:   s.Headers,
			Timeout:   s.Timeout,
		})
	}
	return out
}

// loadSkills reads every markdown file under dir as one skill, keyed by
// filename without extension.
func loadSkills(dir string, logger *slog.Logger) map[string]string {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("skills dir unreadable", "dir", dir, "error", err)
		return nil
	}
	skills := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			logger.Warn("skill unreadable", "file", entry.Name(), "error", err)
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		skills[name] = string(data)
	}
	return skills
}
