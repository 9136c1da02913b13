package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"triage-ai/internal/adapter/channel"
	"triage-ai/internal/adapter/llm"
	"triage-ai/internal/adapter/sheets"
	"triage-ai/internal/adapter/tool"
	"triage-ai/internal/domain"
	"triage-ai/internal/infra/config"
	"triage-ai/internal/infra/logger"
	"triage-ai/internal/infra/tracer"
	"triage-ai/internal/usecase"
	"triage-ai/internal/usecase/multiagent"
)

const missingCredentialsMsg = "Missing GEMINI_API_KEY or TAVILY_API_KEY in env."

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("triage"),
		kong.Description("Triage assistant for event planning and health care questions."),
		kong.UsageOnError(),
		kongVars(),
	)

	if err := run(context.Background(), cli, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cli CLI, stdin io.Reader, stdout io.Writer) error {
	// 1. Config
	if _, err := config.LoadDotEnv(cli.EnvFile); err != nil {
		return err
	}
	cfg, err := config.Load(cli.Config)
	if errors.Is(err, domain.ErrMissingCredentials) {
		fmt.Fprintln(stdout, missingCredentialsMsg)
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cli.LogLevel != "" {
		cfg.Logger.Level = cli.LogLevel
	}
	if cli.NoRender {
		cfg.Console.Render = false
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger, "triage-ai")
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. LLM provider
	provider := llm.NewCompatProvider(cfg.LLM.Provider, log)

	// 4. Persistence tools
	store, err := sheets.New(ctx, cfg.Sheets, log)
	if err != nil {
		return fmt.Errorf("sheets: %w", err)
	}
	registry := tool.NewRegistry(log)
	if err := registry.Register(
		tool.NewAppendEventTool(store, cfg.Sheets.SpreadsheetID, log),
		tool.NewAppendHealthTool(store, cfg.Sheets.SpreadsheetID, log),
	); err != nil {
		return fmt.Errorf("tools: %w", err)
	}

	// 5. Agents
	graph, err := multiagent.Default(cfg.Agent, log, stdout)
	if err != nil {
		return fmt.Errorf("agents: %w", err)
	}

	// 6. Tool bridge. Everything after this point must release it.
	bridge, err := tool.NewMCPBridge(ctx, cfg.MCP.ResolveServers(), log,
		tool.WithCallTimeout(cfg.MCP.CallTimeout),
		tool.WithCallLimiter(tool.NewLimiter(cfg.MCP.RateLimit, cfg.MCP.Burst)),
	)
	if err != nil {
		return err
	}
	if err := registry.Register(bridge.Tools()...); err != nil {
		if cerr := bridge.Close(); cerr != nil {
			log.Warn("tool bridge close failed", "error", cerr)
		}
		return fmt.Errorf("tools: %w", err)
	}

	runner := usecase.NewRunner(usecase.RunnerDeps{
		LLM:              provider,
		Graph:            graph,
		Tools:            registry,
		Counter:          usecase.NewTiktokenCounter(log),
		Logger:           log,
		Model:            cfg.LLM.Provider.Model,
		Temperature:      cfg.LLM.Provider.Temperature,
		MaxTurns:         cfg.Agent.MaxTurns,
		MaxHandoffs:      cfg.Agent.MaxHandoffs,
		HistoryMaxTokens: cfg.Agent.HistoryMaxTokens,
		TurnTimeout:      cfg.Agent.TurnTimeout,
	})

	log.Info("triage ready",
		"model", cfg.LLM.Provider.Model,
		"agents", graph.List(),
		"tools", registry.Names(),
	)

	// 7. REPL
	console := channel.NewConsole(stdin, stdout, cfg.Console, log)
	return runSession(ctx, bridge, console, runner, usecase.NewSession(graph.Entry()), log)
}
