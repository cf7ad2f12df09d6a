package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/agents"
	"github.com/mohammad-safakhou/deepresearch/internal/gateway"
	"github.com/mohammad-safakhou/deepresearch/internal/search"
	"github.com/mohammad-safakhou/deepresearch/internal/search/exa"
	srv "github.com/mohammad-safakhou/deepresearch/internal/server"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
	"github.com/mohammad-safakhou/deepresearch/internal/telemetry"
	"github.com/mohammad-safakhou/deepresearch/internal/tracker"
)

func main() {
	root := &cobra.Command{Use: "researchd", Short: "Multi-agent deep research service"}

	var cfgPath string
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")

	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP research server",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps(cfgPath)
			if err != nil {
				return err
			}
			defer d.archive.Close()
			if serveAddr != "" {
				d.cfg.Server.Address = serveAddr
			}
			s, err := srv.New(srv.Options{
				Config:  d.cfg,
				Gateway: d.gateway,
				Tools:   d.tools,
				Archive: d.archive,
				Metrics: d.metrics,
				Logger:  d.logger,
			})
			if err != nil {
				return err
			}
			if port := d.cfg.Telemetry.MetricsPort; d.cfg.Telemetry.Enabled && port > 0 {
				go func() {
					mux := http.NewServeMux()
					mux.Handle("/metrics", d.metrics.Handler())
					server := &http.Server{
						Addr:              fmt.Sprintf(":%d", port),
						Handler:           mux,
						ReadHeaderTimeout: 5 * time.Second,
					}
					if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						d.logger.Printf("metrics server: %v", err)
					}
				}()
			}
			return s.Start()
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")

	var runTopic string
	run := &cobra.Command{
		Use:   "run [topic]",
		Short: "Run one research session from the terminal",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.TrimSpace(runTopic)
			if topic == "" {
				topic = strings.TrimSpace(strings.Join(args, " "))
			}
			if topic == "" {
				return fmt.Errorf("topic required (positional or --topic)")
			}
			d, err := buildDeps(cfgPath)
			if err != nil {
				return err
			}
			defer d.archive.Close()
			return runOnce(d, topic)
		},
	}
	run.Flags().StringVar(&runTopic, "topic", "", "research topic")

	root.AddCommand(serve, run)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type deps struct {
	cfg     *config.Config
	gateway *gateway.Gateway
	tools   *search.Toolset
	archive store.SessionArchive
	metrics *telemetry.Metrics
	logger  *log.Logger
}

func buildDeps(cfgPath string) (*deps, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	if cfg.LLM.Provider.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not configured (llm.provider.api_key)")
	}
	if cfg.Search.APIKey == "" {
		return nil, fmt.Errorf("EXA_API_KEY not configured (search.api_key)")
	}

	logger := log.New(log.Writer(), "[RESEARCHD] ", log.LstdFlags)
	client := gateway.NewOpenAIClient(cfg.LLM.Provider.APIKey, cfg.LLM.Provider.BaseURL,
		cfg.LLM.Provider.Timeout, log.New(log.Writer(), "[LLM] ", log.LstdFlags))
	gw := gateway.New(client, gateway.Options{
		MaxRetries:     cfg.LLM.Provider.MaxRetries,
		RetryBaseDelay: cfg.LLM.Provider.RetryBaseDelay,
	}, log.New(log.Writer(), "[GATEWAY] ", log.LstdFlags))
	provider := exa.New(cfg.Search.APIKey, cfg.Search.Endpoint, cfg.Search.Timeout,
		log.New(log.Writer(), "[EXA] ", log.LstdFlags))

	archive, err := buildArchive(cfg)
	if err != nil {
		return nil, err
	}

	return &deps{
		cfg:     cfg,
		gateway: gw,
		tools:   search.NewToolset(provider, log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)),
		archive: archive,
		metrics: telemetry.NewMetrics(),
		logger:  logger,
	}, nil
}

func buildArchive(cfg *config.Config) (store.SessionArchive, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	switch cfg.Storage.Archive {
	case "redis":
		return store.NewRedisArchive(ctx, cfg.Storage.Redis.Addr(),
			cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, cfg.Storage.Redis.TTL)
	case "postgres":
		return store.NewPostgresArchive(ctx, cfg.Storage.Postgres.DSN())
	default:
		return store.NewMemoryArchive(), nil
	}
}

// runOnce drives a single session in the foreground, printing progress to
// stdout instead of an event stream.
func runOnce(d *deps, topic string) error {
	sessionID := uuid.NewString()
	base := filepath.Join(d.cfg.Storage.File.DataDir, "sessions", sessionID)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return fmt.Errorf("session workspace: %w", err)
	}

	tr := tracker.New(sessionID, topic, tracker.Options{
		Logger: d.logger,
		LogDir: d.cfg.Storage.File.LogDir,
	})
	tr.OnEvent(func(ev tracker.Event) {
		switch ev.Type {
		case tracker.EventAgentStarted:
			fmt.Printf("* %s started: %s\n", ev.AgentID, ev.Task)
		case tracker.EventAgentCompleted:
			fmt.Printf("* %s %s (%dms)\n", ev.AgentID, ev.Status, ev.DurationMS)
		}
	})

	rt := &agents.Runtime{
		Gateway: d.gateway,
		Tools:   d.tools,
		Tracker: tr,
		Models:  routing(d.cfg),
		Paths:   agents.NewPaths(base),
		Logger:  d.logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Server.SessionDeadline)
	defer cancel()

	fmt.Printf("Researching: %s\n\n", topic)
	runErr := agents.NewOrchestrator(rt).Run(ctx, topic, func(m agents.StreamMessage) {
		switch m.Type {
		case agents.MessageAssistant:
			fmt.Println(m.Content)
		case agents.MessageToolUse:
			fmt.Printf("-> %s\n", m.ToolName)
		}
	})

	status := tracker.StatusCompleted
	if runErr != nil {
		status = tracker.StatusFailed
	}
	summary := tr.FinalizeSession(status)

	actx, acancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer acancel()
	if err := d.archive.Save(actx, summary); err != nil {
		d.logger.Printf("archive: %v", err)
	}

	if runErr != nil {
		return fmt.Errorf("research failed: %w", runErr)
	}
	fmt.Printf("\nReport: %s\n", rt.Paths.ReportPath())
	fmt.Printf("Agents: %d completed, %d failed. Total cost: $%.4f\n",
		summary.Stats.CompletedAgents, summary.Stats.FailedAgents, summary.Costs.TotalCost)
	return nil
}

func routing(cfg *config.Config) agents.ModelRouting {
	r := cfg.LLM.Routing
	return agents.ModelRouting{
		Orchestrator:          r.Orchestrator.Model,
		Searcher:              r.Searcher.Model,
		Analyzer:              r.Analyzer.Model,
		Writer:                r.Writer.Model,
		OrchestratorMaxTokens: r.Orchestrator.MaxTokens,
		SearcherMaxTokens:     r.Searcher.MaxTokens,
		AnalyzerMaxTokens:     r.Analyzer.MaxTokens,
		WriterMaxTokens:       r.Writer.MaxTokens,
	}
}
