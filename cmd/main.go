package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZhyangJ/Agent-chat/internal/agent"
	"github.com/ZhyangJ/Agent-chat/internal/config"
	"github.com/ZhyangJ/Agent-chat/internal/diag"
	"github.com/ZhyangJ/Agent-chat/internal/httpapi"
	"github.com/ZhyangJ/Agent-chat/internal/llm"
	"github.com/ZhyangJ/Agent-chat/internal/persistence"
	"github.com/ZhyangJ/Agent-chat/internal/tools"
	"github.com/ZhyangJ/Agent-chat/internal/tracer"
	"github.com/ZhyangJ/Agent-chat/pkg/icron"
	"github.com/ZhyangJ/Agent-chat/pkg/log"
)

const shutdownTimeout = 10 * time.Second

type rootOptions struct {
	envFiles []string
	port     int
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error("Command execution error: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "agent-chat",
		Short:        "Tool-augmented chat agent server",
		Long:         `agent-chat proxies chat requests to an OpenAI-compatible model, runs local tools and streams answers as server-sent events.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files to load, missing files are skipped")
	root.Flags().IntVar(&opts.port, "port", 0, "listening port (overrides PORT)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")

	root.AddCommand(newDiagCmd(opts))
	return root
}

func newDiagCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diag",
		Short: "Print the persisted reasoning log and error reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.envFiles, config.WithLogLevel(opts.logLevel))
			if err != nil {
				return err
			}
			if cfg.Diag.DBPath == "" {
				return errors.New("DIAG_DB_PATH is not set")
			}
			store, err := persistence.NewSQLiteStore(cfg.Diag.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
			return dumpDiagnostics(cmd.Context(), store, cmd.OutOrStdout())
		},
	}
}

func dumpDiagnostics(ctx context.Context, store diag.Store, w io.Writer) error {
	steps, err := store.Steps(ctx)
	if err != nil {
		return err
	}
	reports, err := store.Errors(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"reasoningSteps": steps,
		"errorReports":   reports,
	})
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg, err := config.Load(opts.envFiles, config.WithPort(opts.port), config.WithLogLevel(opts.logLevel))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log.GetLogger().SetLevel(log.ParseLevel(cfg.System.LogLevel))

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracing.Exporter)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("Tracer shutdown: %v", err)
		}
	}()

	store, closeStore, err := openDiagStore(cfg.Diag)
	if err != nil {
		return err
	}
	defer closeStore()

	registry, err := tools.NewDefaultRegistry(tools.DefaultOptions{
		Searcher: tools.NewBaikeSearcher(cfg.Search.APIURL, time.Duration(cfg.Search.Timeout)*time.Second),
		Diag:     store,
		Locale:   cfg.System.Locale,
		Location: cfg.System.Location(),
	})
	if err != nil {
		return err
	}

	client, err := llm.NewClient(&llm.Config{
		APIKey:             cfg.LLM.APIKey,
		APIURL:             cfg.LLM.APIURL,
		Model:              cfg.LLM.Model,
		MaxTokens:          cfg.LLM.MaxTokens,
		Temperature:        cfg.LLM.Temperature,
		Timeout:            cfg.LLM.Timeout,
		BreakerMaxFailures: cfg.Agent.BreakerMaxFailures,
		BreakerOpenTimeout: cfg.Agent.BreakerOpenTimeout,
	})
	if err != nil {
		return err
	}

	chatAgent := agent.NewLLMAgent(client, registry, cfg.Agent.MaxIterations, agent.WithJournal(store))
	defer chatAgent.Close()

	srv := httpapi.NewServer(chatAgent, httpapi.WithRateLimit(ctx, cfg.Server.RateLimitPerMin, cfg.Server.RateLimitBurst))

	var sched scheduler
	if cfg.Diag.ClearCron != "" {
		s, err := startLogRotation(cfg, store)
		if err != nil {
			return err
		}
		sched = s
	}

	log.Info("Server is running on http://localhost%s with %d tools", cfg.Server.Addr(), len(registry.List()))
	return runWithComponents(ctx, cfg.Server.Addr(), sched, srv)
}

// openDiagStore returns the SQLite journal when a path is configured, the
// in-memory store otherwise.
func openDiagStore(cfg config.DiagConfig) (diag.Store, func(), error) {
	if cfg.DBPath == "" {
		return diag.NewMemoryStore(), func() {}, nil
	}
	store, err := persistence.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open diagnostics store: %w", err)
	}
	return store, func() {
		if err := store.Close(); err != nil {
			log.Warn("Close diagnostics store: %v", err)
		}
	}, nil
}

// startLogRotation clears the reasoning log on the configured schedule.
func startLogRotation(cfg *config.Config, store diag.Store) (*icron.Scheduler, error) {
	loc := cfg.System.Location()
	s, err := icron.Start(cfg.Diag.ClearCron, loc, func() {
		n, err := store.ClearSteps(context.Background())
		if err != nil {
			log.Error("Scheduled reasoning log clear failed: %v", err)
			return
		}
		log.Info("Scheduled reasoning log clear removed %d steps", n)
	})
	if err != nil {
		return nil, err
	}
	if info, err := icron.GetTriggerInfo(cfg.Diag.ClearCron, time.Now().In(loc)); err == nil {
		log.Info("Reasoning log clear scheduled (%s), next at %s", cfg.Diag.ClearCron, info.Next.Format(time.RFC3339))
	}
	return s, nil
}

type scheduler interface {
	Stop(ctx context.Context) error
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

// runWithComponents serves until ctx is cancelled or the server fails, then
// shuts the server and the scheduler down.
func runWithComponents(ctx context.Context, addr string, sched scheduler, srv httpServer) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(addr)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			serveErr = fmt.Errorf("http shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) && serveErr == nil {
			serveErr = err
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	if sched != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			log.Warn("Scheduler stop: %v", err)
		}
	}
	return serveErr
}
