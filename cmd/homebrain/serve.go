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
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/earchibald/home-brain-sub000/internal/brain"
	"github.com/earchibald/home-brain-sub000/internal/chat"
	"github.com/earchibald/home-brain-sub000/internal/composer"
	"github.com/earchibald/home-brain-sub000/internal/config"
	"github.com/earchibald/home-brain-sub000/internal/conversation"
	"github.com/earchibald/home-brain-sub000/internal/facts"
	"github.com/earchibald/home-brain-sub000/internal/hooks"
	"github.com/earchibald/home-brain-sub000/internal/notify"
	"github.com/earchibald/home-brain-sub000/internal/pipeline"
	"github.com/earchibald/home-brain-sub000/internal/provider"
	"github.com/earchibald/home-brain-sub000/internal/secrets"
	"github.com/earchibald/home-brain-sub000/internal/supervisor"
	"github.com/earchibald/home-brain-sub000/internal/toolserver"
	"github.com/earchibald/home-brain-sub000/internal/tools"
	"github.com/earchibald/home-brain-sub000/internal/websearch"
	"github.com/earchibald/home-brain-sub000/pkg/models"
)

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	logger := slog.Default()

	if cfg.SlackBotToken == "" || cfg.SlackAppToken == "" {
		return errors.New("SLACK_BOT_TOKEN and SLACK_APP_TOKEN are required")
	}
	if err := os.MkdirAll(cfg.BrainFolder, 0o755); err != nil {
		return fmt.Errorf("create brain folder: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var secretStore secrets.Store = secrets.EnvStore{}
	if cfg.SecretStoreURL != "" {
		secretStore = secrets.NewHTTPStore(cfg.SecretStoreURL, cfg.SecretStoreToken, logger)
	}

	index, err := conversation.OpenIndex(filepath.Join(cfg.BrainFolder, ".homebrain-index.db"))
	if err != nil {
		return fmt.Errorf("open exchange index: %w", err)
	}
	defer index.Close()

	conv := conversation.NewManager(cfg.BrainFolder, index, logger)
	factsStore := facts.NewStore(cfg.BrainFolder, logger)

	var brainClient *brain.Client
	if cfg.EnableBrainSearch && cfg.SearchURL != "" {
		brainClient = brain.NewClient(cfg.SearchURL)
	}

	var webProvider websearch.Provider
	if cfg.EnableWebSearch {
		webProvider, err = websearch.New(cfg.WebSearchProvider, cfg.WebSearchURL, cfg.WebSearchAPIKey)
		if err != nil {
			logger.Warn("web search disabled", "error", err)
			webProvider = nil
		}
	}

	defaultProv := provider.NewOllama(cfg.LLMURL, cfg.Model)
	prefs := provider.NewPrefs(cfg.BrainFolder, logger)
	keys := provider.NewAPIKeys(cfg.BrainFolder, logger)
	router := provider.NewRouter(defaultProv, prefs, keys, logger)

	summarizer := conversation.NewSummarizer(func(ctx context.Context, prompt string) (string, error) {
		resp, err := defaultProv.Generate(ctx, &provider.Request{
			Messages: []models.Message{{Role: models.RoleUser, Content: prompt, Timestamp: time.Now()}},
		})
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	}, logger)

	registry := tools.NewRegistry(tools.NewUserState(cfg.BrainFolder, logger), logger)
	if err := tools.RegisterFactsTool(registry, factsStore); err != nil {
		return err
	}
	if webProvider != nil {
		if err := tools.RegisterWebSearchTool(registry, webProvider); err != nil {
			return err
		}
	}
	if brainClient != nil {
		if err := tools.RegisterBrainSearchTool(registry, brainClient); err != nil {
			return err
		}
	}
	if err := tools.RegisterNoteToSelfSkill(registry, cfg.BrainFolder); err != nil {
		return err
	}

	servers, err := config.LoadToolServers(ctx, cfg.ToolServerConfig, secretStore)
	if err != nil {
		return fmt.Errorf("load tool servers: %w", err)
	}
	toolManager := toolserver.NewManager(registry, logger)
	if err := toolManager.Start(ctx, servers); err != nil {
		return fmt.Errorf("start tool servers: %w", err)
	}
	defer toolManager.Stop()

	executor := tools.NewExecutor(registry, logger)

	// A typed nil *brain.Client must not reach the interface field.
	var brainSearcher composer.BrainSearcher
	if brainClient != nil {
		brainSearcher = brainClient
	}
	comp := composer.New(factsStore, conv, summarizer, brainSearcher, webProvider, cfg.MaxContextTokens, logger)

	hookPipeline := hooks.NewPipeline(logger)
	hookPipeline.RegisterPre("intent-classifier", hooks.IntentClassifier())
	hookPipeline.RegisterPost("citations", hooks.CitationDecorator())

	var notifier notify.Notifier = notify.Nop{}
	if cfg.NotifyTopic != "" {
		notifier = notify.NewHTTPNotifier(cfg.NotifyTopic, logger)
	}

	metrics := pipeline.NewMetrics(nil)

	sup := supervisor.New(notifier, logger)
	sup.Add("messenger", func(ctx context.Context) error {
		// A fresh client per attempt: the events channel closes on Stop.
		chatClient := chat.NewSlackClient(chat.SlackConfig{
			BotToken: cfg.SlackBotToken,
			AppToken: cfg.SlackAppToken,
		}, logger)

		if err := chatClient.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := chatClient.Stop(stopCtx); err != nil {
				logger.Warn("chat shutdown", "error", err)
			}
		}()

		p := pipeline.New(pipeline.Config{
			Chat:         chatClient,
			Hooks:        hookPipeline,
			Composer:     comp,
			Router:       router,
			Executor:     executor,
			Registry:     registry,
			Conv:         conv,
			Metrics:      metrics,
			Logger:       logger,
			ReplyTimeout: cfg.ReplyTimeout,
		})
		err := p.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(ctx) })
	g.Go(func() error {
		return serveHTTP(ctx, cfg.ListenAddr, defaultProv, brainClient, toolManager, logger)
	})

	logger.Info("homebrain serving", "brain_folder", cfg.BrainFolder, "listen", cfg.ListenAddr)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveHTTP exposes /healthz and /metrics until ctx is cancelled.
func serveHTTP(ctx context.Context, addr string, prov provider.Provider, brainClient *brain.Client, toolManager *toolserver.Manager, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := map[string]any{"status": "ok"}
		if err := prov.HealthCheck(checkCtx); err != nil {
			status["status"] = "degraded"
			status["provider"] = err.Error()
		}
		if brainClient != nil {
			if err := brainClient.Health(checkCtx); err != nil {
				status["status"] = "degraded"
				status["brain"] = err.Error()
			}
		}
		status["tool_servers"] = toolManager.ConnectedServers()

		w.Header().Set("Content-Type", "application/json")
		if status["status"] != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
