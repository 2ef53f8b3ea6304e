package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"starbot/internal/blacklist"
	"starbot/internal/bot"
	"starbot/internal/config"
	"starbot/internal/handlers"
	slackint "starbot/internal/integrations/slack"
	"starbot/internal/jobs"
	"starbot/internal/logging"
	"starbot/internal/middleware"
	"starbot/internal/storage"
)

var retryDelay = 30 * time.Second

type serviceBundle struct {
	Config    *config.Config
	Store     *storage.SQLStore
	Blacklist *blacklist.Blacklist
	Manager   *bot.Manager
	Events    *slackint.EventRouter
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run every installed bot and the HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe(cmd.Context())
		},
	}
}

// slackConnector opens the Web API client for a bot token. Events arrive over
// HTTP through events when it is set, otherwise over RTM, which only classic
// app tokens may open.
func slackConnector(events *slackint.EventRouter) bot.Connector {
	return func(token string) (bot.Client, bot.Stream) {
		client := slackint.NewClient(token)
		if events != nil {
			return client, events.Stream()
		}
		return client, slackint.NewRTMStream(client)
	}
}

// initializeServices retries until configuration and database are usable.
// It returns nil only when ctx ends first.
func initializeServices(ctx context.Context) *serviceBundle {
	slog.Info("Loading configuration...")

	var cfg *config.Config
	for {
		cfg = config.Load()
		logging.SetupLogger(logLevel(cfg.LogLevel), cfg.LogFormat)
		if err := cfg.Validate(); err != nil {
			slog.Error("Invalid configuration, retrying", "error", err, "retry_in", retryDelay)
			if !sleep(ctx, retryDelay) {
				return nil
			}
			continue
		}
		break
	}

	slog.Info("Initializing services...", "store", cfg.StoreDriver, "environment", cfg.Environment)

	var store *storage.SQLStore
	for {
		var err error
		store, err = storage.NewSQLStore(cfg.StoreDriver, cfg.DatabaseURL)
		if err != nil {
			slog.Error("Failed to open store, retrying", "error", err, "retry_in", retryDelay)
			if !sleep(ctx, retryDelay) {
				return nil
			}
			continue
		}
		break
	}

	list := blacklist.NewSeeded(cfg.LinkBlacklist, ",")

	var events *slackint.EventRouter
	if cfg.EventsAPIEnabled() {
		events = slackint.NewEventRouter(cfg.SlackSigningSecret)
	}

	manager := bot.NewManager(slackConnector(events), store, list, bot.Config{
		Emoji:        cfg.ReactionEmoji,
		ScanInterval: cfg.ScanInterval,
		HistoryLimit: cfg.ScanHistoryLimit,
	})

	slog.Info("All services initialized successfully")

	return &serviceBundle{
		Config:    cfg,
		Store:     store,
		Blacklist: list,
		Manager:   manager,
		Events:    events,
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// newRouter wires the HTTP surface. oauth is nil when the app has no client
// credentials and events is nil when bots use RTM; their routes are skipped.
func newRouter(ctx context.Context, store storage.Store, list *blacklist.Blacklist, manager *bot.Manager, stats *jobs.StatsJob, oauth *slackint.OAuthHandler, events *slackint.EventRouter) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.LoggingMiddleware)
	router.Use(middleware.MetricsMiddleware)

	linksHandler := handlers.NewLinksHandler(store)
	blacklistHandler := handlers.NewBlacklistHandler(list)
	healthHandler := handlers.NewHealthHandler(store, manager)
	statsHandler := handlers.NewStatsHandler(stats)

	// API routes with rate limiting
	apiLimiters := middleware.APIRateLimiters()
	go apiLimiters.RunCleanup(ctx, 5*time.Minute)

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(apiLimiters.Middleware)
	apiRouter.HandleFunc("/links", linksHandler.HandleList).Methods("GET")
	apiRouter.HandleFunc("/blacklist", blacklistHandler.HandleList).Methods("GET")
	apiRouter.HandleFunc("/blacklist", blacklistHandler.HandleBan).Methods("POST")
	apiRouter.HandleFunc("/blacklist", blacklistHandler.HandleUnban).Methods("DELETE")
	apiRouter.HandleFunc("/stats", statsHandler.HandleStats).Methods("GET")

	// Slack delivers every team's events from a few addresses, so no IP limit
	if events != nil {
		router.HandleFunc("/slack/events", events.HandleEvents).Methods("POST")
	}

	if oauth != nil {
		slackLimiters := middleware.SlackRateLimiters()
		go slackLimiters.RunCleanup(ctx, 5*time.Minute)

		slackRouter := router.PathPrefix("/slack").Subrouter()
		slackRouter.Use(slackLimiters.Middleware)
		slackRouter.HandleFunc("/install", oauth.HandleInstall).Methods("GET")
		slackRouter.HandleFunc("/oauth/callback", oauth.HandleCallback).Methods("GET")
	}

	// System routes
	router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	router.HandleFunc("/ready", healthHandler.HandleReady).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}

func runServe(parent context.Context) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting starbot", slog.String("version", Version))

	services := initializeServices(ctx)
	if services == nil {
		slog.Info("Interrupted before startup completed")
		return
	}
	defer services.Store.Close()

	cfg := services.Config
	manager := services.Manager

	if _, err := manager.Rehydrate(ctx); err != nil {
		slog.Error("Failed to rehydrate bots", "error", err)
	}

	if cfg.SlackBotToken != "" {
		if _, err := manager.Launch(ctx, storage.BotRecord{Token: cfg.SlackBotToken}); err != nil {
			slog.Error("Failed to launch bot from SLACK_BOT_TOKEN", "error", err)
		}
	}

	var oauth *slackint.OAuthHandler
	if cfg.OAuthEnabled() {
		oauth = slackint.NewOAuthHandler(slackint.OAuthConfig{
			ClientID:     cfg.SlackClientID,
			ClientSecret: cfg.SlackClientSecret,
			RedirectURL:  cfg.SlackRedirectURL,
		}, services.Store, manager)
	}

	if services.Events == nil {
		slog.Info("SLACK_SIGNING_SECRET not set, bots connect over RTM (classic Slack apps only)")
	}

	if len(manager.Active()) == 0 && oauth == nil {
		slog.Warn("No bot is running and the install flow is disabled; set SLACK_BOT_TOKEN or SLACK_CLIENT_ID")
	}

	statsJob := jobs.NewStatsJob(services.Store, manager, services.Blacklist)
	go statsJob.Start(ctx)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(ctx, services.Store, services.Blacklist, manager, statsJob, oauth, services.Events),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Server starting", slog.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("Server shutting down...")

	// bots first, so no scan is cut off by the store closing
	statsJob.Stop()
	manager.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server exited gracefully")
}
