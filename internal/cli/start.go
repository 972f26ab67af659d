package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quiz-round-service/internal/app"
	"quiz-round-service/internal/auth"
	"quiz-round-service/internal/config"
	redisstore "quiz-round-service/internal/infra/redis"
	"quiz-round-service/internal/report"
	transport "quiz-round-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz round server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, logger, err := loadConfigAndLogger(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	// With Redis, questions are published per participant and every instance
	// forwards them to the sockets it holds.
	var hub *transport.Hub
	var deliverer app.Deliverer
	if b.redis != nil {
		hub = transport.NewHub(redisstore.NewSubscriber(b.redis, logger), logger)
		deliverer = redisstore.NewDeliverer(b.redis)
	} else {
		hub = transport.NewHub(nil, logger)
		deliverer = hub
	}

	dispatcher := app.NewDispatcher(deliverer, app.DispatcherOptions{
		Concurrency: cfg.Broadcast.Concurrency,
		Timeout:     config.TTLDuration(cfg.Broadcast.Timeout, 5*time.Second),
	}, logger)
	rounds := app.NewRoundController(app.RoundDeps{
		Polls:       b.store,
		Catalog:     b.catalog,
		Roster:      b.store,
		Submissions: b.submissions,
		Records:     b.store,
		Dispatcher:  dispatcher,
		Logger:      logger,
	})

	tokens := auth.NewTokenService(cfg.Auth.Secret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))
	var sink *report.S3Sink
	if cfg.Report.S3Bucket != "" {
		sink, err = report.NewS3Sink(ctx, report.S3Config{
			Bucket: cfg.Report.S3Bucket,
			Prefix: cfg.Report.S3Prefix,
			Region: cfg.Report.Region,
		}, logger)
		if err != nil {
			return err
		}
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := transport.NewRouter(transport.RouterDeps{
		Polls:   b.pollService(logger),
		Rounds:  rounds,
		Reports: b.aggregator(logger),
		Sink:    sink,
		Tokens:  tokens,
		Admins:  auth.NewStaticAdmins(cfg.Auth.Admins),
		WS:      transport.NewWSHandler(rounds, tokens, hub, logger),
		Logger:  logger,
	})

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting quiz round service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
