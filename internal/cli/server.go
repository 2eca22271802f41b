package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"gatebot/internal/app"
	"gatebot/internal/config"
	"gatebot/internal/domain"
	"gatebot/internal/infra/botapi"
	"gatebot/internal/infra/memory"
	pgloader "gatebot/internal/infra/postgres"
	redisstore "gatebot/internal/infra/redis"
	transport "gatebot/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the bot.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the admission gate bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
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

	questions, err := loadQuestions(ctx, cfg)
	if err != nil {
		return err
	}
	catalog, err := domain.NewCatalog(questions)
	if err != nil {
		return err
	}

	chat := botapi.NewClient(cfg.Bot.Token)
	botID, err := chat.BotID(ctx)
	if err != nil {
		return fmt.Errorf("resolve bot identity: %w", err)
	}

	var store app.StateStore
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = redisstore.NewStateStore(client)
	} else {
		log.Printf("no redis configured, gate state will not survive restarts")
		store = memory.NewStateStore()
	}

	service, err := app.NewGateService(store, chat, catalog, cfg, botID)
	if err != nil {
		return err
	}

	if cfg.Gate.Sweep.Enabled {
		sweeper := app.NewSweeper(store, chat, cfg)
		if err := sweeper.Start(); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	webhookPath := cfg.Bot.WebhookPath
	if webhookPath == "" {
		webhookPath = "/webhook"
	}
	handler := transport.NewWebhookHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc(webhookPath, handler.ServeUpdate)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("gatebot listening on :%s (webhook %s, catalog %d questions)", finalPort, webhookPath, catalog.Len())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// loadQuestions prefers the Postgres catalog and falls back to the JSON
// file next to the config.
func loadQuestions(ctx context.Context, cfg config.Config) ([]domain.Question, error) {
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		return pgloader.NewCatalogLoader(pool).LoadQuestions(ctx)
	}
	return loadCatalogFile(cfg.Catalog.Path)
}

func loadCatalogFile(path string) ([]domain.Question, error) {
	if path == "" {
		return nil, fmt.Errorf("no catalog source configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var file struct {
		Quizzes []domain.Question `json:"quizzes"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return file.Quizzes, nil
}
