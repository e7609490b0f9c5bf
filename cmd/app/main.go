package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"log/slog"
	"museumguide/internal/chat"
	"museumguide/internal/config"
	"museumguide/internal/conversation"
	"museumguide/internal/httpserver"
	"museumguide/internal/llm"
	"museumguide/internal/session"
	"museumguide/internal/speech"
	"museumguide/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := transport.NewHTTPClient(cfg.RequestTimeout)

	provider, err := newProvider(ctx, cfg, httpClient, logger)
	if err != nil {
		log.Fatalf("failed to init completion provider: %v", err)
	}

	backend, closeBackend, err := newBackend(ctx, cfg.Conversation, logger)
	if err != nil {
		log.Fatalf("failed to init conversation backend: %v", err)
	}
	defer closeBackend()

	preamble := conversation.Preamble{
		Template:       cfg.Persona.Template,
		DefaultExhibit: cfg.Persona.DefaultExhibit,
	}
	store := conversation.NewStore(conversation.StoreConfig{
		Backend:     backend,
		Provider:    provider,
		Preamble:    preamble,
		Model:       cfg.Model(),
		TurnTimeout: cfg.TurnTimeout,
		Logger:      logger,
	})

	deps := chat.HandlerDeps{
		Conversations: store,
		Preamble:      preamble,
		Logger:        logger,
	}
	if cfg.Speech.Enabled {
		deps.Speech = speech.NewElevenLabsClient(cfg.Speech, httpClient, logger)
	}

	routerDeps := httpserver.RouterDeps{Logger: logger}
	if cfg.Conversation.Backend == config.BackendSession {
		sessions, err := newSessionService(cfg.Session, logger)
		if err != nil {
			log.Fatalf("failed to init session store: %v", err)
		}
		deps.SessionScoped = true
		routerDeps.Session = session.Middleware(sessions, session.CookieConfig{
			Name:   cfg.Session.CookieName,
			Secure: cfg.Session.CookieSecure,
			TTL:    cfg.Session.TTL,
		}, logger)
	}
	routerDeps.Chat = chat.NewHandler(deps)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpserver.NewRouter(routerDeps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.TurnTimeout + cfg.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			slog.String("addr", cfg.HTTPAddr),
			slog.String("provider", cfg.CompletionProvider),
			slog.String("model", cfg.Model()),
			slog.String("backend", cfg.Conversation.Backend),
			slog.Bool("speech", cfg.Speech.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

func newProvider(ctx context.Context, cfg config.Config, httpClient *http.Client, logger *slog.Logger) (conversation.Provider, error) {
	if !llm.IsKnownModel(cfg.CompletionProvider, cfg.Model()) {
		logger.Warn("model is not in the catalogue",
			slog.String("provider", cfg.CompletionProvider),
			slog.String("model", cfg.Model()),
		)
	}

	switch cfg.CompletionProvider {
	case config.ProviderGemini:
		client, err := llm.NewGeminiClient(ctx, cfg.Gemini, httpClient, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return llm.NewOpenAIClient(cfg.OpenAI, httpClient, logger), nil
	}
}

// newBackend открывает хранилище диалогов; cleanup закрывает соединения.
func newBackend(ctx context.Context, cfg config.ConversationConfig, logger *slog.Logger) (conversation.Backend, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case config.BackendFile:
		b, err := conversation.NewFileBackend(cfg.FilePath, logger)
		if err != nil {
			return nil, noop, err
		}
		return b, noop, nil
	case config.BackendSQLite:
		b, err := conversation.OpenSQLiteBackend(cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return b, func() {
			if err := b.Close(); err != nil {
				logger.Error("sqlite close failed", slog.String("error", err.Error()))
			}
		}, nil
	case config.BackendMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, noop, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(connectCtx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, noop, fmt.Errorf("ping mongo: %w", err)
		}
		b := conversation.NewMongoBackend(client.Database(cfg.MongoDatabase), cfg.MongoCollection)
		return b, func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.Error("mongo disconnect failed", slog.String("error", err.Error()))
			}
		}, nil
	case config.BackendSession:
		return conversation.NewSessionBackend(), noop, nil
	default:
		return conversation.NewMemoryBackend(), noop, nil
	}
}

func newSessionService(cfg config.SessionConfig, logger *slog.Logger) (*session.Service, error) {
	var store session.Store
	switch cfg.StoreType {
	case "file":
		fileStore, err := session.NewFileStore(cfg.StorePath, logger)
		if err != nil {
			return nil, err
		}
		store = fileStore
	default:
		store = session.NewMemoryStore()
	}
	return session.NewService(cfg.TTL, store), nil
}

func newLogger(level string) *slog.Logger {
	slogLevel := slog.LevelInfo
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
