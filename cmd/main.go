package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/chatelio/chatelio-backend/internal/clients/gemini"
	"github.com/chatelio/chatelio-backend/internal/clients/openai"
	"github.com/chatelio/chatelio-backend/internal/clients/pinecone"
	redisclient "github.com/chatelio/chatelio-backend/internal/clients/redis"
	"github.com/chatelio/chatelio-backend/internal/db"
	"github.com/chatelio/chatelio-backend/internal/handlers"
	"github.com/chatelio/chatelio-backend/internal/logger"
	"github.com/chatelio/chatelio-backend/internal/observability"
	"github.com/chatelio/chatelio-backend/internal/pipeline"
	"github.com/chatelio/chatelio-backend/internal/repos"
	"github.com/chatelio/chatelio-backend/internal/server"
	"github.com/chatelio/chatelio-backend/internal/services"
	"github.com/chatelio/chatelio-backend/internal/types"
	"github.com/chatelio/chatelio-backend/internal/utils"
)

func main() {
	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("startup failed", "error", err.Error())
	}
}

func run(log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(log)
	if err != nil {
		return err
	}
	if err := db.AutoMigrateAll(gdb, log); err != nil {
		return err
	}

	shutdownTracing, err := observability.Setup(ctx, "chatelio-backend", log)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	pineconeClient, err := pinecone.NewClient(log)
	if err != nil {
		return err
	}
	store := pinecone.NewVectorStore(pineconeClient, log)

	openaiClient, err := openai.NewClient(log)
	if err != nil {
		return err
	}
	geminiClient, err := gemini.NewClient(log)
	if err != nil {
		log.Warn("gemini disabled", "error", err.Error())
		geminiClient = nil
	}

	registry, err := pipeline.LoadRegistry(
		utils.GetEnv("MODEL_REGISTRY_PATH", "configs/models.yaml", log),
		openaiClient, geminiClient, log,
	)
	if err != nil {
		return err
	}

	companyRepo := repos.NewCompanyRepo(gdb, log)
	userRepo := repos.NewCompanyUserRepo(gdb, log)
	guestRepo := repos.NewGuestSessionRepo(gdb, log)
	kbRepo := repos.NewKnowledgeBaseRepo(gdb, log)
	docRepo := repos.NewDocumentRepo(gdb, log)
	chatRepo := repos.NewChatRepo(gdb, log)
	msgRepo := repos.NewMessageRepo(gdb, log)

	chatSvc := services.NewChatService(chatRepo, msgRepo, utils.GetEnvAsInt("CHAT_HISTORY_LIMIT", 10, log), log)

	embedder := &pipeline.OpenAIEmbedder{
		Client: openaiClient,
		Model:  utils.GetEnv("OPENAI_EMBED_MODEL", "text-embedding-3-small", log),
	}
	topK := utils.GetEnvAsInt("PIPELINE_TOP_K", 4, log)
	history := chatSvc.HistoryProvider()

	cache := pipeline.NewCache(func(ctx context.Context, tenantID, model string) (*pipeline.Handle, error) {
		chatModel, err := registry.Resolve(model)
		if err != nil {
			return nil, err
		}
		companyID, err := uuid.Parse(tenantID)
		if err != nil {
			return nil, err
		}
		retriever := &pipeline.VectorRetriever{
			Store:     store,
			Embedder:  embedder,
			Namespace: types.CompanyNamespace(companyID),
		}
		return pipeline.NewHandle(tenantID, model, chatModel, retriever, history, topK, log), nil
	}, log)

	bus, err := redisclient.NewInvalidationBus(log)
	if err != nil {
		return err
	}
	var publisher services.InvalidationPublisher
	if bus != nil {
		publisher = bus
		bus.StartForwarder(ctx, cache.Invalidate)
		defer bus.Close()
	}

	knowledgeSvc := services.NewKnowledgeService(gdb, companyRepo, kbRepo, docRepo, store, embedder, cache, publisher, log)
	authSvc, err := services.NewAuthService(gdb, companyRepo, userRepo, guestRepo, chatRepo, log)
	if err != nil {
		return err
	}
	generationSvc := services.NewGenerationService(companyRepo, chatSvc, knowledgeSvc, cache, store, log)

	// Pick up documents a previous instance left mid-embedding.
	go func() {
		sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if err := knowledgeSvc.ReconcilePending(sweepCtx); err != nil {
			log.Warn("reconcile sweep failed", "error", err.Error())
		}
	}()

	router := server.NewRouter(server.Handlers{
		Health:    handlers.NewHealthHandler(gdb),
		Auth:      handlers.NewAuthHandler(authSvc, log),
		User:      handlers.NewUserHandler(authSvc, log),
		Knowledge: handlers.NewKnowledgeHandler(knowledgeSvc, log),
		Chat:      handlers.NewChatHandler(chatSvc, generationSvc, log),
	}, authSvc, log)

	srv := &http.Server{
		Addr:              ":" + utils.GetEnv("PORT", "8080", log),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
