// Package answerd provides the answer service server implementation.
package answerd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kart-io/answerd/internal/answerd/biz"
	"github.com/kart-io/answerd/internal/answerd/handler"
	"github.com/kart-io/answerd/internal/answerd/jobs"
	"github.com/kart-io/answerd/internal/answerd/repo"
	"github.com/kart-io/answerd/internal/answerd/router"
	"github.com/kart-io/answerd/internal/answerd/store"
	"github.com/kart-io/answerd/pkg/llm"
	answeropts "github.com/kart-io/answerd/pkg/options/answer"
	httpopts "github.com/kart-io/answerd/pkg/options/http"
	llmopts "github.com/kart-io/answerd/pkg/options/llm"
	logopts "github.com/kart-io/answerd/pkg/options/logger"
	milvusopts "github.com/kart-io/answerd/pkg/options/milvus"
	mongoopts "github.com/kart-io/answerd/pkg/options/mongodb"
	postgresopts "github.com/kart-io/answerd/pkg/options/postgres"
	redisopts "github.com/kart-io/answerd/pkg/options/redis"

	// Register LLM providers.
	_ "github.com/kart-io/answerd/pkg/llm/ollama"
)

// Name is the name of the application.
const Name = "answerd"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions      *httpopts.Options
	LogOptions       *logopts.Options
	MilvusOptions    *milvusopts.Options
	MongoOptions     *mongoopts.Options
	PostgresOptions  *postgresopts.Options
	RedisOptions     *redisopts.Options
	EmbeddingOptions *llmopts.ProviderOptions
	GeneratorOptions *llmopts.ProviderOptions
	AnswerOptions    *answeropts.Options
}

// Server represents the answer server.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	closers         []func(context.Context)
}

// NewServer initializes and returns a new Server instance.
func (cfg *Config) NewServer(ctx context.Context) (*Server, error) {
	// 1. Initialize the logger.
	if err := cfg.LogOptions.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Infow("Starting answer service", "name", Name)

	srv := &Server{shutdownTimeout: cfg.HTTPOptions.ShutdownTimeout}

	// 2. Initialize tracing.
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tracerProvider)
	srv.closers = append(srv.closers, func(ctx context.Context) {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			logger.Warnw("failed to shut down tracer provider", "error", err.Error())
		}
	})

	// 3. Connect MongoDB for the lexical pass and knowledge objects.
	if err := cfg.MongoOptions.Complete(); err != nil {
		return nil, err
	}
	mongoClient, err := mongo.Connect(ctx, mongooptions.Client().
		ApplyURI(cfg.MongoOptions.ConnectionURI()).
		SetConnectTimeout(cfg.MongoOptions.ConnectTimeout).
		SetSocketTimeout(cfg.MongoOptions.SocketTimeout).
		SetMaxPoolSize(cfg.MongoOptions.MaxPoolSize))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := mongoClient.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	mongoStore := store.NewMongoStore(mongoClient.Database(cfg.MongoOptions.Database))
	srv.closers = append(srv.closers, func(ctx context.Context) {
		if err := mongoClient.Disconnect(ctx); err != nil {
			logger.Warnw("failed to disconnect mongodb", "error", err.Error())
		}
	})
	logger.Info("MongoDB store initialized")

	// 4. Connect Milvus for the vector pass.
	milvusClient, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  cfg.MilvusOptions.Address,
		Username: cfg.MilvusOptions.Username,
		Password: cfg.MilvusOptions.Password,
		DBName:   cfg.MilvusOptions.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}
	milvusStore := store.NewMilvusStore(milvusClient, cfg.MilvusOptions.Collection)
	srv.closers = append(srv.closers, func(ctx context.Context) {
		if err := milvusClient.Close(ctx); err != nil {
			logger.Warnw("failed to close milvus client", "error", err.Error())
		}
	})
	logger.Info("Milvus store initialized")

	hybridStore := store.NewHybridStore(mongoStore, milvusStore, mongoStore)

	// 5. Connect Redis for the answer cache and the job queue.
	if err := cfg.RedisOptions.Complete(); err != nil {
		return nil, err
	}
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:         cfg.RedisOptions.Addr(),
		Password:     cfg.RedisOptions.Password,
		DB:           cfg.RedisOptions.Database,
		MaxRetries:   cfg.RedisOptions.MaxRetries,
		PoolSize:     cfg.RedisOptions.PoolSize,
		MinIdleConns: cfg.RedisOptions.MinIdleConns,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	srv.closers = append(srv.closers, func(context.Context) {
		if err := redisClient.Close(); err != nil {
			logger.Warnw("failed to close redis client", "error", err.Error())
		}
	})
	logger.Info("Redis client initialized")

	answerCache := biz.NewAnswerCache(redisClient, &biz.AnswerCacheConfig{
		Enabled:   cfg.AnswerOptions.CacheEnabled,
		TTL:       cfg.AnswerOptions.CacheTTL,
		KeyPrefix: "answerd:answer:",
	})

	scheduler, err := jobs.NewScheduler(redisClient, cfg.AnswerOptions.JobPoolSize)
	if err != nil {
		return nil, err
	}
	srv.closers = append(srv.closers, func(context.Context) { scheduler.Close() })

	// 6. Connect PostgreSQL for answer persistence.
	if err := cfg.PostgresOptions.Complete(); err != nil {
		return nil, err
	}
	db, err := gorm.Open(postgres.Open(cfg.PostgresOptions.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql db: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.PostgresOptions.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.PostgresOptions.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.PostgresOptions.ConnMaxLifetime)
	srv.closers = append(srv.closers, func(context.Context) {
		if err := sqlDB.Close(); err != nil {
			logger.Warnw("failed to close postgres", "error", err.Error())
		}
	})

	answerRepo := repo.NewAnswerRepo(db)
	if err := answerRepo.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	logger.Info("Answer repository initialized")

	// 7. Initialize the LLM providers.
	embedProvider, err := llm.NewEmbeddingProvider(cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	logger.Infow("Embedding provider initialized",
		"provider", cfg.EmbeddingOptions.Provider,
		"model", cfg.EmbeddingOptions.Model)

	generator, err := llm.NewLanguageModelProvider(cfg.GeneratorOptions.Provider, cfg.GeneratorOptions.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generator provider: %w", err)
	}
	logger.Infow("Generator provider initialized",
		"provider", cfg.GeneratorOptions.Provider,
		"model", cfg.GeneratorOptions.Model)

	// 8. Assemble the answer service.
	policy := &biz.Policy{
		CitationRequired:        true,
		MinCitationCoverage:     cfg.AnswerOptions.MinCitationCoverage,
		MaxUnsupportedClaims:    cfg.AnswerOptions.MaxUnsupportedClaims,
		FreshnessWindow:         cfg.AnswerOptions.FreshnessWindow,
		MinFreshCoverage:        cfg.AnswerOptions.MinFreshCoverage,
		ClaimOverlapThreshold:   cfg.AnswerOptions.ClaimOverlapThreshold,
		RetrievalPoolMin:        cfg.AnswerOptions.RetrievalPoolMin,
		RetrievalPoolMultiplier: cfg.AnswerOptions.RetrievalPoolMultiplier,
	}

	service := biz.NewService(&biz.ServiceConfig{
		Retriever: biz.NewRetriever(hybridStore),
		Embedder:  embedProvider,
		Generator: generator,
		Repo:      answerRepo,
		Jobs:      scheduler,
		Cache:     answerCache,
		Policy:    policy,
	})

	// 9. Build the HTTP server.
	gin.SetMode(cfg.HTTPOptions.Mode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	router.Register(engine, handler.NewAnswerHandler(service))

	srv.httpServer = &http.Server{
		Addr:         cfg.HTTPOptions.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.HTTPOptions.ReadTimeout,
		WriteTimeout: cfg.HTTPOptions.WriteTimeout,
	}

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is canceled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.close()
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down answer service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.close()
	return err
}

func (s *Server) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i](ctx)
	}
}
