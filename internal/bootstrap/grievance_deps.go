package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	httpadapter "grievance_server/adapter/in/http"
	"grievance_server/adapter/out/graph"
	"grievance_server/adapter/out/messaging"
	"grievance_server/adapter/out/mongodb"
	"grievance_server/adapter/out/parser"
	"grievance_server/adapter/out/persistence"
	"grievance_server/adapter/out/provider"
	"grievance_server/adapter/out/storage"
	"grievance_server/config"
	"grievance_server/core/agent/llm"
	"grievance_server/core/agent/rag"
	"grievance_server/core/port/out"
	"grievance_server/core/service/classification"
	"grievance_server/core/service/grievance"
	"grievance_server/core/service/threading"
	"grievance_server/infra/database"
	"grievance_server/pkg/apperr"
	"grievance_server/pkg/cache"
	"grievance_server/pkg/logger"
	"grievance_server/pkg/metrics"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

const embeddingProbeTimeout = 10 * time.Second

// Dependencies holds every wired adapter plus the service built on them.
// Optional backends are nil when not configured or unreachable.
type Dependencies struct {
	Config *config.Config

	History     out.HistoryRepository
	Redis       *redis.Client
	Mongo       *mongo.Client
	Neo4j       neo4j.DriverWithContext
	Attachments out.AttachmentStore
	RawStore    out.RawEmailStore
	Graph       out.ThreadGraphStore
	Producer    *messaging.RedisProducer
	Parser      out.EmailParser
	Sources     []out.MailSource

	Service *grievance.Service

	// Readiness probes, keyed by backend name.
	Required map[string]httpadapter.HealthChecker
	Optional map[string]httpadapter.HealthChecker

	mu       sync.Mutex
	degraded []string
	cleanups []func()
}

// Degraded lists features running in reduced mode.
func (d *Dependencies) Degraded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.degraded...)
}

func (d *Dependencies) markDegraded(feature string) {
	d.mu.Lock()
	d.degraded = append(d.degraded, feature)
	d.mu.Unlock()
}

// NewDependencies connects every configured backend, builds the engine and
// replays stored history into it. The returned cleanup closes connections
// in reverse order.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{
		Config:   cfg,
		Required: make(map[string]httpadapter.HealthChecker),
		Optional: make(map[string]httpadapter.HealthChecker),
	}
	cleanup := func() {
		for i := len(deps.cleanups) - 1; i >= 0; i-- {
			deps.cleanups[i]()
		}
	}

	if err := deps.initHistory(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.initRedis(ctx)
	deps.initMongo(ctx)
	deps.initNeo4j(ctx)
	deps.initStorage(ctx)
	deps.initSources(ctx)

	resolver, err := deps.buildResolver(ctx)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	table, err := config.LoadCategoryTable(cfg.CategoryFile)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	deps.Parser = parser.NewEMLParser(cfg.MaxAttachmentBytes)

	svcDeps := grievance.Deps{
		Repo:        deps.History,
		Parser:      deps.Parser,
		Classifier:  classification.NewCategoryClassifier(table),
		Resolver:    resolver,
		Attachments: deps.Attachments,
		RawStore:    deps.RawStore,
		Graph:       deps.Graph,
		Workers:     cfg.BatchWorkers,
	}
	if deps.Producer != nil {
		svcDeps.Publisher = deps.Producer
	}
	deps.Service = grievance.NewService(svcDeps)

	if err := deps.Service.Load(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}

	return deps, cleanup, nil
}

func (d *Dependencies) addCleanup(fn func()) {
	d.cleanups = append(d.cleanups, fn)
}

func (d *Dependencies) initHistory(ctx context.Context) error {
	cfg := d.Config
	switch cfg.HistoryBackend {
	case config.BackendPostgres:
		if err := persistence.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return apperr.StorageError("migrate history", err)
		}
		db, pool, err := database.NewSQLX(ctx, cfg.DatabaseURL)
		if err != nil {
			return apperr.StorageError("connect postgres", err)
		}
		repo := persistence.NewPostgresHistoryAdapter(db)
		metrics.RegisterPool("postgres", db.DB)
		d.History = repo
		d.Required["history"] = repo
		d.addCleanup(pool.Close)
		d.addCleanup(func() { _ = repo.Close() })
		logger.Info("History backend: postgres")

	case config.BackendSQLite:
		repo, err := persistence.NewSQLiteHistoryAdapter(cfg.SQLitePath)
		if err != nil {
			return apperr.StorageError("open sqlite", err)
		}
		metrics.RegisterPool("sqlite", repo.DB())
		d.History = repo
		d.Required["history"] = repo
		d.addCleanup(func() { _ = repo.Close() })
		logger.Info("History backend: sqlite (%s)", cfg.SQLitePath)

	case config.BackendMemory:
		d.History = persistence.NewMemoryHistoryAdapter()
		logger.Warn("History backend: memory, records are lost on exit")

	default:
		return apperr.ConfigError(fmt.Sprintf("unknown HISTORY_BACKEND %q", cfg.HistoryBackend))
	}
	return nil
}

func (d *Dependencies) initRedis(ctx context.Context) {
	if d.Config.RedisURL == "" {
		logger.Info("Redis not configured, async jobs and decision events disabled")
		return
	}
	client, err := database.NewRedis(ctx, d.Config.RedisURL)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, continuing without queue")
		return
	}
	d.Redis = client
	d.Producer = messaging.NewRedisProducer(client)
	d.Optional["redis"] = httpadapter.PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	d.addCleanup(func() { _ = client.Close() })
}

func (d *Dependencies) initMongo(ctx context.Context) {
	if d.Config.MongoDBURL == "" {
		return
	}
	client, err := mongodb.NewClient(ctx, d.Config.MongoDBURL)
	if err != nil {
		logger.WithError(err).Warn("MongoDB unavailable, raw emails archived to MAIL_DIR")
		return
	}
	adapter := mongodb.NewRawEmailAdapter(client.Database(d.Config.MongoDBName))
	if err := adapter.EnsureIndexes(ctx); err != nil {
		logger.WithError(err).Warn("MongoDB index creation failed")
	}
	d.Mongo = client
	d.RawStore = adapter
	d.Optional["mongodb"] = httpadapter.PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	})
	d.addCleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(ctx)
	})
}

func (d *Dependencies) initNeo4j(ctx context.Context) {
	if d.Config.Neo4jURL == "" {
		return
	}
	driver, err := graph.NewDriver(ctx, d.Config.Neo4jURL, d.Config.Neo4jUsername, d.Config.Neo4jPassword)
	if err != nil {
		logger.WithError(err).Warn("Neo4j unavailable, thread graph disabled")
		return
	}
	adapter := graph.NewThreadGraphAdapter(driver, "")
	if err := adapter.EnsureIndexes(ctx); err != nil {
		logger.WithError(err).Warn("Neo4j constraint creation failed")
	}
	d.Neo4j = driver
	d.Graph = adapter
	d.Optional["neo4j"] = httpadapter.PingFunc(driver.VerifyConnectivity)
	d.addCleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = driver.Close(ctx)
	})
}

func (d *Dependencies) initStorage(ctx context.Context) {
	cfg := d.Config
	if cfg.S3Endpoint != "" {
		store, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err == nil {
			d.Attachments = store
			d.Optional["object_store"] = store
			return
		}
		logger.WithError(err).Warn("Object store unavailable, attachments kept on local disk")
	}

	dir := filepath.Join(cfg.MailDir, "attachments")
	store, err := storage.NewLocalStore(dir)
	if err != nil {
		logger.WithError(err).Warn("Attachment directory unusable, attachments will not be stored")
		return
	}
	d.Attachments = store
}

func (d *Dependencies) initSources(ctx context.Context) {
	cfg := d.Config
	dir := provider.NewDirSource(cfg.MailDir)
	d.Sources = append(d.Sources, dir)
	if d.RawStore == nil {
		d.RawStore = dir
	}

	if cfg.GmailRefreshToken == "" {
		return
	}
	gmail, err := provider.NewGmailSource(ctx, provider.GmailConfig{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		RefreshToken: cfg.GmailRefreshToken,
		Query:        cfg.GmailQuery,
	})
	if err != nil {
		logger.WithError(err).Warn("Gmail source unavailable")
		return
	}
	d.Sources = append(d.Sources, gmail)
}

// buildResolver assembles the threading chain. When embeddings cannot be
// reached the similarity layer is left out unless configuration requires it.
func (d *Dependencies) buildResolver(ctx context.Context) (*threading.Resolver, error) {
	cfg := d.Config
	resolverCfg := threading.ResolverConfig{
		Threshold: cfg.SimilarityThreshold,
		Window:    cfg.SimilarityWindow,
	}
	detector := threading.NewReferenceDetector()

	if !cfg.SimilarityConfigured() {
		logger.Warn("No embedding endpoint configured, similarity threading disabled")
		d.markDegraded("similarity")
		return threading.NewResolver(resolverCfg, detector, nil), nil
	}

	client := llm.NewClientWithConfig(llm.ClientConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.EmbeddingBaseURL,
		Model:   cfg.EmbeddingModel,
		Timeout: cfg.EmbeddingTimeout,
	})
	guarded := rag.NewEmbedder(client, rag.EmbedderOptions{Timeout: cfg.EmbeddingTimeout})

	local := rag.NewEmbeddingCache(&rag.EmbeddingCacheConfig{MaxSize: cfg.EmbeddingCacheSize})
	d.addCleanup(local.Close)

	var shared out.EmbeddingCache
	if d.Redis != nil {
		shared = cache.NewEmbeddingCache(d.Redis, 0)
	}
	embedder := rag.NewCachedEmbedder(guarded, client.Model(), local, shared)

	probeCtx, cancel := context.WithTimeout(ctx, embeddingProbeTimeout)
	defer cancel()
	if err := embedder.Probe(probeCtx); err != nil {
		if cfg.SimilarityRequired {
			return nil, apperr.ExternalError("embeddings", err)
		}
		logger.WithError(err).Warn("Embedding backend unreachable, similarity threading disabled")
		d.markDegraded("similarity")
		return threading.NewResolver(resolverCfg, detector, nil), nil
	}

	logger.Info("Similarity threading enabled (model=%s threshold=%.2f window=%d)",
		client.Model(), cfg.SimilarityThreshold, cfg.SimilarityWindow)
	return threading.NewResolver(resolverCfg, detector, threading.NewSimilarityBackend(embedder)), nil
}
