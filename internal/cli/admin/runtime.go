package admin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cloo-solutions/outreach/internal/config"
	"github.com/cloo-solutions/outreach/internal/database"
	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/gemini"
	"github.com/cloo-solutions/outreach/internal/jobs"
	"github.com/cloo-solutions/outreach/internal/logger"
	"github.com/cloo-solutions/outreach/internal/openai"
	"github.com/cloo-solutions/outreach/internal/repository"
	"github.com/cloo-solutions/outreach/internal/service"
	"github.com/cloo-solutions/outreach/internal/storage"
	"github.com/cloo-solutions/outreach/internal/telemetry"
	"github.com/cloo-solutions/outreach/internal/textproc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nsqio/go-nsq"
)

// runtime holds the process-wide dependencies shared by serve and worker.
type runtime struct {
	cfg  *config.Config
	pool *pgxpool.Pool

	jobRepo   *repository.JobRepository
	files     service.FileStorage
	auth      *service.AuthService
	ingestion *service.IngestionService
	campaigns *service.CampaignService
	projector *service.Projector
	settler   *jobs.Settler

	workers  []*jobs.Worker
	producer *nsq.Producer
	consumer *nsq.Consumer
	closers  []func()
}

// setup loads configuration, installs the logger and tracing, and opens the
// database. migrate applies pending migrations first.
func setup(ctx context.Context, migrate bool) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	rt := &runtime{cfg: cfg}

	flush, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: telemetry.SampleRateFor(cfg.Environment),
		Debug:            cfg.Debug,
	})
	if err != nil {
		slog.Warn("telemetry init failed, continuing without tracing", "error", err)
	} else {
		rt.closers = append(rt.closers, flush)
	}

	if migrate {
		if _, err := database.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.pool = pool
	rt.closers = append(rt.closers, pool.Close)
	slog.Info("connected to database")

	if err := rt.buildServices(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) buildServices(ctx context.Context) error {
	cfg := rt.cfg

	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		slog.Info("file storage ready", "bucket", cfg.S3Bucket)
		rt.files = s3Client
	} else {
		slog.Warn("S3 is not configured, file uploads are disabled")
	}

	policies := service.RetryPolicies{}
	for _, lane := range domain.Lanes {
		policies[lane] = cfg.RetryPolicy(lane)
	}

	orgRepo := repository.NewOrgRepository(rt.pool)
	apiKeyRepo := repository.NewAPIKeyRepository(rt.pool)
	documentRepo := repository.NewDocumentRepository(rt.pool)
	chunkRepo := repository.NewChunkRepository(rt.pool)
	campaignRepo := repository.NewCampaignRepository(rt.pool)
	templateRepo := repository.NewTemplateRepository(rt.pool)
	txRunner := repository.NewTxRunner(rt.pool)
	rt.jobRepo = repository.NewJobRepository(rt.pool)

	rt.auth = service.NewAuthService(orgRepo, apiKeyRepo, &service.DefaultUUIDGenerator{})
	rt.ingestion = service.NewIngestionService(documentRepo, chunkRepo, txRunner, rt.files, policies)
	rt.campaigns = service.NewCampaignService(campaignRepo, templateRepo, txRunner, policies)
	rt.projector = service.NewProjector(txRunner, rt.jobRepo)
	rt.settler = jobs.NewSettler(rt.jobRepo, rt.projector)

	if cfg.InitOrgName != "" {
		if err := bootstrapInitialOrg(ctx, cfg, rt.auth); err != nil {
			return fmt.Errorf("failed to bootstrap initial org: %w", err)
		}
	}
	return nil
}

// startWorkers starts one dispatcher per lane. Remote lanes relay their jobs
// over NSQ and the result consumer applies what external workers report.
func (rt *runtime) startWorkers(ctx context.Context, lanes []domain.Lane) error {
	cfg := rt.cfg
	if missing := unservedLanes(cfg, lanes); len(missing) > 0 {
		return fmt.Errorf("lanes %v have no in-process handler, set NSQD_ADDR and list them in REMOTE_LANES", missing)
	}

	embeddingSvc, err := rt.embeddingService(ctx)
	if err != nil {
		return err
	}

	remote := slices.ContainsFunc(lanes, cfg.IsRemoteLane)
	if remote {
		producer, err := jobs.NewProducer(cfg.NSQDAddr)
		if err != nil {
			return err
		}
		rt.producer = producer
	}

	for _, lane := range lanes {
		var handler jobs.Handler
		switch {
		case cfg.IsRemoteLane(lane):
			handler = jobs.NewNSQRelay(rt.producer)
		case lane == domain.LaneEmbedding:
			handler = jobs.HandlerFunc(embeddingSvc.ProcessEmbedding)
		case lane == domain.LaneCrawl:
			handler = jobs.HandlerFunc(embeddingSvc.ProcessCrawl)
		default:
			return fmt.Errorf("lane %s has no handler", lane)
		}

		dispatcher := jobs.NewDispatcher(lane, rt.jobRepo, rt.projector, handler, jobs.DispatcherConfig{
			BatchSize: cfg.WorkerBatchSize,
			Lease:     cfg.JobLease,
		})
		worker := jobs.NewWorker("lane:"+string(lane), dispatcher, cfg.WorkerPollInterval)
		rt.workers = append(rt.workers, worker)
		go worker.Start(ctx)
	}

	if remote {
		consumer, err := jobs.StartResultConsumer(
			jobs.NSQConfig{NSQDAddr: cfg.NSQDAddr, LookupAddr: cfg.NSQLookupd},
			jobs.NewNSQResultConsumer(rt.settler, cfg.JobLease),
		)
		if err != nil {
			return err
		}
		rt.consumer = consumer
	}
	return nil
}

// unservedLanes returns the lanes that would never make progress: they are
// neither relayed over NSQ nor processed in-process. Activated campaigns stay
// active forever when scrape is one of them.
func unservedLanes(cfg *config.Config, lanes []domain.Lane) []domain.Lane {
	var missing []domain.Lane
	for _, lane := range lanes {
		if cfg.IsRemoteLane(lane) || lane == domain.LaneEmbedding || lane == domain.LaneCrawl {
			continue
		}
		missing = append(missing, lane)
	}
	return missing
}

func (rt *runtime) embeddingService(ctx context.Context) (*service.EmbeddingService, error) {
	cfg := rt.cfg

	var client service.EmbeddingClient
	switch {
	case cfg.EmbeddingProvider == "gemini" && cfg.HasGemini():
		embedder, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini embedder: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = embedder.Close() })
		client = embedder
	case cfg.EmbeddingProvider == "openai" && cfg.HasOpenAI():
		client = openai.NewClient(cfg.OpenAIAPIKey)
	default:
		slog.Warn("no embedding credentials, chunks are stored without vectors", "provider", cfg.EmbeddingProvider)
	}

	crawler := textproc.NewCrawler(&http.Client{Timeout: 15 * time.Second}, "")
	svc := service.NewEmbeddingService(
		client,
		textproc.NewTokenCounterOrEstimate(cfg.TokenEncoding),
		rt.files,
		textproc.NewExtractor(),
		crawler,
	)
	err := svc.SetChunkConfig(service.ChunkConfig{
		MaxTokens:     cfg.ChunkMaxTokens,
		OverlapTokens: cfg.ChunkOverlapTokens,
		MaxChunks:     cfg.ChunkMaxPerDocument,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid chunk config: %w", err)
	}
	return svc, nil
}

// Close stops workers and NSQ connections, then releases the pool and flushes
// tracing.
func (rt *runtime) Close() {
	for _, w := range rt.workers {
		w.Stop()
	}
	if rt.consumer != nil {
		rt.consumer.Stop()
		<-rt.consumer.StopChan
	}
	if rt.producer != nil {
		rt.producer.Stop()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// parseLanes turns a comma separated list into lanes. Empty means all.
func parseLanes(s string) ([]domain.Lane, error) {
	if strings.TrimSpace(s) == "" {
		return domain.Lanes, nil
	}
	var lanes []domain.Lane
	for _, part := range strings.Split(s, ",") {
		lane, err := domain.ParseLane(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		if !slices.Contains(lanes, lane) {
			lanes = append(lanes, lane)
		}
	}
	return lanes, nil
}

func bootstrapInitialOrg(ctx context.Context, cfg *config.Config, authSvc *service.AuthService) error {
	org, err := authSvc.GetOrgByName(ctx, cfg.InitOrgName)
	if err != nil && !domain.HasCode(err, domain.ErrCodeNotFound) {
		return fmt.Errorf("failed to check existing org: %w", err)
	}

	if org == nil {
		org, err = authSvc.CreateOrg(ctx, cfg.InitOrgName)
		if err != nil {
			return fmt.Errorf("failed to create org: %w", err)
		}
		slog.Info("bootstrap: created organization", "name", org.Name, "org_id", org.ID)
	} else {
		slog.Info("bootstrap: organization already exists", "name", org.Name, "org_id", org.ID)
	}

	if cfg.InitAPIKey == "" {
		return nil
	}
	if !service.IsValidAPIToken(cfg.InitAPIKey) {
		return fmt.Errorf("invalid OUTREACH_INIT_API_KEY format (expected 'otr_<64 hex chars>')")
	}

	if principal, err := authSvc.ResolvePrincipal(ctx, cfg.InitAPIKey); err == nil {
		slog.Info("bootstrap: API key already exists", "key_id", principal.UserID)
		return nil
	}

	if err := authSvc.CreateAPIKeyWithToken(ctx, org.ID, "bootstrap", cfg.InitAPIKey); err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}
	slog.Info("bootstrap: created API key", "org_id", org.ID)
	return nil
}
