package config

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	Debug     bool   `envconfig:"DEBUG" default:"false"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	DatabaseURL    string `envconfig:"DATABASE_URL" required:"true"`
	MigrationsPath string `envconfig:"MIGRATIONS_PATH" default:"file://migrations"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"outreach-files"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	// EmbeddingProvider selects openai or gemini for the in-process embedding lane.
	EmbeddingProvider string `envconfig:"EMBEDDING_PROVIDER" default:"openai"`
	OpenAIAPIKey      string `envconfig:"OPENAI_API_KEY"`
	GeminiAPIKey      string `envconfig:"GEMINI_API_KEY"`
	GeminiModel       string `envconfig:"GEMINI_MODEL" default:"gemini-embedding-001"`

	// Chunk bounds are in tiktoken tokens of TOKEN_ENCODING.
	TokenEncoding       string `envconfig:"TOKEN_ENCODING" default:"cl100k_base"`
	ChunkMaxTokens      int    `envconfig:"CHUNK_MAX_TOKENS" default:"512"`
	ChunkOverlapTokens  int    `envconfig:"CHUNK_OVERLAP_TOKENS" default:"64"`
	ChunkMaxPerDocument int    `envconfig:"CHUNK_MAX_PER_DOCUMENT" default:"2000"`

	// NSQ carries jobs for remote lanes and their results.
	NSQDAddr    string   `envconfig:"NSQD_ADDR"`
	NSQLookupd  string   `envconfig:"NSQ_LOOKUPD"`
	RemoteLanes []string `envconfig:"REMOTE_LANES" default:"scrape"`

	// WorkerToken authenticates worker result callbacks on /internal.
	WorkerToken string `envconfig:"WORKER_TOKEN"`
	// AdminToken guards organization and API key provisioning.
	AdminToken string `envconfig:"ADMIN_TOKEN"`

	WorkerPollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"2s"`
	WorkerBatchSize    int           `envconfig:"WORKER_BATCH_SIZE" default:"10"`
	// JobLease is how long a claimed job stays invisible to other claimers.
	// Progress reports from external workers extend it.
	JobLease time.Duration `envconfig:"JOB_LEASE" default:"5m"`

	EmbeddingMaxAttempts int           `envconfig:"EMBEDDING_MAX_ATTEMPTS"`
	EmbeddingBaseDelay   time.Duration `envconfig:"EMBEDDING_BASE_DELAY"`
	CrawlMaxAttempts     int           `envconfig:"CRAWL_MAX_ATTEMPTS"`
	CrawlBaseDelay       time.Duration `envconfig:"CRAWL_BASE_DELAY"`
	ScrapeMaxAttempts    int           `envconfig:"SCRAPE_MAX_ATTEMPTS"`
	ScrapeBaseDelay      time.Duration `envconfig:"SCRAPE_BASE_DELAY"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Bootstrap: create initial organization and API key on startup
	InitOrgName string `envconfig:"INIT_ORG_NAME"`
	InitAPIKey  string `envconfig:"INIT_API_KEY"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("OUTREACH", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch c.EmbeddingProvider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("%w: EMBEDDING_PROVIDER must be openai or gemini, got %q", ErrInvalidConfig, c.EmbeddingProvider)
	}
	for _, l := range c.RemoteLanes {
		if _, err := domain.ParseLane(l); err != nil {
			return fmt.Errorf("%w: REMOTE_LANES: %v", ErrInvalidConfig, err)
		}
	}
	if len(c.RemoteLanes) > 0 && c.NSQDAddr == "" && c.NSQLookupd != "" {
		return fmt.Errorf("%w: NSQ_LOOKUPD set without NSQD_ADDR", ErrInvalidConfig)
	}
	if c.ChunkMaxTokens < 1 {
		return fmt.Errorf("%w: CHUNK_MAX_TOKENS must be positive", ErrInvalidConfig)
	}
	if c.ChunkOverlapTokens < 0 || c.ChunkOverlapTokens >= c.ChunkMaxTokens {
		return fmt.Errorf("%w: CHUNK_OVERLAP_TOKENS must be below CHUNK_MAX_TOKENS", ErrInvalidConfig)
	}
	if c.ChunkMaxPerDocument < 0 {
		return fmt.Errorf("%w: CHUNK_MAX_PER_DOCUMENT must not be negative", ErrInvalidConfig)
	}
	if c.WorkerBatchSize < 1 {
		return fmt.Errorf("%w: WORKER_BATCH_SIZE must be positive", ErrInvalidConfig)
	}
	if c.JobLease <= 0 {
		return fmt.Errorf("%w: JOB_LEASE must be positive", ErrInvalidConfig)
	}
	if c.WorkerPollInterval <= 0 {
		return fmt.Errorf("%w: WORKER_POLL_INTERVAL must be positive", ErrInvalidConfig)
	}
	for _, lane := range domain.Lanes {
		if err := c.RetryPolicy(lane).Validate(); err != nil {
			return fmt.Errorf("%w: %s retry policy: %v", ErrInvalidConfig, lane, err)
		}
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasGemini() bool {
	return c.GeminiAPIKey != ""
}

func (c *Config) HasNSQ() bool {
	return c.NSQDAddr != ""
}

// IsRemoteLane reports whether jobs on lane are relayed to external workers
// over NSQ instead of being processed in-process.
func (c *Config) IsRemoteLane(lane domain.Lane) bool {
	return c.HasNSQ() && slices.Contains(c.RemoteLanes, string(lane))
}

// RetryPolicy returns the lane's standard policy with any configured overrides.
func (c *Config) RetryPolicy(lane domain.Lane) domain.RetryPolicy {
	p := domain.DefaultPolicy(lane)

	var attempts int
	var base time.Duration
	switch lane {
	case domain.LaneEmbedding:
		attempts, base = c.EmbeddingMaxAttempts, c.EmbeddingBaseDelay
	case domain.LaneCrawl:
		attempts, base = c.CrawlMaxAttempts, c.CrawlBaseDelay
	case domain.LaneScrape:
		attempts, base = c.ScrapeMaxAttempts, c.ScrapeBaseDelay
	}
	if attempts != 0 {
		p.MaxAttempts = attempts
	}
	if base != 0 {
		p.BaseDelay = base
		if p.MaxDelay < base {
			p.MaxDelay = 0
		}
	}
	return p
}
