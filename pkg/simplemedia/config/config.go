package config

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/cdn/cloudfront"
	promobserver "github.com/tendant/simple-media/pkg/simplemedia/metrics/prometheus"
	"github.com/tendant/simple-media/pkg/simplemedia/repo/memory"
	repopg "github.com/tendant/simple-media/pkg/simplemedia/repo/postgres"
	"github.com/tendant/simple-media/pkg/simplemedia/signing"
	redisstore "github.com/tendant/simple-media/pkg/simplemedia/slotstore/redis"
	fsstorage "github.com/tendant/simple-media/pkg/simplemedia/storage/fs"
	memorystorage "github.com/tendant/simple-media/pkg/simplemedia/storage/memory"
	s3storage "github.com/tendant/simple-media/pkg/simplemedia/storage/s3"
	"github.com/tendant/simple-media/pkg/simplemedia/sweeper"
	"github.com/tendant/simple-media/pkg/simplemedia/transcode/ffmpeg"
	imagingengine "github.com/tendant/simple-media/pkg/simplemedia/transform/imaging"
	"github.com/tendant/simple-media/pkg/simplemedia/transform/pdf"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	orchestrator := simplemedia.DefaultOrchestratorConfig()
	return ServerConfig{
		Port:         "8080",
		Environment:  "development",
		LogLevel:     "info",
		DatabaseType: "memory",
		Storage: StorageConfig{
			Type: "memory",
		},
		Redis: RedisConfig{
			Prefix:    "simplemedia:",
			Retention: redisstore.DefaultRetention,
		},
		CloudFront: CloudFrontConfig{
			Region:         "us-east-1",
			RequestsPerSec: 1,
			Burst:          5,
		},
		StoreDerivatives:    true,
		HotCacheEntries:     512,
		SlotTTL:             simplemedia.DefaultSlotTTL,
		NotificationClients: map[string]string{},
		FFmpegBinary:        "ffmpeg",
		PdftoppmBinary:      "pdftoppm",
		PDFDPI:              150,
		TranscodePartitions: orchestrator.Partitions,
		TranscodeQueueSize:  orchestrator.QueueSize,
		TranscodeTimeout:    orchestrator.Timeout,
		SweepSchedule:       sweeper.DefaultSchedule,
		MetricsEnabled:      true,
		MetricsNamespace:    "simplemedia",
	}
}

// ServerConfig represents server configuration for the simple-media service.
// Tagged fields are read from the environment by WithEnv.
type ServerConfig struct {
	Port        string `env:"PORT"`
	Environment string `env:"ENVIRONMENT"` // development, production, testing
	LogLevel    string `env:"LOG_LEVEL"`   // debug, info, warn, error

	// Database configuration
	DatabaseURL  string `env:"DATABASE_URL"`
	DatabaseType string // "memory", "postgres"; derived from DatabaseURL by WithEnv
	DBSchema     string `env:"DATABASE_SCHEMA"`

	// Upload slot store: "memory", "postgres" or "redis". Empty follows DatabaseType.
	SlotStoreType string `env:"SLOT_STORE"`
	Redis         RedisConfig

	// Blob storage, derived from STORAGE_URL by WithEnv
	Storage StorageConfig

	CloudFront CloudFrontConfig

	// Derivative cache
	StoreDerivatives bool `env:"STORE_DERIVATIVES"`
	DevMode          bool `env:"DEV_MODE"`
	HotCacheEntries  int  `env:"HOT_CACHE_ENTRIES"`

	SlotTTL time.Duration `env:"SLOT_TTL"`

	// Notifications. SigningSeed is a hex encoded Ed25519 seed; without it
	// notifications are not sent.
	SigningSeed             string `env:"SIGNING_SEED"`
	NotificationClients     map[string]string
	NotificationMaxAttempts int `env:"NOTIFICATION_MAX_ATTEMPTS"`

	// Processing tools
	FFmpegBinary   string `env:"FFMPEG_BINARY"`
	PresetFile     string `env:"FFMPEG_PRESET_FILE"`
	PdftoppmBinary string `env:"PDFTOPPM_BINARY"`
	PDFDPI         int    `env:"PDF_DPI"`

	// Transcode orchestrator
	TranscodePartitions int           `env:"TRANSCODE_PARTITIONS"`
	TranscodeQueueSize  int           `env:"TRANSCODE_QUEUE_SIZE"`
	TranscodeTimeout    time.Duration `env:"TRANSCODE_TIMEOUT"`
	TempDir             string        `env:"TEMP_DIR"`

	SweepSchedule string `env:"SWEEP_SCHEDULE"`

	MetricsEnabled   bool   `env:"METRICS_ENABLED"`
	MetricsNamespace string `env:"METRICS_NAMESPACE"`
}

// RedisConfig configures the Redis slot store
type RedisConfig struct {
	Addr      string        `env:"REDIS_ADDR"`
	DB        int           `env:"REDIS_DB"`
	Password  string        `env:"REDIS_PASSWORD"`
	Prefix    string        `env:"REDIS_PREFIX"`
	Retention time.Duration `env:"REDIS_SLOT_RETENTION"`
}

// StorageConfig configures the blob store
type StorageConfig struct {
	Type    string // "memory", "fs", "s3"
	BaseDir string

	Bucket                 string
	Region                 string `env:"AWS_REGION"`
	Endpoint               string `env:"AWS_S3_ENDPOINT"`
	AccessKeyID            string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey        string `env:"AWS_SECRET_ACCESS_KEY"`
	UsePathStyle           bool
	CreateBucketIfNotExist bool
	EnableSSE              bool   `env:"AWS_S3_ENABLE_SSE"`
	SSEAlgorithm           string `env:"AWS_S3_SSE_ALGORITHM"`
	SSEKMSKeyID            string `env:"AWS_S3_SSE_KMS_KEY_ID"`
}

// CloudFrontConfig configures CDN invalidation; an empty DistributionID disables it
type CloudFrontConfig struct {
	DistributionID string  `env:"CLOUDFRONT_DISTRIBUTION_ID"`
	Region         string  `env:"CLOUDFRONT_REGION"`
	RequestsPerSec float64 `env:"CLOUDFRONT_REQUESTS_PER_SEC"`
	Burst          int     `env:"CLOUDFRONT_BURST"`
}

// slotStoreType resolves the effective slot store
func (c *ServerConfig) slotStoreType() string {
	if c.SlotStoreType != "" {
		return c.SlotStoreType
	}
	return c.DatabaseType
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	switch c.slotStoreType() {
	case "memory":
		if c.DatabaseType != "memory" {
			return errors.New("slot_store 'memory' requires database_type 'memory'")
		}
	case "postgres":
		if c.DatabaseType != "postgres" {
			return errors.New("slot_store 'postgres' requires database_type 'postgres'")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis addr is required when slot_store is 'redis'")
		}
	default:
		return fmt.Errorf("slot_store must be 'memory', 'postgres' or 'redis', got: %s", c.SlotStoreType)
	}

	switch c.Storage.Type {
	case "memory":
	case "fs":
		if c.Storage.BaseDir == "" {
			return errors.New("storage base directory is required for fs storage")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("storage bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	if c.HotCacheEntries < 0 {
		return errors.New("hot_cache_entries cannot be negative")
	}
	if c.SlotTTL <= 0 {
		return errors.New("slot_ttl must be positive")
	}
	if c.SigningSeed != "" {
		seed, err := hex.DecodeString(c.SigningSeed)
		if err != nil || len(seed) != 32 {
			return errors.New("signing_seed must be 64 hex characters")
		}
	}
	if len(c.NotificationClients) > 0 && c.SigningSeed == "" {
		return errors.New("signing_seed is required when notification clients are configured")
	}
	if c.TranscodePartitions <= 0 || c.TranscodeQueueSize <= 0 {
		return errors.New("transcode partitions and queue size must be positive")
	}
	if c.TranscodeTimeout <= 0 {
		return errors.New("transcode_timeout must be positive")
	}
	if c.SweepSchedule != "" {
		if err := sweeper.ValidateSchedule(c.SweepSchedule); err != nil {
			return fmt.Errorf("invalid sweep_schedule: %w", err)
		}
	}

	return nil
}

// BuildService creates a Service instance from the server configuration.
// Prometheus collectors are registered on reg, or the default registerer when nil.
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger, reg promclient.Registerer) (simplemedia.Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	options := []simplemedia.Option{simplemedia.WithLogger(logger)}

	// Set up repository and slot store
	repo, pool, err := c.buildRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	options = append(options, simplemedia.WithRepository(repo))

	slots, err := c.buildSlotStore(repo, pool, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build slot store: %w", err)
	}
	options = append(options, simplemedia.WithSlotStore(slots))

	// Set up storage backend
	store, err := c.buildStorageBackend(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build storage backend %s: %w", c.Storage.Type, err)
	}
	options = append(options, simplemedia.WithBlobStore(store))

	// Set up CDN invalidation
	if c.CloudFront.DistributionID != "" {
		cdn, err := cloudfront.New(ctx, cloudfront.Config{
			DistributionID:  c.CloudFront.DistributionID,
			Region:          c.CloudFront.Region,
			AccessKeyID:     c.Storage.AccessKeyID,
			SecretAccessKey: c.Storage.SecretAccessKey,
			RequestsPerSec:  c.CloudFront.RequestsPerSec,
			Burst:           c.CloudFront.Burst,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build cloudfront invalidator: %w", err)
		}
		options = append(options, simplemedia.WithCDN(cdn))
	}

	// Set up processing engines
	images := imagingengine.New()
	options = append(options,
		simplemedia.WithTransformer(simplemedia.MediaTypeImage, images),
		simplemedia.WithTransformer(simplemedia.MediaTypeDocument, pdf.New(images, pdf.Config{
			Binary:  c.PdftoppmBinary,
			DPI:     c.PDFDPI,
			TempDir: c.TempDir,
		}, pdf.ExecRunner)),
	)

	presets := ffmpeg.DefaultPresetLibrary()
	if c.PresetFile != "" {
		presets, err = ffmpeg.LoadPresetFile(c.PresetFile)
		if err != nil {
			return nil, err
		}
	}
	options = append(options, simplemedia.WithTranscoder(ffmpeg.New(
		ffmpeg.WithBinary(c.FFmpegBinary),
		ffmpeg.WithPresets(presets),
		ffmpeg.WithLogger(logger),
	)))

	options = append(options,
		simplemedia.WithCacheConfig(simplemedia.CacheConfig{
			StoreDerivatives: c.StoreDerivatives,
			DevMode:          c.DevMode,
			HotEntries:       c.HotCacheEntries,
		}),
		simplemedia.WithSlotTTL(c.SlotTTL),
		simplemedia.WithOrchestratorConfig(simplemedia.OrchestratorConfig{
			Partitions: c.TranscodePartitions,
			QueueSize:  c.TranscodeQueueSize,
			Timeout:    c.TranscodeTimeout,
			TempDir:    c.TempDir,
		}),
	)

	// Set up observer
	var observer simplemedia.Observer = simplemedia.NewNoopObserver()
	if c.MetricsEnabled {
		prom, err := promobserver.NewObserver(c.MetricsNamespace, reg)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		observer = prom
	}
	options = append(options, simplemedia.WithObserver(observer))

	// Set up signer and notifications
	if c.SigningSeed != "" {
		signer, err := signing.NewSignerFromHex(c.SigningSeed)
		if err != nil {
			return nil, err
		}
		dispatcherConfig := simplemedia.DefaultDispatcherConfig()
		for owner, url := range c.NotificationClients {
			dispatcherConfig.Clients[owner] = url
		}
		if c.NotificationMaxAttempts > 0 {
			dispatcherConfig.MaxAttempts = c.NotificationMaxAttempts
		}
		options = append(options,
			simplemedia.WithSigner(signer),
			simplemedia.WithNotifier(simplemedia.NewDispatcher(signer, &http.Client{}, dispatcherConfig, observer, logger)),
		)
	}

	return simplemedia.New(options...)
}

// buildRepository creates a Repository based on the configuration. The pool
// is returned for backends that share it.
func (c *ServerConfig) buildRepository(ctx context.Context) (simplemedia.Repository, *pgxpool.Pool, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil, nil
	case "postgres":
		pool, err := NewPool(ctx, c.DatabaseURL, c.DBSchema)
		if err != nil {
			return nil, nil, err
		}
		return repopg.NewWithPool(pool), pool, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// buildSlotStore creates the SlotStore; memory and postgres reuse the repository.
func (c *ServerConfig) buildSlotStore(repo simplemedia.Repository, pool *pgxpool.Pool, logger *slog.Logger) (simplemedia.SlotStore, error) {
	switch c.slotStoreType() {
	case "memory":
		mem, ok := repo.(*memory.Repository)
		if !ok {
			return nil, errors.New("memory slot store requires the memory repository")
		}
		return mem, nil
	case "postgres":
		if pool == nil {
			return nil, errors.New("postgres slot store requires the postgres repository")
		}
		return repopg.NewWithPool(pool), nil
	case "redis":
		return redisstore.New(redisstore.Config{
			Addr:      c.Redis.Addr,
			DB:        c.Redis.DB,
			Password:  c.Redis.Password,
			Prefix:    c.Redis.Prefix,
			Retention: c.Redis.Retention,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported slot store: %s", c.SlotStoreType)
	}
}

// NewPool opens a pgx pool and, when schema is set, points each session's
// search_path at it.
func NewPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required for postgres")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		searchPath := pgx.Identifier{schema}.Sanitize()
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+searchPath)
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// buildStorageBackend creates a BlobStore based on the storage configuration
func (c *ServerConfig) buildStorageBackend(ctx context.Context) (simplemedia.BlobStore, error) {
	switch c.Storage.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{BaseDir: c.Storage.BaseDir})

	case "s3":
		return s3storage.New(ctx, s3storage.Config{
			Region:                 c.Storage.Region,
			Bucket:                 c.Storage.Bucket,
			AccessKeyID:            c.Storage.AccessKeyID,
			SecretAccessKey:        c.Storage.SecretAccessKey,
			Endpoint:               c.Storage.Endpoint,
			UsePathStyle:           c.Storage.UsePathStyle,
			EnableSSE:              c.Storage.EnableSSE,
			SSEAlgorithm:           c.Storage.SSEAlgorithm,
			SSEKMSKeyID:            c.Storage.SSEKMSKeyID,
			CreateBucketIfNotExist: c.Storage.CreateBucketIfNotExist,
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", c.Storage.Type)
	}
}
