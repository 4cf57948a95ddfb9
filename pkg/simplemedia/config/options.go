package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/tendant/simple-media/pkg/simplemedia/sweeper"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithSlotStore selects where upload slots live: memory, postgres or redis
func WithSlotStore(storeType string) Option {
	return func(c *ServerConfig) error {
		switch storeType {
		case "memory", "postgres", "redis":
			c.SlotStoreType = storeType
			return nil
		}
		return fmt.Errorf("slot store must be 'memory', 'postgres' or 'redis', got: %s", storeType)
	}
}

// WithRedis configures the Redis slot store connection
func WithRedis(addr, password string, db int) Option {
	return func(c *ServerConfig) error {
		if addr == "" {
			return fmt.Errorf("redis address cannot be empty")
		}
		c.Redis.Addr = addr
		c.Redis.Password = password
		c.Redis.DB = db
		return nil
	}
}

// WithMemoryStorage stores blobs in process memory
func WithMemoryStorage() Option {
	return func(c *ServerConfig) error {
		c.Storage = StorageConfig{Type: "memory"}
		return nil
	}
}

// WithFilesystemStorage stores blobs under baseDir
func WithFilesystemStorage(baseDir string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.Storage.Type = "fs"
		c.Storage.BaseDir = baseDir
		return nil
	}
}

// WithS3Storage stores blobs in an S3 bucket
func WithS3Storage(bucket, region string) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		c.Storage.Type = "s3"
		c.Storage.Bucket = bucket
		if region != "" {
			c.Storage.Region = region
		}
		return nil
	}
}

// WithS3Credentials sets static AWS credentials, also used for CloudFront
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		if accessKeyID == "" || secretAccessKey == "" {
			return fmt.Errorf("access key ID and secret access key are required")
		}
		c.Storage.AccessKeyID = accessKeyID
		c.Storage.SecretAccessKey = secretAccessKey
		return nil
	}
}

// WithS3Endpoint points S3 storage at an S3-compatible service such as MinIO
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			return fmt.Errorf("invalid S3 endpoint: %w", err)
		}
		c.Storage.Endpoint = endpoint
		c.Storage.UsePathStyle = usePathStyle
		return nil
	}
}

// WithCloudFront enables CDN invalidation on a CloudFront distribution
func WithCloudFront(distributionID, region string) Option {
	return func(c *ServerConfig) error {
		if distributionID == "" {
			return fmt.Errorf("distribution ID cannot be empty")
		}
		c.CloudFront.DistributionID = distributionID
		if region != "" {
			c.CloudFront.Region = region
		}
		return nil
	}
}

// WithDerivativeCache sets whether derivatives are persisted and the size of the in-process tier
func WithDerivativeCache(storeDerivatives bool, hotEntries int) Option {
	return func(c *ServerConfig) error {
		if hotEntries < 0 {
			return fmt.Errorf("hot cache entries cannot be negative, got: %d", hotEntries)
		}
		c.StoreDerivatives = storeDerivatives
		c.HotCacheEntries = hotEntries
		return nil
	}
}

// WithDevMode bypasses derivative caching
func WithDevMode(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.DevMode = enabled
		return nil
	}
}

// WithSlotTTL sets how long upload slots stay valid
func WithSlotTTL(ttl time.Duration) Option {
	return func(c *ServerConfig) error {
		if ttl <= 0 {
			return fmt.Errorf("slot TTL must be positive, got: %s", ttl)
		}
		c.SlotTTL = ttl
		return nil
	}
}

// WithSigningSeed sets the hex encoded Ed25519 seed notifications are signed with
func WithSigningSeed(seedHex string) Option {
	return func(c *ServerConfig) error {
		c.SigningSeed = seedHex
		return nil
	}
}

// WithNotificationClient routes notifications of owner to target
func WithNotificationClient(owner, target string) Option {
	return func(c *ServerConfig) error {
		if owner == "" {
			return fmt.Errorf("owner cannot be empty")
		}
		if _, err := url.ParseRequestURI(target); err != nil {
			return fmt.Errorf("invalid notification url for %s: %w", owner, err)
		}
		if c.NotificationClients == nil {
			c.NotificationClients = map[string]string{}
		}
		c.NotificationClients[owner] = target
		return nil
	}
}

// WithPresetFile loads ffmpeg presets from a YAML file
func WithPresetFile(path string) Option {
	return func(c *ServerConfig) error {
		c.PresetFile = path
		return nil
	}
}

// WithTranscodePool sets the transcode orchestrator shape
func WithTranscodePool(partitions, queueSize int, timeout time.Duration) Option {
	return func(c *ServerConfig) error {
		if partitions <= 0 || queueSize <= 0 {
			return fmt.Errorf("partitions and queue size must be positive, got: %d, %d", partitions, queueSize)
		}
		if timeout <= 0 {
			return fmt.Errorf("transcode timeout must be positive, got: %s", timeout)
		}
		c.TranscodePartitions = partitions
		c.TranscodeQueueSize = queueSize
		c.TranscodeTimeout = timeout
		return nil
	}
}

// WithSweepSchedule sets the cron spec of the expired-slot sweeper
func WithSweepSchedule(spec string) Option {
	return func(c *ServerConfig) error {
		if err := sweeper.ValidateSchedule(spec); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
		}
		c.SweepSchedule = spec
		return nil
	}
}

// WithMetrics enables or disables Prometheus metrics
func WithMetrics(enabled bool, namespace string) Option {
	return func(c *ServerConfig) error {
		c.MetricsEnabled = enabled
		if namespace != "" {
			c.MetricsNamespace = namespace
		}
		return nil
	}
}
