package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv applies environment variable overrides. Fields of ServerConfig
// tagged with `env` are read through cleanenv; unset variables keep the
// value already configured.
//
// Two variables select backends by URL:
//
//	DATABASE_URL - "memory" (default) or "postgres://..." / "postgresql://..."
//	STORAGE_URL  - one of:
//	               "memory://" (default)
//	               "file:///path/to/data"
//	               "s3://bucket?region=us-east-1&endpoint=http://localhost:9000&path_style=true"
//
// NOTIFICATION_CLIENTS maps owners to webhook URLs: "owner=url,owner2=url2".
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}

		if err := applyDatabaseEnv(c); err != nil {
			return err
		}
		if err := applyStorageEnv(c); err != nil {
			return err
		}
		return applyNotificationEnv(c)
	}
}

// applyDatabaseEnv derives the database type from DATABASE_URL
func applyDatabaseEnv(c *ServerConfig) error {
	dbURL := c.DatabaseURL
	switch {
	case dbURL == "" || dbURL == "memory":
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
	case strings.HasPrefix(dbURL, "postgresql://"), strings.HasPrefix(dbURL, "postgres://"):
		c.DatabaseType = "postgres"
	default:
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", dbURL)
	}
	return nil
}

// applyStorageEnv applies storage configuration from STORAGE_URL
func applyStorageEnv(c *ServerConfig) error {
	storageURL, ok := os.LookupEnv("STORAGE_URL")
	if !ok || storageURL == "" || storageURL == "memory" || storageURL == "memory://" {
		if ok {
			c.Storage.Type = "memory"
		}
		return nil
	}

	u, err := url.Parse(storageURL)
	if err != nil {
		return fmt.Errorf("invalid STORAGE_URL: %w", err)
	}

	switch u.Scheme {
	case "file":
		return applyFilesystemStorage(u, c)
	case "s3":
		return applyS3Storage(u, c)
	}
	return fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", storageURL)
}

// applyFilesystemStorage configures filesystem storage
// Format: file:///path/to/data
func applyFilesystemStorage(u *url.URL, c *ServerConfig) error {
	path := u.Host + u.Path
	if path == "" {
		return fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
	}
	c.Storage.Type = "fs"
	c.Storage.BaseDir = path
	return nil
}

// applyS3Storage configures S3 storage
// Format: s3://bucket?region=us-east-1&endpoint=http://localhost:9000&path_style=true&create_bucket=true
func applyS3Storage(u *url.URL, c *ServerConfig) error {
	if u.Host == "" {
		return fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
	}
	c.Storage.Type = "s3"
	c.Storage.Bucket = u.Host

	q := u.Query()
	if region := q.Get("region"); region != "" {
		c.Storage.Region = region
	}
	if endpoint := q.Get("endpoint"); endpoint != "" {
		c.Storage.Endpoint = endpoint
	}
	for key, target := range map[string]*bool{
		"path_style":    &c.Storage.UsePathStyle,
		"create_bucket": &c.Storage.CreateBucketIfNotExist,
	} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean for STORAGE_URL %s: %w", key, err)
		}
		*target = v
	}
	return nil
}

// applyNotificationEnv reads NOTIFICATION_CLIENTS
func applyNotificationEnv(c *ServerConfig) error {
	raw, ok := os.LookupEnv("NOTIFICATION_CLIENTS")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	clients, err := parseClients(raw)
	if err != nil {
		return err
	}
	if c.NotificationClients == nil {
		c.NotificationClients = map[string]string{}
	}
	for owner, target := range clients {
		c.NotificationClients[owner] = target
	}
	return nil
}

func parseClients(raw string) (map[string]string, error) {
	clients := map[string]string{}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		owner, target, ok := strings.Cut(item, "=")
		if !ok || owner == "" || target == "" {
			return nil, fmt.Errorf("invalid NOTIFICATION_CLIENTS entry %q (use owner=url)", item)
		}
		if _, err := url.ParseRequestURI(target); err != nil {
			return nil, fmt.Errorf("invalid notification url for %s: %w", owner, err)
		}
		clients[owner] = target
	}
	return clients, nil
}
