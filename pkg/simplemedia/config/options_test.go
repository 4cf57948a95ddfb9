package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Port != "8080" || cfg.DatabaseType != "memory" || cfg.Storage.Type != "memory" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if !cfg.StoreDerivatives {
		t.Error("expected derivatives to be stored by default")
	}
	if cfg.SlotTTL != 24*time.Hour {
		t.Errorf("expected 24h slot TTL, got %s", cfg.SlotTTL)
	}
}

func TestWithPort(t *testing.T) {
	cfg, err := Load(WithPort("9090"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got: %s", cfg.Port)
	}
}

func TestWithPortEmpty(t *testing.T) {
	_, err := Load(WithPort(""))
	if err == nil {
		t.Error("expected error for empty port, got nil")
	}
}

func TestWithDatabase(t *testing.T) {
	tests := []struct {
		name      string
		dbType    string
		url       string
		wantError bool
	}{
		{"memory", "memory", "", false},
		{"postgres", "postgres", "postgres://localhost/media", false},
		{"postgres without url", "postgres", "", true},
		{"unknown type", "mysql", "mysql://localhost", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(WithDatabase(tt.dbType, tt.url))
			if tt.wantError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.DatabaseType != tt.dbType {
				t.Errorf("expected database type %q, got %q", tt.dbType, cfg.DatabaseType)
			}
		})
	}
}

func TestSlotStoreFollowsDatabase(t *testing.T) {
	cfg, err := Load(WithDatabase("postgres", "postgres://localhost/media"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.slotStoreType() != "postgres" {
		t.Errorf("expected postgres slot store, got %s", cfg.slotStoreType())
	}
}

func TestSlotStoreMismatch(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"postgres slots on memory database", []Option{WithSlotStore("postgres")}},
		{"memory slots on postgres database", []Option{WithDatabase("postgres", "postgres://localhost/media"), WithSlotStore("memory")}},
		{"redis without address", []Option{WithSlotStore("redis")}},
		{"unknown slot store", []Option{WithSlotStore("etcd")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(tt.opts...); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestWithRedis(t *testing.T) {
	cfg, err := Load(WithSlotStore("redis"), WithRedis("localhost:6379", "", 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis config: %+v", cfg.Redis)
	}
}

func TestStorageOptions(t *testing.T) {
	cfg, err := Load(WithS3Storage("media", "eu-central-1"), WithS3Endpoint("http://localhost:9000", true), WithS3Credentials("key", "secret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.Type != "s3" || cfg.Storage.Bucket != "media" || cfg.Storage.Region != "eu-central-1" {
		t.Errorf("unexpected storage config: %+v", cfg.Storage)
	}
	if !cfg.Storage.UsePathStyle {
		t.Error("expected path style addressing")
	}

	if _, err := Load(WithFilesystemStorage("")); err == nil {
		t.Error("expected error for empty base directory, got nil")
	}
	if _, err := Load(WithS3Endpoint("not a url", false)); err == nil {
		t.Error("expected error for invalid endpoint, got nil")
	}
}

func TestSigningSeedValidation(t *testing.T) {
	if _, err := Load(WithSigningSeed("abcd")); err == nil {
		t.Error("expected error for short seed, got nil")
	}
	if _, err := Load(WithNotificationClient("pets", "https://pets.example.com/hook")); err == nil {
		t.Error("expected error for clients without a signing seed, got nil")
	}
	seed := "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	cfg, err := Load(WithSigningSeed(seed), WithNotificationClient("pets", "https://pets.example.com/hook"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.NotificationClients["pets"] != "https://pets.example.com/hook" {
		t.Errorf("unexpected clients: %v", cfg.NotificationClients)
	}
}

func TestWithTranscodePool(t *testing.T) {
	cfg, err := Load(WithTranscodePool(8, 16, time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TranscodePartitions != 8 || cfg.TranscodeQueueSize != 16 || cfg.TranscodeTimeout != time.Minute {
		t.Errorf("unexpected transcode config: %d %d %s", cfg.TranscodePartitions, cfg.TranscodeQueueSize, cfg.TranscodeTimeout)
	}
	if _, err := Load(WithTranscodePool(0, 16, time.Minute)); err == nil {
		t.Error("expected error for zero partitions, got nil")
	}
}

func TestWithSweepSchedule(t *testing.T) {
	cfg, err := Load(WithSweepSchedule("*/5 * * * *"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SweepSchedule != "*/5 * * * *" {
		t.Errorf("unexpected schedule %q", cfg.SweepSchedule)
	}
	if _, err := Load(WithSweepSchedule("whenever")); err == nil {
		t.Error("expected error for invalid schedule, got nil")
	}
}
