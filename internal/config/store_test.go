package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mekedron/orderboard/internal/domain"
)

func TestNewStoreUsesEnvConfigPath(t *testing.T) {
	t.Setenv(envConfigPath, "/tmp/custom-orderboard.yaml")
	store, err := NewStore()
	if err != nil {
		t.Fatalf("unexpected error creating store: %v", err)
	}
	if store.Path() != "/tmp/custom-orderboard.yaml" {
		t.Fatalf("expected env path, got %q", store.Path())
	}
}

func TestStoreSaveAndLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.json"} {
		t.Run(name, func(t *testing.T) {
			store := NewStoreAt(filepath.Join(t.TempDir(), "nested", name))
			input := domain.SyncConfig{
				BaseURL:        "https://orders.example.test/api",
				RestaurantGUID: "rest-1",
				QueryLimit:     75,
				Detail:         domain.DetailFull,
				KafkaBrokers:   []string{"k1:9092"},
				KafkaTopic:     "orderboard.events",
			}
			if err := store.Save(context.Background(), input); err != nil {
				t.Fatalf("unexpected save error: %v", err)
			}

			output, err := store.Load(context.Background())
			if err != nil {
				t.Fatalf("unexpected load error: %v", err)
			}
			if output.BaseURL != input.BaseURL || output.QueryLimit != 75 || output.Detail != domain.DetailFull {
				t.Fatalf("unexpected roundtrip config: %+v", output)
			}
			if len(output.KafkaBrokers) != 1 || output.KafkaBrokers[0] != "k1:9092" {
				t.Fatalf("unexpected brokers: %+v", output.KafkaBrokers)
			}
		})
	}
}

func TestStoreLoadReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	payload := "base_url: http://localhost:9000/api\npoll_interval_seconds: 5\ndetail: ids\n"
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := NewStoreAt(path).Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.BaseURL != "http://localhost:9000/api" || cfg.PollIntervalSec != 5 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestStoreLoadMissingConfig(t *testing.T) {
	store := NewStoreAt(filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := store.Load(context.Background())
	if !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestStoreLoadInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}
	_, err := NewStoreAt(path).Load(context.Background())
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestStoreSaveRejectsUnknownDetail(t *testing.T) {
	store := NewStoreAt(filepath.Join(t.TempDir(), "config.yaml"))
	err := store.Save(context.Background(), domain.SyncConfig{Detail: "summary"})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestResolveWithoutFileAppliesEnvAndDefaults(t *testing.T) {
	t.Setenv("ORDERBOARD_QUERY_LIMIT", "40")
	t.Setenv("ORDERBOARD_KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("ORDERBOARD_KAFKA_TOPIC", "events")
	store := NewStoreAt(filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := store.Resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if cfg.QueryLimit != 40 {
		t.Fatalf("expected env limit, got %d", cfg.QueryLimit)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers: %+v", cfg.KafkaBrokers)
	}
	if cfg.PollIntervalSec != 15 || cfg.Detail != domain.DetailIDs {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "ORDERBOARD_MAX_RETRIES" {
			return "many", true
		}
		return "", false
	}
	_, err := ApplyEnv(domain.SyncConfig{}, lookup)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestResolveWithoutFileUsesRetryDriftAndGapDefaults(t *testing.T) {
	store := NewStoreAt(filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := store.Resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	want := domain.DefaultSyncConfig()
	if cfg.MaxRetries != want.MaxRetries || cfg.DriftBufferSec != want.DriftBufferSec || cfg.RequestMinGapMS != want.RequestMinGapMS {
		t.Fatalf("expected retries=%d drift=%d gap=%d, got %+v", want.MaxRetries, want.DriftBufferSec, want.RequestMinGapMS, cfg)
	}
}

func TestLoadKeepsDefaultsForOmittedKeysAndHonoursExplicitZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	payload := "base_url: http://localhost:9000/api\nmax_retries: 0\n"
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := NewStoreAt(path).Resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if cfg.MaxRetries != 0 {
		t.Fatalf("expected explicit zero retries to be kept, got %d", cfg.MaxRetries)
	}
	if cfg.DriftBufferSec != 120 || cfg.RequestMinGapMS != 50 || cfg.LookupTTLSec != 900 {
		t.Fatalf("expected defaults for omitted keys, got %+v", cfg)
	}
}
