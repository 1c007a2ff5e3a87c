package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mekedron/orderboard/internal/domain"
)

const (
	defaultDirName  = ".orderboard"
	defaultFileName = "config.yaml"
	envConfigPath   = "ORDERBOARD_CONFIG_PATH"
	envPrefix       = "ORDERBOARD_"
)

var (
	// ErrConfigNotFound is returned when config file does not exist.
	ErrConfigNotFound = errors.New("config file not found")
	// ErrInvalidConfig is returned when config payload is malformed.
	ErrInvalidConfig = errors.New("config file is invalid")
)

// Store loads and writes the sync configuration.
type Store struct {
	path string
}

// NewStore creates a store using env overrides or defaults.
func NewStore() (*Store, error) {
	if cfg := os.Getenv(envConfigPath); cfg != "" {
		return &Store{path: cfg}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	return &Store{path: filepath.Join(home, defaultDirName, defaultFileName)}, nil
}

// NewStoreAt creates a store bound to an explicit path.
func NewStoreAt(path string) *Store {
	return &Store{path: path}
}

// Path returns current config path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) isJSON() bool {
	return strings.EqualFold(filepath.Ext(s.path), ".json")
}

// Load reads and validates configuration. Keys missing from the file keep
// their default value; keys present in the file win, zero included.
func (s *Store) Load(_ context.Context) (domain.SyncConfig, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.SyncConfig{}, ErrConfigNotFound
		}
		return domain.SyncConfig{}, fmt.Errorf("read config: %w", err)
	}

	cfg := domain.DefaultSyncConfig()
	if s.isJSON() {
		err = json.Unmarshal(payload, &cfg)
	} else {
		err = yaml.Unmarshal(payload, &cfg)
	}
	if err != nil {
		return domain.SyncConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := Validate(cfg); err != nil {
		return domain.SyncConfig{}, err
	}
	return cfg, nil
}

// Save writes a configuration payload.
func (s *Store) Save(_ context.Context, cfg domain.SyncConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	var (
		payload []byte
		err     error
	)
	if s.isJSON() {
		payload, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		payload, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(s.path, payload, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Resolve loads the file when present, then applies environment overrides and
// defaults. A missing file is not an error.
func (s *Store) Resolve(ctx context.Context) (domain.SyncConfig, error) {
	cfg, err := s.Load(ctx)
	switch {
	case errors.Is(err, ErrConfigNotFound):
		cfg = domain.DefaultSyncConfig()
	case err != nil:
		return domain.SyncConfig{}, err
	}
	cfg, err = ApplyEnv(cfg, os.LookupEnv)
	if err != nil {
		return domain.SyncConfig{}, err
	}
	return cfg.WithDefaults(), nil
}

// Validate rejects values that defaults cannot repair.
func Validate(cfg domain.SyncConfig) error {
	switch cfg.Detail {
	case "", domain.DetailIDs, domain.DetailFull:
	default:
		return fmt.Errorf("%w: detail must be %q or %q, got %q", ErrInvalidConfig, domain.DetailIDs, domain.DetailFull, cfg.Detail)
	}
	if strings.TrimSpace(cfg.KafkaTopic) == "" && len(cfg.KafkaBrokers) > 0 {
		return fmt.Errorf("%w: kafka_topic is required when kafka_brokers is set", ErrInvalidConfig)
	}
	return nil
}

type envBinding struct {
	name string
	set  func(cfg *domain.SyncConfig, value string) error
}

func intSetter(field func(*domain.SyncConfig) *int) func(*domain.SyncConfig, string) error {
	return func(cfg *domain.SyncConfig, value string) error {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*field(cfg) = n
		return nil
	}
}

func stringSetter(field func(*domain.SyncConfig) *string) func(*domain.SyncConfig, string) error {
	return func(cfg *domain.SyncConfig, value string) error {
		*field(cfg) = strings.TrimSpace(value)
		return nil
	}
}

var envBindings = []envBinding{
	{"BASE_URL", stringSetter(func(c *domain.SyncConfig) *string { return &c.BaseURL })},
	{"RESTAURANT_GUID", stringSetter(func(c *domain.SyncConfig) *string { return &c.RestaurantGUID })},
	{"API_TOKEN", stringSetter(func(c *domain.SyncConfig) *string { return &c.APIToken })},
	{"STORE_URL", stringSetter(func(c *domain.SyncConfig) *string { return &c.StoreURL })},
	{"KAFKA_TOPIC", stringSetter(func(c *domain.SyncConfig) *string { return &c.KafkaTopic })},
	{"METRICS_ADDR", stringSetter(func(c *domain.SyncConfig) *string { return &c.MetricsAddr })},
	{"POLL_INTERVAL_SECONDS", intSetter(func(c *domain.SyncConfig) *int { return &c.PollIntervalSec })},
	{"LOOKBACK_MINUTES", intSetter(func(c *domain.SyncConfig) *int { return &c.LookbackMinutes })},
	{"MAX_LOOKBACK_MINUTES", intSetter(func(c *domain.SyncConfig) *int { return &c.MaxLookbackMinutes })},
	{"DRIFT_BUFFER_SECONDS", intSetter(func(c *domain.SyncConfig) *int { return &c.DriftBufferSec })},
	{"QUERY_LIMIT", intSetter(func(c *domain.SyncConfig) *int { return &c.QueryLimit })},
	{"CONCURRENCY_LIMIT", intSetter(func(c *domain.SyncConfig) *int { return &c.ConcurrencyLimit })},
	{"MAX_RETRIES", intSetter(func(c *domain.SyncConfig) *int { return &c.MaxRetries })},
	{"RETRY_BACKOFF_MS", intSetter(func(c *domain.SyncConfig) *int { return &c.RetryBackoffMS })},
	{"READY_TTL_SECONDS", intSetter(func(c *domain.SyncConfig) *int { return &c.ReadyTTLSec })},
	{"ACTIVE_TTL_SECONDS", intSetter(func(c *domain.SyncConfig) *int { return &c.ActiveTTLSec })},
	{"LOOKUP_TTL_SECONDS", intSetter(func(c *domain.SyncConfig) *int { return &c.LookupTTLSec })},
	{"REQUEST_MIN_GAP_MS", intSetter(func(c *domain.SyncConfig) *int { return &c.RequestMinGapMS })},
	{"DETAIL", func(c *domain.SyncConfig, value string) error {
		c.Detail = domain.Detail(strings.ToLower(strings.TrimSpace(value)))
		return nil
	}},
	{"KAFKA_BROKERS", func(c *domain.SyncConfig, value string) error {
		c.KafkaBrokers = nil
		for _, broker := range strings.Split(value, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				c.KafkaBrokers = append(c.KafkaBrokers, broker)
			}
		}
		return nil
	}},
}

// ApplyEnv overrides cfg with ORDERBOARD_* variables found through lookup.
func ApplyEnv(cfg domain.SyncConfig, lookup func(string) (string, bool)) (domain.SyncConfig, error) {
	for _, binding := range envBindings {
		value, ok := lookup(envPrefix + binding.name)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if err := binding.set(&cfg, value); err != nil {
			return domain.SyncConfig{}, fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, envPrefix, binding.name, err)
		}
	}
	if err := Validate(cfg); err != nil {
		return domain.SyncConfig{}, err
	}
	return cfg, nil
}
