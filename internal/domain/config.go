package domain

import "time"

// Detail controls how much of each order the bulk query returns.
type Detail string

const (
	DetailIDs  Detail = "ids"
	DetailFull Detail = "full"
)

// SyncConfig stores every tunable of the synchronization engine.
type SyncConfig struct {
	BaseURL            string   `json:"base_url" yaml:"base_url"`
	RestaurantGUID     string   `json:"restaurant_guid" yaml:"restaurant_guid"`
	APIToken           string   `json:"api_token,omitempty" yaml:"api_token,omitempty"`
	PollIntervalSec    int      `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	LookbackMinutes    int      `json:"lookback_minutes" yaml:"lookback_minutes"`
	MaxLookbackMinutes int      `json:"max_lookback_minutes" yaml:"max_lookback_minutes"`
	DriftBufferSec     int      `json:"drift_buffer_seconds" yaml:"drift_buffer_seconds"`
	QueryLimit         int      `json:"query_limit" yaml:"query_limit"`
	Detail             Detail   `json:"detail" yaml:"detail"`
	ConcurrencyLimit   int      `json:"concurrency_limit" yaml:"concurrency_limit"`
	MaxRetries         int      `json:"max_retries" yaml:"max_retries"`
	RetryBackoffMS     int      `json:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	ReadyTTLSec        int      `json:"ready_ttl_seconds" yaml:"ready_ttl_seconds"`
	ActiveTTLSec       int      `json:"active_ttl_seconds" yaml:"active_ttl_seconds"`
	RequestMinGapMS    int      `json:"request_min_gap_ms" yaml:"request_min_gap_ms"`
	LookupTTLSec       int      `json:"lookup_ttl_seconds" yaml:"lookup_ttl_seconds"`
	StoreURL           string   `json:"store_url,omitempty" yaml:"store_url,omitempty"`
	KafkaBrokers       []string `json:"kafka_brokers,omitempty" yaml:"kafka_brokers,omitempty"`
	KafkaTopic         string   `json:"kafka_topic,omitempty" yaml:"kafka_topic,omitempty"`
	MetricsAddr        string   `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
}

// DefaultSyncConfig returns the baseline configuration.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		PollIntervalSec:    15,
		LookbackMinutes:    120,
		MaxLookbackMinutes: 720,
		DriftBufferSec:     120,
		QueryLimit:         200,
		Detail:             DetailIDs,
		ConcurrencyLimit:   6,
		MaxRetries:         2,
		RetryBackoffMS:     400,
		ReadyTTLSec:        300,
		ActiveTTLSec:       2700,
		RequestMinGapMS:    50,
		LookupTTLSec:       900,
	}
}

// WithDefaults fills zero values from DefaultSyncConfig.
func (c SyncConfig) WithDefaults() SyncConfig {
	d := DefaultSyncConfig()
	if c.PollIntervalSec <= 0 {
		c.PollIntervalSec = d.PollIntervalSec
	}
	if c.LookbackMinutes <= 0 {
		c.LookbackMinutes = d.LookbackMinutes
	}
	if c.MaxLookbackMinutes <= 0 {
		c.MaxLookbackMinutes = d.MaxLookbackMinutes
	}
	if c.MaxLookbackMinutes < c.LookbackMinutes {
		c.MaxLookbackMinutes = c.LookbackMinutes
	}
	if c.DriftBufferSec < 0 {
		c.DriftBufferSec = d.DriftBufferSec
	}
	if c.QueryLimit <= 0 {
		c.QueryLimit = d.QueryLimit
	}
	if c.Detail != DetailFull {
		c.Detail = DetailIDs
	}
	if c.ConcurrencyLimit <= 0 {
		c.ConcurrencyLimit = d.ConcurrencyLimit
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryBackoffMS <= 0 {
		c.RetryBackoffMS = d.RetryBackoffMS
	}
	if c.ReadyTTLSec <= 0 {
		c.ReadyTTLSec = d.ReadyTTLSec
	}
	if c.ActiveTTLSec <= 0 {
		c.ActiveTTLSec = d.ActiveTTLSec
	}
	if c.ReadyTTLSec >= c.ActiveTTLSec {
		// ready orders age out sooner than active ones, never instantly
		c.ReadyTTLSec = max(c.ActiveTTLSec/2, 1)
	}
	if c.LookupTTLSec <= 0 {
		c.LookupTTLSec = d.LookupTTLSec
	}
	if c.RequestMinGapMS < 0 {
		c.RequestMinGapMS = 0
	}
	return c
}

func (c SyncConfig) PollInterval() time.Duration { return time.Duration(c.PollIntervalSec) * time.Second }
func (c SyncConfig) Lookback() time.Duration { return time.Duration(c.LookbackMinutes) * time.Minute }
func (c SyncConfig) MaxLookback() time.Duration { return time.Duration(c.MaxLookbackMinutes) * time.Minute }
func (c SyncConfig) DriftBuffer() time.Duration { return time.Duration(c.DriftBufferSec) * time.Second }
func (c SyncConfig) RetryBackoff() time.Duration { return time.Duration(c.RetryBackoffMS) * time.Millisecond }
func (c SyncConfig) ReadyTTL() time.Duration { return time.Duration(c.ReadyTTLSec) * time.Second }
func (c SyncConfig) ActiveTTL() time.Duration { return time.Duration(c.ActiveTTLSec) * time.Second }
func (c SyncConfig) LookupTTL() time.Duration { return time.Duration(c.LookupTTLSec) * time.Second }
func (c SyncConfig) RequestMinGap() time.Duration {
	return time.Duration(c.RequestMinGapMS) * time.Millisecond
}
