package bulk

import (
	"time"
)

// Engine defaults.
const (
	DefaultWorkers          = 8
	DefaultMaxBatchSize     = 1000
	DefaultErrorCap         = 50
	DefaultPageLimit        = 20
	DefaultSubscriberBuffer = 16
)

// Config controls the engine's scheduling and retry behavior.
type Config struct {
	// Workers bounds concurrent item executions per operation.
	Workers int `json:"workers"`

	// MaxBatchSize caps the item set accepted at creation.
	MaxBatchSize int `json:"max_batch_size"`

	// ErrorCap bounds the per-operation error list; further failures only
	// increment the omitted count.
	ErrorCap int `json:"error_cap"`

	// Retry applies to transient item failures.
	Retry RetryConfig `json:"retry"`

	// SoftTimeout, when positive, converts a still-running operation to
	// cancelled through the normal cancellation path once elapsed.
	SoftTimeout time.Duration `json:"soft_timeout"`

	// SubscriberBuffer sizes each subscription's event channel.
	SubscriberBuffer int `json:"subscriber_buffer"`
}

// NewConfig returns the default engine configuration.
func NewConfig() *Config {
	return &Config{
		Workers:          DefaultWorkers,
		MaxBatchSize:     DefaultMaxBatchSize,
		ErrorCap:         DefaultErrorCap,
		Retry:            NewRetryConfig(),
		SoftTimeout:      0,
		SubscriberBuffer: DefaultSubscriberBuffer,
	}
}

// ConfigBuilder builds an engine Config fluently. Used mostly by tests.
type ConfigBuilder struct {
	config *Config
}

// NewConfigBuilder starts from the default configuration.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: NewConfig()}
}

// WithWorkers sets the concurrency bound.
func (b *ConfigBuilder) WithWorkers(n int) *ConfigBuilder {
	b.config.Workers = n
	return b
}

// WithMaxBatchSize sets the maximum accepted item set size.
func (b *ConfigBuilder) WithMaxBatchSize(n int) *ConfigBuilder {
	b.config.MaxBatchSize = n
	return b
}

// WithErrorCap sets the error list bound.
func (b *ConfigBuilder) WithErrorCap(n int) *ConfigBuilder {
	b.config.ErrorCap = n
	return b
}

// WithRetry sets the retry configuration.
func (b *ConfigBuilder) WithRetry(rc RetryConfig) *ConfigBuilder {
	b.config.Retry = rc
	return b
}

// WithSoftTimeout sets the per-operation soft timeout.
func (b *ConfigBuilder) WithSoftTimeout(d time.Duration) *ConfigBuilder {
	b.config.SoftTimeout = d
	return b
}

// WithSubscriberBuffer sets each subscription's channel capacity.
func (b *ConfigBuilder) WithSubscriberBuffer(n int) *ConfigBuilder {
	b.config.SubscriberBuffer = n
	return b
}

// Build returns the assembled configuration. Non-positive values fall back
// to the defaults.
func (b *ConfigBuilder) Build() *Config {
	c := b.config
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.ErrorCap <= 0 {
		c.ErrorCap = DefaultErrorCap
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = DefaultSubscriberBuffer
	}
	return c
}
