// SPDX-License-Identifier: MIT

package storage

import "time"

// Default lifetimes for stored records.
const (
	// DefaultTransactionTTL bounds the /authorize → callback window.
	DefaultTransactionTTL = 10 * time.Minute

	// DefaultAuthCodeTTL bounds the callback → /token window.
	DefaultAuthCodeTTL = 5 * time.Minute

	// DefaultConsumedRetention is how long a consumed-code mark survives so
	// replays keep answering ErrCodeConsumed instead of ErrNotFound.
	DefaultConsumedRetention = 30 * time.Minute

	// DefaultRefreshRetention caps how long redeemed refresh-token IDs are
	// remembered.
	DefaultRefreshRetention = 30 * 24 * time.Hour

	// DefaultCleanupInterval is how often the memory backend sweeps
	// expired entries.
	DefaultCleanupInterval = 5 * time.Minute
)

// Config carries the record lifetimes a backend enforces.
type Config struct {
	TransactionTTL    time.Duration
	AuthCodeTTL       time.Duration
	ConsumedRetention time.Duration
	CleanupInterval   time.Duration
}

// DefaultConfig returns a Config with the default lifetimes.
func DefaultConfig() *Config {
	return &Config{
		TransactionTTL:    DefaultTransactionTTL,
		AuthCodeTTL:       DefaultAuthCodeTTL,
		ConsumedRetention: DefaultConsumedRetention,
		CleanupInterval:   DefaultCleanupInterval,
	}
}

// withDefaults fills any zero field.
func (c *Config) withDefaults() *Config {
	out := DefaultConfig()
	if c == nil {
		return out
	}
	if c.TransactionTTL > 0 {
		out.TransactionTTL = c.TransactionTTL
	}
	if c.AuthCodeTTL > 0 {
		out.AuthCodeTTL = c.AuthCodeTTL
	}
	if c.ConsumedRetention > 0 {
		out.ConsumedRetention = c.ConsumedRetention
	}
	if c.CleanupInterval > 0 {
		out.CleanupInterval = c.CleanupInterval
	}
	return out
}
