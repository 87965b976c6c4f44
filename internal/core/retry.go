package core

import (
	"fmt"
	"time"
)

// DefaultRetryableErrors are retried when a config does not list its own.
var DefaultRetryableErrors = []ErrorCode{ErrorTimeout, ErrorServer, ErrorRateLimited, ErrorNetwork}

// RetryConfig controls bounded exponential backoff.
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
	BaseDelay       time.Duration `mapstructure:"base_delay" yaml:"base_delay" json:"base_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay" yaml:"max_delay" json:"max_delay"`
	RetryableErrors []ErrorCode   `mapstructure:"retryable_errors" yaml:"retryable_errors" json:"retryable_errors,omitempty"`
}

// DefaultRetryConfig returns three retries with 1s base and 60s cap.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        60 * time.Second,
		RetryableErrors: append([]ErrorCode(nil), DefaultRetryableErrors...),
	}
}

// Validate checks the retry invariants.
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("base_delay must be >= 0, got %s", c.BaseDelay)
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("max_delay (%s) must be >= base_delay (%s)", c.MaxDelay, c.BaseDelay)
	}
	return nil
}

// IsRetryable reports whether code is in the configured retryable set.
func (c RetryConfig) IsRetryable(code ErrorCode) bool {
	codes := c.RetryableErrors
	if len(codes) == 0 {
		codes = DefaultRetryableErrors
	}
	for _, candidate := range codes {
		if candidate == code {
			return true
		}
	}
	return false
}
