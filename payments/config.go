package payments

import (
	"time"

	"github.com/techcorp/payment-core/fraud"
)

// RetryPolicy bounds gateway charge retries. Delays grow exponentially from
// BaseDelay with jitter, capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Config is the explicit construction-time configuration of the payment
// core. Provider credentials, retry policy and thresholds are passed here
// rather than read from the environment inside components.
type Config struct {
	HTTPAddr string

	// CardProcessorAddr is the ISO 8583 endpoint of the card processor.
	// Empty disables the card adapter.
	CardProcessorAddr string
	// PayPalBaseURL / WalletBaseURL are the provider HTTP APIs. Empty
	// disables the respective adapter.
	PayPalBaseURL string
	WalletBaseURL string

	Retry RetryPolicy
	Fraud fraud.Config

	// HeldSourceTTL bounds how long a held payment's tokenized source stays
	// resolvable while awaiting secondary verification.
	HeldSourceTTL time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr: "localhost:9090",
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		},
		Fraud:         fraud.DefaultConfig(),
		HeldSourceTTL: 24 * time.Hour,
	}
}
