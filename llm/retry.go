package llm

import "time"

// RetryConfig holds retry configuration for provider requests.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per call.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps a single backoff sleep.
	MaxBackoff time.Duration

	// TotalBudget caps wall-clock time across all attempts of one call,
	// including backoff sleeps. Zero disables the budget.
	TotalBudget time.Duration
}

// DefaultRetryConfig returns the retry defaults for generation calls:
// backoff capped at 3s, 45s total budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       4,
		BackoffBase:       500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        3 * time.Second,
		TotalBudget:       45 * time.Second,
	}
}
