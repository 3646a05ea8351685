package config

import (
	"os"
	"strconv"
	"time"
)

type CreditsConfig struct {
	CostPerGeneration int64
	RefundOnFailure   bool
	BalanceCacheTTL   time.Duration
	TransactionLimit  int
	TransactionMax    int
}

// LoadCreditsConfig reads ledger tuning from the environment.
//
// RefundOnFailure selects the compensation policy when the model call fails
// after a successful debit: off (default) the debit stands, on the gate issues
// a compensating refund entry. The two behaviors are never mixed at runtime.
func LoadCreditsConfig() *CreditsConfig {
	return &CreditsConfig{
		CostPerGeneration: getEnvAsInt64("CREDITS_COST_PER_GENERATION", 1),
		RefundOnFailure:   getEnvAsBool("CREDITS_REFUND_ON_FAILURE", false),
		BalanceCacheTTL:   getEnvAsDuration("CREDITS_BALANCE_CACHE_TTL", 30*time.Second),
		TransactionLimit:  getEnvAsInt("CREDITS_TRANSACTION_LIMIT", 20),
		TransactionMax:    getEnvAsInt("CREDITS_TRANSACTION_MAX", 100),
	}
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
