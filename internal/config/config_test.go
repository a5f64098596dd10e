package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_UsesLedgerServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "LEDGER_SERVICE_INTERNAL_API_KEY", "alias-only-key")
	unsetEnvWithCleanup(t, "USER_SERVICE_INTERNAL_API_KEY")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
	if cfg.UserServiceInternalAPIKey != "alias-only-key" {
		t.Fatalf("expected user service key to fall back to InternalAPIKey, got %q", cfg.UserServiceInternalAPIKey)
	}
}

func TestLoadConfig_InternalAPIKeyTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INTERNAL_API_KEY", "primary-key")
	setEnvWithCleanup(t, "LEDGER_SERVICE_INTERNAL_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "primary-key" {
		t.Fatalf("expected InternalAPIKey to prioritize INTERNAL_API_KEY, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{
		"PORT", "SERVER_PORT", "LEDGER_OPERATION_TIMEOUT", "DIRECTORY_TIMEOUT", "USER_CACHE_TTL",
		"RECONCILE_SCHEDULE", "ACCOUNT_NUMBER_MAX_ATTEMPTS", "LEDGER_EVENTS_EXCHANGE", "MUTATION_RATE_LIMIT_PER_MINUTE",
		"DEPOSIT_RATE_LIMIT_PER_MINUTE", "TRANSFER_RATE_LIMIT_PER_MINUTE",
	} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.LedgerOperationTimeout != 10*time.Second || cfg.DirectoryTimeout != 2*time.Second || cfg.UserCacheTTL != 10*time.Minute {
		t.Fatalf("unexpected default durations: op=%s dir=%s ttl=%s", cfg.LedgerOperationTimeout, cfg.DirectoryTimeout, cfg.UserCacheTTL)
	}
	if cfg.ReconcileSchedule != "@every 15m" || cfg.AccountNumberMaxAttempts != 5 || cfg.LedgerEventsExchange != "ledger_events" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.MutationRateLimitPerMinute != 60 || cfg.DepositRateLimitPerMinute != 60 || cfg.TransferRateLimitPerMinute != 60 {
		t.Fatalf("expected default rate limits of 60, got mutation=%d deposit=%d transfer=%d",
			cfg.MutationRateLimitPerMinute, cfg.DepositRateLimitPerMinute, cfg.TransferRateLimitPerMinute)
	}
}

func TestLoadConfig_ScopeRateLimits(t *testing.T) {
	tests := []struct {
		name         string
		env          map[string]string
		wantDeposit  int
		wantTransfer int
	}{
		{
			name:         "shared budget applies to both scopes",
			env:          map[string]string{"MUTATION_RATE_LIMIT_PER_MINUTE": "30"},
			wantDeposit:  30,
			wantTransfer: 30,
		},
		{
			name:         "scope override",
			env:          map[string]string{"MUTATION_RATE_LIMIT_PER_MINUTE": "30", "TRANSFER_RATE_LIMIT_PER_MINUTE": "5"},
			wantDeposit:  30,
			wantTransfer: 5,
		},
		{
			name:         "scope disabled explicitly",
			env:          map[string]string{"DEPOSIT_RATE_LIMIT_PER_MINUTE": "0"},
			wantDeposit:  0,
			wantTransfer: 60,
		},
		{
			name:         "negative scope disables it",
			env:          map[string]string{"TRANSFER_RATE_LIMIT_PER_MINUTE": "-3"},
			wantDeposit:  60,
			wantTransfer: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			for _, key := range []string{"MUTATION_RATE_LIMIT_PER_MINUTE", "DEPOSIT_RATE_LIMIT_PER_MINUTE", "TRANSFER_RATE_LIMIT_PER_MINUTE"} {
				unsetEnvWithCleanup(t, key)
			}
			for key, value := range tt.env {
				setEnvWithCleanup(t, key, value)
			}

			cfg, err := LoadConfig(t.TempDir())
			if err != nil {
				t.Fatalf("LoadConfig returned error: %v", err)
			}
			if cfg.DepositRateLimitPerMinute != tt.wantDeposit || cfg.TransferRateLimitPerMinute != tt.wantTransfer {
				t.Fatalf("expected deposit=%d transfer=%d, got deposit=%d transfer=%d",
					tt.wantDeposit, tt.wantTransfer, cfg.DepositRateLimitPerMinute, cfg.TransferRateLimitPerMinute)
			}
		})
	}
}

func TestLoadConfig_ParsesDurations(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "go duration", value: "1500ms", want: 1500 * time.Millisecond},
		{name: "bare seconds", value: "4", want: 4 * time.Second},
		{name: "invalid falls back", value: "soon", want: 2 * time.Second},
		{name: "zero falls back", value: "0", want: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			setEnvWithCleanup(t, "DIRECTORY_TIMEOUT", tt.value)

			cfg, err := LoadConfig(t.TempDir())
			if err != nil {
				t.Fatalf("LoadConfig returned error: %v", err)
			}
			if cfg.DirectoryTimeout != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, cfg.DirectoryTimeout)
			}
		})
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "9100")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9100" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
