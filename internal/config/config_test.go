package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv hides variables the host may already set; viper ignores empty ones.
func clearEnv(t *testing.T) {
	for _, name := range []string{"PORT", "BANK_IP", "TIMEOUT", "STORE", "STORE_DSN", "LOG_LEVEL", "LOG_FILE"} {
		t.Setenv(name, "")
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(newViper())
	require.NoError(t, err)

	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, 65530, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.IdleTimeout())
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "bank.log", cfg.LogFile)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "65527")
	t.Setenv("BANK_IP", "192.168.1.20")
	t.Setenv("TIMEOUT", "30")
	t.Setenv("PROXY_TIMEOUT", "750ms")
	t.Setenv("STORE", "sqlite")
	t.Setenv("STORE_DSN", "/var/lib/bank/bank.db")

	cfg, err := Load(newViper())
	require.NoError(t, err)

	assert.Equal(t, 65527, cfg.Port)
	assert.Equal(t, "192.168.1.20", cfg.BankIP)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout())
	assert.Equal(t, 750*time.Millisecond, cfg.ProxyTimeout)
	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, "/var/lib/bank/bank.db", cfg.StoreDSN)
}

func TestExplicitValuesOverrideDefaults(t *testing.T) {
	clearEnv(t)
	v := newViper()
	v.Set("rp-port-from", 7000)
	v.Set("rp-port-to", 7003)
	v.Set("breaker-failures", 0)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.RPPortFrom)
	assert.Equal(t, 7003, cfg.RPPortTo)
	assert.Equal(t, uint32(0), cfg.BreakerFailures)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"port", func(c *Config) { c.Port = 70000 }, "port 70000"},
		{"bank ip", func(c *Config) { c.BankIP = "localhost" }, `bank-ip "localhost"`},
		{"timeout", func(c *Config) { c.Timeout = 0 }, "timeout 0"},
		{"proxy timeout", func(c *Config) { c.ProxyTimeout = 0 }, "proxy-timeout 0s"},
		{"port range", func(c *Config) { c.RPPortFrom, c.RPPortTo = 65535, 65525 }, "rp-port range 65535-65525"},
		{"concurrency", func(c *Config) { c.RPConcurrency = 0 }, "rp-concurrency 0"},
		{"log level", func(c *Config) { c.LogLevel = "chatty" }, `log-level "chatty"`},
		{"store", func(c *Config) { c.Store = "redis" }, `store "redis"`},
		{"dsn", func(c *Config) { c.Store = "postgres" }, "store-dsn (required by postgres)"},
		{"burst", func(c *Config) { c.CommandBurst = 0 }, "command-burst 0"},
		{"cooldown", func(c *Config) { c.BreakerCooldown = 0 }, "breaker-cooldown 0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Port = 0
	cfg.Timeout = -1
	cfg.Store = "redis"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, `invalid configuration: port 0, timeout -1, store "redis"`, err.Error())
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Setenv("PORT", "0")

	_, err := Load(newViper())
	assert.Error(t, err)
}
