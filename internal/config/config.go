package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/example/bank-node/internal/ledger"
	"github.com/example/bank-node/internal/protocol"
)

// Config holds the node configuration.
type Config struct {
	Port            int           `mapstructure:"port"`
	BankIP          string        `mapstructure:"bank-ip"`
	Timeout         int           `mapstructure:"timeout"`
	ProxyTimeout    time.Duration `mapstructure:"proxy-timeout"`
	RPPortFrom      int           `mapstructure:"rp-port-from"`
	RPPortTo        int           `mapstructure:"rp-port-to"`
	RPConcurrency   int           `mapstructure:"rp-concurrency"`
	Store           string        `mapstructure:"store"`
	StoreDSN        string        `mapstructure:"store-dsn"`
	LogLevel        string        `mapstructure:"log-level"`
	LogFile         string        `mapstructure:"log-file"`
	AdminListen     string        `mapstructure:"admin-listen"`
	MetricsListen   string        `mapstructure:"metrics-listen"`
	CommandRate     float64       `mapstructure:"command-rate"`
	CommandBurst    int           `mapstructure:"command-burst"`
	BreakerFailures uint32        `mapstructure:"breaker-failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker-cooldown"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Port:            65530,
		Timeout:         5,
		ProxyTimeout:    2 * time.Second,
		RPPortFrom:      65525,
		RPPortTo:        65535,
		RPConcurrency:   4,
		Store:           ledger.StoreMemory,
		LogLevel:        "info",
		LogFile:         "bank.log",
		CommandBurst:    1,
		BreakerFailures: 3,
		BreakerCooldown: 10 * time.Second,
	}
}

// SetDefaults registers every key on v so environment variables are seen by
// Unmarshal even when no flag is bound.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("port", d.Port)
	v.SetDefault("bank-ip", d.BankIP)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("proxy-timeout", d.ProxyTimeout)
	v.SetDefault("rp-port-from", d.RPPortFrom)
	v.SetDefault("rp-port-to", d.RPPortTo)
	v.SetDefault("rp-concurrency", d.RPConcurrency)
	v.SetDefault("store", d.Store)
	v.SetDefault("store-dsn", d.StoreDSN)
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("log-file", d.LogFile)
	v.SetDefault("admin-listen", d.AdminListen)
	v.SetDefault("metrics-listen", d.MetricsListen)
	v.SetDefault("command-rate", d.CommandRate)
	v.SetDefault("command-burst", d.CommandBurst)
	v.SetDefault("breaker-failures", d.BreakerFailures)
	v.SetDefault("breaker-cooldown", d.BreakerCooldown)
}

// BindEnv makes v read PORT, BANK_IP, TIMEOUT and friends.
func BindEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IdleTimeout is the per-connection idle timeout.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var invalid []string

	if !validPort(c.Port) {
		invalid = append(invalid, fmt.Sprintf("port %d", c.Port))
	}
	if c.BankIP != "" && !protocol.ValidAddress(c.BankIP) {
		invalid = append(invalid, fmt.Sprintf("bank-ip %q", c.BankIP))
	}
	if c.Timeout <= 0 {
		invalid = append(invalid, fmt.Sprintf("timeout %d", c.Timeout))
	}
	if c.ProxyTimeout <= 0 {
		invalid = append(invalid, fmt.Sprintf("proxy-timeout %s", c.ProxyTimeout))
	}
	if !validPort(c.RPPortFrom) || !validPort(c.RPPortTo) || c.RPPortFrom > c.RPPortTo {
		invalid = append(invalid, fmt.Sprintf("rp-port range %d-%d", c.RPPortFrom, c.RPPortTo))
	}
	if c.RPConcurrency <= 0 {
		invalid = append(invalid, fmt.Sprintf("rp-concurrency %d", c.RPConcurrency))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		invalid = append(invalid, fmt.Sprintf("log-level %q", c.LogLevel))
	}
	if c.CommandRate < 0 {
		invalid = append(invalid, fmt.Sprintf("command-rate %g", c.CommandRate))
	}
	if c.CommandBurst <= 0 {
		invalid = append(invalid, fmt.Sprintf("command-burst %d", c.CommandBurst))
	}
	if c.BreakerFailures > 0 && c.BreakerCooldown <= 0 {
		invalid = append(invalid, fmt.Sprintf("breaker-cooldown %s", c.BreakerCooldown))
	}

	switch c.Store {
	case ledger.StoreMemory:
	case ledger.StoreSQLite, ledger.StorePostgres, ledger.StoreBadger:
		if c.StoreDSN == "" {
			invalid = append(invalid, fmt.Sprintf("store-dsn (required by %s)", c.Store))
		}
	default:
		invalid = append(invalid, fmt.Sprintf("store %q", c.Store))
	}

	if len(invalid) > 0 {
		return errors.New("invalid configuration: " + strings.Join(invalid, ", "))
	}

	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}
