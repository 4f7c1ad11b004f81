// config.go - Configuration management for the settlement daemon
package main

import (
	"flag"
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	listenAddrKey   = "listen_addr"
	dataDirKey      = "data_dir"
	keyDirKey       = "key_dir"
	logLevelKey     = "log_level"
	logFileKey      = "log_file"
	auditLogKey     = "audit_log"
	chainDepthKey   = "max_chain_depth"
	proverModeKey   = "prover_mode"
	proverURLKey    = "prover_url"
	rateLimitKey    = "rate_limit"
	blockPeriodKey  = "block_period_seconds"
	verifyProofsKey = "verify_proofs"
	configFileKey   = "config"
)

// Config holds the settlement daemon configuration.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	DataDir    string `mapstructure:"data_dir"`
	KeyDir     string `mapstructure:"key_dir"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
	AuditLog string `mapstructure:"audit_log"`

	MaxChainDepth int    `mapstructure:"max_chain_depth"`
	ProverMode    string `mapstructure:"prover_mode"` // "local" or "delegated"
	ProverURL     string `mapstructure:"prover_url"`
	VerifyProofs  bool   `mapstructure:"verify_proofs"`

	RateLimit          int `mapstructure:"rate_limit"` // requests per second per peer
	BlockPeriodSeconds int `mapstructure:"block_period_seconds"`
}

func buildFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("settled", flag.ContinueOnError)

	fs.String(configFileKey, "", "Path to a config file (optional)")
	fs.String(listenAddrKey, ":8380", "REST API listen address")
	fs.String(dataDirKey, "data", "Directory for the local cache database")
	fs.String(keyDirKey, "keys", "Directory for Groth16 proving/verifying keys")
	fs.String(logLevelKey, "info", "Log level (debug|info|warn|error)")
	fs.String(logFileKey, "", "Log file path; empty logs to console only")
	fs.String(auditLogKey, "", "Audit log path; empty disables audit logging")
	fs.Int(chainDepthKey, 0, "Max same-block ephemeral note chain depth; 0 uses the default")
	fs.String(proverModeKey, "local", "Proving mode (local|delegated)")
	fs.String(proverURLKey, "", "Delegated prover endpoint")
	fs.Bool(verifyProofsKey, true, "Verify proofs at submission")
	fs.Int(rateLimitKey, 20, "Requests per second allowed per peer")
	fs.Int(blockPeriodKey, 5, "Seconds between automatic block production")

	return fs
}

// LoadConfig reads configuration from flags, environment and optionally a
// config file, in ascending priority: file, env (SETTLED_*), flags.
func LoadConfig(args []string) (*Config, error) {
	v := viper.New()

	fs := buildFlagSet()
	pf := pflag.NewFlagSet("settled", pflag.ContinueOnError)
	pf.AddGoFlagSet(fs)
	if err := pf.Parse(args); err != nil {
		return nil, err
	}
	if err := v.BindPFlags(pf); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("settled")
	v.AutomaticEnv()

	if path := v.GetString(configFileKey); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	if c.ProverMode != "local" && c.ProverMode != "delegated" {
		return fmt.Errorf("prover_mode must be 'local' or 'delegated', got %q", c.ProverMode)
	}
	if c.ProverMode == "delegated" && c.ProverURL == "" {
		return fmt.Errorf("prover_url must be set in delegated mode")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be positive")
	}
	if c.BlockPeriodSeconds <= 0 {
		return fmt.Errorf("block_period_seconds must be positive")
	}
	if c.MaxChainDepth < 0 {
		return fmt.Errorf("max_chain_depth must not be negative")
	}
	return nil
}
