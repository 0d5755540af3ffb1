package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration.
type Config struct {
	Env            string `mapstructure:"env"`
	DBPath         string `mapstructure:"db_path"`
	LogLevel       string `mapstructure:"log_level"`
	LogFile        string `mapstructure:"log_file"`
	OwnerID        string `mapstructure:"owner_id"`
	BitcoinNetwork string `mapstructure:"bitcoin_network"`

	Sandbox struct {
		PhaseDuration time.Duration `mapstructure:"phase_duration"`
	} `mapstructure:"sandbox"`

	Chain struct {
		ConfirmDelay time.Duration `mapstructure:"confirm_delay"`
	} `mapstructure:"chain"`

	Verification struct {
		MinAuthorshipScore int `mapstructure:"min_authorship_score"`
		MinUsageProof      int `mapstructure:"min_usage_proof"`
	} `mapstructure:"verification"`
}

// Load reads an optional .env file, VEXIS_* environment variables and an
// optional JSON config file at path, layered over environment defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return nil, fmt.Errorf("error reading config file: %w", err)
				}
			}
		}
	}
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteDefault writes the default configuration to path unless a file
// already exists there.
func WriteDefault(path string) error {
	v := newViper()
	setDefaults(v)
	if err := v.SafeWriteConfigAs(path); err != nil {
		var exists viper.ConfigFileAlreadyExistsError
		if errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("error creating config file: %w", err)
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("VEXIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults sets default configuration values based on the environment
func setDefaults(v *viper.Viper) {
	env := v.GetString("env")
	if env == "" {
		env = "development"
		v.Set("env", env)
	}

	if env == "production" {
		v.SetDefault("db_path", "/var/lib/vexis/market.db")
		v.SetDefault("log_level", "info")
		v.SetDefault("bitcoin_network", "mainnet")
	} else {
		v.SetDefault("db_path", "./dev_market.db")
		v.SetDefault("log_level", "debug")
		v.SetDefault("bitcoin_network", "testnet3")
	}

	v.SetDefault("log_file", "")
	v.SetDefault("owner_id", "primary")
	v.SetDefault("sandbox.phase_duration", "1s")
	v.SetDefault("chain.confirm_delay", "1500ms")
	v.SetDefault("verification.min_authorship_score", 50)
	v.SetDefault("verification.min_usage_proof", 20)
}

// Validate rejects configurations the rest of the system cannot run with.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("db_path must be set")
	}
	if c.OwnerID == "" {
		return errors.New("owner_id must be set")
	}
	if _, err := c.ChainParams(); err != nil {
		return err
	}
	if c.Sandbox.PhaseDuration < 0 || c.Chain.ConfirmDelay < 0 {
		return errors.New("durations must not be negative")
	}
	if c.Verification.MinAuthorshipScore < 0 || c.Verification.MinAuthorshipScore > 100 {
		return fmt.Errorf("min_authorship_score %d out of range", c.Verification.MinAuthorshipScore)
	}
	if c.Verification.MinUsageProof < 0 {
		return fmt.Errorf("min_usage_proof %d must not be negative", c.Verification.MinUsageProof)
	}
	return nil
}

// ChainParams maps bitcoin_network to btcd network parameters.
func (c *Config) ChainParams() (*chaincfg.Params, error) {
	switch c.BitcoinNetwork {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	}
	return nil, fmt.Errorf("unknown bitcoin_network %q", c.BitcoinNetwork)
}
