package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/solarledger/internal/derive"
	"codeberg.org/mutker/solarledger/internal/errors"
	"codeberg.org/mutker/solarledger/internal/faucet"
	"codeberg.org/mutker/solarledger/internal/ledger"
	"codeberg.org/mutker/solarledger/internal/metrics"
	"codeberg.org/mutker/solarledger/internal/telemetry"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel  = string(LogLevelInfo)
	DefaultEnvPrefix = "SOLARLEDGER"
	DefaultInterval  = 15 * time.Minute

	configName = "solarledger"
	configType = "toml"
)

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Derive    DeriveConfig    `mapstructure:"derive"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Faucet    FaucetConfig    `mapstructure:"faucet"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Run       RunConfig       `mapstructure:"run"`
}

type TelemetryConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	ChannelID string        `mapstructure:"channel_id"`
	Field     string        `mapstructure:"field"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type DeriveConfig struct {
	Resistance float64 `mapstructure:"resistance"`
	MaxVoltage float64 `mapstructure:"max_voltage"`
}

type LedgerConfig struct {
	DBPath    string `mapstructure:"db_path"`
	BackupDir string `mapstructure:"backup_dir"`
}

type FaucetConfig struct {
	URL      string        `mapstructure:"url"`
	Address  string        `mapstructure:"address"`
	TokenEnv string        `mapstructure:"token_env"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type RunConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	PIDFile  string        `mapstructure:"pid_file"`
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":  "log_level",
	"channel":    "telemetry.channel_id",
	"field":      "telemetry.field",
	"resistance": "derive.resistance",
	"db":         "ledger.db_path",
	"metrics":    "metrics.enabled",
}

// RegisterFlags defines the configuration flags shared by all commands.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("channel", "", "ThingSpeak channel ID")
	fs.String("field", "", "ThingSpeak channel field holding the voltage (e.g. field1)")
	fs.Float64("resistance", derive.DefaultResistance, "Load resistance R in P = V²/R")
	fs.String("db", "", "Path to the ledger database")
	fs.Bool("metrics", false, "Expose Prometheus metrics")
}

func setDefaults(v *viper.Viper) {
	tc := telemetry.DefaultConfig()
	dc := derive.DefaultConfig()
	lc := ledger.DefaultConfig()
	fc := faucet.DefaultConfig()
	mc := metrics.DefaultConfig()

	v.SetDefault("log_level", DefaultLogLevel)

	v.SetDefault("telemetry.base_url", tc.BaseURL)
	v.SetDefault("telemetry.channel_id", tc.ChannelID)
	v.SetDefault("telemetry.field", tc.Field)
	v.SetDefault("telemetry.api_key", tc.APIKey)
	v.SetDefault("telemetry.timeout", tc.Timeout)

	v.SetDefault("derive.resistance", dc.Resistance)
	v.SetDefault("derive.max_voltage", dc.MaxVoltage)

	v.SetDefault("ledger.db_path", lc.DBPath)
	v.SetDefault("ledger.backup_dir", lc.BackupDir)

	v.SetDefault("faucet.url", fc.URL)
	v.SetDefault("faucet.address", fc.Address)
	v.SetDefault("faucet.token_env", fc.TokenEnv)
	v.SetDefault("faucet.timeout", fc.Timeout)

	v.SetDefault("metrics.enabled", mc.Enabled)
	v.SetDefault("metrics.listen", mc.Listen)

	v.SetDefault("run.interval", DefaultInterval)
	v.SetDefault("run.pid_file", filepath.Join(os.TempDir(), "solarledger.pid"))
}

// Load reads configuration from defaults, an optional TOML file, the
// environment and flags, in increasing order of precedence.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if o.flags != nil {
		if err := bindFlags(v, o.flags); err != nil {
			return nil, err
		}
		if o.configPath == "" {
			if f := o.flags.Lookup("config"); f != nil && f.Changed {
				o.configPath = f.Value.String()
			}
		}
	}

	if o.configPath == "" {
		o.configPath = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if o.configPath != "" {
		v.SetConfigFile(o.configPath)
		v.SetConfigType(configType)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", configName))
		}
		v.AddConfigPath(filepath.Join("/etc", configName))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || o.configPath != "" {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err).WithMessage("Failed to read config file")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err).WithMessage("Failed to unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.New().Wrap(errors.ErrBindFlags, err)
		}
	}
	return nil
}

// Validate checks the settings every command depends on. Collaborator
// settings (telemetry, faucet) are validated when those clients are built.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if err := c.DeriveConfig().Validate(); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	if err := c.LedgerConfig().Validate(); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	if err := c.MetricsConfig().Validate(); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	if c.Run.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value time.Duration
		}{
			Field: "run.interval",
			Value: c.Run.Interval,
		})
	}

	return nil
}

func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		BaseURL:   c.Telemetry.BaseURL,
		ChannelID: c.Telemetry.ChannelID,
		Field:     c.Telemetry.Field,
		APIKey:    c.Telemetry.APIKey,
		Timeout:   c.Telemetry.Timeout,
	}
}

func (c *Config) DeriveConfig() derive.Config {
	return derive.Config{
		Resistance: c.Derive.Resistance,
		MaxVoltage: c.Derive.MaxVoltage,
	}
}

func (c *Config) LedgerConfig() ledger.Config {
	return ledger.Config{
		DBPath:    c.Ledger.DBPath,
		BackupDir: c.Ledger.BackupDir,
	}
}

func (c *Config) FaucetConfig() faucet.Config {
	return faucet.Config{
		URL:      c.Faucet.URL,
		Address:  c.Faucet.Address,
		TokenEnv: c.Faucet.TokenEnv,
		Timeout:  c.Faucet.Timeout,
	}
}

func (c *Config) MetricsConfig() metrics.Config {
	return metrics.Config{
		Enabled:   c.Metrics.Enabled,
		Listen:    c.Metrics.Listen,
		Namespace: configName,
	}
}
