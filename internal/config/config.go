package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig          `mapstructure:"database"`
	Server   ServerConfig            `mapstructure:"server"`
	App      AppConfig               `mapstructure:"app"`
	Profiles map[string]MatchProfile `mapstructure:"profiles"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type AppConfig struct {
	LogLevel  string `mapstructure:"log_level"`
	BatchSize int    `mapstructure:"batch_size"`
	Workers   int    `mapstructure:"workers"`
	CreatedBy string `mapstructure:"created_by"`
}

// MatchProfile is one named tolerance/window configuration. The same engine
// runs every matching task; only the profile changes (tight windows for
// card settlements, a year-long window for e-transfers, and so on).
type MatchProfile struct {
	DateWindowDays     int     `mapstructure:"date_window_days"`
	AmountToleranceAbs float64 `mapstructure:"amount_tolerance_abs"`
	AmountTolerancePct float64 `mapstructure:"amount_tolerance_pct"`
	MinConfidence      float64 `mapstructure:"min_confidence"`
	ReversalWindowDays int     `mapstructure:"reversal_window_days"`
	MaxCombinationSize int     `mapstructure:"max_combination_size"`
	MaxCandidatePool   int     `mapstructure:"max_candidate_pool"`
}

// ToleranceAbs returns the absolute amount tolerance as a decimal.
func (p MatchProfile) ToleranceAbs() decimal.Decimal {
	return decimal.NewFromFloat(p.AmountToleranceAbs)
}

// ToleranceFor computes the effective tolerance for one target amount: the
// larger of the absolute tolerance and the percentage tolerance.
func (p MatchProfile) ToleranceFor(amount decimal.Decimal) decimal.Decimal {
	abs := p.ToleranceAbs()
	if p.AmountTolerancePct <= 0 {
		return abs
	}
	pct := amount.Abs().Mul(decimal.NewFromFloat(p.AmountTolerancePct / 100))
	if pct.GreaterThan(abs) {
		return pct
	}
	return abs
}

// DefaultProfile is the baseline used when no profile is named.
func DefaultProfile() MatchProfile {
	return MatchProfile{
		DateWindowDays:     5,
		AmountToleranceAbs: 0.01,
		AmountTolerancePct: 0,
		MinConfidence:      0.6,
		ReversalWindowDays: 5,
		MaxCombinationSize: 5,
		MaxCandidatePool:   50,
	}
}

// builtinProfiles cover the recurring matching tasks. A config file can
// override or extend them.
func builtinProfiles() map[string]MatchProfile {
	etransfer := DefaultProfile()
	etransfer.DateWindowDays = 365
	etransfer.ReversalWindowDays = 30

	chargeback := DefaultProfile()
	chargeback.DateWindowDays = 7

	payroll := DefaultProfile()
	payroll.DateWindowDays = 3
	payroll.AmountTolerancePct = 5

	return map[string]MatchProfile{
		"default":    DefaultProfile(),
		"etransfer":  etransfer,
		"chargeback": chargeback,
		"payroll":    payroll,
	}
}

// Load reads config.yaml (path optional) with environment overrides and
// merges file-defined profiles over the builtin set.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "ledger_recon")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("server.port", "8080")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.batch_size", 500)
	v.SetDefault("app.workers", 4)
	v.SetDefault("app.created_by", "ledger-recon")

	v.SetEnvPrefix("RECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		// Missing file is fine, defaults and env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	profiles := builtinProfiles()
	for name, p := range cfg.Profiles {
		profiles[strings.ToLower(name)] = normalizeProfile(p)
	}
	cfg.Profiles = profiles

	return cfg, nil
}

// Profile returns the named profile, falling back to the default one.
func (c *Config) Profile(name string) (MatchProfile, error) {
	if name == "" {
		name = "default"
	}
	p, ok := c.Profiles[strings.ToLower(name)]
	if !ok {
		return MatchProfile{}, fmt.Errorf("unknown matching profile %q", name)
	}
	return p, nil
}

// normalizeProfile fills zero values from the defaults so partial profile
// definitions stay usable.
func normalizeProfile(p MatchProfile) MatchProfile {
	def := DefaultProfile()
	if p.DateWindowDays <= 0 {
		p.DateWindowDays = def.DateWindowDays
	}
	if p.AmountToleranceAbs <= 0 && p.AmountTolerancePct <= 0 {
		p.AmountToleranceAbs = def.AmountToleranceAbs
	}
	if p.MinConfidence <= 0 {
		p.MinConfidence = def.MinConfidence
	}
	if p.ReversalWindowDays <= 0 {
		p.ReversalWindowDays = def.ReversalWindowDays
	}
	if p.MaxCombinationSize <= 0 {
		p.MaxCombinationSize = def.MaxCombinationSize
	}
	if p.MaxCandidatePool <= 0 {
		p.MaxCandidatePool = def.MaxCandidatePool
	}
	return p
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
