package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Addr            string        `mapstructure:"addr"`
	MaintenanceAddr string        `mapstructure:"maintenance_addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TLS             TLS           `mapstructure:"tls"`
	Snapshot        Snapshot      `mapstructure:"snapshot"`
	Log             Log           `mapstructure:"log"`
}

type TLS struct {
	Cert string `mapstructure:"cert"`
	Key  string `mapstructure:"key"`
}

// Enabled reports whether both halves of the key pair are configured.
func (t TLS) Enabled() bool { return t.Cert != "" && t.Key != "" }

// Snapshot selects where the maintenance dump is written and where state is
// loaded from at start-up. Backend is one of file, sqlite3, postgres, redis.
type Snapshot struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	DSN     string `mapstructure:"dsn"`
	Prefix  string `mapstructure:"prefix"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var DefaultOrigins = []string{
	"https://massaging.vercel.app",
	"https://ee2e.vercel.app",
	"https://etoe.vercel.app",
	"https://etoee.vercel.app",
	"http://localhost:3000",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":6503")
	v.SetDefault("maintenance_addr", "127.0.0.1:6504")
	v.SetDefault("allowed_origins", DefaultOrigins)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("tls.cert", "")
	v.SetDefault("tls.key", "")
	v.SetDefault("snapshot.backend", "file")
	v.SetDefault("snapshot.dir", ".")
	v.SetDefault("snapshot.dsn", "")
	v.SetDefault("snapshot.prefix", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads defaults, then the optional YAML file at path, then ETOE_*
// environment variables (ETOE_SNAPSHOT_BACKEND sets snapshot.backend).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("etoe")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config.Load.ReadInConfig %s", path)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "config.Load.Unmarshal")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Snapshot.Backend {
	case "file":
	case "sqlite3", "postgres", "redis":
		if c.Snapshot.DSN == "" {
			return errors.Errorf("snapshot.dsn is required for backend %q", c.Snapshot.Backend)
		}
	default:
		return errors.Errorf("unknown snapshot backend %q", c.Snapshot.Backend)
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		return errors.New("tls.cert and tls.key must be set together")
	}
	return nil
}

// LogLevel parses Log.Level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
