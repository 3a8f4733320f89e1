package internal

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// NovaSqlConfig is the on-disk configuration surface (spec §6.3):
// storage location and page size, buffer pool size, the lock
// manager's per-request timeout, and whether WAL logging is enabled.
type NovaSqlConfig struct {
	Storage struct {
		File     string `mapstructure:"file"`
		PageSize int    `mapstructure:"page_size"`
	} `mapstructure:"storage"`
	Buffer struct {
		PoolSize int `mapstructure:"pool_size"`
	} `mapstructure:"buffer"`
	Lock struct {
		TimeoutMs int `mapstructure:"timeout_ms"`
	} `mapstructure:"lock"`
	Log struct {
		EnableLogging bool   `mapstructure:"enable_logging"`
		File          string `mapstructure:"file"`
	} `mapstructure:"log"`
	Server struct {
		Port  int  `mapstructure:"port"`
		Debug bool `mapstructure:"debug"`
	} `mapstructure:"server"`
}

// Config is the resolved, typed configuration the core components are
// built from (spec §6.3 defaults applied).
type Config struct {
	DataFile string
	LogFile  string
	PoolSize int

	LockTimeout   time.Duration
	EnableLogging bool
}

// LockTimeoutDefault and PoolSizeDefault are spec §6.3's defaults,
// used when a config file omits the corresponding key.
const (
	PoolSizeDefault    = 100
	LockTimeoutDefault = 100 * time.Millisecond
)

// LoadConfig reads a YAML config file at path and resolves it into a
// NovaSqlConfig plus a derived Config with defaults applied.
func LoadConfig(path string) (*NovaSqlConfig, *Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("storage.page_size", 4096)
	v.SetDefault("storage.file", "novasql.db")
	v.SetDefault("buffer.pool_size", PoolSizeDefault)
	v.SetDefault("lock.timeout_ms", int(LockTimeoutDefault/time.Millisecond))
	v.SetDefault("log.enable_logging", true)
	v.SetDefault("log.file", "novasql.wal")

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	var cfg NovaSqlConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}

	resolved := &Config{
		DataFile:      cfg.Storage.File,
		LogFile:       cfg.Log.File,
		PoolSize:      cfg.Buffer.PoolSize,
		LockTimeout:   time.Duration(cfg.Lock.TimeoutMs) * time.Millisecond,
		EnableLogging: cfg.Log.EnableLogging,
	}
	if resolved.PoolSize <= 0 {
		resolved.PoolSize = PoolSizeDefault
	}
	if resolved.LockTimeout <= 0 {
		resolved.LockTimeout = LockTimeoutDefault
	}
	return &cfg, resolved, nil
}
