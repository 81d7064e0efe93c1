package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/spf13/viper"
	"github.com/trim21/errgo"
)

type Server struct {
	Root         string   `toml:"root"`
	Address      string   `toml:"address"`
	AdminAddress string   `toml:"admin_address"`
	ReadBuffer   ByteSize `toml:"read_buffer"`
	WriteBuffer  ByteSize `toml:"write_buffer"`
	FileCacheTTL Duration `toml:"file_cache_ttl"`
	// Workers is the number of goroutines handling requests, 0 handles them inline.
	Workers       int `toml:"workers"`
	FileCacheSize int `toml:"file_cache_size"`
}

type Client struct {
	Timeout         Duration `toml:"timeout"`
	SendBackoff     Duration `toml:"send_backoff"`
	MaxResourceSize ByteSize `toml:"max_resource_size"`
	Attempts        int      `toml:"attempts"`
}

type Log struct {
	Level string `toml:"level"`
}

type Config struct {
	Log    Log    `toml:"log"`
	Server Server `toml:"server"`
	Client Client `toml:"client"`
}

func Default() Config {
	return Config{
		Log: Log{Level: "info"},
		Server: Server{
			Address:       "0.0.0.0:6677",
			FileCacheSize: 128,
			FileCacheTTL:  Duration{time.Minute},
		},
		Client: Client{
			Timeout:         Duration{2 * time.Second},
			SendBackoff:     Duration{3 * time.Second},
			Attempts:        3,
			MaxResourceSize: ByteSize(units.GiB),
		},
	}
}

// LoadFromFile reads the toml file at path over the defaults, then applies
// UDPFS_* environment variables. An empty path skips the file.
func LoadFromFile(path string) (Config, error) {
	var cfg = Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return cfg, errgo.Wrap(err, fmt.Sprintf("config file %s not found", path))
			}

			return cfg, errgo.Wrap(err, "failed to parse config file")
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// applyEnv overrides fields from the environment, UDPFS_SERVER_ADDRESS sets server.address.
func applyEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix("udpfs")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	text := func(key string, dst interface{ UnmarshalText([]byte) error }) error {
		if !v.IsSet(key) {
			return nil
		}

		if err := dst.UnmarshalText([]byte(v.GetString(key))); err != nil {
			return errgo.Wrap(err, fmt.Sprintf("invalid value for %s", key))
		}

		return nil
	}

	integer := func(key string, dst *int) error {
		if !v.IsSet(key) {
			return nil
		}

		var n int
		if _, err := fmt.Sscan(v.GetString(key), &n); err != nil {
			return errgo.Wrap(err, fmt.Sprintf("invalid value for %s", key))
		}

		*dst = n
		return nil
	}

	str("log.level", &cfg.Log.Level)
	str("server.root", &cfg.Server.Root)
	str("server.address", &cfg.Server.Address)
	str("server.admin_address", &cfg.Server.AdminAddress)

	return errors.Join(
		integer("server.workers", &cfg.Server.Workers),
		integer("server.file_cache_size", &cfg.Server.FileCacheSize),
		text("server.file_cache_ttl", &cfg.Server.FileCacheTTL),
		text("server.read_buffer", &cfg.Server.ReadBuffer),
		text("server.write_buffer", &cfg.Server.WriteBuffer),
		text("client.timeout", &cfg.Client.Timeout),
		text("client.send_backoff", &cfg.Client.SendBackoff),
		text("client.max_resource_size", &cfg.Client.MaxResourceSize),
		integer("client.attempts", &cfg.Client.Attempts),
	)
}

func (c Config) Validate() error {
	var errs []error

	if c.Server.Workers < 0 {
		errs = append(errs, fmt.Errorf("server.workers must not be negative, got %d", c.Server.Workers))
	}

	if c.Server.FileCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("server.file_cache_size must be positive, got %d", c.Server.FileCacheSize))
	}

	if c.Client.Attempts <= 0 {
		errs = append(errs, fmt.Errorf("client.attempts must be positive, got %d", c.Client.Attempts))
	}

	if c.Client.Timeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("client.timeout must be positive, got %s", c.Client.Timeout))
	}

	if c.Client.SendBackoff.Duration < 0 {
		errs = append(errs, fmt.Errorf("client.send_backoff must not be negative, got %s", c.Client.SendBackoff))
	}

	return errors.Join(errs...)
}

// Duration is a time.Duration written as "2s" in config files.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}

	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ByteSize is a size written as "256KiB" or "1MB" in config files, both meaning powers of 1024.
type ByteSize int64

func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := units.RAMInBytes(string(text))
	if err != nil {
		return err
	}

	*b = ByteSize(v)
	return nil
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(units.BytesSize(float64(b))), nil
}
