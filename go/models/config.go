package models

import (
	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"
	"gopkg.in/yaml.v3"
)

const ConfigFile = "config.yaml"

type Config struct {
	// shared heap page granularity and hard limit, in bytes
	PageSize  uint64 `yaml:"page_size"  env:"DOMAINCORN_PAGE_SIZE"`
	HeapLimit uint64 `yaml:"heap_limit" env:"DOMAINCORN_HEAP_LIMIT"`

	LogLevel string `yaml:"log_level" env:"DOMAINCORN_LOG_LEVEL"`
	Verbose  bool   `yaml:"verbose"   env:"DOMAINCORN_VERBOSE"`
	Color    bool   `yaml:"color"     env:"DOMAINCORN_COLOR"`
	// number of simulated harts used by the stress workload
	Harts int `yaml:"harts" env:"DOMAINCORN_HARTS"`
	// size of the sample RAM disk, in 512 byte blocks
	Blocks uint32 `yaml:"blocks" env:"DOMAINCORN_BLOCKS"`
}

func DefaultConfig() *Config {
	return &Config{
		PageSize:  64 * 1024,
		HeapLimit: 64 * 1024 * 1024,
		LogLevel:  "info",
		Color:     true,
		Harts:     4,
		Blocks:    64,
	}
}

func (c *Config) Validate() error {
	if c.PageSize == 0 || c.PageSize&(c.PageSize-1) != 0 {
		return errors.Errorf("page_size must be a power of two: %d", c.PageSize)
	}
	if c.HeapLimit < c.PageSize {
		return errors.Errorf("heap_limit (%d) smaller than page_size (%d)", c.HeapLimit, c.PageSize)
	}
	if c.Blocks == 0 {
		return errors.New("blocks must be positive")
	}
	if c.Harts <= 0 || c.Harts > 64 {
		return errors.Errorf("harts must be between 1 and 64: %d", c.Harts)
	}
	return nil
}

// MergeYAML overlays a yaml document on top of c. Missing keys keep their value.
func (c *Config) MergeYAML(data []byte) error {
	return errors.Wrap(yaml.Unmarshal(data, c), "parsing config")
}

// LoadConfig layers defaults, the first config.yaml found in the user/system
// config folders, then DOMAINCORN_* environment variables.
func LoadConfig() (*Config, error) {
	c := DefaultConfig()
	dirs := configdir.New("lunixbochs", "domaincorn")
	if folder := dirs.QueryFolderContainsFile(ConfigFile); folder != nil {
		data, err := folder.ReadFile(ConfigFile)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", ConfigFile)
		}
		if err := c.MergeYAML(data); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(c); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
