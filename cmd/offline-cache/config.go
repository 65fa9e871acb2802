package main

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultConfig []byte

type Config struct {
	Origin             string        `yaml:"origin" env:"OFFLINE_CACHE_ORIGIN"`
	ScriptPath         string        `yaml:"scriptPath" env:"OFFLINE_CACHE_SCRIPT_PATH"`
	OfflineDocument    string        `yaml:"offlineDocument" env:"OFFLINE_CACHE_OFFLINE_DOCUMENT"`
	Manifest           []string      `yaml:"manifest"`
	AllowedHosts       []string      `yaml:"allowedHosts" env:"OFFLINE_CACHE_ALLOWED_HOSTS" envSeparator:","`
	DisableSkipWaiting bool          `yaml:"disableSkipWaiting" env:"OFFLINE_CACHE_DISABLE_SKIP_WAITING"`
	Tracing            TracingConfig `yaml:"tracing"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled" env:"OFFLINE_CACHE_OTEL_ENABLED"`
	Endpoint string `yaml:"endpoint" env:"OFFLINE_CACHE_OTEL_ENDPOINT"`
}

// getConfig reads the embedded defaults, then the config file if given,
// then environment overrides. The manifest can only come from a file.
func getConfig(filename string) (Config, error) {
	var config Config
	if err := yaml.Unmarshal(defaultConfig, &config); err != nil {
		return config, fmt.Errorf("parse default config: %w", err)
	}
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, fmt.Errorf("parse config %s: %w", filename, err)
		}
	}
	if err := env.Parse(&config); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

// workerConfig builds the configuration of one worker generation.
func (c Config) workerConfig(generation string, storage cache.Storage, logger *zerolog.Logger) (offlinecache.Config, error) {
	origin, err := url.Parse(c.Origin)
	if err != nil {
		return offlinecache.Config{}, fmt.Errorf("parse origin: %w", err)
	}
	if !origin.IsAbs() || origin.Host == "" {
		return offlinecache.Config{}, errors.New("origin must be an absolute URL")
	}
	return offlinecache.Config{
		Origin:             *origin,
		ScriptPath:         c.ScriptPath,
		Generation:         generation,
		Manifest:           c.Manifest,
		OfflineDocument:    c.OfflineDocument,
		AllowedHosts:       c.AllowedHosts,
		Storage:            storage,
		DisableSkipWaiting: c.DisableSkipWaiting,
		Logger:             logger,
	}, nil
}
