package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/snapline/imaging"
	"github.com/hazyhaar/snapline/insight"
	"github.com/hazyhaar/snapline/kvstore"
	"github.com/hazyhaar/snapline/vision"
)

// Config is the full service configuration, loadable from a yaml file with
// environment overrides applied afterwards.
type Config struct {
	Port         string `yaml:"port"`
	DBPath       string `yaml:"db_path"`
	LogLevel     string `yaml:"log_level"`
	MCPTransport string `yaml:"mcp_transport"` // "" or "stdio"

	Storage kvstore.Config      `yaml:"storage"`
	Imaging imaging.Config      `yaml:"imaging"`
	Vision  vision.Config       `yaml:"vision"`
	Insight insight.Config      `yaml:"insight"`
	Synth   insight.SynthConfig `yaml:"synth"`
}

func defaultConfig() Config {
	return Config{
		Port:     "8086",
		DBPath:   "data/snapline.db",
		LogLevel: "info",
	}
}

// loadConfig reads the yaml file at path (optional) then applies env
// overrides. Env always wins over the file.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Port = env("PORT", cfg.Port)
	cfg.DBPath = env("SNAPLINE_DB", cfg.DBPath)
	cfg.LogLevel = env("LOG_LEVEL", cfg.LogLevel)
	cfg.MCPTransport = env("MCP_TRANSPORT", cfg.MCPTransport)

	cfg.Vision.APIKey = env("OPENAI_API_KEY", cfg.Vision.APIKey)
	cfg.Vision.BaseURL = env("OPENAI_BASE_URL", cfg.Vision.BaseURL)
	cfg.Vision.Model = env("VISION_MODEL", cfg.Vision.Model)
	if cfg.Synth.APIKey == "" {
		cfg.Synth.APIKey = cfg.Vision.APIKey
	}
	if cfg.Synth.BaseURL == "" {
		cfg.Synth.BaseURL = cfg.Vision.BaseURL
	}
	cfg.Insight.RetrievalEndpoint = env("RETRIEVAL_ENDPOINT", cfg.Insight.RetrievalEndpoint)

	if v := os.Getenv("STORAGE_CEILING"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("STORAGE_CEILING: %w", err)
		}
		cfg.Storage.Ceiling = n
	}
	if v := os.Getenv("VISION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("VISION_TIMEOUT: %w", err)
		}
		cfg.Vision.Timeout = d
	}

	return cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
