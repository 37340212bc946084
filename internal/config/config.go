// Package config loads the worker configuration: a yaml tuning file with
// environment-variable overrides for the values that differ per deployment.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/postloom/postloom-backend/internal/platform/envutil"
	"github.com/postloom/postloom-backend/internal/platform/llm"
)

type Config struct {
	Env string     `yaml:"env"`
	LLM llm.Config `yaml:"llm"`
}

// Load reads the yaml file at path (skipped when path is empty or missing),
// then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Env = envutil.GetEnv("APP_ENV", cfg.Env)
	if cfg.Env == "" {
		cfg.Env = "dev"
	}

	// Normalized here so model defaults and variant selection agree on the tag.
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(envutil.GetEnv("LLM_PROVIDER", cfg.LLM.Provider)))
	cfg.LLM.ChatModel = envutil.GetEnv("LLM_CHAT_MODEL", cfg.LLM.ChatModel)
	cfg.LLM.SearchModel = envutil.GetEnv("LLM_SEARCH_MODEL", cfg.LLM.SearchModel)
	cfg.LLM.ImageModel = envutil.GetEnv("LLM_IMAGE_MODEL", cfg.LLM.ImageModel)

	applyModelDefaults(&cfg.LLM)
	return cfg, nil
}

func applyModelDefaults(c *llm.Config) {
	if c.Provider == "" {
		c.Provider = llm.ProviderOpenAI
	}
	switch c.Provider {
	case llm.ProviderGemini:
		setDefault(&c.ChatModel, "gemini-2.0-flash")
		setDefault(&c.SearchModel, "gemini-2.0-flash")
		setDefault(&c.ImageModel, "imagen-3.0-generate-002")
	default:
		setDefault(&c.ChatModel, "gpt-4o")
		setDefault(&c.SearchModel, "gpt-4o")
		setDefault(&c.ImageModel, "dall-e-3")
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
