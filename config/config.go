package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Embed    EmbedConfig
	LLM      LLMConfig
	Pipeline PipelineConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	DSN string
}

type EmbedConfig struct {
	Model    string
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

type LLMConfig struct {
	Model    string
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

type PipelineConfig struct {
	MatchThreshold      float64
	MatchCount          int
	CallTimeout         time.Duration
	BreakerThreshold    uint32
	BreakerResetTimeout time.Duration
	CacheTTL            time.Duration
	CacheSweepInterval  time.Duration
	ExtractorRetries    int
	HistoryDepth        int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("toml")
	viper.AddConfigPath("/")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()

	viper.BindEnv("PG_DSN")
	viper.BindEnv("OPENAI_API_KEY")

	viper.SetDefault("pipeline.match_threshold", 0.35)
	viper.SetDefault("pipeline.match_count", 20)
	viper.SetDefault("pipeline.call_timeout_seconds", 30*time.Second)
	viper.SetDefault("pipeline.breaker_threshold", 5)
	viper.SetDefault("pipeline.breaker_reset_seconds", 60*time.Second)
	viper.SetDefault("pipeline.cache_ttl_seconds", 30*time.Minute)
	viper.SetDefault("pipeline.cache_sweep_seconds", time.Hour)
	viper.SetDefault("pipeline.extractor_retries", 3)
	viper.SetDefault("pipeline.history_depth", 5)

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("server.port"),
			ReadTimeout:  viper.GetDuration("server.read_timeout_seconds"),
			WriteTimeout: viper.GetDuration("server.write_timeout_seconds"),
			IdleTimeout:  viper.GetDuration("server.idle_timeout_seconds"),
		},
		Database: DatabaseConfig{
			DSN: viper.GetString("PG_DSN"),
		},
		Embed: EmbedConfig{
			Model:    viper.GetString("embed.model"),
			Endpoint: viper.GetString("embed.endpoint"),
			APIKey:   viper.GetString("OPENAI_API_KEY"),
			Timeout:  viper.GetDuration("embed.timeout_seconds"),
		},
		LLM: LLMConfig{
			Model:    viper.GetString("llm.model"),
			Endpoint: viper.GetString("llm.endpoint"),
			APIKey:   viper.GetString("OPENAI_API_KEY"),
			Timeout:  viper.GetDuration("llm.timeout_seconds"),
		},
		Pipeline: PipelineConfig{
			MatchThreshold:      viper.GetFloat64("pipeline.match_threshold"),
			MatchCount:          viper.GetInt("pipeline.match_count"),
			CallTimeout:         viper.GetDuration("pipeline.call_timeout_seconds"),
			BreakerThreshold:    viper.GetUint32("pipeline.breaker_threshold"),
			BreakerResetTimeout: viper.GetDuration("pipeline.breaker_reset_seconds"),
			CacheTTL:            viper.GetDuration("pipeline.cache_ttl_seconds"),
			CacheSweepInterval:  viper.GetDuration("pipeline.cache_sweep_seconds"),
			ExtractorRetries:    viper.GetInt("pipeline.extractor_retries"),
			HistoryDepth:        viper.GetInt("pipeline.history_depth"),
		},
	}

	if config.Database.DSN == "" {
		return nil, fmt.Errorf("PG_DSN environment variable is required")
	}

	if config.LLM.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required")
	}

	return config, nil
}
