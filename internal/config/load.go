package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally a config
// file. Environment variables take precedence over values from config
// files. Returns a populated Config struct or an error if loading or
// validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file in the working directory or /etc/docvet.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/docvet")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; environment and defaults cover it.
	}

	// Environment variables: DOCVET_SERVER_PORT, DOCVET_CREDENTIALS_KEYS, ...
	v.SetEnvPrefix("DOCVET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Credential keys may arrive as a comma-separated env value; viper's
	// slice hook splits on commas but keeps surrounding whitespace.
	cfg.Credentials.Keys = normalizeKeys(cfg.Credentials.Keys)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the default value for every key so viper knows the
// full key set and AutomaticEnv can override each one.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("scheduler.workers", 0) // 0 = one per host CPU
	v.SetDefault("scheduler.queue_capacity", 1000)
	v.SetDefault("scheduler.max_retries", 3)
	v.SetDefault("scheduler.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("scheduler.retry_max_delay", 30*time.Second)
	v.SetDefault("scheduler.result_retention", time.Hour)
	v.SetDefault("scheduler.sample_interval", 2*time.Second)
	v.SetDefault("scheduler.unavailable_after", time.Minute)

	v.SetDefault("balancer.high_water_cpu", 80.0)
	v.SetDefault("balancer.high_water_mem", 85.0)
	v.SetDefault("balancer.throttle_cpu", 85.0)
	v.SetDefault("balancer.throttle_mem", 90.0)
	v.SetDefault("balancer.reduce_step", 1)
	v.SetDefault("balancer.sustain_window", time.Duration(0))

	v.SetDefault("credentials.keys", []string{})
	v.SetDefault("credentials.blacklist_threshold", 3)
	v.SetDefault("credentials.base_cooldown", 30*time.Second)
	v.SetDefault("credentials.max_cooldown", 10*time.Minute)

	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.min_call_interval", time.Second)

	v.SetDefault("broker.url", "")
}

// bindEnvKeys binds every known key explicitly. AutomaticEnv alone does
// not surface env-only keys through Unmarshal.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"server.port", "server.log_level",
		"scheduler.workers", "scheduler.queue_capacity", "scheduler.max_retries",
		"scheduler.retry_base_delay", "scheduler.retry_max_delay",
		"scheduler.result_retention", "scheduler.sample_interval",
		"scheduler.unavailable_after",
		"balancer.high_water_cpu", "balancer.high_water_mem",
		"balancer.throttle_cpu", "balancer.throttle_mem",
		"balancer.reduce_step", "balancer.sustain_window",
		"credentials.keys", "credentials.blacklist_threshold",
		"credentials.base_cooldown", "credentials.max_cooldown",
		"llm.model_name", "llm.min_call_interval",
		"broker.url",
	} {
		// BindEnv only errors on an empty key.
		_ = v.BindEnv(key)
	}
}

func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, part := range strings.Split(k, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
