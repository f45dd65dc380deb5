package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server      ServerConfig     `mapstructure:"server"      validate:"required"`
	Scheduler   SchedulerConfig  `mapstructure:"scheduler"   validate:"required"`
	Balancer    BalancerConfig   `mapstructure:"balancer"    validate:"required"`
	Credentials CredentialConfig `mapstructure:"credentials" validate:"required"`
	LLM         LLMConfig        `mapstructure:"llm"         validate:"required"`
	Broker      BrokerConfig     `mapstructure:"broker"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// SchedulerConfig contains queue-manager and worker-pool settings.
type SchedulerConfig struct {
	// Workers is the number of concurrent executors. Zero means one
	// executor per host CPU.
	Workers int `mapstructure:"workers" validate:"gte=0"`

	// QueueCapacity bounds each queue; zero means unbounded.
	QueueCapacity int `mapstructure:"queue_capacity" validate:"gte=0"`

	// MaxRetries bounds requeues of transiently failing tasks.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`

	// RetryBaseDelay and RetryMaxDelay parameterize the exponential
	// backoff applied before a retried task re-enters its queue.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" validate:"gte=0"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"  validate:"gte=0"`

	// ResultRetention is how long terminal tasks stay retrievable before
	// the sweeper evicts them.
	ResultRetention time.Duration `mapstructure:"result_retention" validate:"gte=0"`

	// SampleInterval is the resource monitor refresh cadence.
	SampleInterval time.Duration `mapstructure:"sample_interval" validate:"gte=0"`

	// UnavailableAfter is how long all credentials must stay blacklisted
	// before the stats surface reports service_unavailable.
	UnavailableAfter time.Duration `mapstructure:"unavailable_after" validate:"gte=0"`
}

// BalancerConfig contains the load-balancer thresholds. All values are
// tunables; the defaults mirror field-tested constants.
type BalancerConfig struct {
	HighWaterCPU float64 `mapstructure:"high_water_cpu" validate:"gte=0,lte=100"`
	HighWaterMem float64 `mapstructure:"high_water_mem" validate:"gte=0,lte=100"`
	ThrottleCPU  float64 `mapstructure:"throttle_cpu"   validate:"gte=0,lte=100"`
	ThrottleMem  float64 `mapstructure:"throttle_mem"   validate:"gte=0,lte=100"`

	// ReduceStep is subtracted from a task's priority under high load.
	ReduceStep int `mapstructure:"reduce_step" validate:"gte=0,lte=9"`

	// SustainWindow is how long load must stay above the throttle ceiling
	// before ShouldThrottle reports true. Zero throttles immediately.
	SustainWindow time.Duration `mapstructure:"sustain_window" validate:"gte=0"`
}

// CredentialConfig contains the external-service credential list and
// blacklist tunables.
type CredentialConfig struct {
	// Keys are the external-service API keys to rotate across.
	Keys []string `mapstructure:"keys" validate:"required,min=1,dive,required"`

	// BlacklistThreshold is the consecutive-error count that blacklists
	// a credential.
	BlacklistThreshold int `mapstructure:"blacklist_threshold" validate:"gte=0"`

	// BaseCooldown and MaxCooldown parameterize the blacklist backoff.
	BaseCooldown time.Duration `mapstructure:"base_cooldown" validate:"gte=0"`
	MaxCooldown  time.Duration `mapstructure:"max_cooldown"  validate:"gte=0"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	ModelName string `mapstructure:"model_name" validate:"required"`

	// MinCallInterval paces outbound calls across all credentials.
	MinCallInterval time.Duration `mapstructure:"min_call_interval" validate:"gte=0"`
}

// BrokerConfig points at the message-passing substrate used by external
// collaborators. The in-process scheduler itself opens no connection; the
// endpoint is validated here and handed through to collaborator wiring.
type BrokerConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}
