// Package config implements the typed, validated ConfigProvider contract
// the execution core accepts configuration through (spec.md §9). Options are
// loaded from config.yaml via gopkg.in/yaml.v3, validated once at load time,
// and exposed as an immutable snapshot that can be hot-swapped atomically at
// transaction boundaries.
package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// LLMProvider enumerates the recognized llm.provider values. The set is
// illustrative per spec.md §9; bedrock is an extra option this module adds
// so the FallbackChain can exercise a third real provider.
type LLMProvider string

const (
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderOpenAI    LLMProvider = "openai"
	ProviderDeepSeek  LLMProvider = "deepseek"
	ProviderOllama    LLMProvider = "ollama"
	ProviderBedrock   LLMProvider = "bedrock"
)

type (
	// LLM groups model-provider options.
	LLM struct {
		Provider       LLMProvider   `yaml:"provider"`
		Model          string        `yaml:"model"`
		MaxTokens      int           `yaml:"max_tokens"`
		Temperature    float64       `yaml:"temperature"`
		TimeoutSeconds int           `yaml:"timeout_seconds"`
		BaseURL        string        `yaml:"base_url"`
	}

	// Fallback groups FallbackChain options.
	Fallback struct {
		Enabled   bool          `yaml:"enabled"`
		Providers []LLMProvider `yaml:"providers"`
	}

	// CircuitBreaker groups CircuitBreaker options.
	CircuitBreaker struct {
		FailureThreshold int     `yaml:"failure_threshold"`
		TimeoutSeconds   float64 `yaml:"timeout_seconds"`
		SuccessThreshold int     `yaml:"success_threshold"`
		WindowSeconds    float64 `yaml:"window_seconds"`
	}

	// Retry groups RetryBudget options.
	Retry struct {
		MaxAttempts         int     `yaml:"max_attempts"`
		InitialDelaySeconds float64 `yaml:"initial_delay_seconds"`
		MaxDelaySeconds     float64 `yaml:"max_delay_seconds"`
		ExponentialBase     float64 `yaml:"exponential_base"`
		Jitter              bool    `yaml:"jitter"`
		BudgetTotal          int     `yaml:"budget_total"`
		WindowSeconds        float64 `yaml:"window_seconds"`
	}

	// Cache groups IntentCache options.
	Cache struct {
		TTLSeconds int `yaml:"ttl_seconds"`
		MaxEntries int `yaml:"max_entries"`
		RedisAddr  string `yaml:"redis_addr"`
	}

	// Safety groups sandboxing options.
	Safety struct {
		SandboxEnabled bool     `yaml:"sandbox_enabled"`
		AllowedPaths   []string `yaml:"allowed_paths"`
	}

	// Planner groups Planner/worker-pool options.
	Planner struct {
		WorkerPool          int `yaml:"worker_pool"`
		StepTimeoutSeconds  int `yaml:"step_timeout_seconds"`
	}

	// GoalLoop groups GoalLoop options.
	GoalLoop struct {
		MaxIterations  int `yaml:"max_iterations"`
		BatchSize      int `yaml:"batch_size"`
		StuckThreshold int `yaml:"stuck_threshold"`
	}

	// Storage groups the state-root and persistence backends.
	Storage struct {
		StateRoot string `yaml:"state_root"`
		MongoURI  string `yaml:"mongo_uri"`
	}

	// Config is the full typed configuration tree. It is the concrete type
	// behind the ConfigProvider contract.
	Config struct {
		LLM            LLM            `yaml:"llm"`
		Fallback       Fallback       `yaml:"fallback"`
		CircuitBreaker CircuitBreaker `yaml:"circuit_breaker"`
		Retry          Retry          `yaml:"retry"`
		Cache          Cache          `yaml:"cache"`
		Safety         Safety         `yaml:"safety"`
		Planner        Planner        `yaml:"planner"`
		GoalLoop       GoalLoop       `yaml:"goal_loop"`
		Storage        Storage        `yaml:"storage"`
	}
)

// Default returns a Config populated with the defaults named throughout
// spec.md (circuit breaker, retry, cache, goal loop, planner).
func Default() *Config {
	return &Config{
		LLM: LLM{
			Provider:       ProviderAnthropic,
			MaxTokens:      4096,
			Temperature:    0.2,
			TimeoutSeconds: 30,
		},
		Fallback: Fallback{
			Enabled:   true,
			Providers: []LLMProvider{ProviderAnthropic, ProviderOpenAI, ProviderBedrock},
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 5,
			TimeoutSeconds:   60,
			SuccessThreshold: 2,
			WindowSeconds:    300,
		},
		Retry: Retry{
			MaxAttempts:         3,
			InitialDelaySeconds: 1,
			MaxDelaySeconds:     30,
			ExponentialBase:     2.0,
			Jitter:              true,
			BudgetTotal:         10,
			WindowSeconds:       300,
		},
		Cache: Cache{
			TTLSeconds: 3600,
			MaxEntries: 500,
		},
		Safety: Safety{
			SandboxEnabled: true,
		},
		Planner: Planner{
			WorkerPool:         4,
			StepTimeoutSeconds: 60,
		},
		GoalLoop: GoalLoop{
			MaxIterations:  50,
			BatchSize:      12,
			StuckThreshold: 3,
		},
		Storage: Storage{
			StateRoot: "~/.zenus",
		},
	}
}

// Load reads and validates a Config from the YAML file at path, filling any
// unset fields from Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the recognized option contract named in spec.md §9.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderDeepSeek, ProviderOllama, ProviderBedrock:
	default:
		return fmt.Errorf("llm.provider: unrecognized value %q", c.LLM.Provider)
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if c.Retry.ExponentialBase <= 1 {
		return fmt.Errorf("retry.exponential_base must be > 1")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}
	if c.Planner.WorkerPool <= 0 {
		return fmt.Errorf("planner.worker_pool must be positive")
	}
	if c.GoalLoop.MaxIterations <= 0 {
		return fmt.Errorf("goal_loop.max_iterations must be positive")
	}
	return nil
}

// CacheTTL returns the IntentCache TTL as a time.Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// Provider is a hot-reloadable Config snapshot holder. Every top-level
// session call reads the current snapshot once at its transaction boundary
// (spec.md §9, "Configuration as an enumerated contract").
type Provider struct {
	ptr atomic.Pointer[Config]
}

// NewProvider constructs a Provider seeded with the given Config.
func NewProvider(cfg *Config) *Provider {
	p := &Provider{}
	p.ptr.Store(cfg)
	return p
}

// Snapshot returns the currently active Config. Callers must not mutate the
// returned value.
func (p *Provider) Snapshot() *Config {
	return p.ptr.Load()
}

// Reload atomically replaces the live snapshot. Per spec.md §9 this must
// only be observed by callers at transaction boundaries; Provider itself
// just guarantees the swap is atomic, the boundary discipline is the
// Orchestrator's responsibility.
func (p *Provider) Reload(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	p.ptr.Store(cfg)
	return nil
}
