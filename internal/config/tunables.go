package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// TunablesFile is the base name of the hot-reloadable tunables file.
const TunablesFile = "coordinator.yaml"

// CoordinatorConfig is the tunable behavior surface, loaded from
// coordinator.yaml. Everything here has a working default; the file only
// needs the keys being changed. Retry policies are not part of this
// surface: they load once at startup and stay fixed for the process
// lifetime so in-flight retry sequences keep the strategy they started
// with.
type CoordinatorConfig struct {
	Service       ServiceTunables      `mapstructure:"service" yaml:"service" json:"service"`
	Orchestration OrchestrationConfig  `mapstructure:"orchestration" yaml:"orchestration" json:"orchestration"`
	Synthesis     SynthesisConfig      `mapstructure:"synthesis" yaml:"synthesis" json:"synthesis"`
	Coordination  CoordinationTunables `mapstructure:"coordination" yaml:"coordination" json:"coordination"`
	Health        HealthTunables       `mapstructure:"health" yaml:"health" json:"health"`
	Tracing       TracingConfig        `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
	Logging       LoggingConfig        `mapstructure:"logging" yaml:"logging" json:"logging"`
}

// ServiceTunables shapes the HTTP server. WriteTimeout is deliberately
// absent: the event stream endpoints hold their connections open.
type ServiceTunables struct {
	GracefulTimeout   time.Duration `mapstructure:"graceful_timeout" yaml:"graceful_timeout" json:"graceful_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout" json:"read_header_timeout"`
}

// OrchestrationConfig holds submission-time defaults. They apply when a
// request leaves the knob unset; running workflows keep the values they
// were submitted with.
type OrchestrationConfig struct {
	// DefaultMaxConcurrency fills in for requests that do not set one.
	DefaultMaxConcurrency int `mapstructure:"default_max_concurrency" yaml:"default_max_concurrency" json:"default_max_concurrency"`
	// MaxConcurrencyLimit caps what a request may ask for.
	MaxConcurrencyLimit int `mapstructure:"max_concurrency_limit" yaml:"max_concurrency_limit" json:"max_concurrency_limit"`
}

// SynthesisConfig shapes the consolidation step.
type SynthesisConfig struct {
	// MaxTokens bounds the LLM completion for the synthesis narrative.
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens"`
}

// CoordinationTunables shapes the Redis coordination layer's housekeeping.
type CoordinationTunables struct {
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval" json:"cleanup_interval"`
}

// HealthTunables shapes the background health checks.
type HealthTunables struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	CheckInterval time.Duration `mapstructure:"check_interval" yaml:"check_interval" json:"check_interval"`
	CheckTimeout  time.Duration `mapstructure:"check_timeout" yaml:"check_timeout" json:"check_timeout"`
}

// TracingConfig shapes OpenTelemetry export. Off by default.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	ServiceName  string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint" json:"otlp_endpoint"`
}

// LoggingConfig shapes the zap logger. Level hot-reloads through the
// atomic level main installs.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"`
}

// DefaultCoordinatorConfig returns the values the coordinator runs with
// when coordinator.yaml is absent.
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		Service: ServiceTunables{
			GracefulTimeout:   30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Orchestration: OrchestrationConfig{
			DefaultMaxConcurrency: 5,
			MaxConcurrencyLimit:   16,
		},
		Synthesis: SynthesisConfig{
			MaxTokens: 2000,
		},
		Coordination: CoordinationTunables{
			CleanupInterval: 10 * time.Minute,
		},
		Health: HealthTunables{
			Enabled:       true,
			CheckInterval: 30 * time.Second,
			CheckTimeout:  5 * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ServiceName:  "prsnl-coordinator",
			OTLPEndpoint: "localhost:4317",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadTunables reads coordinator.yaml through viper, layered over the
// defaults. COORDINATOR_CONFIG overrides the path; a missing file is not
// an error, it just means defaults.
func LoadTunables(configDir string) (*CoordinatorConfig, error) {
	path := os.Getenv("COORDINATOR_CONFIG")
	if path == "" {
		path = filepath.Join(configDir, TunablesFile)
	}

	cfg := DefaultCoordinatorConfig()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read tunables %s: %w", path, err)
	}

	// The same overlay the hot-reload path uses, so a value means the same
	// thing however it arrived.
	settings := v.AllSettings()
	if err := ValidateCoordinatorConfig(settings); err != nil {
		return nil, err
	}
	if err := overlayTunables(cfg, settings); err != nil {
		return nil, fmt.Errorf("apply tunables %s: %w", path, err)
	}
	return cfg, nil
}

// ValidateCoordinatorConfig checks a raw coordinator.yaml document before
// it replaces the running tunables. Only present keys are checked; absent
// sections keep their current values.
func ValidateCoordinatorConfig(config map[string]interface{}) error {
	if orch, ok := nestedMap(config, "orchestration"); ok {
		def, defSet := intFromAny(orch["default_max_concurrency"])
		if defSet && def < 1 {
			return fmt.Errorf("orchestration.default_max_concurrency must be at least 1, got %d", def)
		}
		limit, limitSet := intFromAny(orch["max_concurrency_limit"])
		if limitSet && limit < 1 {
			return fmt.Errorf("orchestration.max_concurrency_limit must be at least 1, got %d", limit)
		}
		if defSet && limitSet && def > limit {
			return fmt.Errorf("orchestration.default_max_concurrency %d exceeds max_concurrency_limit %d", def, limit)
		}
	}
	if syn, ok := nestedMap(config, "synthesis"); ok {
		if mt, set := intFromAny(syn["max_tokens"]); set && (mt < 1 || mt > 32768) {
			return fmt.Errorf("synthesis.max_tokens must be within 1..32768, got %d", mt)
		}
	}
	if lg, ok := nestedMap(config, "logging"); ok {
		if level, set := stringFromAny(lg["level"]); set {
			switch level {
			case "debug", "info", "warn", "error":
			default:
				return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", level)
			}
		}
	}
	if hc, ok := nestedMap(config, "health"); ok {
		if d, set, err := durationFromAny(hc["check_interval"]); err != nil {
			return fmt.Errorf("health.check_interval: %w", err)
		} else if set && d < time.Second {
			return fmt.Errorf("health.check_interval %s is below 1s", d)
		}
	}
	if co, ok := nestedMap(config, "coordination"); ok {
		if d, set, err := durationFromAny(co["cleanup_interval"]); err != nil {
			return fmt.Errorf("coordination.cleanup_interval: %w", err)
		} else if set && d < time.Minute {
			return fmt.Errorf("coordination.cleanup_interval %s is below 1m", d)
		}
	}
	return nil
}

// TunablesCallback observes a tunables replacement. Both arguments are
// private copies; callbacks may keep them.
type TunablesCallback func(oldCfg, newCfg *CoordinatorConfig) error

// TunablesManager gives typed access to the hot-reloaded tunables. It sits
// on top of Manager: the generic layer handles files and parsing, this one
// handles typing and change fan-out.
type TunablesManager struct {
	manager *Manager
	logger  *zap.Logger

	mu        sync.RWMutex
	current   *CoordinatorConfig
	callbacks []TunablesCallback
}

// NewTunablesManager wraps an already-constructed Manager. Call Initialize
// after the Manager has started.
func NewTunablesManager(manager *Manager, logger *zap.Logger) *TunablesManager {
	return &TunablesManager{
		manager: manager,
		logger:  logger,
		current: DefaultCoordinatorConfig(),
	}
}

// Initialize registers the coordinator.yaml validator and change handler
// and applies whatever the Manager already loaded.
func (tm *TunablesManager) Initialize() error {
	tm.manager.RegisterValidator(TunablesFile, ValidateCoordinatorConfig)
	tm.manager.RegisterHandler(TunablesFile, tm.handleChange)

	if raw, ok := tm.manager.GetConfig(TunablesFile); ok {
		if err := tm.applyMap(raw, "initial_load"); err != nil {
			return err
		}
	} else {
		tm.logger.Info("No tunables file present, running on defaults",
			zap.String("file", TunablesFile))
	}
	return nil
}

// GetConfig returns a copy of the current tunables.
func (tm *TunablesManager) GetConfig() *CoordinatorConfig {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	c := *tm.current
	return &c
}

// OnChange registers a callback invoked after every accepted tunables
// replacement, including the initial load when a file was present.
func (tm *TunablesManager) OnChange(cb TunablesCallback) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.callbacks = append(tm.callbacks, cb)
}

func (tm *TunablesManager) handleChange(event ChangeEvent) error {
	if event.Action == "delete" {
		// Losing the file reverts to defaults rather than freezing the
		// last loaded values.
		return tm.applyConfig(DefaultCoordinatorConfig(), event.Action)
	}
	return tm.applyMap(event.Config, event.Action)
}

func (tm *TunablesManager) applyMap(raw map[string]interface{}, action string) error {
	next := tm.GetConfig()
	if err := overlayTunables(next, raw); err != nil {
		return fmt.Errorf("apply %s (%s): %w", TunablesFile, action, err)
	}
	return tm.applyConfig(next, action)
}

func (tm *TunablesManager) applyConfig(next *CoordinatorConfig, action string) error {
	tm.mu.Lock()
	old := tm.current
	tm.current = next
	callbacks := make([]TunablesCallback, len(tm.callbacks))
	copy(callbacks, tm.callbacks)
	tm.mu.Unlock()

	oldCopy := *old
	newCopy := *next
	for _, cb := range callbacks {
		if err := cb(&oldCopy, &newCopy); err != nil {
			tm.logger.Error("Tunables change callback failed",
				zap.String("action", action),
				zap.Error(err),
			)
		}
	}

	tm.logger.Info("Coordinator tunables applied",
		zap.String("action", action),
		zap.Int("default_max_concurrency", next.Orchestration.DefaultMaxConcurrency),
		zap.Int("synthesis_max_tokens", next.Synthesis.MaxTokens),
		zap.String("log_level", next.Logging.Level),
	)
	return nil
}

// overlayTunables copies present keys from a raw document onto cfg,
// leaving absent keys untouched.
func overlayTunables(cfg *CoordinatorConfig, raw map[string]interface{}) error {
	if svc, ok := nestedMap(raw, "service"); ok {
		if d, set, err := durationFromAny(svc["graceful_timeout"]); err != nil {
			return fmt.Errorf("service.graceful_timeout: %w", err)
		} else if set {
			cfg.Service.GracefulTimeout = d
		}
		if d, set, err := durationFromAny(svc["read_header_timeout"]); err != nil {
			return fmt.Errorf("service.read_header_timeout: %w", err)
		} else if set {
			cfg.Service.ReadHeaderTimeout = d
		}
	}
	if orch, ok := nestedMap(raw, "orchestration"); ok {
		if n, set := intFromAny(orch["default_max_concurrency"]); set {
			cfg.Orchestration.DefaultMaxConcurrency = n
		}
		if n, set := intFromAny(orch["max_concurrency_limit"]); set {
			cfg.Orchestration.MaxConcurrencyLimit = n
		}
	}
	if syn, ok := nestedMap(raw, "synthesis"); ok {
		if n, set := intFromAny(syn["max_tokens"]); set {
			cfg.Synthesis.MaxTokens = n
		}
	}
	if co, ok := nestedMap(raw, "coordination"); ok {
		if d, set, err := durationFromAny(co["cleanup_interval"]); err != nil {
			return fmt.Errorf("coordination.cleanup_interval: %w", err)
		} else if set {
			cfg.Coordination.CleanupInterval = d
		}
	}
	if hc, ok := nestedMap(raw, "health"); ok {
		if b, set := boolFromAny(hc["enabled"]); set {
			cfg.Health.Enabled = b
		}
		if d, set, err := durationFromAny(hc["check_interval"]); err != nil {
			return fmt.Errorf("health.check_interval: %w", err)
		} else if set {
			cfg.Health.CheckInterval = d
		}
		if d, set, err := durationFromAny(hc["check_timeout"]); err != nil {
			return fmt.Errorf("health.check_timeout: %w", err)
		} else if set {
			cfg.Health.CheckTimeout = d
		}
	}
	if tr, ok := nestedMap(raw, "tracing"); ok {
		if b, set := boolFromAny(tr["enabled"]); set {
			cfg.Tracing.Enabled = b
		}
		if s, set := stringFromAny(tr["service_name"]); set {
			cfg.Tracing.ServiceName = s
		}
		if s, set := stringFromAny(tr["otlp_endpoint"]); set {
			cfg.Tracing.OTLPEndpoint = s
		}
	}
	if lg, ok := nestedMap(raw, "logging"); ok {
		if s, set := stringFromAny(lg["level"]); set {
			cfg.Logging.Level = s
		}
	}
	return nil
}

// nestedMap pulls a sub-document out of a parsed YAML/JSON map. yaml.v3
// and viper both produce map[string]interface{} for mappings with string
// keys.
func nestedMap(m map[string]interface{}, key string) (map[string]interface{}, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	sub, ok := v.(map[string]interface{})
	return sub, ok
}

func intFromAny(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func boolFromAny(v interface{}) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func stringFromAny(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// durationFromAny accepts Go duration strings ("30s", "5m") and bare
// numbers, which are taken as seconds.
func durationFromAny(v interface{}) (time.Duration, bool, error) {
	switch d := v.(type) {
	case nil:
		return 0, false, nil
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, false, fmt.Errorf("invalid duration %q", d)
		}
		return parsed, true, nil
	case int:
		return time.Duration(d) * time.Second, true, nil
	case int64:
		return time.Duration(d) * time.Second, true, nil
	case float64:
		return time.Duration(d * float64(time.Second)), true, nil
	}
	return 0, false, fmt.Errorf("unsupported duration value %v", v)
}
