// Package config is the single configuration surface of the blueprint binaries.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/blueprint/internal/logging"
	"github.com/aretw0/blueprint/pkg/persistence"
	"github.com/aretw0/blueprint/pkg/persistence/middleware"
	"github.com/aretw0/blueprint/pkg/quality"
)

// Config holds every tunable of the engine and its hosts.
type Config struct {
	Quality     QualityConfig     `koanf:"quality"`
	Stage       StageConfig       `koanf:"stage"`
	Microstep   MicrostepConfig   `koanf:"microstep"`
	Persistence PersistenceConfig `koanf:"persistence"`
	Generation  GenerationConfig  `koanf:"generation"`
	Storage     StorageConfig     `koanf:"storage"`
	Server      ServerConfig      `koanf:"server"`
	Log         LogConfig         `koanf:"log"`
}

// QualityConfig extends quality.Config with an optional rules file.
type QualityConfig struct {
	quality.Config `koanf:",squash"`
	// RulesFile holds YAML rule sets merged over the configured ones.
	RulesFile string `koanf:"rules_file"`
}

// StageConfig tunes the stage gate.
type StageConfig struct {
	MinLength int `koanf:"min_length"`
}

// MicrostepConfig names the navigation tokens of decomposed stages.
type MicrostepConfig struct {
	Sentinel string `koanf:"sentinel"`
	Back     string `koanf:"back"`
}

// PersistenceConfig tunes saving and the sync queue.
type PersistenceConfig struct {
	Debounce      time.Duration      `koanf:"debounce"`
	Retry         persistence.Policy `koanf:"retry"`
	DrainInterval time.Duration      `koanf:"drain_interval"`
	DrainRate     float64            `koanf:"drain_rate"`
	DrainBurst    int                `koanf:"drain_burst"`
}

// GenerationConfig selects the language model. An empty BaseURL disables generation.
type GenerationConfig struct {
	Timeout time.Duration `koanf:"timeout"`
	BaseURL string        `koanf:"base_url"`
	Model   string        `koanf:"model"`
	APIKey  string        `koanf:"api_key"`
}

// Enabled reports whether a model endpoint is configured.
func (g GenerationConfig) Enabled() bool { return g.BaseURL != "" }

// StorageConfig locates the local store, the sync queue and the remote store.
type StorageConfig struct {
	LocalDir      string      `koanf:"local_dir"`
	QueuePath     string      `koanf:"queue_path"`
	EncryptionKey string      `koanf:"encryption_key"`
	Redis         RedisConfig `koanf:"redis"`
}

// RedisConfig configures the remote store. An empty Addr means local only.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Prefix   string        `koanf:"prefix"`
	TTL      time.Duration `koanf:"ttl"`
}

// ServerConfig configures the HTTP host.
type ServerConfig struct {
	Port int `koanf:"port"`
}

// LogConfig configures the application logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// applyDefaults fills list values the YAML defaults leave out.
func applyDefaults(cfg *Config) {
	def := quality.DefaultConfig()
	if len(cfg.Quality.Affirmative) == 0 {
		cfg.Quality.Affirmative = def.Affirmative
	}
	if len(cfg.Quality.Hedge) == 0 {
		cfg.Quality.Hedge = def.Hedge
	}
	if len(cfg.Quality.ActionVerbs) == 0 {
		cfg.Quality.ActionVerbs = def.ActionVerbs
	}
}

// Validate rejects impossible values.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Quality.Config.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("quality: %w", err))
	}
	if c.Stage.MinLength < 0 {
		errs = append(errs, fmt.Errorf("stage.min_length must not be negative, got %d", c.Stage.MinLength))
	}
	if c.Microstep.Sentinel == "" || c.Microstep.Back == "" {
		errs = append(errs, errors.New("microstep tokens must not be empty"))
	}
	if c.Microstep.Sentinel == c.Microstep.Back {
		errs = append(errs, fmt.Errorf("microstep.sentinel and microstep.back must differ, both are %q", c.Microstep.Back))
	}
	if c.Persistence.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("persistence.debounce must be positive, got %s", c.Persistence.Debounce))
	}
	if c.Persistence.DrainInterval <= 0 {
		errs = append(errs, fmt.Errorf("persistence.drain_interval must be positive, got %s", c.Persistence.DrainInterval))
	}
	if c.Persistence.DrainRate <= 0 || c.Persistence.DrainBurst < 1 {
		errs = append(errs, errors.New("persistence.drain_rate must be positive and drain_burst at least 1"))
	}
	if err := c.Persistence.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("persistence.retry: %w", err))
	}
	if c.Generation.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("generation.timeout must be positive, got %s", c.Generation.Timeout))
	}
	if c.Generation.Enabled() && c.Generation.Model == "" {
		errs = append(errs, errors.New("generation.model is required when generation.base_url is set"))
	}
	if c.Storage.LocalDir == "" {
		errs = append(errs, errors.New("storage.local_dir is required"))
	}
	if c.Storage.EncryptionKey != "" {
		if _, err := middleware.ParseKey(c.Storage.EncryptionKey); err != nil {
			errs = append(errs, fmt.Errorf("storage.encryption_key: %w", err))
		}
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != string(logging.FormatText) && c.Log.Format != string(logging.FormatJSON) {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
