package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/marginalia/internal/annotator"
	"github.com/starford/marginalia/internal/engine"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Worker kinds.
const (
	WorkerEcho   = "echo"
	WorkerOllama = "ollama"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Vault      VaultConfig       `yaml:"vault"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Auth       AuthConfig        `yaml:"auth"`
	Engine     EngineConfig      `yaml:"engine"`
	Worker     WorkerConfig      `yaml:"worker"`
	Annotators AnnotatorsConfig  `yaml:"annotators"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.Worker.Validate(); err != nil {
		return err
	}
	return c.Annotators.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
	// EventThrottle spaces document.changed events per document.
	EventThrottle time.Duration `yaml:"event_throttle"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.EventThrottle, validation.Min(time.Duration(0))),
	)
}

// VaultConfig holds the Markdown vault notes are imported from.
type VaultConfig struct {
	Path string `yaml:"path"`
	// Watch re-imports notes that change on disk.
	Watch bool `yaml:"watch"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled".
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// EngineConfig tunes the annotation loop of every open document.
type EngineConfig struct {
	Debounce           time.Duration `yaml:"debounce"`
	IdleHide           time.Duration `yaml:"idle_hide"`
	QueueSize          int           `yaml:"queue_size"`
	LaneWorkers        int           `yaml:"lane_workers"`
	ReplyOnUserMessage bool          `yaml:"reply_on_user_message"`
}

// Validate validates the engine configuration.
func (c *EngineConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.IdleHide, validation.Min(time.Duration(0))),
		validation.Field(&c.QueueSize, validation.Required, validation.Min(1)),
		validation.Field(&c.LaneWorkers, validation.Required, validation.Min(1), validation.Max(64)),
	)
}

// Options converts the section to engine tuning.
func (c *EngineConfig) Options() engine.Config {
	return engine.Config{
		Debounce:           c.Debounce,
		IdleHide:           c.IdleHide,
		QueueSize:          c.QueueSize,
		LaneWorkers:        c.LaneWorkers,
		ReplyOnUserMessage: c.ReplyOnUserMessage,
	}
}

// WorkerConfig selects the annotation backend.
type WorkerConfig struct {
	Kind    string        `yaml:"kind"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the worker configuration.
func (c *WorkerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Kind, validation.Required, validation.In(WorkerEcho, WorkerOllama)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// AnnotatorsConfig lists annotator profiles inline or points at a profiles
// file that is reloaded on change. The file wins when both are set.
type AnnotatorsConfig struct {
	File     string              `yaml:"file"`
	Profiles []annotator.Profile `yaml:"profiles"`
}

// Validate validates the annotators configuration.
func (c *AnnotatorsConfig) Validate() error {
	if c.File != "" {
		return nil
	}
	return annotator.ValidateList(c.Profiles)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	def := engine.DefaultConfig()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:          8080,
				EventThrottle: 250 * time.Millisecond,
			},
		},
		Vault: VaultConfig{
			Path:  "./vault",
			Watch: true,
		},
		SQLite: SQLiteConfig{
			Path: "./marginalia.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Engine: EngineConfig{
			Debounce:           def.Debounce,
			IdleHide:           def.IdleHide,
			QueueSize:          def.QueueSize,
			LaneWorkers:        def.LaneWorkers,
			ReplyOnUserMessage: def.ReplyOnUserMessage,
		},
		Worker: WorkerConfig{
			Kind:    WorkerEcho,
			Timeout: 2 * time.Minute,
		},
		Annotators: AnnotatorsConfig{
			Profiles: []annotator.Profile{{
				Name:   "grammar",
				Prompt: "Fix grammar and spelling. Keep the author's voice.",
			}},
		},
	}
}
