package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mixport/internal/retry"
	"github.com/starford/mixport/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

var httpURL = regexp.MustCompile(`^https?://[^/\s]+`)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Remote RemoteConfig      `yaml:"remote"`
	Retry  RetryConfig       `yaml:"retry"`
	Images ImagesConfig      `yaml:"images"`
	Export ExportConfig      `yaml:"export"`
	Output storage.Config    `yaml:"output"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := c.Images.Validate(); err != nil {
		return fmt.Errorf("images: %w", err)
	}
	if err := c.Export.Validate(); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
	// ProgressThrottle is the minimum gap between EXPORT_PROGRESS events sent
	// to SSE clients.
	ProgressThrottle time.Duration `yaml:"progress_throttle"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	return nil
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// RemoteConfig describes how to reach the note service.
//
// Exactly one of Cookie and CookieFile is normally set. CookieFile is watched
// and re-read on change so an expired session can be refreshed in place.
type RemoteConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Cookie            string        `yaml:"cookie"`
	CookieFile        string        `yaml:"cookie_file"`
	UserAgent         string        `yaml:"user_agent"`
	PageSize          int           `yaml:"page_size"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, validation.Match(httpURL)),
		validation.Field(&c.Cookie, validation.When(c.CookieFile == "",
			validation.Required.Error("cookie or cookie_file is required"))),
		validation.Field(&c.PageSize, validation.Required, validation.Min(1), validation.Max(1000)),
		validation.Field(&c.Timeout, validation.Required),
		validation.Field(&c.RequestsPerSecond, validation.Min(0.0)),
		validation.Field(&c.Burst, validation.Min(0)),
	)
}

// PolicyConfig is the YAML form of a retry.Policy.
type PolicyConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// Validate validates the policy.
func (c *PolicyConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Attempts, validation.Required, validation.Min(1)),
		validation.Field(&c.Delay, validation.Min(time.Duration(0))),
	)
}

// Policy converts the config to a retry policy.
func (c PolicyConfig) Policy() retry.Policy {
	return retry.Policy{MaxAttempts: c.Attempts, Delay: c.Delay}
}

// RetryConfig holds the retry policies for listing/detail and image requests.
type RetryConfig struct {
	Listing PolicyConfig `yaml:"listing"`
	Image   PolicyConfig `yaml:"image"`
}

// Validate validates both policies.
func (c *RetryConfig) Validate() error {
	if err := c.Listing.Validate(); err != nil {
		return fmt.Errorf("listing: %w", err)
	}
	if err := c.Image.Validate(); err != nil {
		return fmt.Errorf("image: %w", err)
	}
	return nil
}

// ImagesConfig bounds image resolution.
type ImagesConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// Validate validates the images configuration.
func (c *ImagesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Concurrency, validation.Required, validation.Min(1), validation.Max(64)),
	)
}

// ExportConfig shapes the produced archive.
type ExportConfig struct {
	// ArchiveName may contain {timestamp} and {run} placeholders.
	ArchiveName   string `yaml:"archive_name"`
	RootDir       string `yaml:"root_dir"`
	DefaultFolder string `yaml:"default_folder"`
	Timezone      string `yaml:"timezone"`
	CreatedLabel  string `yaml:"created_label"`
	ModifiedLabel string `yaml:"modified_label"`
}

// Validate validates the export configuration.
func (c *ExportConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ArchiveName, validation.Required),
		validation.Field(&c.RootDir, validation.Required),
		validation.Field(&c.DefaultFolder, validation.Required),
		validation.Field(&c.Timezone, validation.By(func(any) error {
			_, err := c.Location()
			return err
		})),
	)
}

// Location resolves Timezone; empty means the local zone.
func (c *ExportConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.New("unknown timezone")
	}
	return loc, nil
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
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
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

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
			ProgressThrottle: 250 * time.Millisecond,
		},
		Remote: RemoteConfig{
			BaseURL:           "https://i.mi.com",
			UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			PageSize:          200,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 10,
			Burst:             5,
		},
		Retry: RetryConfig{
			Listing: PolicyConfig{Attempts: 20, Delay: time.Second},
			Image:   PolicyConfig{Attempts: 20, Delay: 500 * time.Millisecond},
		},
		Images: ImagesConfig{
			Concurrency: 8,
		},
		Export: ExportConfig{
			ArchiveName:   "MiNote_export_{timestamp}.zip",
			RootDir:       "notes",
			DefaultFolder: "Default",
			CreatedLabel:  "Created",
			ModifiedLabel: "Modified",
		},
		Output: storage.Config{
			Type: storage.TypeLocal,
			Dir:  "./exports",
		},
		SQLite: SQLiteConfig{
			Path: "./mixport.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
