// Package config provides the XML configuration file of the server and
// its environment and flag overrides.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"StepDash"`

	Server     ServerConfig     `xml:"Server"`
	Storage    StorageConfig    `xml:"Storage"`
	Processing ProcessingConfig `xml:"Processing"`
	Security   SecurityConfig   `xml:"Security"`
	Inference  InferenceConfig  `xml:"Inference"`
	Wizard     WizardConfig     `xml:"Wizard"`
	Advanced   AdvancedConfig   `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
	// StaticDirectory holds a built browser front end to serve; empty disables it.
	StaticDirectory string `xml:"StaticDirectory"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `xml:"DataDirectory"`
	UploadsDirectory string `xml:"UploadsDirectory"`
	TempDirectory    string `xml:"TempDirectory"`
	MaxUploadSize    string `xml:"MaxUploadSize"`
}

// ProcessingConfig contains session and job lifetimes
type ProcessingConfig struct {
	MaxSessions            int  `xml:"MaxSessions"`
	SessionTimeoutMinutes  int  `xml:"SessionTimeoutMinutes"`
	CleanupIntervalMinutes int  `xml:"CleanupIntervalMinutes"`
	JobRetentionMinutes    int  `xml:"JobRetentionMinutes"`
	EnableCompression      bool `xml:"EnableCompression"`
	CompressionLevel       int  `xml:"CompressionLevel"`
}

// SecurityConfig contains upload restrictions
type SecurityConfig struct {
	AllowedFileTypes string `xml:"AllowedFileTypes"`
}

// InferenceConfig contains the HuggingFace proxy settings. The API key is
// normally supplied through HUGGINGFACE_API_KEY rather than the file.
type InferenceConfig struct {
	APIKey         string `xml:"APIKey,omitempty"`
	InferenceURL   string `xml:"InferenceURL"`
	ChatURL        string `xml:"ChatURL"`
	HubURL         string `xml:"HubURL"`
	TimeoutSeconds int    `xml:"TimeoutSeconds"`
}

// WizardConfig selects the flows sessions walk
type WizardConfig struct {
	DefaultFlow    string `xml:"DefaultFlow"`
	FlowsDirectory string `xml:"FlowsDirectory"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel                string `xml:"LogLevel"`
	EnableRequestLogging    bool   `xml:"EnableRequestLogging"`
	DuckDBThreads           int    `xml:"DuckDBThreads"`
	DuckDBMemoryLimit       string `xml:"DuckDBMemoryLimit"`
	WebSocketMaxMessageSize int    `xml:"WebSocketMaxMessageSizeKB"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 120,
			IdleTimeout:  120,
			BodyLimit:    "100M",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			TempDirectory:    "./data/temp",
			MaxUploadSize:    "100MB",
		},
		Processing: ProcessingConfig{
			MaxSessions:            50,
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
			JobRetentionMinutes:    60,
			EnableCompression:      true,
			CompressionLevel:       5,
		},
		Security: SecurityConfig{
			AllowedFileTypes: ".csv,.xlsx,.xlsm,.xls,.gz",
		},
		Inference: InferenceConfig{
			InferenceURL:   "https://router.huggingface.co/hf-inference/models",
			ChatURL:        "https://router.huggingface.co/v1/chat/completions",
			HubURL:         "https://huggingface.co/api",
			TimeoutSeconds: 60,
		},
		Wizard: WizardConfig{
			DefaultFlow:    "data-pipeline",
			FlowsDirectory: "./flows",
		},
		Advanced: AdvancedConfig{
			LogLevel:                "info",
			EnableRequestLogging:    true,
			DuckDBThreads:           2,
			DuckDBMemoryLimit:       "512MB",
			WebSocketMaxMessageSize: 64,
		},
	}
}

// LoadConfig loads configuration from the XML file, creating it with the
// defaults on first run, then applies overrides from v (may be nil).
func LoadConfig(configPath string, v *viper.Viper) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if v != nil {
		config.ApplyOverrides(v)
	}
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- stepdash server configuration -->\n<!-- Created on first run; environment variables STEPDASH_* override values here -->\n\n")
	content := append(header, output...)

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Override keys understood by ApplyOverrides. Environment variables use the
// STEPDASH_ prefix and upper case (STEPDASH_PORT, STEPDASH_DATA_DIR, ...).
const (
	KeyPort        = "port"
	KeyBind        = "bind"
	KeyDataDir     = "data_dir"
	KeyTempDir     = "temp_dir"
	KeyLogLevel    = "log_level"
	KeyDefaultFlow = "default_flow"
	KeyFlowsDir    = "flows_dir"
	KeyMaxSessions = "max_sessions"
	KeyAPIKey      = "huggingface_api_key"
)

// NewViper returns a viper instance reading STEPDASH_* variables and the
// unprefixed HUGGINGFACE_API_KEY.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("STEPDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(KeyAPIKey, "STEPDASH_HUGGINGFACE_API_KEY", "HUGGINGFACE_API_KEY")
	return v
}

// ApplyOverrides copies every key set in v over the file values.
func (c *AppConfig) ApplyOverrides(v *viper.Viper) {
	if v.IsSet(KeyPort) {
		c.Server.Port = v.GetInt(KeyPort)
	}
	if v.IsSet(KeyBind) {
		c.Server.BindAddress = v.GetString(KeyBind)
	}
	if v.IsSet(KeyDataDir) {
		dir := v.GetString(KeyDataDir)
		c.Storage.DataDirectory = dir
		c.Storage.UploadsDirectory = filepath.Join(dir, "uploads")
		c.Storage.TempDirectory = filepath.Join(dir, "temp")
	}
	if v.IsSet(KeyTempDir) {
		c.Storage.TempDirectory = v.GetString(KeyTempDir)
	}
	if v.IsSet(KeyLogLevel) {
		c.Advanced.LogLevel = v.GetString(KeyLogLevel)
	}
	if v.IsSet(KeyDefaultFlow) {
		c.Wizard.DefaultFlow = v.GetString(KeyDefaultFlow)
	}
	if v.IsSet(KeyFlowsDir) {
		c.Wizard.FlowsDirectory = v.GetString(KeyFlowsDir)
	}
	if v.IsSet(KeyMaxSessions) {
		c.Processing.MaxSessions = v.GetInt(KeyMaxSessions)
	}
	if key := v.GetString(KeyAPIKey); key != "" {
		c.Inference.APIKey = key
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.TempDirectory,
		&c.Wizard.FlowsDirectory,
		&c.Server.StaticDirectory,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// Validate checks values that would otherwise fail late at startup.
func (c *AppConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if _, err := zapcore.ParseLevel(c.Advanced.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if _, err := c.MaxUploadBytes(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Wizard.DefaultFlow) == "" {
		return fmt.Errorf("default flow must not be empty")
	}
	return nil
}

// MaxUploadBytes parses MaxUploadSize ("100MB", "2GiB"). Empty means no limit.
func (c *AppConfig) MaxUploadBytes() (int64, error) {
	if strings.TrimSpace(c.Storage.MaxUploadSize) == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.Storage.MaxUploadSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max upload size %q: %w", c.Storage.MaxUploadSize, err)
	}
	return int64(n), nil
}

// AllowedExtensions returns the lower-cased allowed file extensions.
func (c *AppConfig) AllowedExtensions() []string {
	var out []string
	for _, ext := range strings.Split(c.Security.AllowedFileTypes, ",") {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" {
			out = append(out, ext)
		}
	}
	return out
}

// SessionTimeout is how long an idle session is kept.
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Processing.SessionTimeoutMinutes) * time.Minute
}

// CleanupInterval is how often idle sessions and old jobs are pruned.
func (c *AppConfig) CleanupInterval() time.Duration {
	if c.Processing.CleanupIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Processing.CleanupIntervalMinutes) * time.Minute
}

// JobRetention is how long finished parse jobs stay queryable.
func (c *AppConfig) JobRetention() time.Duration {
	return time.Duration(c.Processing.JobRetentionMinutes) * time.Minute
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	for _, dir := range []string{c.Storage.DataDirectory, c.Storage.UploadsDirectory, c.Storage.TempDirectory} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
