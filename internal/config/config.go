// Package config handles SubZero configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/subzero/config.yaml,
// ~/.subzero/config.yaml, /etc/subzero/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "subzero", "config.yaml"),
			filepath.Join(home, ".subzero", "config.yaml"),
		)
	}

	paths = append(paths, "/etc/subzero/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all SubZero configuration.
type Config struct {
	Listen    ListenConfig  `yaml:"listen"`
	Ollama    OllamaConfig  `yaml:"ollama"`
	Bridge    BridgeConfig  `yaml:"bridge"`
	Tools     ToolsConfig   `yaml:"tools"`
	Trading   TradingConfig `yaml:"trading"`
	Deploy    DeployConfig  `yaml:"deploy"`
	MQTT      MQTTConfig    `yaml:"mqtt"`
	DataDir   string        `yaml:"data_dir"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// OllamaConfig points at the local inference backend.
type OllamaConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
	// CLIFallback retries generation through the `ollama run` command
	// when the HTTP API fails.
	CLIFallback bool `yaml:"cli_fallback"`
	// Binary is the ollama executable used by the CLI fallback.
	Binary string `yaml:"binary"`
}

// BridgeConfig tunes the connection bridge between callers and the
// backend.
type BridgeConfig struct {
	HeartbeatIntervalSec int `yaml:"heartbeat_interval_sec"`
	MaxQueueSize         int `yaml:"max_queue_size"`
	ProbeTimeoutSec      int `yaml:"probe_timeout_sec"`
	DeliveryTimeoutSec   int `yaml:"delivery_timeout_sec"`
	// PersistQueue saves undelivered prompts at shutdown and restores
	// them on the next start.
	PersistQueue bool `yaml:"persist_queue"`
}

// HeartbeatInterval returns the heartbeat period as a duration.
func (c BridgeConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSec) * time.Second
}

// ProbeTimeout returns the per-probe timeout as a duration.
func (c BridgeConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSec) * time.Second
}

// DeliveryTimeout returns the per-delivery timeout as a duration.
func (c BridgeConfig) DeliveryTimeout() time.Duration {
	return time.Duration(c.DeliveryTimeoutSec) * time.Second
}

// ToolsConfig controls the tool runtime.
type ToolsConfig struct {
	// Workspace is the base directory for relative file paths. Empty
	// means the user's home directory.
	Workspace string `yaml:"workspace"`
	// ConfineWorkspace rejects file tool paths outside Workspace.
	ConfineWorkspace bool `yaml:"confine_workspace"`
	// AutoTrade lets trade_buy, trade_sell and trade_cancel run without
	// explicit confirmation.
	AutoTrade bool `yaml:"auto_trade"`
	// Shortcuts name directories the file tools accept as prefixes,
	// e.g. downloads: ~/Downloads lets a model read "downloads:a.pdf".
	Shortcuts map[string]string `yaml:"shortcuts"`
	ShellExec ShellExecConfig   `yaml:"shell_exec"`
	Browser   BrowserConfig     `yaml:"browser"`
	Search    SearchConfig      `yaml:"search"`
}

// ShellExecConfig defines shell execution capabilities.
type ShellExecConfig struct {
	// WorkingDir sets the default working directory for commands.
	WorkingDir string `yaml:"working_dir"`
	// DeniedPatterns are command patterns to block (e.g., "rm -rf /").
	DeniedPatterns []string `yaml:"denied_patterns"`
	// Python is the interpreter used by run_python (default python3).
	Python string `yaml:"python"`
}

// BrowserConfig configures the automated browser session.
type BrowserConfig struct {
	Enabled  bool `yaml:"enabled"`
	Headless bool `yaml:"headless"`
	// ScreenshotDir receives browser_screenshot output when no path is given.
	ScreenshotDir string `yaml:"screenshot_dir"`
}

// SearchConfig configures the web_search tool.
type SearchConfig struct {
	Endpoint   string `yaml:"endpoint"`
	MaxResults int    `yaml:"max_results"`
}

// TradingConfig holds brokerage credentials. Trading tools are
// unavailable when APIKey is empty.
type TradingConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Paper     bool   `yaml:"paper"`
	// BaseURL overrides the brokerage endpoint; derived from Paper when empty.
	BaseURL string `yaml:"base_url"`
	DataURL string `yaml:"data_url"`
}

// Configured reports whether trading credentials are present.
func (c TradingConfig) Configured() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// DeployConfig drives the deploy_to_usb and download_subzero tools.
type DeployConfig struct {
	// SourceDir is the directory copied onto a USB drive.
	SourceDir string `yaml:"source_dir"`
	// MountRoots are scanned for removable drives.
	MountRoots []string `yaml:"mount_roots"`
	Owner      string   `yaml:"owner"`
	Repo       string   `yaml:"repo"`
	Ref        string   `yaml:"ref"`
	// GitHubToken is optional; anonymous access works for public repos.
	GitHubToken string `yaml:"github_token"`
}

// MQTTConfig configures the optional bridge-state publisher.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://localhost:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	DeviceName  string `yaml:"device_name"`
	ClientID    string `yaml:"client_id"`
	// DiscoveryPrefix is the Home Assistant discovery prefix. Empty
	// disables discovery messages.
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
	// AcceptPrompts subscribes to <topic_prefix>/<device_name>/send and
	// forwards each payload through the bridge. Replies are published
	// to .../reply.
	AcceptPrompts bool `yaml:"accept_prompts"`
	// PromptRateLimit caps inbound prompts per minute.
	PromptRateLimit int `yaml:"prompt_rate_limit"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Tools: ToolsConfig{
			Browser: BrowserConfig{Headless: true},
		},
		Trading: TradingConfig{Paper: true},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8008
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = "http://localhost:11434"
	}
	if c.Ollama.Model == "" {
		c.Ollama.Model = "qwen2.5:3b"
	}
	if c.Ollama.Binary == "" {
		c.Ollama.Binary = "ollama"
	}
	if c.Bridge.HeartbeatIntervalSec <= 0 {
		c.Bridge.HeartbeatIntervalSec = 5
	}
	if c.Bridge.MaxQueueSize <= 0 {
		c.Bridge.MaxQueueSize = 50
	}
	if c.Bridge.ProbeTimeoutSec <= 0 {
		c.Bridge.ProbeTimeoutSec = 10
	}
	if c.Bridge.DeliveryTimeoutSec <= 0 {
		c.Bridge.DeliveryTimeoutSec = 300
	}
	if c.Tools.ShellExec.Python == "" {
		c.Tools.ShellExec.Python = "python3"
	}
	if c.Tools.Shortcuts == nil {
		c.Tools.Shortcuts = map[string]string{
			"desktop":   "~/Desktop",
			"documents": "~/Documents",
			"downloads": "~/Downloads",
		}
	}
	if c.Tools.Search.MaxResults <= 0 {
		c.Tools.Search.MaxResults = 5
	}
	if len(c.Deploy.MountRoots) == 0 {
		c.Deploy.MountRoots = []string{"/media", "/run/media", "/mnt", "/Volumes"}
	}
	if c.Deploy.Owner == "" {
		c.Deploy.Owner = "jhawpetoss6-collab"
	}
	if c.Deploy.Repo == "" {
		c.Deploy.Repo = "subzero"
	}
	if c.Deploy.Ref == "" {
		c.Deploy.Ref = "main"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "subzero"
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "subzero"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "subzero-" + c.MQTT.DeviceName
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = 60
	}
	if c.MQTT.PromptRateLimit <= 0 {
		c.MQTT.PromptRateLimit = 30
	}
	if c.DataDir == "" {
		c.DataDir = "./db"
	}
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat))
	}
	if c.Trading.APIKey != "" && c.Trading.APISecret == "" {
		errs = append(errs, errors.New("trading.api_secret is required when trading.api_key is set"))
	}
	return errors.Join(errs...)
}
