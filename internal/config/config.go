// Package config loads contactbot's configuration file and secrets.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Bot      BotConfig      `json:"bot"`
	Daemon   DaemonConfig   `json:"daemon"`
	Teli     TeliConfig     `json:"teli"`
	Wallet   WalletConfig   `json:"wallet"`
	Price    PriceConfig    `json:"price"`
	HTTP     HTTPConfig     `json:"http"`
	Store    StoreConfig    `json:"store"`
	Metrics  MetricsConfig  `json:"metrics"`
	Shutdown ShutdownConfig `json:"shutdown"`
}

type GeneralConfig struct {
	LogLevel    string `json:"logLevel"`
	Env         string `json:"env"`         // deployment name, used as the profile family name
	Admin       string `json:"admin"`       // receives SMS for unknown numbers
	SecretsFile string `json:"secretsFile"` // dotenv file overlaid by ApplySecrets
}

type BotConfig struct {
	Number      string `json:"number"` // the daemon identity, E.164
	GivenName   string `json:"givenName"`
	Avatar      string `json:"avatar"`
	GroupRoutes bool   `json:"groupRoutes"` // /mkgroup and group relays
	Ordering    bool   `json:"ordering"`    // /order and /pay
	Migrate     bool   `json:"migrate"`     // normalize stored destinations at startup
}

type DaemonConfig struct {
	Executable            string `json:"executable"`
	DataDir               string `json:"dataDir"`
	GraceSeconds          int    `json:"graceSeconds"`
	ProfileTimeoutSeconds int    `json:"profileTimeoutSeconds"`
}

type TeliConfig struct {
	Token  string `json:"token"`
	SMSURL string `json:"smsUrl"`
	APIURL string `json:"apiUrl"`
}

type WalletConfig struct {
	URL         string `json:"url"`
	AccountID   string `json:"accountId"`
	Address     string `json:"address"` // looked up from the wallet when empty
	PollSeconds int    `json:"pollSeconds"`
}

type PriceConfig struct {
	URLs         []string `json:"urls"` // tickers tried in order; empty uses big.one
	USD          float64  `json:"usd"`
	FallbackRate float64  `json:"fallbackRate"`
	PollAttempts int      `json:"pollAttempts"`
	PollSeconds  int      `json:"pollSeconds"`
}

type HTTPConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	PublicURL string `json:"publicUrl"` // base URL the gateway posts inbound SMS to
	Secret    string `json:"secret"`
}

type StoreConfig struct {
	DBPath           string `json:"dbPath"`
	IntentTTLMinutes int    `json:"intentTtlMinutes"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

type ShutdownConfig struct {
	TimeoutSeconds int `json:"timeoutSeconds"`
}

// DefaultConfigDir returns the default config directory (~/.contactbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".contactbot"
	}
	return filepath.Join(home, ".contactbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON, JSONC, or YAML config file over the defaults. ${VAR}
// references are expanded before parsing.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.ExpandPaths()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// decode parses YAML by extension and everything else as JSON with
// comments and trailing commas allowed. YAML goes through a generic map so
// the json tags apply to both formats.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var m map[string]any
		if err := yaml.Unmarshal(data, &m); err != nil {
			return err
		}
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(jsonc.ToJSON(data), cfg)
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}
		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// Save writes cfg as indented JSON, or YAML for .yaml/.yml paths.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		if data, err = yaml.Marshal(m); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has usable values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		errs = append(errs, "http.port must be between 0 and 65535")
	}
	if cfg.Daemon.Executable == "" {
		errs = append(errs, "daemon.executable is required")
	}
	if cfg.Daemon.GraceSeconds < 1 {
		errs = append(errs, "daemon.graceSeconds must be >= 1")
	}
	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required")
	}
	if cfg.Store.IntentTTLMinutes < 1 {
		errs = append(errs, "store.intentTtlMinutes must be >= 1")
	}
	if cfg.Price.USD <= 0 {
		errs = append(errs, "price.usd must be positive")
	}
	if cfg.Price.FallbackRate <= 0 {
		errs = append(errs, "price.fallbackRate must be positive")
	}
	if cfg.Price.PollAttempts < 1 {
		errs = append(errs, "price.pollAttempts must be >= 1")
	}
	if cfg.Wallet.PollSeconds < 1 {
		errs = append(errs, "wallet.pollSeconds must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPaths resolves ~/ in every path-valued field.
func (c *Config) ExpandPaths() {
	c.Daemon.DataDir = ExpandPath(c.Daemon.DataDir)
	c.Store.DBPath = ExpandPath(c.Store.DBPath)
	c.Bot.Avatar = ExpandPath(c.Bot.Avatar)
	c.General.SecretsFile = ExpandPath(c.General.SecretsFile)
}

// ExpandPath resolves a leading ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
