package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the bridge.
type Config struct {
	General       GeneralConfig       `json:"general" yaml:"general" toml:"general"`
	Server        ServerConfig        `json:"server" yaml:"server" toml:"server"`
	Telegram      TelegramConfig      `json:"telegram" yaml:"telegram" toml:"telegram"`
	WhatsApp      WhatsAppConfig      `json:"whatsapp" yaml:"whatsapp" toml:"whatsapp"`
	Store         StoreConfig         `json:"store" yaml:"store" toml:"store"`
	Queue         QueueConfig         `json:"queue" yaml:"queue" toml:"queue"`
	Relay         RelayConfig         `json:"relay" yaml:"relay" toml:"relay"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications" toml:"notifications"`
	Metrics       MetricsConfig       `json:"metrics" yaml:"metrics" toml:"metrics"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel" yaml:"logLevel" toml:"logLevel" validate:"oneof=debug info warn error"`
	LogFormat string `json:"logFormat" yaml:"logFormat" toml:"logFormat" validate:"oneof=text json"`
	LogFile   string `json:"logFile,omitempty" yaml:"logFile,omitempty" toml:"logFile,omitempty"` // optional log file path
}

type ServerConfig struct {
	Host          string `json:"host" yaml:"host" toml:"host"`
	Port          int    `json:"port" yaml:"port" toml:"port" validate:"min=1,max=65535"`
	TelegramRoute string `json:"telegramRoute" yaml:"telegramRoute" toml:"telegramRoute" validate:"startswith=/"`
	WhatsAppRoute string `json:"whatsappRoute" yaml:"whatsappRoute" toml:"whatsappRoute" validate:"startswith=/"`
	MaxBodyBytes  int64  `json:"maxBodyBytes" yaml:"maxBodyBytes" toml:"maxBodyBytes" validate:"min=1024"`
}

type TelegramConfig struct {
	Token  string `json:"token" yaml:"token" toml:"token"`
	ChatID string `json:"chatId" yaml:"chatId" toml:"chatId"` // operator group
	// BotID is looked up with getMe when empty.
	BotID string `json:"botId,omitempty" yaml:"botId,omitempty" toml:"botId,omitempty"`
}

type WhatsAppConfig struct {
	AccessToken   string `json:"accessToken" yaml:"accessToken" toml:"accessToken"`
	PhoneNumberID string `json:"phoneNumberId" yaml:"phoneNumberId" toml:"phoneNumberId"`
	VerifyToken   string `json:"verifyToken" yaml:"verifyToken" toml:"verifyToken"`
	AppSecret     string `json:"appSecret,omitempty" yaml:"appSecret,omitempty" toml:"appSecret,omitempty"`
	APIBase       string `json:"apiBase" yaml:"apiBase" toml:"apiBase" validate:"url"`
}

type StoreConfig struct {
	Driver   string `json:"driver" yaml:"driver" toml:"driver" validate:"oneof=sqlite postgres redis memory"`
	Path     string `json:"path" yaml:"path" toml:"path"`
	DSN      string `json:"dsn,omitempty" yaml:"dsn,omitempty" toml:"dsn,omitempty"`
	RedisURL string `json:"redisUrl,omitempty" yaml:"redisUrl,omitempty" toml:"redisUrl,omitempty"`
	RedisKey string `json:"redisKey,omitempty" yaml:"redisKey,omitempty" toml:"redisKey,omitempty"`
}

type QueueConfig struct {
	Mode         string `json:"mode" yaml:"mode" toml:"mode" validate:"oneof=sync memory redis"`
	Buffer       int    `json:"buffer" yaml:"buffer" toml:"buffer" validate:"min=1"`
	RedisURL     string `json:"redisUrl,omitempty" yaml:"redisUrl,omitempty" toml:"redisUrl,omitempty"`
	StreamPrefix string `json:"streamPrefix" yaml:"streamPrefix" toml:"streamPrefix"`
	Group        string `json:"group" yaml:"group" toml:"group"`
	MaxLen       int64  `json:"maxLen,omitempty" yaml:"maxLen,omitempty" toml:"maxLen,omitempty" validate:"min=0"`
}

type RelayConfig struct {
	SignaturePlacement string `json:"signaturePlacement" yaml:"signaturePlacement" toml:"signaturePlacement" validate:"oneof=every last"`
	StoreFailurePolicy string `json:"storeFailurePolicy" yaml:"storeFailurePolicy" toml:"storeFailurePolicy" validate:"oneof=degrade abort"`
	EmptyCaptionPolicy string `json:"emptyCaptionPolicy" yaml:"emptyCaptionPolicy" toml:"emptyCaptionPolicy" validate:"oneof=optional required"`
	SignOperator       bool   `json:"signOperator" yaml:"signOperator" toml:"signOperator"`
	MediaMaxBytes      int64  `json:"mediaMaxBytes" yaml:"mediaMaxBytes" toml:"mediaMaxBytes" validate:"min=1"`
}

// NotificationsConfig overrides the error texts; empty fields keep the
// built-in wording.
type NotificationsConfig struct {
	UserUnsupported   string `json:"userUnsupported,omitempty" yaml:"userUnsupported,omitempty" toml:"userUnsupported,omitempty"`
	UserMedia         string `json:"userMedia,omitempty" yaml:"userMedia,omitempty" toml:"userMedia,omitempty"`
	UserDelivery      string `json:"userDelivery,omitempty" yaml:"userDelivery,omitempty" toml:"userDelivery,omitempty"`
	GroupUnsupported  string `json:"groupUnsupported,omitempty" yaml:"groupUnsupported,omitempty" toml:"groupUnsupported,omitempty"`
	GroupMedia        string `json:"groupMedia,omitempty" yaml:"groupMedia,omitempty" toml:"groupMedia,omitempty"`
	GroupDelivery     string `json:"groupDelivery,omitempty" yaml:"groupDelivery,omitempty" toml:"groupDelivery,omitempty"`
	GroupMissingPhone string `json:"groupMissingPhone,omitempty" yaml:"groupMissingPhone,omitempty" toml:"groupMissingPhone,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`
}

// DefaultConfigDir returns the default config directory (~/.tgwabridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tgwabridge"
	}
	return filepath.Join(home, ".tgwabridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads path, applies legacy environment overrides and validates the
// result. The format follows the file extension.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.Store.Path = ExpandPath(cfg.Store.Path)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Format returns "yaml", "toml" or "json" for a config file name.
func Format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}

func decode(path string, data []byte, cfg *Config) error {
	switch Format(path) {
	case "yaml":
		return yaml.Unmarshal(data, cfg)
	case "toml":
		return toml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func encode(path string, cfg *Config) ([]byte, error) {
	switch Format(path) {
	case "yaml":
		return yaml.Marshal(cfg)
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return json.MarshalIndent(cfg, "", "  ")
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg in the format implied by path. The file may hold tokens,
// so it is readable by the owner only.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// ExpandPath resolves ~/ to the user's home directory (used by wizard and Load).
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
