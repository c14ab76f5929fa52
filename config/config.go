// Package config resolves SDK settings from the environment and an optional
// config.env file in the user's config directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AppName     = "dailymotion-go"
	EnvFileName = "config.env"
)

// Transport modes.
const (
	TransportAuto   = "auto"
	TransportBatch  = "batch"
	TransportScript = "script"
)

// Platform endpoints.
const (
	DefaultAPIRoot      = "https://api.dailymotion.com"
	DefaultWWWRoot      = "https://www.dailymotion.com"
	DefaultAuthorizeURL = "https://www.dailymotion.com/oauth/authorize"
	DefaultTokenURL     = "https://graphql.api.dailymotion.com/oauth/token"
	DefaultLogoutURL    = "https://www.dailymotion.com/oauth/logout"
)

type Config struct {
	APIKey    string
	APISecret string

	APIRoot      string
	WWWRoot      string
	AuthorizeURL string
	TokenURL     string
	LogoutURL    string

	// Transport is one of TransportAuto, TransportBatch or TransportScript.
	Transport  string
	FlushDelay time.Duration

	// Cookie enables writing the session to the persister. Reading an
	// existing session happens regardless.
	Cookie  bool
	Logging bool

	Scope       string
	RedirectURI string

	// SessionDB, when set, persists the session in an encrypted SQLite file
	// instead of the cookie jar. TokenKey is the passphrase for it.
	SessionDB string
	TokenKey  string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		APIRoot:      DefaultAPIRoot,
		WWWRoot:      DefaultWWWRoot,
		AuthorizeURL: DefaultAuthorizeURL,
		TokenURL:     DefaultTokenURL,
		LogoutURL:    DefaultLogoutURL,
		Transport:    TransportAuto,
		Logging:      true,
	}
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
func LoadEnvFile() {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return
	}
	configPath := filepath.Join(configBase, AppName, EnvFileName)
	_ = godotenv.Load(configPath)
}

// Load reads config.env and then the DM_* environment variables over the
// defaults.
func Load() (Config, error) {
	LoadEnvFile()
	return FromEnv()
}

// FromEnv builds a Config from DM_* environment variables only.
func FromEnv() (Config, error) {
	cfg := Default()

	cfg.APIKey = os.Getenv("DM_API_KEY")
	cfg.APISecret = os.Getenv("DM_API_SECRET")
	cfg.APIRoot = strings.TrimRight(GetEnv("DM_API_ROOT", cfg.APIRoot), "/")
	cfg.WWWRoot = strings.TrimRight(GetEnv("DM_WWW_ROOT", cfg.WWWRoot), "/")
	cfg.AuthorizeURL = GetEnv("DM_AUTHORIZE_URL", cfg.AuthorizeURL)
	cfg.TokenURL = GetEnv("DM_TOKEN_URL", cfg.TokenURL)
	cfg.LogoutURL = GetEnv("DM_LOGOUT_URL", cfg.LogoutURL)
	cfg.Scope = os.Getenv("DM_SCOPE")
	cfg.RedirectURI = os.Getenv("DM_REDIRECT_URI")
	cfg.SessionDB = os.Getenv("DM_SESSION_DB")
	cfg.TokenKey = os.Getenv("DM_TOKEN_KEY")

	cfg.Transport = strings.ToLower(GetEnv("DM_TRANSPORT", cfg.Transport))
	switch cfg.Transport {
	case TransportAuto, TransportBatch, TransportScript:
	default:
		return cfg, fmt.Errorf("DM_TRANSPORT must be auto, batch or script, got %q", cfg.Transport)
	}

	var err error
	if cfg.Cookie, err = boolEnv("DM_COOKIE", cfg.Cookie); err != nil {
		return cfg, err
	}
	if cfg.Logging, err = boolEnv("DM_LOGGING", cfg.Logging); err != nil {
		return cfg, err
	}
	// DM_DEBUG=1 turns logging back on even if the embedding program disabled it.
	if os.Getenv("DM_DEBUG") == "1" {
		cfg.Logging = true
	}

	if v := os.Getenv("DM_FLUSH_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("DM_FLUSH_DELAY: %w", err)
		}
		cfg.FlushDelay = d
	}

	if cfg.SessionDB != "" && cfg.TokenKey == "" {
		return cfg, fmt.Errorf("DM_TOKEN_KEY is required when DM_SESSION_DB is set")
	}

	return cfg, nil
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

func boolEnv(envVar string, defaultValue bool) (bool, error) {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue, nil
	}
	b, err := ParseBool(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", envVar, err)
	}
	return b, nil
}

// ParseBool accepts the loose boolean spellings used in player parameters and
// env files: "", "false", "no", "off" and "0" are false, "true", "yes", "on"
// and "1" are true.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "false", "no", "off", "0":
		return false, nil
	case "true", "yes", "on", "1":
		return true, nil
	}
	return strconv.ParseBool(value)
}
