package looperserver

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read into AppConfig,
// e.g. LOOPER_PORT or LOOPER_AUTH_SECRET.
const EnvPrefix = "LOOPER"

// AppConfig holds server-level runtime configuration.
type AppConfig struct {
	Host       string
	Port       int
	LogLevel   string
	LogFormat  string
	LogFile    string
	ConfigFile string
	AuthSecret string
}

// BindFlags registers the app flags on cmd and binds them to v.
// Flags override env, env overrides defaults.
func BindFlags(cmd *cobra.Command, v *viper.Viper) error {
	fs := cmd.PersistentFlags()
	fs.String("host", "0.0.0.0", "listen host")
	fs.Int("port", 8000, "listen port")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "text", "log format (text, json)")
	fs.String("log-file", "", "log file path (optional)")
	fs.String("config", "", "path to looper.yaml")
	fs.String("auth-secret", "", "HS256 secret; enables bearer auth when set")

	for _, name := range []string{"host", "port", "log-level", "log-format", "log-file", "config", "auth-secret"} {
		if err := v.BindPFlag(name, fs.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// NewViper returns a viper instance reading LOOPER_* env vars.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
	return v
}

// LoadDotEnv loads the first .env file found among paths. Missing files are
// not an error; existing env vars are never overridden.
func LoadDotEnv(paths ...string) string {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadAppConfig reads the resolved configuration out of v.
func LoadAppConfig(v *viper.Viper) (*AppConfig, error) {
	cfg := &AppConfig{
		Host:       v.GetString("host"),
		Port:       v.GetInt("port"),
		LogLevel:   v.GetString("log-level"),
		LogFormat:  v.GetString("log-format"),
		LogFile:    v.GetString("log-file"),
		ConfigFile: v.GetString("config"),
		AuthSecret: v.GetString("auth-secret"),
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	return cfg, nil
}
