package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/viper"
)

// Secret names, read from the environment or the secrets file.
const (
	SecretBotNumber = "bot_number"
	SecretTeliKey   = "teli_key"
	SecretGroups    = "groups"
	SecretOrder     = "order"
	SecretMigrate   = "migrate"
	SecretAdmin     = "admin"
	SecretEnv       = "env"
	SecretURL       = "url"
)

// ApplySecrets overlays secrets onto cfg. Environment variables (BOT_NUMBER,
// TELI_KEY, ...) take precedence over the dotenv file at
// cfg.General.SecretsFile, which may be absent.
func ApplySecrets(cfg *Config) error {
	v := viper.New()
	v.AutomaticEnv()

	if path := cfg.General.SecretsFile; path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read secrets %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat secrets %s: %w", path, err)
		}
	}

	setString := func(key string, dst *string) {
		if v.IsSet(key) && v.GetString(key) != "" {
			*dst = v.GetString(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	setString(SecretBotNumber, &cfg.Bot.Number)
	setString(SecretTeliKey, &cfg.Teli.Token)
	setString(SecretAdmin, &cfg.General.Admin)
	setString(SecretEnv, &cfg.General.Env)
	setString(SecretURL, &cfg.HTTP.PublicURL)
	setBool(SecretGroups, &cfg.Bot.GroupRoutes)
	setBool(SecretOrder, &cfg.Bot.Ordering)
	setBool(SecretMigrate, &cfg.Bot.Migrate)
	return nil
}

// Required checks the values a serving bot cannot run without.
func Required(cfg *Config) error {
	var missing []string
	if cfg.Bot.Number == "" {
		missing = append(missing, "bot.number (BOT_NUMBER)")
	}
	if cfg.Teli.Token == "" {
		missing = append(missing, "teli.token (TELI_KEY)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %v", missing)
	}
	return nil
}
