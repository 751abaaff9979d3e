package config

import (
	"slices"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override (PHRASEBOT_TELEGRAM_TOKEN, ...).
const EnvPrefix = "PHRASEBOT"

// envOverrides are secrets and deployment knobs that may live outside the
// config file. Non-empty values win over the file.
type envOverrides struct {
	TelegramToken   string `envconfig:"TELEGRAM_TOKEN"`
	AdminID         int64  `envconfig:"ADMIN_ID"`
	StorageDriver   string `envconfig:"STORAGE_DRIVER"`
	StoragePath     string `envconfig:"STORAGE_PATH"`
	StorageDSN      string `envconfig:"STORAGE_DSN"`
	Timezone        string `envconfig:"TIMEZONE"`
	GeneratorAPIKey string `envconfig:"GENERATOR_API_KEY"`
	HTTPAddr        string `envconfig:"HTTP_ADDR"`
}

// ApplyEnv overlays PHRASEBOT_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var ov envOverrides
	if err := envconfig.Process(EnvPrefix, &ov); err != nil {
		return err
	}
	applyOverrides(cfg, ov)
	return nil
}

func applyOverrides(cfg *Config, ov envOverrides) {
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setStr(&cfg.Telegram.Token, ov.TelegramToken)
	setStr(&cfg.Storage.Driver, ov.StorageDriver)
	setStr(&cfg.Storage.Path, ov.StoragePath)
	setStr(&cfg.Storage.DSN, ov.StorageDSN)
	setStr(&cfg.Scheduler.Timezone, ov.Timezone)
	setStr(&cfg.Generator.APIKey, ov.GeneratorAPIKey)
	setStr(&cfg.HTTP.Addr, ov.HTTPAddr)

	if ov.AdminID != 0 {
		if !slices.Contains(cfg.Telegram.OwnerUserIDs, ov.AdminID) {
			cfg.Telegram.OwnerUserIDs = append(cfg.Telegram.OwnerUserIDs, ov.AdminID)
		}
		if cfg.Telegram.AdminChatID == 0 {
			cfg.Telegram.AdminChatID = ov.AdminID
		}
	}
}
