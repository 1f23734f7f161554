package config

import (
	"time"

	"github.com/spf13/viper"
)

// App holds the process-wide settings shared by every binary.
type App struct {
	// LogConfigFile points at a zap config file; empty keeps the
	// built-in production config.
	LogConfigFile   string        `mapstructure:"log_config_file"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("log_config_file"), "")
	v.SetDefault(p("shutdown_timeout"), "10s")
}
