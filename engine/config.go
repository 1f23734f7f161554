package engine

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	BaseURL         string        `mapstructure:"base_url"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	MaxPingFailures int           `mapstructure:"max_ping_failures"`
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("base_url"), "http://media-engine:4443")
	v.SetDefault(p("ping_interval"), "5s")
	v.SetDefault(p("max_ping_failures"), 3)
}
