package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Load fills c from defaults and environment variables. configure runs
// against the fresh viper instance first; packages hang their Setup
// defaults there. Env keys are the config keys upper-cased with dots
// replaced by underscores (ws_http.addr -> WS_HTTP_ADDR).
func Load[T any](c *T, configure func(v *viper.Viper)) (*T, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configure(v)
	return c, v.Unmarshal(c)
}
