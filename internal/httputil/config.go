package httputil

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const readHeaderTimeout = 10 * time.Second

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// Config configures one listener. The coordinator runs two of these:
// the websocket signaling endpoint and the admin surface.
type Config struct {
	Addr string    `mapstructure:"addr"`
	TLS  TLSConfig `mapstructure:"tls"`
}

// Server wraps http.Server with config-driven TLS selection.
type Server struct {
	*http.Server
	tls TLSConfig
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("addr"), ":8080")
	v.SetDefault(p("tls.enabled"), false)
	v.SetDefault(p("tls.cert_file"), "")
	v.SetDefault(p("tls.key_file"), "")
}

func NewServer(cfg *Config, handler http.Handler) *Server {
	return &Server{
		Server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		tls: cfg.TLS,
	}
}

// Listen serves plain or TLS depending on the config. It blocks like
// http.Server.ListenAndServe and returns its errors unchanged.
func (s *Server) Listen() error {
	if !s.tls.Enabled {
		return s.ListenAndServe()
	}
	if s.tls.CertFile == "" || s.tls.KeyFile == "" {
		return errors.New("TLS is enabled but cert_file or key_file is not set")
	}
	return s.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
}
