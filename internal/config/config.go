package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/drunlade/go-esimdl/esim"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// UI modes
const (
	ModeTUI   = "tui"
	ModePlain = "plain"
)

// Config holds esimdl configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Auth   AuthConfig   `mapstructure:"auth"`
	SSH    SSHConfig    `mapstructure:"ssh"`
	UI     UIConfig     `mapstructure:"ui"`
}

// ServerConfig locates the sigmo server.
type ServerConfig struct {
	Origin           string        `mapstructure:"origin"`
	APIBase          string        `mapstructure:"api_base"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

// AuthConfig holds the API token or where to find it.
type AuthConfig struct {
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token_file"`
}

// SSHConfig describes an optional SSH tunnel to the server host.
type SSHConfig struct {
	Host       string `mapstructure:"host"`
	User       string `mapstructure:"user"`
	KnownHosts string `mapstructure:"known_hosts"`
}

// UIConfig holds presentation settings.
type UIConfig struct {
	Mode string `mapstructure:"mode"`
}

// Dir returns the configuration directory.
func Dir() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "esimdl")
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"origin":          "server.origin",
	"api-base":        "server.api_base",
	"timeout":         "server.handshake_timeout",
	"token":           "auth.token",
	"token-file":      "auth.token_file",
	"ssh-host":        "ssh.host",
	"ssh-user":        "ssh.user",
	"ssh-known-hosts": "ssh.known_hosts",
	"ui":              "ui.mode",
}

// Load reads configuration from file, env and flags, in increasing order of
// precedence. Env var overrides use prefix ESIMDL_. An explicit path, from
// the argument or ESIMDL_CONFIG, must exist; the default file is optional.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("server.origin", "http://localhost:9527")
	v.SetDefault("server.api_base", esim.DefaultAPIBase)
	v.SetDefault("server.handshake_timeout", esim.DefaultHandshakeTimeout)
	v.SetDefault("auth.token", "")
	v.SetDefault("auth.token_file", filepath.Join(Dir(), "credentials.toml"))
	v.SetDefault("ssh.host", "")
	v.SetDefault("ssh.user", "")
	v.SetDefault("ssh.known_hosts", filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"))
	v.SetDefault("ui.mode", ModeTUI)

	v.SetConfigType("toml")

	if path == "" {
		path = os.Getenv("ESIMDL_CONFIG")
	}
	explicit := path != ""
	if explicit {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(Dir())
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("ESIMDL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	c.UI.Mode = strings.ToLower(strings.TrimSpace(c.UI.Mode))
	if c.UI.Mode != ModeTUI && c.UI.Mode != ModePlain {
		return Config{}, fmt.Errorf("invalid ui mode %q", c.UI.Mode)
	}
	return c, nil
}

// Session converts the server settings into a session configuration.
func (c Config) Session() *esim.Config {
	cfg := esim.DefaultConfig()
	cfg.Origin = c.Server.Origin
	if c.Server.APIBase != "" {
		cfg.APIBase = c.Server.APIBase
	}
	if c.Server.HandshakeTimeout > 0 {
		cfg.HandshakeTimeout = c.Server.HandshakeTimeout
	}
	return cfg
}
