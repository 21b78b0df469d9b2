// Package config loads the wpas-ctrl configuration from an optional YAML
// file, WPAS_ prefixed environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables overriding config
// values, e.g. WPAS_CTRL_DIR or WPAS_MQTT_ADDR.
const EnvPrefix = "WPAS"

// Default values.
const (
	DefaultCtrlDir        = "/var/run/wpa_supplicant"
	DefaultRequestTimeout = 10 * time.Second
	DefaultMQTTClientID   = "wpas-ctrl"
	DefaultMQTTPrefix     = "wpas"
)

// Config is the CLI configuration.
type Config struct {
	CtrlDir        string        `mapstructure:"ctrl_dir" yaml:"ctrl_dir"`
	LocalSockDir   string        `mapstructure:"local_sock_dir" yaml:"local_sock_dir"`
	GlobalIface    string        `mapstructure:"global_iface" yaml:"global_iface"`
	Interfaces     []string      `mapstructure:"interfaces" yaml:"interfaces"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	MQTT           MQTT          `mapstructure:"mqtt" yaml:"mqtt"`
}

// MQTT configures the optional event mirror. The mirror is disabled when
// Addr is empty.
type MQTT struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// Enabled reports whether an MQTT broker is configured.
func (m MQTT) Enabled() bool {
	return m.Addr != ""
}

// flagKeys maps command line flag names to config keys.
var flagKeys = map[string]string{
	"ctrl-dir":        "ctrl_dir",
	"sock-dir":        "local_sock_dir",
	"global-iface":    "global_iface",
	"iface":           "interfaces",
	"request-timeout": "request_timeout",
	"mqtt-addr":       "mqtt.addr",
	"mqtt-prefix":     "mqtt.prefix",
}

// Load reads the config file at path, if path is not empty, then applies
// environment overrides and any flags in fs that were set explicitly.
// A leading ~ in path is expanded to the user's home directory.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		expanded, err := expandHome(path)
		if err != nil {
			return nil, err
		}
		if err := ValidateFile(expanded); err != nil {
			return nil, err
		}

		v.SetConfigFile(expanded)
		if ext := filepath.Ext(expanded); ext != ".yaml" && ext != ".yml" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %q: %w", name, err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ctrl_dir", DefaultCtrlDir)
	v.SetDefault("local_sock_dir", "")
	v.SetDefault("global_iface", "")
	v.SetDefault("interfaces", []string{})
	v.SetDefault("request_timeout", DefaultRequestTimeout)
	v.SetDefault("mqtt.addr", "")
	v.SetDefault("mqtt.client_id", DefaultMQTTClientID)
	v.SetDefault("mqtt.prefix", DefaultMQTTPrefix)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

// ValidateFile returns an error if the YAML file at path contains keys
// that are not part of Config, such as a misspelled field name.
func ValidateFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var c Config
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	var errs []error
	if c.CtrlDir == "" {
		errs = append(errs, errors.New("ctrl_dir cannot be blank"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout))
	}
	for _, iface := range c.Interfaces {
		if iface == "" || strings.ContainsRune(iface, '/') {
			errs = append(errs, fmt.Errorf("invalid interface name %q", iface))
		}
	}
	if c.MQTT.Enabled() {
		if c.MQTT.Prefix == "" {
			errs = append(errs, errors.New("mqtt.prefix cannot be blank"))
		}
		if strings.ContainsAny(c.MQTT.Prefix, "+#") {
			errs = append(errs, fmt.Errorf("mqtt.prefix %q cannot contain wildcards", c.MQTT.Prefix))
		}
		if c.MQTT.ClientID == "" {
			errs = append(errs, errors.New("mqtt.client_id cannot be blank"))
		}
	}
	return errors.Join(errs...)
}
