package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "POLICYFORGE"

var durationType = reflect.TypeOf(time.Duration(0))

// Loader reads a configuration file layered over the defaults and the
// environment.
type Loader struct {
	v      *viper.Viper
	path   string
	logger zerolog.Logger
}

// NewLoader creates a loader for path. An empty path uses only defaults
// and the environment.
func NewLoader(path string, logger zerolog.Logger) *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, "", reflect.ValueOf(Default()).Elem())

	if path != "" {
		v.SetConfigFile(path)
	}

	return &Loader{
		v:      v,
		path:   path,
		logger: logger.With().Str("component", "config").Logger(),
	}
}

// Load reads, merges and validates the configuration.
func Load(path string) (*Config, error) {
	return NewLoader(path, zerolog.Nop()).Load()
}

// Load reads, merges and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.path, err)
		}
		l.logger.Debug().Str("file", l.v.ConfigFileUsed()).Msg("Config file loaded")
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch calls onChange with every valid configuration written to the file
// after Load. It needs a config file and returns immediately.
func (l *Loader) Watch(onChange func(*Config)) error {
	if l.path == "" {
		return fmt.Errorf("no config file to watch")
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			l.logger.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid config change")
			return
		}
		l.logger.Info().Str("file", e.Name).Msg("Config reloaded")
		onChange(cfg)
	})
	l.v.WatchConfig()
	return nil
}

// setDefaults registers every leaf of the default config so that
// AutomaticEnv can override keys absent from the file.
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := val.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != durationType {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

var validate = validator.New()

// Validate checks field ranges and the settings that depend on each other.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Backup.Backend == "s3" && c.Backup.S3.Bucket == "" {
		return fmt.Errorf("invalid config: backup.s3.bucket is required for the s3 backend")
	}
	if c.Lock.Backend == "redis" {
		if c.Lock.Redis.Addr == "" {
			return fmt.Errorf("invalid config: lock.redis.addr is required for the redis backend")
		}
		if c.Lock.Redis.TTL <= 0 {
			return fmt.Errorf("invalid config: lock.redis.ttl must be positive")
		}
	}
	if c.Executor.Type == "ssh" && c.SSH.AuthMethod == "password" && c.SSH.Password == "" {
		return fmt.Errorf("invalid config: ssh.password is required for password auth")
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}
