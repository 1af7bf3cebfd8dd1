package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/magnetlab/oxford"
)

// EnvPrefix is the prefix of environment variables that override the config
// file, IPS_ADDR=:9000 or IPS_REDIS__ADDR=localhost:6379
const EnvPrefix = "IPS_"

// RedisSetup configures the progress publisher.  Publishing is off if Addr
// is empty.
type RedisSetup struct {
	Addr     string `koanf:"Addr" yaml:"Addr"`
	Password string `koanf:"Password" yaml:"Password"`
	DB       int    `koanf:"DB" yaml:"DB"`
	Channel  string `koanf:"Channel" yaml:"Channel"`
}

// ObjSetup holds the construction parameters of one supply
type ObjSetup struct {
	// Addr holds the network or filesystem address of the supply,
	// e.g. 192.168.100.123:7020, or /dev/ttyUSB0 for the RS-232 port
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Endpoint is the path the routes of this supply are served under,
	// "omc/ips" produces /omc/ips/field and so on
	Endpoint string `koanf:"Endpoint" yaml:"Endpoint"`

	// Serial determines if the connection is RS-232 (True) or TCP (False)
	Serial bool `koanf:"Serial" yaml:"Serial"`

	// TemperatureLimit is the interlock limit in K.  It is reapplied to the
	// running server when the config file changes.
	TemperatureLimit float64 `koanf:"TemperatureLimit" yaml:"TemperatureLimit"`

	// PollIntervalSec is the pause between iterations of a supervised ramp
	PollIntervalSec float64 `koanf:"PollIntervalSec" yaml:"PollIntervalSec"`

	// HeaterWaitSec is the settling time of the persistent switch
	HeaterWaitSec float64 `koanf:"HeaterWaitSec" yaml:"HeaterWaitSec"`
}

// Config is the configuration of the server
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Mock replaces every supply with an in-process mock
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// LogLevel is a logrus level, "debug" logs every exchange with a supply
	LogLevel string `koanf:"LogLevel" yaml:"LogLevel"`

	// LogFormat is text or json
	LogFormat string `koanf:"LogFormat" yaml:"LogFormat"`

	Redis RedisSetup `koanf:"Redis" yaml:"Redis"`

	// Nodes is the list of supplies to set up
	Nodes []ObjSetup `koanf:"Nodes" yaml:"Nodes"`
}

// DefaultConfig is used for any key the file and environment do not set
func DefaultConfig() Config {
	return Config{
		Addr:      ":8000",
		LogLevel:  "info",
		LogFormat: "text",
		Redis:     RedisSetup{Channel: "magnet"},
		Nodes: []ObjSetup{{
			Addr:             "192.168.100.10:7020",
			Endpoint:         "ips",
			TemperatureLimit: oxford.DefaultTemperatureLimit,
			PollIntervalSec:  oxford.DefaultPollInterval.Seconds(),
			HeaterWaitSec:    oxford.DefaultHeaterWait.Seconds(),
		}},
	}
}

// envKey maps IPS_REDIS__ADDR to the existing key Redis.Addr
func envKey(k *koanf.Koanf) func(string) string {
	return func(s string) string {
		s = strings.ReplaceAll(strings.TrimPrefix(s, EnvPrefix), "__", ".")
		for _, key := range k.Keys() {
			if strings.EqualFold(key, s) {
				return key
			}
		}
		return s
	}
}

// loadConfig layers defaults, the config file at path, a .env file and the
// environment into k.  A missing config or .env file is not an error.
func loadConfig(k *koanf.Koanf, path string) error {
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return fmt.Errorf("loading defaults: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey(k)), nil); err != nil {
		return fmt.Errorf("loading environment: %w", err)
	}
	return nil
}

// unmarshal extracts the Config from k
func unmarshal(k *koanf.Koanf) (Config, error) {
	c := Config{}
	err := k.Unmarshal("", &c)
	return c, err
}

// setupLogger configures log per c
func setupLogger(log *logrus.Logger, c Config) error {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	switch strings.ToLower(c.LogFormat) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("log format %q not understood, use text or json", c.LogFormat)
	}
	log.SetOutput(os.Stderr)
	return nil
}

// watchConfig reloads path when it changes and calls apply with the result
func watchConfig(path string, log logrus.FieldLogger, apply func(Config)) error {
	f := file.Provider(path)
	return f.Watch(func(event interface{}, err error) {
		if err != nil {
			log.WithError(err).Warn("watching config file")
			return
		}
		k := koanf.New(".")
		if err := loadConfig(k, path); err != nil {
			log.WithError(err).Warn("reloading config file")
			return
		}
		c, err := unmarshal(k)
		if err != nil {
			log.WithError(err).Warn("reloading config file")
			return
		}
		apply(c)
	})
}
