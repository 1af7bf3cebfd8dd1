package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/knadh/koanf"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yml "gopkg.in/yaml.v2"
)

func TestLoadConfigDefaultsWhenFileMissing(t *testing.T) {
	k := koanf.New(".")
	require.NoError(t, loadConfig(k, filepath.Join(t.TempDir(), "missing.yml")))
	c, err := unmarshal(k)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)
}

func TestLoadConfigFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipsserver.yml")
	body := `Addr: ":9001"
Mock: true
Redis:
  Addr: "localhost:6379"
Nodes:
  - Endpoint: "omc/ips"
    TemperatureLimit: 4.5
    PollIntervalSec: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("IPS_LOGLEVEL", "debug")
	t.Setenv("IPS_REDIS__CHANNEL", "lab")

	k := koanf.New(".")
	require.NoError(t, loadConfig(k, path))
	c, err := unmarshal(k)
	require.NoError(t, err)
	assert.Equal(t, ":9001", c.Addr)
	assert.True(t, c.Mock)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "localhost:6379", c.Redis.Addr)
	assert.Equal(t, "lab", c.Redis.Channel)
	require.Len(t, c.Nodes, 1)
	assert.Equal(t, "omc/ips", c.Nodes[0].Endpoint)
	assert.Equal(t, 4.5, c.Nodes[0].TemperatureLimit)
	assert.Equal(t, 0.5, c.Nodes[0].PollIntervalSec)
}

func TestLoadConfigBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipsserver.yml")
	require.NoError(t, os.WriteFile(path, []byte("Addr: [unclosed"), 0o644))
	assert.Error(t, loadConfig(koanf.New("."), path))
}

func TestEmittedConfigReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipsserver.yml")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, yml.NewEncoder(f).Encode(DefaultConfig()))
	require.NoError(t, f.Close())

	k := koanf.New(".")
	require.NoError(t, loadConfig(k, path))
	c, err := unmarshal(k)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)
}

func TestSetupLogger(t *testing.T) {
	log := logrus.New()
	require.NoError(t, setupLogger(log, Config{LogLevel: "warn", LogFormat: "json"}))
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	assert.Error(t, setupLogger(log, Config{LogLevel: "loud"}))
	assert.Error(t, setupLogger(log, Config{LogLevel: "info", LogFormat: "xml"}))
}
