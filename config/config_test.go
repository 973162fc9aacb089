package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  name: kitchen
  debug: true
  handlerTimeout: 2s
  rateLimit: {rps: 5, burst: 10}
broker:
  url: tcp://localhost:1883
  username: sensor
indicator:
  path: /sys/class/gpio/gpio17/value
  activeLow: true
discovery:
  endpoints: [127.0.0.1:2379]
metrics:
  listen: ":9100"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "kitchen", cfg.Server.Name)
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, 2*time.Second, cfg.Server.HandlerTimeout)
	assert.Equal(t, 5.0, cfg.Server.RateLimit.RPS)
	assert.Equal(t, 1, cfg.Server.QueueLength)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sensor", cfg.Broker.Username)
	assert.True(t, strings.HasPrefix(cfg.Broker.ClientID, "kitchen-"))
	assert.Equal(t, 30*time.Second, cfg.Broker.KeepAlive)
	assert.True(t, cfg.Indicator.ActiveLow)
	assert.Equal(t, []string{"127.0.0.1:2379"}, cfg.Discovery.Endpoints)
	assert.Equal(t, int64(10), cfg.Discovery.TTL)
	assert.Equal(t, ":9100", cfg.Metrics.Listen)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "server: {name: kitchen}\nbroker: {url: tcp://a:1883, clientId: fixed}\n")
	t.Setenv("CALL_SERVER_NAME", "garage")
	t.Setenv("CALL_BROKER_URL", "tcp://b:1883")
	t.Setenv("CALL_ETCD_ENDPOINTS", "e1:2379,e2:2379")
	t.Setenv("CALL_DEBUG", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "garage", cfg.Server.Name)
	assert.Equal(t, "tcp://b:1883", cfg.Broker.URL)
	assert.Equal(t, "fixed", cfg.Broker.ClientID)
	assert.Equal(t, []string{"e1:2379", "e2:2379"}, cfg.Discovery.Endpoints)
	assert.True(t, cfg.Server.Debug)

	t.Setenv("CALL_DEBUG", "maybe")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"missing name":   "broker: {url: tcp://a:1883}\n",
		"wildcard name":  "server: {name: 'a/#'}\nbroker: {url: tcp://a:1883}\n",
		"missing broker": "server: {name: kitchen}\n",
		"burst":          "server: {name: kitchen, rateLimit: {rps: 1}}\nbroker: {url: tcp://a:1883}\n",
		"ttl":            "server: {name: kitchen}\nbroker: {url: tcp://a:1883}\ndiscovery: {endpoints: [x], ttl: 0}\n",
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		assert.Error(t, err, name)
	}

	_, err := Load(writeConfig(t, "server: {name: kitchen}\n"))
	assert.True(t, errors.Is(err, errors.NotValid), "%v", err)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [\n"))
	assert.Error(t, err)
}
