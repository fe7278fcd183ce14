package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workforce-oss/workforce-sub002/internal/bus"
	"github.com/workforce-oss/workforce-sub002/internal/docrepo"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/worker"
)

const fullYAML = `
broker:
  mode: nats
  request_timeout: 30s
cache:
  mode: in-memory
nats:
  url: nats://127.0.0.1:4222
database:
  driver: mysql
  dsn: user:pass@tcp(127.0.0.1:3306)/workforce
log:
  level: debug
  format: json
daemons:
  document_sweep: 2m
  worker_flush: -1s
credentials:
  slack-bot: xoxb-123
objects:
  - id: c1
    name: support
    kind: channel
    subtype: slack-channel
    variables:
      channel_id: C123
  - id: w1
    name: helper
    kind: worker
    subtype: mock-worker
    variables:
      wip_limit: 2
      skills: [go]
`

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	require.NoError(t, err)

	assert.Equal(t, bus.ModeNATS, cfg.Broker.Mode)
	assert.Equal(t, 30*time.Second, cfg.Broker.RequestTimeout)
	assert.Equal(t, bus.ModeLocal, cfg.Cache.Mode)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 2*time.Minute, cfg.Daemons.DocumentSweep)
	assert.Equal(t, -time.Second, cfg.Daemons.WorkerFlush)
	assert.Equal(t, "xoxb-123", cfg.Credentials["slack-bot"])

	require.Len(t, cfg.Objects, 2)
	assert.Equal(t, objects.KindChannel, cfg.Objects[0].Kind)
	assert.Equal(t, "C123", cfg.Objects[0].Variables["channel_id"])
	assert.Equal(t, []string{"go"}, worker.SettingsOf(cfg.Objects[1]).Skills)
	assert.Equal(t, 2, worker.SettingsOf(cfg.Objects[1]).WIPLimit)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, bus.ModeLocal, cfg.Broker.Mode)
	assert.Equal(t, bus.ModeLocal, cfg.Cache.Mode)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, DefaultDSN, cfg.Database.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, docrepo.DefaultSweepInterval, cfg.Daemons.DocumentSweep)
	assert.Equal(t, worker.DefaultFlushInterval, cfg.Daemons.WorkerFlush)
	assert.Zero(t, cfg.Broker.RequestTimeout)
}

func TestCacheModeFollowsBroker(t *testing.T) {
	cfg, err := Parse([]byte("broker:\n  mode: nats\nnats:\n  url: nats://localhost:4222\n"))
	require.NoError(t, err)
	assert.Equal(t, bus.ModeNATS, cfg.Cache.Mode)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("WORKFORCE_BROKER_MODE", "nats")
	t.Setenv("NATS_URL", "nats://env:4222")
	t.Setenv("WORKFORCE_DB_DSN", "env.db")
	t.Setenv("WORKFORCE_LOG_LEVEL", "warn")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-env")
	t.Setenv("SLACK_APP_TOKEN", "xapp-env")
	t.Setenv("GITHUB_TOKEN", "ghp-env")

	cfg, err := Parse([]byte("log:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, bus.ModeNATS, cfg.Broker.Mode)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, "env.db", cfg.Database.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "xoxb-env", cfg.Slack.BotToken)
	assert.Equal(t, "xapp-env", cfg.Slack.AppToken)
	assert.Equal(t, "ghp-env", cfg.GitHub.Token)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown broker mode", "broker:\n  mode: carrier-pigeon\n", "broker.mode"},
		{"nats without url", "broker:\n  mode: nats\n", "requires nats.url"},
		{"negative timeout", "broker:\n  request_timeout: -1s\n", "request_timeout"},
		{"unknown driver", "database:\n  driver: postgres\n  dsn: x\n", "database.driver"},
		{"mysql without dsn", "database:\n  driver: mysql\n", "database.dsn"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"bad format", "log:\n  format: xml\n", "log.format"},
		{"short sweep", "daemons:\n  document_sweep: 10ms\n", "daemons.document_sweep"},
		{"object without id", "objects:\n  - name: a\n    kind: channel\n    subtype: mock\n", "objects[0]"},
		{"object without subtype", "objects:\n  - id: a\n    name: a\n    kind: channel\n", "subtype is required"},
		{"duplicate ids", "objects:\n  - {id: a, name: a, kind: channel, subtype: mock}\n  - {id: a, name: b, kind: tool, subtype: mock}\n", "duplicate id a"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("broker: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: parse")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workforce.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: json\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.Log.Format)
}
