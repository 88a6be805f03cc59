package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  apiKeys: ["key-one"]
log:
  level: debug
  pretty: true
database:
  driver: postgres
  host: db.internal
  port: 5432
  user: relay
  password: pw
  name: relaydb
browser:
  baseURL: http://sidecar:7700
  loginTimeout: 90s
  switchTimeout: 20s
  downloadTimeout: 3m
encryption:
  passphrase: p
  salt: s
downloads:
  dir: /tmp/dl
  retentionDays: 14
run:
  workers: 4
  skipDownloadedToday: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, []string{"key-one"}, cfg.Server.APIKeys)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, 90*time.Second, cfg.Browser.LoginTimeout.Std())
	require.Equal(t, 3*time.Minute, cfg.Browser.DownloadTimeout.Std())
	require.Equal(t, 14, cfg.Downloads.RetentionDays)
	require.Equal(t, 4, cfg.Run.Workers)
	require.False(t, cfg.SkipDownloadedToday())
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  host: localhost
  port: 3306
  user: u
  password: p
  name: n
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "mysql", cfg.Database.Driver)
	require.Equal(t, 2*time.Minute, cfg.Browser.LoginTimeout.Std())
	require.Equal(t, 30*time.Second, cfg.Browser.SwitchTimeout.Std())
	require.Equal(t, 5*time.Minute, cfg.Browser.DownloadTimeout.Std())
	require.Equal(t, "downloads", cfg.Downloads.Dir)
	require.Equal(t, 30, cfg.Downloads.RetentionDays)
	require.Equal(t, 2, cfg.Run.Workers)
	require.True(t, cfg.SkipDownloadedToday())
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, `
browser:
  loginTimeout: ninety
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestDSNBuilders(t *testing.T) {
	var cfg Config
	cfg.Database.Driver = "mysql"
	cfg.Database.Host = "127.0.0.1"
	cfg.Database.Port = 3306
	cfg.Database.User = "relay"
	cfg.Database.Password = "pw"
	cfg.Database.Name = "relaydb"

	require.Equal(t,
		"relay:pw@tcp(127.0.0.1:3306)/relaydb?parseTime=true&charset=utf8mb4&loc=UTC",
		cfg.MySQLDSN())
	require.Equal(t,
		"host=127.0.0.1 port=3306 user=relay password=pw dbname=relaydb sslmode=disable",
		cfg.PostgresDSN())
}
