package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"sim": { "interval": "500ms", "historyLimit": 5 },
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
	assert.Equal(t, 500*time.Millisecond, GetSimConfig().Interval)
	assert.Equal(t, 5, GetSimConfig().HistoryLimit)
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./fleetlogs", viper.GetString("logsDir"))
	assert.Equal(t, "localhost", viper.GetString("db.host"))
	assert.Equal(t, "5432", viper.GetString("db.port"))
	assert.Equal(t, "fleetsim", viper.GetString("db.database"))
	assert.Equal(t, false, viper.GetBool("influx.enabled"))
	assert.Equal(t, "fleet_telemetry", viper.GetString("influx.bucket"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
	assert.Equal(t, "memory", viper.GetString("storage.type"))
	assert.Equal(t, "./recordings", viper.GetString("storage.memory.outputDir"))
	assert.Equal(t, true, viper.GetBool("storage.memory.compressOutput"))
	assert.Equal(t, "3m", viper.GetString("storage.sqlite.dumpInterval"))
	assert.Equal(t, false, viper.GetBool("otel.enabled"))
	assert.Equal(t, "fleetsim", viper.GetString("otel.serviceName"))
	assert.Equal(t, ":8080", viper.GetString("http.addr"))
	assert.Equal(t, "", viper.GetString("api.serverUrl"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
	assert.True(t, IsNotFound(err))

	// defaults are still registered
	assert.Equal(t, 3*time.Second, GetSimConfig().Interval)
}

func TestLoad_MalformedFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(writeConfig(t, `{"logLevel": `))
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}

func TestLoad_DotEnvAndEnvOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("FLEETSIM_HTTP_ADDR", "")
	os.Unsetenv("FLEETSIM_HTTP_ADDR")
	t.Setenv("FLEETSIM_STORAGE_TYPE", "sqlite")

	dir := writeConfig(t, `{"storage": {"type": "postgres"}}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FLEETSIM_HTTP_ADDR=:9999\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("FLEETSIM_HTTP_ADDR") })

	require.NoError(t, Load(dir))

	assert.Equal(t, ":9999", GetHTTPConfig().Addr)
	assert.Equal(t, "sqlite", GetStorageConfig().Type)
}

func TestGetString(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	assert.Equal(t, "testValue", GetString("testKey"))
}

func TestGetInt(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testInt", 42)
	assert.Equal(t, 42, GetInt("testInt"))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetSimConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetSimConfig()
	assert.Equal(t, 3*time.Second, cfg.Interval)
	assert.Equal(t, 20, cfg.HistoryLimit)
	assert.Equal(t, uint64(0), cfg.Seed)
	assert.False(t, cfg.AutoStart)
	assert.Empty(t, cfg.RosterFile)
}

func TestGetSimConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"sim": { "interval": "1s", "historyLimit": 50, "seed": 1234, "autoStart": true, "rosterFile": "fleet.json" }
	}`)))

	cfg := GetSimConfig()
	assert.Equal(t, time.Second, cfg.Interval)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, uint64(1234), cfg.Seed)
	assert.True(t, cfg.AutoStart)
	assert.Equal(t, "fleet.json", cfg.RosterFile)
}

func TestGetStorageConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetStorageConfig()
	assert.Equal(t, "memory", cfg.Type)
	assert.Equal(t, "./recordings", cfg.Memory.OutputDir)
	assert.Equal(t, true, cfg.Memory.CompressOutput)
	assert.Equal(t, 3*time.Minute, cfg.SQLite.DumpInterval)
	assert.Equal(t, "./fleetsim.db", cfg.SQLite.DumpPath)
	assert.Equal(t, "postgres", cfg.DB.Username)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"storage": {
			"type": "sqlite",
			"memory": { "outputDir": "/tmp/out", "compressOutput": false },
			"sqlite": { "dumpInterval": "10m", "dumpPath": "/tmp/f.db" },
			"websocket": { "url": "ws://example:5000/stream", "secret": "s3cret" }
		}
	}`)))

	sc := GetStorageConfig()
	assert.Equal(t, "sqlite", sc.Type)
	assert.Equal(t, "/tmp/out", sc.Memory.OutputDir)
	assert.Equal(t, false, sc.Memory.CompressOutput)
	assert.Equal(t, 10*time.Minute, sc.SQLite.DumpInterval)
	assert.Equal(t, "/tmp/f.db", sc.SQLite.DumpPath)
	assert.Equal(t, "ws://example:5000/stream", sc.Websocket.URL)
	assert.Equal(t, "s3cret", sc.Websocket.Secret)
}

func TestGetOTelConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetOTelConfig()
	assert.Equal(t, false, cfg.Enabled)
	assert.Equal(t, "fleetsim", cfg.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, "", cfg.Endpoint)
	assert.Equal(t, true, cfg.Insecure)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"otel": {
			"enabled": true,
			"serviceName": "my-service",
			"batchTimeout": "30s",
			"endpoint": "localhost:4317",
			"insecure": false
		}
	}`)))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "my-service", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, "localhost:4317", oc.Endpoint)
	assert.Equal(t, false, oc.Insecure)
}

func TestGetInfluxHTTPMonitorAPIConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"influx": { "enabled": true, "org": "acme" },
		"http": { "enabled": false },
		"monitor": { "interval": "250ms" },
		"api": { "serverUrl": "http://archive:5000", "apiKey": "k" }
	}`)))

	ic := GetInfluxConfig()
	assert.True(t, ic.Enabled)
	assert.Equal(t, "acme", ic.Org)
	assert.Equal(t, "8086", ic.Port)

	assert.False(t, GetHTTPConfig().Enabled)
	assert.Equal(t, ":8080", GetHTTPConfig().Addr)
	assert.Equal(t, 60, GetHTTPConfig().RateLimit)
	assert.Equal(t, time.Minute, GetHTTPConfig().RateWindow)
	assert.Equal(t, 250*time.Millisecond, GetMonitorConfig().Interval)
	assert.Equal(t, APIConfig{ServerURL: "http://archive:5000", APIKey: "k"}, GetAPIConfig())
}
