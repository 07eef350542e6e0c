package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/autopilot/pkg/config/filestore"
)

func writeSettings(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func noEnv(string) (string, bool) { return "", false }

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "autopilot.yaml", `
server:
  addr: ":9090"
  shutdown_timeout: 5s
ssh:
  transport: native
  insecure_ignore_host_key: true
tasks:
  timeout: 2m
`},
		{"toml", "autopilot.toml", `
[server]
addr = ":9090"
shutdown_timeout = "5s"

[ssh]
transport = "native"
insecure_ignore_host_key = true

[tasks]
timeout = "2m"
`},
		{"json", "autopilot.json", `{
  "server": {"addr": ":9090", "shutdown_timeout": "5s"},
  "ssh": {"transport": "native", "insecure_ignore_host_key": true},
  "tasks": {"timeout": "2m"}
}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := filestore.New(writeSettings(t, tt.file, tt.content))
			s, err := Load(context.Background(), store, "")
			require.NoError(t, err)

			assert.Equal(t, ":9090", s.Server.Addr)
			assert.Equal(t, 5*time.Second, s.Server.ShutdownTimeout.Std())
			assert.Equal(t, "native", s.SSH.Transport)
			assert.True(t, s.SSH.InsecureIgnoreHostKey)
			assert.Equal(t, 2*time.Minute, s.Tasks.Timeout.Std())
			// untouched keys keep their defaults
			assert.Equal(t, 4, s.Server.Workers)
			assert.Equal(t, "ssh-keygen", s.SSH.Keygen)
		})
	}
}

func TestLoadWithoutStore(t *testing.T) {
	s, err := Load(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *s)
}

func TestApplyEnvPrecedence(t *testing.T) {
	dotenv := writeSettings(t, ".env", "AUTOPILOT_SERVER_ADDR=:7000\nAUTOPILOT_KAFKA_BROKERS=k1:9092, k2:9092\n")
	t.Setenv("AUTOPILOT_SERVER_ADDR", ":7777")
	t.Setenv("AUTOPILOT_TASK_TIMEOUT", "45s")
	t.Setenv("AUTOPILOT_SSH_INSECURE_IGNORE_HOST_KEY", "true")

	s, err := Load(context.Background(), nil, dotenv)
	require.NoError(t, err)
	assert.Equal(t, ":7777", s.Server.Addr, "process env wins over .env")
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, s.Kafka.Brokers)
	assert.Equal(t, 45*time.Second, s.Tasks.Timeout.Std())
	assert.True(t, s.SSH.InsecureIgnoreHostKey)
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	s := Defaults()
	err := ApplyEnv(&s, func(k string) (string, bool) {
		if k == "AUTOPILOT_SERVER_WORKERS" {
			return "many", true
		}
		return "", false
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTOPILOT_SERVER_WORKERS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		errMsg string
	}{
		{"defaults", func(*Settings) {}, ""},
		{"bad transport", func(s *Settings) { s.SSH.Transport = "telnet" }, "transport"},
		{"bad log format", func(s *Settings) { s.Log.Format = "xml" }, "format"},
		{"no workers", func(s *Settings) { s.Server.Workers = 0 }, "workers"},
		{"file archive without dir", func(s *Settings) { s.Archive.Backend = "file"; s.Archive.Dir = "" }, "dir"},
		{"mongo archive without uri", func(s *Settings) { s.Archive.Backend = "mongo" }, "archive.mongo.uri"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(&s)
			err := s.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
	s := Defaults()
	require.NoError(t, ApplyEnv(&s, noEnv))
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())
	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
