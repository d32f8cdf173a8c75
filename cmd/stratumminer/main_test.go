package main

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"STRATUM_URL", "STRATUM_USER", "STRATUM_PASSWORD",
		"MINER_THREADS", "MINER_MAX_TIME_SKEW", "STATUS_ADDR", "LOG_LEVEL", "LOG_FORMAT",
		"KAFKA_BROKERS", "POSTGRES_URL", "REDIS_URL", "INFLUX_URL",
	} {
		t.Setenv(key, "")
	}
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-h"}, &stdout, &stderr)

	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout.String(), "Usage: stratumminer")
	assert.Contains(t, stdout.String(), "-o")
	assert.Empty(t, stderr.String())
}

func TestRun_UsageErrors(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no arguments", nil, "pool URL is required"},
		{"missing user", []string{"-o", "stratum+tcp://pool:3333", "-p", "x"}, "username is required"},
		{"missing password", []string{"-o", "pool:3333", "-u", "w"}, "password is required"},
		{"missing port", []string{"-o", "stratum+tcp://pool", "-u", "w", "-p", "x"}, "host:port"},
		{"unknown flag", []string{"-bogus"}, "flag provided but not defined"},
		{"bad config file", []string{"-config", "/does/not/exist.toml"}, "cannot read config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(tt.args, &stdout, &stderr)

			assert.Equal(t, exitUsage, code)
			assert.Contains(t, stderr.String(), tt.want)
			assert.Contains(t, stderr.String(), "Usage: stratumminer")
		})
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "miner.toml")
	content := `
[pool]
url = "stratum+tcp://file.example.com:4444"
user = "from-file"
password = "file-secret"

[miner]
threads = 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("STRATUM_USER", "from-env")
	t.Setenv("STRATUM_PASSWORD", "env-secret")

	f := newFlags(&bytes.Buffer{})
	require.NoError(t, f.set.Parse([]string{"-config", path, "-p", "flag-secret", "-t", "7"}))

	cfg, err := f.loadConfig()
	require.NoError(t, err)

	assert.Equal(t, "file.example.com", cfg.PoolHost)
	assert.Equal(t, 4444, cfg.PoolPort)
	assert.Equal(t, "from-env", cfg.Username)
	assert.Equal(t, "flag-secret", cfg.Password)
	assert.Equal(t, 7, cfg.Threads)
}

func TestLoadConfig_UnsetFlagsKeepEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("STRATUM_URL", "tcp://env.example.com:3333")
	t.Setenv("STRATUM_USER", "env-user")
	t.Setenv("STRATUM_PASSWORD", "x")
	t.Setenv("MINER_THREADS", "5")

	f := newFlags(&bytes.Buffer{})
	require.NoError(t, f.set.Parse([]string{"-log-level", "debug"}))

	cfg, err := f.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Threads)
	assert.Equal(t, "env-user", cfg.Username)
	assert.Equal(t, "debug", cfg.LogLevel)
}

// TestRun_SubscribeRejected drives the whole binary against a pool that
// refuses the subscription.
func TestRun_SubscribeRejected(t *testing.T) {
	clearEnv(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

		line, err := bufio.NewReader(conn).ReadBytes('\n')
		if err != nil {
			return
		}
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		if json.Unmarshal(line, &req) != nil || req.Method != "mining.subscribe" {
			return
		}
		fmt.Fprintf(conn, `{"id":%d,"result":null,"error":[20,"Not accepting miners",null]}`+"\n", req.ID)
		// hold the connection until the client hangs up
		_, _ = conn.Read(make([]byte, 1024))
	}()

	var stdout, stderr bytes.Buffer
	code := run([]string{
		"-o", "stratum+tcp://" + listener.Addr().String(),
		"-u", "worker1",
		"-p", "x",
		"-t", "1",
		"-log-format", "text",
	}, &stdout, &stderr)

	assert.Equal(t, exitFatal, code)
	logs := stderr.String()
	assert.True(t, strings.Contains(logs, "Not accepting miners"), "logs: %s", logs)
}
