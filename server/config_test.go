package server_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/momentics/hioload-pipe/api"
	"github.com/momentics/hioload-pipe/server"
)

func TestDefaultConfig(t *testing.T) {
	cfg := server.DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.InputBuffers)
	assert.Equal(t, 20, cfg.OutputBuffers)
	assert.Equal(t, 1024, cfg.BufferSize)
	assert.Equal(t, 1, cfg.Backlog)
	assert.Equal(t, 1, cfg.MaxConnections)
	assert.Equal(t, "reverse", cfg.Transform)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.Port = 70000
	cfg.InputBuffers = 0
	cfg.BufferSize = -1
	cfg.Transform = "rot13"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.Len(t, multierr.Errors(err), 4, "port, input buffers, buffer size, transform")
}

func TestParseConfig(t *testing.T) {
	cfg, err := server.ParseConfig([]byte(`
host: 127.0.0.1
port: 9000
input_buffers: 4
buffer_size: 4KiB
max_buffer_size: 1MiB
log_level: debug
transform: upper
`))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 4, cfg.InputBuffers)
	assert.Equal(t, 20, cfg.OutputBuffers, "unset keys keep defaults")
	assert.Equal(t, 4096, cfg.BufferSize)
	assert.Equal(t, 1<<20, cfg.MaxBufferSize)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "upper", cfg.Transform)

	empty, err := server.ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, server.DefaultConfig(), empty)
}

func TestParseConfigErrors(t *testing.T) {
	cases := map[string]string{
		"unknown key":  "ports: 1\n",
		"bad size":     "buffer_size: lots\n",
		"invalid port": "port: -3\n",
		"not yaml":     "port: [\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := server.ParseConfig([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_buffers: 2\n"), 0o600))

	cfg, err := server.LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.OutputBuffers)

	_, err = server.LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseSize(t *testing.T) {
	for in, want := range map[string]int{"1024": 1024, "1KiB": 1024, "1k": 1024, "64MiB": 64 << 20} {
		got, err := server.ParseSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.OutputBuffers = 0
	_, err := server.New(cfg)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}
