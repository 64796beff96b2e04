package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codecrate/config"
)

func TestNewEngine(t *testing.T) {
	tests := []struct {
		backend  string
		expected any
		hasError bool
	}{
		{"docker", &DockerEngine{}, false},
		{"podman", &PodmanEngine{}, false},
		{"local", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Sandbox.Backend = tt.backend
			cfg.Sandbox.MaxOutputKB = 64

			engine, err := NewEngine(zaptest.NewLogger(t), cfg)
			if tt.hasError {
				require.ErrorIs(t, err, ErrUnsupportedBackend)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.expected, engine)
		})
	}
}

func TestNewLimits(t *testing.T) {
	cfg := &config.Config{}
	cfg.Sandbox.MemoryMB = 256
	cfg.Sandbox.CPUs = 0.5
	cfg.Sandbox.TimeoutSec = 30
	cfg.Sandbox.PidsLimit = 64
	cfg.Sandbox.MaxOutputKB = 2
	cfg.Sandbox.Workdir = "/sandbox"
	cfg.Sandbox.WorkdirSizeMB = 16

	limits := NewLimits(cfg)

	assert.Equal(t, int64(256*BytesPerMB), limits.MemoryBytes)
	assert.InDelta(t, 0.5, limits.CPUs, 1e-9)
	assert.Equal(t, 30, limits.WallClockSeconds())
	assert.Equal(t, int64(64), limits.PidsLimit)
	assert.Equal(t, 2048, limits.MaxOutputBytes)
	assert.Equal(t, "/sandbox", limits.Workdir)
	assert.Equal(t, int64(16*BytesPerMB), limits.WorkdirSizeBytes)
}
