package workload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
version: 1
services:
  gateway:
    operations:
      GET /users:
        duration: 5ms +/- 1ms
        error_rate: 0.1%
        calls:
          - backend.list
  backend:
    operations:
      list:
        duration: 3ms +/- 1ms
        error_rate: 0.1%
traffic:
  rate: 200/s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewSynthRunner_RequiresConfigPath(t *testing.T) {
	_, err := NewSynthRunner(SynthRunnerConfig{})
	assert.Error(t, err)
}

func TestNewSynthRunner_DefaultsDurationAndProtocol(t *testing.T) {
	r, err := NewSynthRunner(SynthRunnerConfig{ConfigPath: "x.yaml"})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, r.cfg.Duration)
	assert.Equal(t, ProtocolHTTP, r.cfg.Protocol)
}

// TestSynthRunner_Run_StdoutProtocolCompletesWithinDeadline exercises the
// full topology-load/traffic/engine wiring end to end with a stdout
// exporter, so it needs no network endpoint to reach a running engine.
func TestSynthRunner_Run_StdoutProtocolCompletesWithinDeadline(t *testing.T) {
	path := writeConfig(t, validConfig)
	r, err := NewSynthRunner(SynthRunnerConfig{
		ConfigPath: path,
		Protocol:   ProtocolStdout,
		Duration:   20 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start, end, depth, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	assert.False(t, end.Before(start))
}
