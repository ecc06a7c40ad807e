package peer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"port: 7777\n"+
			"connection_timeout: 10\n"+
			"receive_buffer_size: 65536\n"+
			"metrics_endpoint: 127.0.0.1:9090\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 7777, cfg.Port)
	require.Equal(t, 10.0, cfg.ConnectionTimeout)
	require.Equal(t, datasize.ByteSize(65536), cfg.ReceiveBufferSize)
	require.Equal(t, "127.0.0.1:9090", cfg.MetricsEndpoint)

	// Untouched fields keep their defaults.
	require.Equal(t, 4.0, cfg.PingInterval)
	require.Equal(t, 5, cfg.MaxHandshakeAttempts)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestMessageKindMask(t *testing.T) {
	cfg := DefaultConfig()
	require.True(t, cfg.IsKindEnabled(KindData))
	require.True(t, cfg.IsKindEnabled(KindStatusChanged))
	require.False(t, cfg.IsKindEnabled(KindConnectionLatencyUpdated))

	cfg.EnableMessageKind(KindConnectionLatencyUpdated)
	require.True(t, cfg.IsKindEnabled(KindConnectionLatencyUpdated))

	cfg.DisableMessageKind(KindData)
	require.False(t, cfg.IsKindEnabled(KindData))
	require.True(t, cfg.IsKindEnabled(KindStatusChanged))
}
