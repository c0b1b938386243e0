package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigOverridesDefaultsFieldByField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latchand.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
channel:
  name: telemetry
  frame_count: 8
  max_frame_size: 64KB
bridge:
  listen_addr: ":7070"
`), 0o644))

	got, err := LoadConfig(path)
	require.NoError(t, err)

	want := DefaultConfig()
	want.Channel = ChannelConfig{
		Name:         "telemetry",
		FrameCount:   8,
		MaxFrameSize: 64 * datasize.KB,
	}
	want.Bridge = BridgeConfig{ListenAddr: ":7070"}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigMissingFileFails(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
