package rtshare

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	require.NoError(t, opts.Validate())
	assert.Equal(t, 5*time.Second, opts.SocketTimeout)
	assert.Equal(t, 100*time.Millisecond, opts.AcceptTimeout)
	assert.Equal(t, 300*time.Millisecond, opts.ServerJoinTimeout)
	assert.Equal(t, 5300*time.Millisecond, opts.PumpJoinTimeout)
	assert.Equal(t, "127.0.0.1", opts.ListenHost)
}

func TestParseOptionsOverlay(t *testing.T) {
	opts, err := ParseOptions([]byte("socket_timeout: 2s\nlog_level: debug\nuid_table: uids.yaml\n"))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, opts.SocketTimeout)
	assert.Equal(t, LogLevelDebug, opts.LogLevel)
	assert.Equal(t, "uids.yaml", opts.UIDTable)
	assert.Equal(t, 100*time.Millisecond, opts.AcceptTimeout)

	opts, err = ParseOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(), opts)
}

func TestParseOptionsRejects(t *testing.T) {
	_, err := ParseOptions([]byte("no_such_option: 1\n"))
	assert.Error(t, err)
	_, err = ParseOptions([]byte("log_level: loud\n"))
	assert.Error(t, err)
	_, err = ParseOptions([]byte("accept_timeout: 0s\n"))
	assert.Error(t, err)
}

func TestLoadOptionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rmitap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_host: 0.0.0.0\n"), 0o600))
	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", opts.ListenHost)

	_, err = LoadOptions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
