package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WEBCHAT_SERVER_URL", "http://localhost:8000")
	t.Setenv("WEBCHAT_USER_ID", "7")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, &Config{
		ServerURL:      "http://localhost:8000",
		UserID:         "7",
		ReconnectDelay: 3 * time.Second,
		PingInterval:   30 * time.Second,
		ICEServers:     []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"},
		LogLevel:       "info",
	}, cfg)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WEBCHAT_SERVER_URL", "https://chat.example.com")
	t.Setenv("WEBCHAT_USER_ID", "12")
	t.Setenv("WEBCHAT_RECONNECT_DELAY", "500ms")
	t.Setenv("WEBCHAT_ICE_SERVERS", "stun:a.example.com:3478,turn:b.example.com:3478")
	t.Setenv("WEBCHAT_LOG_LEVEL", "debug")
	t.Setenv("WEBCHAT_VIDEO_OUT", "-")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 500*time.Millisecond, cfg.ReconnectDelay)
	require.Equal(t, []string{"stun:a.example.com:3478", "turn:b.example.com:3478"}, cfg.ICEServers)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "-", cfg.VideoOut)
}

func TestLoadConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "webchat.yaml")
	require.NoError(t, os.WriteFile(file, []byte("server_url: http://files.example.com\nuser_id: 3\nping_interval: 10s\n"), 0o600))
	t.Setenv("WEBCHAT_CONFIG", file)
	t.Setenv("WEBCHAT_USER_ID", "4")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "http://files.example.com", cfg.ServerURL)
	require.Equal(t, "4", cfg.UserID)
	require.Equal(t, 10*time.Second, cfg.PingInterval)
}

func TestLoadRequiresServerAndUser(t *testing.T) {
	t.Setenv("WEBCHAT_SERVER_URL", "")
	t.Setenv("WEBCHAT_USER_ID", "")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "WEBCHAT_SERVER_URL")
	require.Contains(t, err.Error(), "WEBCHAT_USER_ID")
}
