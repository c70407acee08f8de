package bridge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
panel:
  host: 192.168.1.50
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.50:6681", config.PanelAddress())
	assert.Equal(t, ":8081", config.API.Address)
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "4h", config.Panel.HeartbeatTimeout)
	assert.Equal(t, 30, config.Panel.RateLimit)
	assert.False(t, config.Security.AuthRequired)
}

func TestLoadConfigRejectsMissingHost(t *testing.T) {
	path := writeConfigFile(t, `
api:
  address: ":9090"
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panel host")
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	path := writeConfigFile(t, `
panel:
  host: 192.168.1.50
  command_pacing: soon
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command_pacing")
}

func TestValidateAuthRequiresCredentials(t *testing.T) {
	path := writeConfigFile(t, `
panel:
  host: 192.168.1.50
security:
  auth_required: true
  jwt:
    secret_key: "0123456789abcdef0123456789abcdef"
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operator credentials")
}

func TestSessionConfigMapping(t *testing.T) {
	path := writeConfigFile(t, `
panel:
  host: 10.0.0.5
  port: 6682
  command_pacing: 500ms
  rate_limit: 10
  breaker_threshold: 7
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	sc := config.SessionConfig()
	assert.Equal(t, "10.0.0.5:6682", sc.Address)
	assert.Equal(t, 500*time.Millisecond, sc.CommandPacing)
	assert.Equal(t, 10, sc.RateLimit)
	assert.Equal(t, 7, sc.BreakerThreshold)
	assert.Equal(t, 4*time.Hour, sc.HeartbeatTimeout)
	assert.Equal(t, 30*time.Second, sc.ReconnectSpacing)
}

func TestSaveAndReloadConfig(t *testing.T) {
	config := NewDefaultConfig()
	config.Panel.Host = "pool-panel.local"

	path := filepath.Join(t.TempDir(), "saved.yml")
	require.NoError(t, SaveConfig(config, path))

	reloaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "pool-panel.local:6681", reloaded.PanelAddress())
}
