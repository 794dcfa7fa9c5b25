package settings

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaults(t *testing.T) {
	cs, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000/api", cs.BaseURL)
	require.NotNil(t, cs.Timeout)
	assert.Equal(t, 30*time.Second, *cs.Timeout)
	assert.True(t, cs.AllowHTTP)
	assert.True(t, cs.AllowLocalNetworks)
	assert.False(t, cs.Cache)
}

func TestPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(
		"base-url: http://from-file:9000/api\ntimeout: 5\ncache: true\nconversation: from-file\n",
	), 0o600))

	t.Setenv("VIVARIUM_TIMEOUT", "7")
	t.Setenv("VIVARIUM_ALLOW_HTTP", "false")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"--conversation", "from-flag"}))

	v := viper.New()
	require.NoError(t, InitViper(v, configFile, fs))

	cs, err := FromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "http://from-file:9000/api", cs.BaseURL)
	assert.Equal(t, 7, *cs.TimeoutSeconds)
	assert.Equal(t, 7*time.Second, *cs.Timeout)
	assert.True(t, cs.Cache)
	assert.Equal(t, "from-flag", cs.ConversationID)
	assert.False(t, cs.AllowHTTP)
	assert.True(t, cs.AllowLocalNetworks)
}

func TestMissingConfigFileIsFine(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, InitViper(viper.New(), "", nil))
}

func TestBrokenConfigFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("base-url: [unclosed\n"), 0o600))
	assert.Error(t, InitViper(viper.New(), configFile, nil))
}

func TestNegativeTimeout(t *testing.T) {
	v := viper.New()
	v.Set(FlagTimeout, -1)
	_, err := FromViper(v)
	assert.Error(t, err)
}

func TestYAMLRoundTrip(t *testing.T) {
	cs := NewClientSettings()
	cs.BaseURL = "https://chat.example.com/api"
	cs.Cache = true
	seconds := 12
	cs.setTimeoutSeconds(&seconds)

	buf := &bytes.Buffer{}
	require.NoError(t, cs.WriteYAML(buf))
	assert.Contains(t, buf.String(), "base-url: https://chat.example.com/api\n")
	assert.Contains(t, buf.String(), "timeout: 12\n")

	var out ClientSettings
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, cs, &out)
}

func TestClone(t *testing.T) {
	cs := NewClientSettings()
	cp := cs.Clone()
	*cp.TimeoutSeconds = 99
	cp.BaseURL = "http://elsewhere/api"

	assert.Equal(t, 30, *cs.TimeoutSeconds)
	assert.Equal(t, "http://localhost:8000/api", cs.BaseURL)
}

func TestNewClient(t *testing.T) {
	cs := NewClientSettings()
	c, err := cs.NewClient()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/api", c.BaseURL())

	cs.AllowHTTP = false
	_, err = cs.NewClient()
	assert.Error(t, err)
}

func TestRateLimit(t *testing.T) {
	v := viper.New()
	v.Set(FlagRateLimit, 2.5)
	v.Set(FlagRateBurst, 3)
	cs, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 2.5, cs.RateLimit)
	assert.Equal(t, 3, cs.RateBurst)
	assert.Len(t, cs.ClientOptions(), 3)

	v.Set(FlagRateLimit, -1)
	_, err = FromViper(v)
	assert.Error(t, err)
}
