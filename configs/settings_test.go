package configs

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gregriff/duet/internal/schemas"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func readDefaults(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.SetConfigType("toml")
	require.NoError(t, viper.ReadConfig(bytes.NewReader(defaultConfigFile)))
}

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)
	readDefaults(t)

	s, err := Load()
	req.NoError(err)
	req.Equal("INFO", s.LogLevel)
	req.Equal("0.0.0.0:3000", s.Addr())
	req.Equal([]schemas.Identity{"mango1", "mango2"}, s.Identities)
	req.Equal(DriverSqlite, s.Storage.Driver)
	req.Equal(filepath.Join(GetDataDir(), "duet.sqlite"), s.Storage.Path)
	req.Equal(30*time.Second, s.Server.JoinTimeout)
	req.Zero(s.Calls.OfferTimeout)
	req.Equal(32, s.Calls.MaxPendingIce)
	req.Equal(5000, s.Messages.MaxTextLength)
	req.Len(s.ICEServers, 1)
	req.Equal([]string{"stun:stun.l.google.com:19302"}, s.ICEServers[0].URLs)
	req.Empty(s.PasswordHash)
}

func TestLoad_Badger_Default_Path(t *testing.T) {
	req := require.New(t)
	readDefaults(t)
	viper.Set("storage.driver", "BADGER")

	s, err := Load()
	req.NoError(err)
	req.Equal(DriverBadger, s.Storage.Driver)
	req.Equal(filepath.Join(GetDataDir(), "badger"), s.Storage.Path)
}

func TestLoad_Debug_Forces_Debug_Level(t *testing.T) {
	req := require.New(t)
	readDefaults(t)
	viper.Set("debug", true)

	s, err := Load()
	req.NoError(err)
	req.Equal("DEBUG", s.LogLevel)
}

func TestLoad_Rejects_Invalid_Settings(t *testing.T) {
	cases := map[string]struct {
		key   string
		value any
	}{
		"one identity":          {"identities", []string{"mango1"}},
		"three identities":      {"identities", []string{"a", "b", "c"}},
		"duplicate identities":  {"identities", []string{"mango1", "mango1"}},
		"malformed identity":    {"identities", []string{"mango-1", "mango2"}},
		"unknown driver":        {"storage.driver", "postgres"},
		"unknown log level":     {"log-level", "loud"},
		"port out of range":     {"port", 70000},
		"no outbound buffer":    {"server.outbound-buffer", 0},
		"not a bcrypt hash":     {"access.password-hash", "hunter2"},
		"no pending ice":        {"calls.max-pending-ice", 0},
		"http ice server":       {"webrtc.ice-servers", []map[string]any{{"urls": []string{"http://example.com"}}}},
		"ice server no url":      {"webrtc.ice-servers", []map[string]any{{"username": "u"}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			readDefaults(t)
			viper.Set(tc.key, tc.value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoad_Turn_Server_With_Credentials(t *testing.T) {
	req := require.New(t)
	readDefaults(t)
	viper.Set("webrtc.ice-servers", []map[string]any{
		{"urls": []string{"turn:turn.example.com:3478"}, "username": "duet", "credential": "secret"},
	})

	s, err := Load()
	req.NoError(err)
	req.Len(s.ICEServers, 1)
	req.Equal("duet", s.ICEServers[0].Username)
	req.Equal("secret", s.ICEServers[0].Credential)
}

func TestInitConfig_Writes_Default_File(t *testing.T) {
	req := require.New(t)
	viper.Reset()
	t.Cleanup(viper.Reset)

	file := filepath.Join(t.TempDir(), "nested", "duet.toml")
	req.NoError(InitConfig(file))

	written, err := os.ReadFile(file)
	req.NoError(err)
	req.Equal(defaultConfigFile, written)
	req.Equal(3000, viper.GetInt("port"))
}

func TestInitConfig_Env_Overrides_File(t *testing.T) {
	req := require.New(t)
	viper.Reset()
	t.Cleanup(viper.Reset)

	file := filepath.Join(t.TempDir(), "duet.toml")
	req.NoError(os.WriteFile(file, defaultConfigFile, 0o600))
	t.Setenv("DUET_PORT", "4000")
	t.Setenv("DUET_SERVER_JOIN_TIMEOUT", "5s")

	req.NoError(InitConfig(file))
	s, err := Load()
	req.NoError(err)
	req.Equal(4000, s.Port)
	req.Equal(5*time.Second, s.Server.JoinTimeout)
}

func TestInitConfig_Requires_File(t *testing.T) {
	require.Error(t, InitConfig(""))
}
