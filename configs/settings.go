package configs

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gregriff/duet/internal/crypto"
	"github.com/gregriff/duet/internal/schemas"
	"github.com/gregriff/duet/internal/validation"
	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

var validate = validator.New()

const (
	DriverSqlite = "sqlite"
	DriverBadger = "badger"
)

// Settings is the typed view of the config, read once at startup.
type Settings struct {
	Debug    bool
	LogLevel string `validate:"oneof=DEBUG INFO WARN ERROR"`
	Host     string
	Port     int `validate:"min=1,max=65535"`

	Identities []schemas.Identity `validate:"len=2,unique,dive,required"`

	Storage  StorageSettings
	Server   ServerSettings
	Calls    CallSettings
	Profiles ProfileSettings
	Messages MessageSettings

	ICEServers []webrtc.ICEServer

	// bcrypt hash, empty disables basic auth
	PasswordHash string
}

type StorageSettings struct {
	Driver string `validate:"oneof=sqlite badger"`
	Path   string `validate:"required"`
}

type ServerSettings struct {
	StaticDir            string
	OutboundBuffer       int           `validate:"min=1"`
	MaxMessageBytes      int           `validate:"min=1024"`
	MaxMessagesPerSecond int           `validate:"min=0"`
	JoinTimeout          time.Duration `validate:"min=0"`
}

type CallSettings struct {
	OfferTimeout  time.Duration `validate:"min=0"`
	MaxPendingIce int           `validate:"min=1"`
}

type ProfileSettings struct {
	MaxAvatarBytes int `validate:"min=1"`
}

type MessageSettings struct {
	MaxTextLength int `validate:"min=1"`
}

// iceServer is the config form of a webrtc.ICEServer
type iceServer struct {
	URLs       []string `mapstructure:"urls" validate:"min=1,dive,required"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// Addr is the address the http server listens on
func (s Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads the settings from viper, after InitConfig, and validates them.
func Load() (Settings, error) {
	var servers []iceServer
	if err := viper.UnmarshalKey("webrtc.ice-servers", &servers); err != nil {
		return Settings{}, fmt.Errorf("error reading webrtc.ice-servers: %w", err)
	}

	s := Settings{
		Debug:    viper.GetBool("debug"),
		LogLevel: strings.ToUpper(viper.GetString("log-level")),
		Host:     viper.GetString("host"),
		Port:     viper.GetInt("port"),
		Identities: lo.Map(viper.GetStringSlice("identities"), func(id string, _ int) schemas.Identity {
			return schemas.Identity(strings.TrimSpace(id))
		}),
		Storage: StorageSettings{
			Driver: strings.ToLower(viper.GetString("storage.driver")),
			Path:   viper.GetString("storage.path"),
		},
		Server: ServerSettings{
			StaticDir:            viper.GetString("server.static-dir"),
			OutboundBuffer:       viper.GetInt("server.outbound-buffer"),
			MaxMessageBytes:      viper.GetInt("server.max-message-bytes"),
			MaxMessagesPerSecond: viper.GetInt("server.max-messages-per-second"),
			JoinTimeout:          viper.GetDuration("server.join-timeout"),
		},
		Calls: CallSettings{
			OfferTimeout:  viper.GetDuration("calls.offer-timeout"),
			MaxPendingIce: viper.GetInt("calls.max-pending-ice"),
		},
		Profiles: ProfileSettings{
			MaxAvatarBytes: viper.GetInt("profiles.max-avatar-bytes"),
		},
		Messages: MessageSettings{
			MaxTextLength: viper.GetInt("messages.max-text-length"),
		},
		PasswordHash: viper.GetString("access.password-hash"),
	}
	if s.Debug && s.LogLevel != "DEBUG" {
		s.LogLevel = "DEBUG"
	}
	if s.Storage.Path == "" {
		s.Storage.Path = defaultStoragePath(s.Storage.Driver)
	}

	iceServers, err := toICEServers(servers)
	if err != nil {
		return Settings{}, err
	}
	s.ICEServers = iceServers

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks field bounds, that identities are well formed, and the password hash looks like bcrypt
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, id := range s.Identities {
		if err := validation.Identity(string(id)); err != nil {
			return fmt.Errorf("invalid config: identity %q: %w", id, err)
		}
	}
	if s.PasswordHash != "" && !crypto.IsHash(s.PasswordHash) {
		return errors.New("invalid config: access.password-hash is not a bcrypt hash")
	}
	return nil
}

func defaultStoragePath(driver string) string {
	if driver == DriverBadger {
		return filepath.Join(GetDataDir(), "badger")
	}
	return filepath.Join(GetDataDir(), "duet.sqlite")
}

func toICEServers(servers []iceServer) ([]webrtc.ICEServer, error) {
	for i, server := range servers {
		if err := validate.Struct(server); err != nil {
			return nil, fmt.Errorf("invalid config: webrtc.ice-servers[%d]: %w", i, err)
		}
		invalid := lo.Reject(server.URLs, func(u string, _ int) bool {
			return lo.SomeBy([]string{"stun:", "stuns:", "turn:", "turns:"}, func(scheme string) bool {
				return strings.HasPrefix(u, scheme)
			})
		})
		if len(invalid) > 0 {
			return nil, fmt.Errorf("invalid config: webrtc.ice-servers[%d]: unsupported url %q", i, invalid[0])
		}
	}

	return lo.Map(servers, func(server iceServer, _ int) webrtc.ICEServer {
		ice := webrtc.ICEServer{URLs: server.URLs, Username: server.Username}
		if server.Credential != "" {
			ice.Credential = server.Credential
		}
		return ice
	}), nil
}
