// Package configs contains the logic to obtain app configuration from a file or the environment
package configs

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	_ "embed" // used to embed the default application config file.

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const appName = "duet"

//go:embed duet.toml
var defaultConfigFile []byte

// InitConfig initializes the app config with Viper from the environment, a specified file, or a default file.
// A .env file in the working directory is loaded first, so its variables override the config file too.
func InitConfig(file string) error {
	if file == "" {
		return errors.New("dev error, InitConfig should always be passed a valid config filepath")
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading .env: %w", err)
	}

	viper.SetConfigName(appName)
	viper.SetConfigType("toml")

	// allow env vars to override config file, e.g. DUET_SERVER_JOIN_TIMEOUT
	viper.SetEnvPrefix(appName)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	viper.SetConfigFile(file)

	// if config file does not exist, create it with the embedded default config
	if _, err := os.Stat(file); err != nil {
		log.Printf("config file not found (%s)", file)
		if err := viper.ReadConfig(bytes.NewBuffer(defaultConfigFile)); err != nil {
			return fmt.Errorf("error reading default embedded config file: %w", err)
		}
		log.Printf("writing new config file (%s)", file)
		if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}
		if err := os.WriteFile(file, defaultConfigFile, 0o600); err != nil {
			return fmt.Errorf("error writing default config: %w", err)
		}
		return nil
	}

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// GetConfigDir obtains the configuration directory in a cross-platform manner,
// always respecting the XDG_CONFIG_HOME env var, using standard defaults on all OS's,
// but overriding to ~/.config on macOS
func GetConfigDir() string {
	var xdgConfigHome string
	if envVar := os.Getenv("XDG_CONFIG_HOME"); envVar != "" {
		xdgConfigHome = envVar
	} else if runtime.GOOS == "darwin" {
		home, _ := os.UserHomeDir()
		xdgConfigHome = filepath.Join(home, ".config") // override for mac
	} else {
		xdgConfigHome = xdg.ConfigHome
	}
	return filepath.Join(xdgConfigHome, appName)
}

// DefaultConfigFile is the config path used when --config is not given
func DefaultConfigFile() string {
	return filepath.Join(GetConfigDir(), appName+".toml")
}

// GetDataDir is where the message log and profiles live unless storage.path is set
func GetDataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}
