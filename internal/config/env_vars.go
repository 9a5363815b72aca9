package config

import (
	"strings"

	"github.com/rs/zerolog"
)

type EnvVars struct {
	AppName  string `env:"APP_NAME" envDefault:"LQ Auth"`
	Env      string `env:"ENV" envDefault:"DEV"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	DataFile string `env:"LQ_DATA_FILE" envDefault:"./data/lqauth.db"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	return strings.ToUpper(e.Env)
}

// GetLogLevel falls back to info when LOG_LEVEL does not parse.
func (e EnvVars) GetLogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(e.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// GetDataFile is the sqlite file holding the durable session keys.
func (e EnvVars) GetDataFile() string {
	return e.DataFile
}
