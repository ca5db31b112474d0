// Package logger configures the global zerolog logger from command-line
// options.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is embedded in the command's options as a go-flags group.
type Logger struct {
	Level   string `long:"log-level"  env:"LOG_LEVEL"  description:"Log level" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"info"`
	Format  string `long:"log-format" env:"LOG_FORMAT" description:"Log output format" choice:"console" choice:"json" default:"console"`
	NoColor bool   `long:"log-no-color" env:"LOG_NO_COLOR" description:"Disable colors in console output"`
}

// Setup installs the global logger writing to stderr plus any extra
// writers. Extra writers always receive JSON lines.
func (l *Logger) Setup(extra ...io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(l.level())

	var out io.Writer = os.Stderr
	if strings.EqualFold(l.Format, "console") || l.Format == "" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, NoColor: l.NoColor, TimeFormat: time.TimeOnly}
	}
	if len(extra) > 0 {
		writers := append([]io.Writer{out}, extra...)
		out = zerolog.MultiLevelWriter(writers...)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

func (l *Logger) level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(l.Level)))
	if err != nil || l.Level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
