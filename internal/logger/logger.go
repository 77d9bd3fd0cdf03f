package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Logger = zerolog.Logger

// New builds the process logger. Local environments get a console writer,
// everything else JSON on stdout. The result also becomes the fallback for
// zerolog.Ctx on contexts that carry no logger.
func New(env, level string) Logger {
	return newLogger(os.Stdout, env, level)
}

func newLogger(out io.Writer, env, level string) Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	w := out
	if env == "local" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	l := zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "phonegate").Logger()
	zerolog.DefaultContextLogger = &l
	return l
}
