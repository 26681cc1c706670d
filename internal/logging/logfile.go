package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig configures the rotating log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewFileLogger creates a logger that writes human-readable lines to console
// and JSON lines to a rotating file. The returned closer flushes and closes
// the file.
func NewFileLogger(console io.Writer, cfg FileConfig) (*Logger, io.Closer) {
	if console == nil {
		console = os.Stderr
	}
	file := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    orDefault(cfg.MaxSizeMB, 10),
		MaxBackups: orDefault(cfg.MaxBackups, 5),
		MaxAge:     orDefault(cfg.MaxAgeDays, 30),
		Compress:   true,
	}
	out := zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"},
		file,
	)
	return &Logger{
		zlog:   zerolog.New(out).With().Timestamp().Logger(),
		output: out,
	}, file
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
