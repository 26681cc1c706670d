// Package logging provides structured logging for the CLI and embedding hosts.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rescale/remotesh/internal/events"
)

// Logger wraps zerolog. When an event bus is attached, warnings and errors
// are mirrored to it as LogEvents so observers without a console see them.
type Logger struct {
	zlog      zerolog.Logger
	component string
	eventBus  *events.EventBus
	output    io.Writer
}

// NewLogger creates a console logger writing to out.
func NewLogger(out io.Writer, eventBus *events.EventBus) *Logger {
	if out == nil {
		out = os.Stderr
	}
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
	}

	return &Logger{
		zlog:     zerolog.New(output).With().Timestamp().Logger(),
		eventBus: eventBus,
		output:   output,
	}
}

// NewDefaultCLILogger creates a default CLI logger on stderr.
// Stdout is reserved for command output.
func NewDefaultCLILogger() *Logger {
	return NewLogger(os.Stderr, nil)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop(), output: io.Discard}
}

// WithComponent returns a child logger tagged with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		zlog:      l.zlog.With().Str("component", component).Logger(),
		component: component,
		eventBus:  l.eventBus,
		output:    l.output,
	}
}

// WithEventBus returns a copy of the logger that mirrors warnings and errors
// to bus. It also installs a drop handler on bus that reports slow subscribers.
func (l *Logger) WithEventBus(bus *events.EventBus) *Logger {
	child := *l
	child.eventBus = bus
	if bus != nil {
		zl := l.zlog
		bus.SetDropHandler(func(dropped int64, event events.Event) {
			// Writes to zerolog only: the bus lock is held here.
			zl.Warn().Int64("dropped_total", dropped).Str("event_type", string(event.Type())).
				Msg("event subscriber buffer full, dropping events")
		})
	}
	return &child
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// With creates a child logger context with additional fields.
func (l *Logger) With() zerolog.Context {
	return l.zlog.With()
}

// SetOutput changes the output writer for the logger.
// This is useful for redirecting logs through progress bars.
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	ctx := zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}).With().Timestamp()
	if l.component != "" {
		ctx = ctx.Str("component", l.component)
	}
	l.zlog = ctx.Logger()
}

// Output returns the current output writer.
func (l *Logger) Output() io.Writer {
	return l.output
}

// Debugf logs a debug message with printf-style formatting.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Infof logs an info message with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Warnf logs a warning and mirrors it to the event bus.
func (l *Logger) Warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.zlog.Warn().Msg(msg)
	l.mirror(events.WarnLevel, msg, nil)
}

// Errorf logs an error and mirrors it to the event bus.
func (l *Logger) Errorf(err error, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.zlog.Error().Err(err).Msg(msg)
	l.mirror(events.ErrorLevel, msg, err)
}

func (l *Logger) mirror(level events.LogLevel, msg string, err error) {
	if l.eventBus == nil {
		return
	}
	l.eventBus.PublishLog(level, l.component, msg, err)
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// SetVerbose switches the global level between info and debug.
func SetVerbose(verbose bool) {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
