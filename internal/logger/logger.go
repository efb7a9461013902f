package logger

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/fatih/color"
)

// Log flags
const (
	LstdFlags     = log.LstdFlags
	Lmicroseconds = log.Lmicroseconds
)

// Logger wraps the standard log.Logger with component tags and optional colour
type Logger struct {
	*log.Logger
	verbose  bool
	colorize bool

	warn  *color.Color
	found *color.Color
}

// New creates a new logger writing to stdout
func New() *Logger {
	return newLogger(os.Stdout, !color.NoColor)
}

// NewWriter creates a new logger that writes to the provided writer.
// Output is never coloured.
func NewWriter(w io.Writer) *Logger {
	return newLogger(w, false)
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewWriter(io.Discard)
}

func newLogger(w io.Writer, colorize bool) *Logger {
	return &Logger{
		Logger:   log.New(w, "", log.LstdFlags),
		colorize: colorize,
		warn:     color.New(color.FgYellow),
		found:    color.New(color.FgGreen, color.Bold),
	}
}

// SetOutput sets the output destination for the logger
func (l *Logger) SetOutput(w io.Writer) {
	l.Logger.SetOutput(w)
}

// SetFlags sets the output flags for the logger
func (l *Logger) SetFlags(flag int) {
	l.Logger.SetFlags(flag)
}

// SetVerbose enables Debugf output
func (l *Logger) SetVerbose(v bool) {
	l.verbose = v
}

// Verbose reports whether Debugf output is enabled
func (l *Logger) Verbose() bool {
	return l.verbose
}

// Component logs a message tagged with the component that produced it
func (l *Logger) Component(component, format string, args ...interface{}) {
	l.Printf("[%s] : %s", component, fmt.Sprintf(format, args...))
}

// Debugf logs a component message only in verbose mode
func (l *Logger) Debugf(component, format string, args ...interface{}) {
	if l.verbose {
		l.Component(component, format, args...)
	}
}

// Warnf logs a recoverable problem
func (l *Logger) Warnf(component, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if l.colorize {
		msg = l.warn.Sprint(msg)
	}
	l.Printf("[%s] : %s", component, msg)
}

// Foundf logs a persisted match
func (l *Logger) Foundf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if l.colorize {
		msg = l.found.Sprint(msg)
	}
	l.Println(msg)
}
