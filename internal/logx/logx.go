// Package logx is a tiny bracketed-tag logger matching the register the
// teacher repo uses directly with fmt.Printf ("[INFO] ...", "[FFmpeg] ...").
package logx

import (
	"fmt"
	"os"
	"time"
)

// Logger prints leveled, tagged lines to stderr. A zero value is ready to
// use.
type Logger struct {
	tag string
}

// New returns a Logger that prefixes every line with [tag].
func New(tag string) *Logger {
	return &Logger{tag: tag}
}

func (l *Logger) prefix() string {
	if l.tag == "" {
		return ""
	}
	return "[" + l.tag + "] "
}

func (l *Logger) line(level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "%s %s%s%s\n", time.Now().Format("15:04:05.000"), level, l.prefix(), msg)
}

func (l *Logger) Info(format string, args ...any) {
	l.line("[INFO] ", format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.line("[WARN] ", format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.line("[ERROR] ", format, args...)
}

// With returns a child logger that appends a sub-tag, e.g. New("Node").With("living_room").
func (l *Logger) With(subtag string) *Logger {
	if l.tag == "" {
		return &Logger{tag: subtag}
	}
	return &Logger{tag: l.tag + "/" + subtag}
}
