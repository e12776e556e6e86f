// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"io"
	"log"
	"os"
	"strings"
)

var (
	// DefaultLogger is the default logger and is used by the tls adapter
	// and the task pool.
	DefaultLogger Logger = New(os.Stderr, LevelInfo)
)

const (
	// LevelAll enables all logs.
	LevelAll = iota
	// LevelDebug logs are usually disabled in production.
	LevelDebug
	// LevelInfo is the default logging priority.
	LevelInfo
	// LevelWarn .
	LevelWarn
	// LevelError .
	LevelError
	// LevelNone disables all logs.
	LevelNone
)

// Logger defines log interface.
type Logger interface {
	SetLevel(lvl int)
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
}

// SetLogger sets default logger.
func SetLogger(l Logger) {
	DefaultLogger = l
}

// SetLevel sets default logger's priority.
func SetLevel(lvl int) {
	if !validLevel(lvl) {
		log.Printf("invalid log level: %v", lvl)
		return
	}
	DefaultLogger.SetLevel(lvl)
}

// ParseLevel maps a level name such as "debug" or "warn" to its value.
// Unknown names map to LevelInfo and ok is false.
func ParseLevel(name string) (lvl int, ok bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "all":
		return LevelAll, true
	case "debug", "dbg":
		return LevelDebug, true
	case "info", "inf":
		return LevelInfo, true
	case "warn", "warning", "wrn":
		return LevelWarn, true
	case "error", "err":
		return LevelError, true
	case "none", "off":
		return LevelNone, true
	}
	return LevelInfo, false
}

func validLevel(lvl int) bool {
	switch lvl {
	case LevelAll, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelNone:
		return true
	}
	return false
}

// logger implements Logger on top of the standard log package.
type logger struct {
	level int
	out   *log.Logger
}

// New creates a Logger writing to w.
func New(w io.Writer, lvl int) Logger {
	if !validLevel(lvl) {
		lvl = LevelInfo
	}
	return &logger{level: lvl, out: log.New(w, "", log.LstdFlags)}
}

// SetLevel sets logs priority.
func (l *logger) SetLevel(lvl int) {
	if !validLevel(lvl) {
		log.Printf("invalid log level: %v", lvl)
		return
	}
	l.level = lvl
}

func (l *logger) output(lvl int, tag, format string, v ...interface{}) {
	if lvl < l.level {
		return
	}
	if l.out == nil {
		log.Printf(tag+format+"\n", v...)
		return
	}
	l.out.Printf(tag+format+"\n", v...)
}

// Debug logs a message at LevelDebug.
func (l *logger) Debug(format string, v ...interface{}) {
	l.output(LevelDebug, "[DBG] ", format, v...)
}

// Info logs a message at LevelInfo.
func (l *logger) Info(format string, v ...interface{}) {
	l.output(LevelInfo, "[INF] ", format, v...)
}

// Warn logs a message at LevelWarn.
func (l *logger) Warn(format string, v ...interface{}) {
	l.output(LevelWarn, "[WRN] ", format, v...)
}

// Error logs a message at LevelError.
func (l *logger) Error(format string, v ...interface{}) {
	l.output(LevelError, "[ERR] ", format, v...)
}

// named prefixes every message of its parent with a fixed name.
type named struct {
	prefix string
	parent Logger
}

// Named returns a Logger that writes through parent with "name: " in front
// of every message. A nil parent means DefaultLogger at the time of logging.
func Named(parent Logger, name string) Logger {
	return &named{prefix: name + ": ", parent: parent}
}

func (n *named) target() Logger {
	if n.parent != nil {
		return n.parent
	}
	return DefaultLogger
}

// SetLevel sets the parent's priority.
func (n *named) SetLevel(lvl int) {
	if t := n.target(); t != nil {
		t.SetLevel(lvl)
	}
}

func (n *named) Debug(format string, v ...interface{}) {
	if t := n.target(); t != nil {
		t.Debug(n.prefix+format, v...)
	}
}

func (n *named) Info(format string, v ...interface{}) {
	if t := n.target(); t != nil {
		t.Info(n.prefix+format, v...)
	}
}

func (n *named) Warn(format string, v ...interface{}) {
	if t := n.target(); t != nil {
		t.Warn(n.prefix+format, v...)
	}
}

func (n *named) Error(format string, v ...interface{}) {
	if t := n.target(); t != nil {
		t.Error(n.prefix+format, v...)
	}
}

// Debug uses DefaultLogger to log a message at LevelDebug.
func Debug(format string, v ...interface{}) {
	if DefaultLogger != nil {
		DefaultLogger.Debug(format, v...)
	}
}

// Info uses DefaultLogger to log a message at LevelInfo.
func Info(format string, v ...interface{}) {
	if DefaultLogger != nil {
		DefaultLogger.Info(format, v...)
	}
}

// Warn uses DefaultLogger to log a message at LevelWarn.
func Warn(format string, v ...interface{}) {
	if DefaultLogger != nil {
		DefaultLogger.Warn(format, v...)
	}
}

// Error uses DefaultLogger to log a message at LevelError.
func Error(format string, v ...interface{}) {
	if DefaultLogger != nil {
		DefaultLogger.Error(format, v...)
	}
}
