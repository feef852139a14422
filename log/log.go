// Package log provides the structured, key-value logger used
// throughout this module, in the "log.Info(msg, "key", value, ...)"
// style every caller in this codebase already expects.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Lvl is a logging severity level.
type Lvl int

const (
	LvlError Lvl = iota
	LvlWarn
	LvlInfo
	LvlDebug
)

func (l Lvl) String() string {
	switch l {
	case LvlError:
		return "EROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DBUG"
	default:
		return "????"
	}
}

// Logger emits leveled, key-value structured log lines.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	color  bool
	ctx    []interface{}
	minLvl Lvl
}

var root = newLogger(os.Stderr)

func newLogger(w io.Writer) *Logger {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd())
	}
	out := w
	if color {
		out = colorable.NewColorable(w.(*os.File))
	}
	return &Logger{out: out, color: color, minLvl: LvlDebug}
}

// SetOutput redirects the root logger's destination.
func SetOutput(w io.Writer) {
	root.mu.Lock()
	defer root.mu.Unlock()
	root.out = w
}

// SetLevel bounds the root logger to lvl and below.
func SetLevel(lvl Lvl) {
	root.mu.Lock()
	defer root.mu.Unlock()
	root.minLvl = lvl
}

// New derives a child logger that always prepends ctx to every record.
func New(ctx ...interface{}) *Logger {
	return &Logger{out: root.out, color: root.color, minLvl: root.minLvl, ctx: append([]interface{}{}, ctx...)}
}

func (l *Logger) write(lvl Lvl, msg string, ctx []interface{}) {
	if lvl > l.minLvl {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().Format("2006-01-02T15:04:05-0700")
	fmt.Fprintf(l.out, "%s [%s] %s", ts, lvl, msg)
	all := append(append([]interface{}{}, l.ctx...), ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(l.out, " %v=%v", all[i], all[i+1])
	}
	fmt.Fprintln(l.out)
}

func (l *Logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *Logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }

// CallSite returns the caller's file:line, useful as a "at" context
// value when a package wants to attribute a log line to its origin.
func CallSite(skip int) string {
	c := stack.Caller(skip + 1)
	return fmt.Sprintf("%+v", c)
}

// Package-level convenience wrapping the root logger.
func Error(msg string, ctx ...interface{}) { root.write(LvlError, msg, ctx) }
func Warn(msg string, ctx ...interface{})  { root.write(LvlWarn, msg, ctx) }
func Info(msg string, ctx ...interface{})  { root.write(LvlInfo, msg, ctx) }
func Debug(msg string, ctx ...interface{}) { root.write(LvlDebug, msg, ctx) }
