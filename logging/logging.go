package logging

import "io"
import "os"
import "runtime/debug"
import "strings"
import "sync/atomic"
import l "log"

// Log levels
type LogLevel int32

const (
	Silent LogLevel = iota
	Fatal
	Error
	Warn
	Info
	Debug
	Trace
)

func (t LogLevel) String() string {
	switch t {
	case Silent:
		return "Silent"
	case Fatal:
		return "Fatal"
	case Error:
		return "Error"
	case Warn:
		return "Warn"
	case Info:
		return "Info"
	case Debug:
		return "Debug"
	case Trace:
		return "Trace"
	default:
		return "Info"
	}
}

// Level parses a case-insensitive level name, defaulting to Info.
func Level(s string) LogLevel {
	switch strings.ToUpper(s) {
	case "SILENT":
		return Silent
	case "FATAL":
		return Fatal
	case "ERROR":
		return Error
	case "WARN":
		return Warn
	case "INFO":
		return Info
	case "DEBUG":
		return Debug
	case "TRACE":
		return Trace
	default:
		return Info
	}
}

var level int32 = int32(Info)
var target atomic.Value // *l.Logger

func init() {
	target.Store(l.New(os.Stderr, "", l.Lmicroseconds))
}

// SetLogLevel changes the level below which messages are suppressed.
// Safe to call from any goroutine; the LogLevel settings opcode lands here.
func SetLogLevel(t LogLevel) {
	atomic.StoreInt32(&level, int32(t))
}

// LogLevelNow returns the current level.
func LogLevelNow() LogLevel {
	return LogLevel(atomic.LoadInt32(&level))
}

// SetLogWriter redirects output, mainly for tests.
func SetLogWriter(w io.Writer) {
	target.Store(l.New(w, "", l.Lmicroseconds))
}

func printf(t LogLevel, format string, v ...interface{}) {
	if int32(t) <= atomic.LoadInt32(&level) {
		target.Load().(*l.Logger).Printf("["+t.String()+"] "+format, v...)
	}
}

// Fatalf logs and keeps running; process exit is the caller's call.
func Fatalf(format string, v ...interface{}) {
	printf(Fatal, format, v...)
}

// Errorf logs a message at Error level.
func Errorf(format string, v ...interface{}) {
	printf(Error, format, v...)
}

// Warnf logs a message at Warn level.
func Warnf(format string, v ...interface{}) {
	printf(Warn, format, v...)
}

// Infof logs a message at Info level.
func Infof(format string, v ...interface{}) {
	printf(Info, format, v...)
}

// Debugf logs a message at Debug level.
func Debugf(format string, v ...interface{}) {
	printf(Debug, format, v...)
}

// Tracef logs a message at Trace level.
func Tracef(format string, v ...interface{}) {
	printf(Trace, format, v...)
}

// StackTrace logs the current goroutine's stack at Error level, one line
// per frame so log collectors keep it intact.
func StackTrace() {
	for _, line := range strings.Split(string(debug.Stack()), "\n") {
		if s := strings.TrimSpace(line); s != "" {
			printf(Error, "%s", s)
		}
	}
}

// LazyTrace calls fn only if tracing is enabled.
func LazyTrace(fn func() string) {
	if LogLevelNow() >= Trace {
		printf(Trace, "%s", fn())
	}
}
