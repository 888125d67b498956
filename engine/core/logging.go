package core

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelFatal
)

var once sync.Once

type logger struct {
	*log.Logger
}

var singleton *logger

func getLogger() *logger {
	once.Do(
		func() {
			l := log.NewWithOptions(os.Stderr, log.Options{
				ReportCaller:    true,
				CallerOffset:    1,
				ReportTimestamp: true,
				TimeFormat:      time.RFC3339,
				Prefix:          "Anima2D 🎨 ",
			})
			l.SetLevel(log.DebugLevel)
			singleton = &logger{l}
		})
	return singleton
}

// ParseLogLevel maps a config string to a LogLevel. Unknown values fall back to info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	case "fatal":
		return LogLevelFatal
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) String() string {
	return l.charm().String()
}

func (l LogLevel) charm() log.Level {
	switch l {
	case LogLevelDebug:
		return log.DebugLevel
	case LogLevelWarn:
		return log.WarnLevel
	case LogLevelError:
		return log.ErrorLevel
	case LogLevelFatal:
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

func SetLogLevel(level LogLevel) {
	getLogger().SetLevel(level.charm())
}

func GetLogLevel() LogLevel {
	switch getLogger().GetLevel() {
	case log.DebugLevel:
		return LogLevelDebug
	case log.WarnLevel:
		return LogLevelWarn
	case log.ErrorLevel:
		return LogLevelError
	case log.FatalLevel:
		return LogLevelFatal
	default:
		return LogLevelInfo
	}
}

func LogDebug(msg string, args ...interface{}) {
	getLogger().Debugf(msg, args...)
}

func LogInfo(msg string, args ...interface{}) {
	getLogger().Infof(msg, args...)
}

func LogWarn(msg string, args ...interface{}) {
	getLogger().Warnf(msg, args...)
}

func LogError(msg string, args ...interface{}) {
	getLogger().Errorf(msg, args...)
}

func LogFatal(msg string, args ...interface{}) {
	getLogger().Fatalf(msg, args...)
}
