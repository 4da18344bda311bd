// Package pglog wraps charmbracelet/log, mapping this engine's
// log_type/log_level configuration vocabulary (console/file/syslog,
// info/warn/error/fatal/debug1-5) onto it, with file rotation handled
// by lumberjack and syslog routed through the standard library.
package pglog

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pgvictoria/pgvictoria/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var current *log.Logger

func init() {
	current = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
}

// Start replaces the package-level logger with one configured from cfg.
// The previous logger's sink is not closed, so a syslog connection
// opened by an earlier Start stays open. It implements the log-restart field
// group from the configuration reload design: log_path,
// log_rotation_size, log_rotation_age, log_mode, log_line_prefix.
func Start(cfg *config.Main) error {
	var w io.Writer

	switch cfg.LogType {
	case config.LogFile:
		w = &lumberjack.Logger{
			Filename: cfg.LogPath,
			MaxSize:  rotationSizeMB(cfg.LogRotationSize),
			MaxAge:   rotationAgeDays(cfg.LogRotationAge),
			Compress: false,
		}
	case config.LogSyslog:
		sw, err := syslog.New(syslog.LOG_INFO, "pgvictoria")
		if err != nil {
			return fmt.Errorf("pglog: connect to syslog: %w", err)
		}
		w = sw
	default:
		w = os.Stderr
	}

	current = log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          cfg.LogLinePrefix,
	})
	current.SetLevel(levelOf(cfg.LogLevel))
	return nil
}

// Stop is a no-op placeholder for the log-restart sequence's "stop the
// logger" half; it releases nothing. charmbracelet/log holds no OS
// resources of its own; the one sink that does, a syslog connection, is
// not closed by Stop or by a later Start.
func Stop() {}

func levelOf(l config.LogLevel) log.Level {
	switch l {
	case config.LogWarn:
		return log.WarnLevel
	case config.LogError, config.LogFatal:
		return log.ErrorLevel
	case config.LogDebug1, config.LogDebug2, config.LogDebug3, config.LogDebug4, config.LogDebug5:
		return log.DebugLevel
	default:
		return log.InfoLevel
	}
}

func rotationSizeMB(bytes int) int {
	if bytes <= 0 {
		return 100 // lumberjack's own default
	}
	mb := bytes / (1024 * 1024)
	if mb < 1 {
		mb = 1
	}
	return mb
}

func rotationAgeDays(seconds int) int {
	if seconds <= 0 {
		return 0 // disabled
	}
	days := seconds / (24 * 3600)
	if days < 1 {
		days = 1
	}
	return days
}

// Debug logs at debug level, and additionally is the landing point for
// all five debug[1-5] tiers this engine's configuration distinguishes
// but charmbracelet/log does not; tier selection only ever affects
// whether the message is emitted at all, via SetLevel in Start.
func Debug(msg string, keyvals ...interface{}) { current.Debug(msg, keyvals...) }

// Info logs at info level.
func Info(msg string, keyvals ...interface{}) { current.Info(msg, keyvals...) }

// Warn logs at warn level.
func Warn(msg string, keyvals ...interface{}) { current.Warn(msg, keyvals...) }

// Error logs at error level.
func Error(msg string, keyvals ...interface{}) { current.Error(msg, keyvals...) }

// Fatal logs at fatal level then exits the process, mirroring the
// source's pgvictoria_log_fatal.
func Fatal(msg string, keyvals ...interface{}) { current.Fatal(msg, keyvals...) }

// With returns a logger carrying additional structured context.
func With(keyvals ...interface{}) *log.Logger { return current.With(keyvals...) }
