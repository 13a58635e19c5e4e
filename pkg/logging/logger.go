package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides levelled logging for recent-scrub components.
// Output always goes to stderr; when a log file is configured the same
// entries are also appended to that file.
//
// Every entry carries the component name and the process session ID so that
// entries from concurrent sessions can be told apart in a shared file.
type Logger struct {
	sessionID string
	component string
	base      *zap.Logger
	sugar     *zap.SugaredLogger
	file      *os.File
	logPath   string
	closeOnce sync.Once
}

// Options configures a root logger.
type Options struct {
	// Level is the minimum level written.
	Level zapcore.Level

	// File is the log file path. "auto" selects
	// $XDG_STATE_HOME/recent-scrub/logs/<session-id>.log; empty disables
	// file output.
	File string
}

// AutoFile requests the per-session file under the XDG state directory.
const AutoFile = "auto"

var (
	// Global session ID for the current execution
	sessionID     string
	sessionIDOnce sync.Once
)

// getSessionID returns or creates the session ID for this execution
func getSessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

// LevelFromVerbosity maps -v/-q counts to a level. The default is warn,
// one -v gives info and two give debug; each -q steps towards error.
func LevelFromVerbosity(verbose, quiet int) zapcore.Level {
	levels := []zapcore.Level{
		zapcore.FatalLevel,
		zapcore.ErrorLevel,
		zapcore.WarnLevel,
		zapcore.InfoLevel,
		zapcore.DebugLevel,
	}
	idx := 2 + verbose - quiet
	if idx < 0 {
		idx = 0
	}
	if idx >= len(levels) {
		idx = len(levels) - 1
	}
	return levels[idx]
}

// New creates a root logger for the given component.
//
// If the log file cannot be opened, the returned logger writes to stderr only
// and the error is returned alongside it so callers can warn about it.
func New(component string, opts Options) (*Logger, error) {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	level := zap.NewAtomicLevelAt(opts.Level)

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level),
	}

	var (
		file    *os.File
		logPath string
		openErr error
	)
	if opts.File != "" {
		logPath = opts.File
		if logPath == AutoFile {
			logPath = filepath.Join(xdg.StateHome, "recent-scrub", "logs", getSessionID()+".log")
		}
		file, openErr = openLogFile(logPath)
		if openErr == nil {
			jsonCfg := zap.NewProductionEncoderConfig()
			jsonCfg.EncodeTime = zapcore.ISO8601TimeEncoder
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), zapcore.AddSync(file), level))
		} else {
			logPath = ""
		}
	}

	base := zap.New(zapcore.NewTee(cores...)).With(zap.String("session", getSessionID()))
	l := wrap(base, component)
	l.file = file
	l.logPath = logPath
	if openErr != nil {
		l.Warnf("failed to initialize file logging, falling back to stderr: %v", openErr)
	}
	return l, openErr
}

// FromZap wraps an existing zap logger. Tests use it with an observer core.
func FromZap(base *zap.Logger, component string) *Logger {
	return wrap(base, component)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return wrap(zap.NewNop(), "nop")
}

func wrap(base *zap.Logger, component string) *Logger {
	named := base.Named(component)
	return &Logger{
		sessionID: getSessionID(),
		component: component,
		base:      named,
		sugar:     named.Sugar(),
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	// Owner-only, like the blacklist.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// Named returns a child logger for a sub-component sharing the same outputs.
func (l *Logger) Named(component string) *Logger {
	child := wrap(l.base, component)
	child.component = l.component + "." + component
	return child
}

// With returns a child logger that adds structured context to every entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	base := l.base.With(fields...)
	return &Logger{
		sessionID: l.sessionID,
		component: l.component,
		base:      base,
		sugar:     base.Sugar(),
		logPath:   l.logPath,
	}
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// Zap exposes the underlying structured logger.
func (l *Logger) Zap() *zap.Logger {
	return l.base
}

// SessionID returns the current session ID
func (l *Logger) SessionID() string {
	return l.sessionID
}

// LogPath returns the path to the log file, or "" when logging to stderr only.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close flushes buffered entries and closes the log file. Safe to call
// multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		_ = l.base.Sync()
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// GetSessionID returns the current global session ID
func GetSessionID() string {
	return getSessionID()
}
