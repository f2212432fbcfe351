// Package logger provides structured logging for the notification delivery
// service.
package logger

import (
	"os"

	"github.com/aman1117/notifyd/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the main logger instance. It discards all output until Init is
// called.
var Log = zap.NewNop()

// Sugar is the sugared logger for convenience.
var Sugar = Log.Sugar()

// Init initializes the logger with the provided configuration. Debug.Enabled
// lowers the effective level to debug even in production; without it,
// production logs at info and development logs at debug.
func Init(cfg *config.Config) {
	jsonEncoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	consoleEncoderConfig := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	level := zap.InfoLevel
	if cfg.IsDevelopment() || cfg.Debug.Enabled {
		level = zap.DebugLevel
	}

	var core zapcore.Core
	if cfg.IsProduction() {
		core = zapcore.NewCore(
			zapcore.NewJSONEncoder(jsonEncoderConfig),
			zapcore.AddSync(os.Stdout),
			level,
		)
	} else {
		core = zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleEncoderConfig),
			zapcore.AddSync(os.Stdout),
			level,
		)
	}

	Log = zap.New(core)
	Sugar = Log.Sugar()
}

// Sync flushes any buffered log entries.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

// ==================== Context Loggers ====================

// WithNotification returns a logger scoped to a single notification's
// delivery attempt.
func WithNotification(notificationID, userID string) *zap.SugaredLogger {
	fields := []interface{}{"notification_id", notificationID}
	if userID != "" {
		fields = append(fields, "user_id", userID)
	}
	return Sugar.With(fields...)
}

// WithComponent returns a logger tagged with the originating component, for
// the long-lived subsystems (listener, engine, bus, push) that log outside
// the scope of a single notification.
func WithComponent(component string) *zap.SugaredLogger {
	return Sugar.With("component", component)
}
