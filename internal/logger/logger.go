package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	info io.Writer
	warn io.Writer
}

// Option adjusts where New writes.
type Option func(*options)

// WithInfoOutput sends debug/info entries to w instead of stdout. Commands
// whose stdout is user-facing pass os.Stderr here.
func WithInfoOutput(w io.Writer) Option {
	return func(o *options) { o.info = w }
}

// WithWarnOutput sends warn/error entries to w instead of stderr.
func WithWarnOutput(w io.Writer) Option {
	return func(o *options) { o.warn = w }
}

// New returns a zap logger that writes debug/info entries to stdout and
// warn/error entries to stderr. Debug mode enables the debug level and the
// development encoder config.
func New(debug bool, opts ...Option) *zap.Logger {
	o := options{info: os.Stdout, warn: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	// Enable debug and info level logs
	debugInfoLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level == zapcore.DebugLevel || level == zapcore.InfoLevel
	})

	// Enable only info level logs
	infoLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level == zapcore.InfoLevel
	})

	warnErrorFatalLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level >= zapcore.WarnLevel
	})

	stdoutSyncer := zapcore.Lock(zapcore.AddSync(o.info))
	stderrSyncer := zapcore.Lock(zapcore.AddSync(o.warn))

	var core zapcore.Core
	if debug {
		core = zapcore.NewTee(
			zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig()), stdoutSyncer, debugInfoLevel),
			zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig()), stderrSyncer, warnErrorFatalLevel),
		)
	} else {
		core = zapcore.NewTee(
			zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), stdoutSyncer, infoLevel),
			zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), stderrSyncer, warnErrorFatalLevel),
		)
	}

	return zap.New(core, zap.AddCaller())
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
