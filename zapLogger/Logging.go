package zapLogger

import (
	"io"
	"os"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once sync.Once
	Log  *zap.SugaredLogger
	base *zap.Logger
)

// Options selects the log level and an optional log file.
type Options struct {
	Level string
	File  string
}

// Init initializes the zap logger once and returns the opened log file handle,
// or nil when logging only to stdout.
func Init(opts Options) *os.File {
	var logFile *os.File
	once.Do(func() {
		writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
		if opts.File != "" {
			var err error
			logFile, err = os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				panic("cannot open log file: " + err.Error())
			}
			writers = append(writers, zapcore.AddSync(logFile))
		}

		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "timestamp"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		level := zap.InfoLevel
		if opts.Level != "" {
			if parsed, err := zapcore.ParseLevel(opts.Level); err == nil {
				level = parsed
			}
		}

		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderCfg),
			zapcore.NewMultiWriteSyncer(writers...),
			level,
		)

		base = zap.New(core, zap.AddCaller())
		Log = base.Sugar()
	})
	return logFile
}

// Logger returns the structured logger behind Log, or a no-op logger before Init.
func Logger() *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base
}

// FiberLoggingMiddleware returns Fiber's built-in logger middleware writing to
// stdout and, when given, logFile.
func FiberLoggingMiddleware(logFile *os.File) fiber.Handler {
	var out io.Writer = os.Stdout
	if logFile != nil {
		out = io.MultiWriter(os.Stdout, logFile)
	}
	return logger.New(logger.Config{
		Output:     out,
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Local",
	})
}
