package logger

import (
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls log level and file rotation.
type Config struct {
	Level      string `yaml:"level"`
	Filename   string `yaml:"filename"`
	MaxSize    int    `yaml:"maxSize"`
	MaxAge     int    `yaml:"maxAge"`
	MaxBackups int    `yaml:"maxBackups"`
	Daily      bool   `yaml:"daily"`
}

// Lg is the process-wide logger. It starts as a production stderr logger
// and is replaced by Init.
var Lg *zap.Logger

func init() {
	initDefault()
}

func initDefault() {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCaller())
	if err != nil {
		Lg = zap.NewNop()
		return
	}
	Lg = l
}

// Init replaces Lg with a logger writing JSON to the rotated file in cfg.
// In dev mode records are also echoed to the console, errors to stderr.
func Init(cfg Config, mode string) error {
	l, err := New(cfg, mode)
	if err != nil {
		return err
	}
	Lg = l
	zap.ReplaceGlobals(Lg)
	Lg.Info("logger initialized", zap.String("mode", mode), zap.String("file", cfg.Filename))
	return nil
}

// New builds a logger without installing it globally.
func New(cfg Config, mode string) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	var cores []zapcore.Core
	if cfg.Filename != "" {
		cores = append(cores, zapcore.NewCore(jsonEncoder(), fileWriter(cfg), level))
	}

	if mode == "dev" || mode == "development" || cfg.Filename == "" {
		console := consoleEncoder()
		high := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel && l >= level })
		low := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l < zapcore.ErrorLevel && l >= level })
		cores = append(cores,
			zapcore.NewCore(console, zapcore.Lock(os.Stdout), low),
			zapcore.NewCore(console, zapcore.Lock(os.Stderr), high),
		)
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// Named returns a child of Lg for one component.
func Named(component string) *zap.Logger {
	if Lg == nil {
		initDefault()
	}
	return Lg.Named(component)
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Sync flushes buffered entries.
func Sync() {
	if Lg != nil {
		_ = Lg.Sync()
	}
}

func jsonEncoder() zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	ec.EncodeDuration = zapcore.MillisDurationEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewJSONEncoder(ec)
}

func consoleEncoder() zapcore.Encoder {
	ec := zap.NewDevelopmentEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	ec.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("15:04:05.000"))
	}
	return zapcore.NewConsoleEncoder(ec)
}

func fileWriter(cfg Config) zapcore.WriteSyncer {
	filename := cfg.Filename
	if cfg.Daily {
		ext := filepath.Ext(filename)
		filename = filename[:len(filename)-len(ext)] + "-" + time.Now().Format("2006-01-02") + ext
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		LocalTime:  true,
	})
}
