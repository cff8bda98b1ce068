package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the logger's level, encoding and destination.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or a file path
	TimeFormat string // defaults to RFC3339Nano
}

// Logger is a thin structured-logging facade over zerolog. An optional
// collector aggregates error lines and ships them downstream.
type Logger struct {
	zl        zerolog.Logger
	collector *LogCollector
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: cfg.TimeFormat}
	}

	zl := zerolog.New(out).
		With().
		Timestamp().
		CallerWithSkipFrameCount(3).
		Logger()
	return &Logger{zl: zl}, nil
}

func openOutput(dest string) (io.Writer, error) {
	switch dest {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		f, err := os.OpenFile(dest, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		return f, nil
	}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.emit(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.emit(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.emit(l.zl.Warn(), msg, fields) }

func (l *Logger) Error(msg string, fields ...Field) {
	l.emit(l.zl.Error(), msg, fields)
	l.collect("error", msg, fields)
}

func (l *Logger) emit(event *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		f.apply(event)
	}
	event.Msg(msg)
}

// AddCollector attaches an error aggregator, replacing any existing one.
func (l *Logger) AddCollector(cfg *CollectionConfig) {
	if l.collector != nil {
		l.collector.Close()
	}
	l.collector = NewLogCollector(cfg)
}

// RemoveCollector flushes and detaches the aggregator.
func (l *Logger) RemoveCollector() {
	if l.collector != nil {
		l.collector.Close()
		l.collector = nil
	}
}

func (l *Logger) collect(level, msg string, fields []Field) {
	if l.collector == nil {
		return
	}

	// Skip collect and the Error wrapper to report the user's call site.
	_, file, line, ok := runtime.Caller(2)
	caller := "unknown"
	if ok {
		parts := strings.Split(file, "geovar")
		caller = fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
	}

	kv := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		kv[f.key] = f.value
	}
	l.collector.AddLog(level, msg, kv, caller)
}

// Field is one structured key/value pair.
type Field struct {
	key   string
	value interface{}
	apply func(*zerolog.Event)
}

func String(key, value string) Field {
	return Field{key, value, func(e *zerolog.Event) { e.Str(key, value) }}
}

func Int(key string, value int) Field {
	return Field{key, value, func(e *zerolog.Event) { e.Int(key, value) }}
}

func Bool(key string, value bool) Field {
	return Field{key, value, func(e *zerolog.Event) { e.Bool(key, value) }}
}

// Duration renders the value in whole milliseconds.
func Duration(key string, value time.Duration) Field {
	ms := value.Milliseconds()
	return Field{key, ms, func(e *zerolog.Event) { e.Int64(key, ms) }}
}

func Error(err error) Field {
	var v interface{}
	if err != nil {
		v = err.Error()
	}
	return Field{"error", v, func(e *zerolog.Event) { e.Err(err) }}
}
