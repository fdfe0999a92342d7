package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// Configure sets the global level and output format used by loggers created
// afterwards. Unknown levels fall back to info.
func Configure(cfg Config) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	mu.Lock()
	defer mu.Unlock()
	if cfg.Format != "" {
		outputFormat = strings.ToLower(cfg.Format)
	}
	if fileOut != nil {
		_ = fileOut.Close()
		fileOut = nil
	}
	if cfg.File != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		fileOut = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	}
}

// Close flushes and closes the log file opened by Configure, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if fileOut == nil {
		return nil
	}
	err := fileOut.Close()
	fileOut = nil
	return err
}

var (
	mu           sync.Mutex
	outputFormat string
	fileOut      *lumberjack.Logger
)

// Validate rejects unknown levels and formats.
func (c Config) Validate() error {
	if c.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(c.Level)); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	switch strings.ToLower(c.Format) {
	case "", "json", "console":
		return nil
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Format)
	}
}

// NewZerologLogger creates a ZerologLogger writing to stdout. The console
// format is used when APP_ENV is "dev" or when configured. All logs include
// the provided component field.
func NewZerologLogger(component string) Logger {
	return NewWithWriter(component, os.Stdout)
}

// NewWithWriter creates a ZerologLogger writing to w.
func NewWithWriter(component string, w io.Writer) Logger {
	mu.Lock()
	format, file := outputFormat, fileOut
	mu.Unlock()
	if strings.ToLower(os.Getenv("APP_ENV")) == "dev" || format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	if file != nil {
		w = zerolog.MultiLevelWriter(w, file)
	}
	z := zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	return &ZerologLogger{log: z}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	l.log.Debug().Fields(fields).Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
