package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults shared by daemon log files and console capture files.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Level names accepted in configuration.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the daemon log encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig shapes the daemon's own structured log output.
type SlogConfig struct {
	Level      Level  `json:"level" mapstructure:"level"`
	Format     Format `json:"format" mapstructure:"format"`
	Color      bool   `json:"color" mapstructure:"color"`           // ANSI level tags on text output
	TimeStamps bool   `json:"timestamps" mapstructure:"timestamps"` // include the time attribute
	Output     string `json:"output" mapstructure:"output"`         // log file path; empty logs to stderr
}

// FileConfig shapes rotating console capture files for instances.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string `json:"dir" mapstructure:"dir"` // base directory, file per instance
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Config carries logging for the daemon and its instances.
type Config struct {
	Slog SlogConfig `json:"slog" mapstructure:"slog"`
	File FileConfig `json:"file" mapstructure:"file"`
}

// DefaultConfig returns a colored text logger at info level with
// timestamps, and stock rotation settings for console capture.
func DefaultConfig() Config {
	return Config{
		Slog: SlogConfig{Level: LevelInfo, Format: FormatText, Color: true, TimeStamps: true},
	}
}

// NewSlogger builds the daemon logger described by the config.
// Color applies only to text output on a stream; file output stays plain
// so rotated logs remain grep-friendly.
func (c Config) NewSlogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Slog.slogLevel()}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		}
	}

	var w io.Writer = os.Stderr
	color := c.Slog.Color
	if c.Slog.Output != "" {
		w = c.rotating(c.Slog.Output)
		color = false
	}

	var h slog.Handler
	switch {
	case c.Slog.Format == FormatJSON:
		h = slog.NewJSONHandler(w, opts)
	case color:
		h = NewColorTextHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

func (c SlogConfig) slogLevel() slog.Level {
	switch Level(strings.ToLower(string(c.Level))) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ConsoleWriter returns the rotating capture sink for one instance's
// merged console output. An explicit path wins over Dir; with neither,
// capture is disabled and the writer is nil.
func (c Config) ConsoleWriter(name, path string) io.WriteCloser {
	if path == "" && c.File.Dir != "" {
		path = filepath.Join(c.File.Dir, name+".log")
	}
	if path == "" {
		return nil
	}
	return c.rotating(path)
}

func (c Config) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.File.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
