// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger configures the process-wide slog logger.
//
// Records from outside this module are dropped unless the level is debug,
// so chatty dependencies stay quiet in normal runs.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/term"
)

const modulePrefix = "github.com/kadirpekel/agentkit"

// Output formats accepted by Init.
const (
	FormatSimple  = "simple"
	FormatVerbose = "verbose"
	FormatJSON    = "json"
)

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
)

// ParseLevel converts debug, info, warn or error to a slog.Level.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", levelStr)
	}
}

// ValidFormat reports whether format is accepted by Init.
func ValidFormat(format string) bool {
	switch format {
	case "", FormatSimple, FormatVerbose, FormatJSON:
		return true
	}
	return false
}

// Init installs a logger writing to output as the slog default.
//
// format is "simple" (level, message, attributes), "verbose" (simple plus a
// timestamp) or "json". Levels are colored when output is a terminal.
func Init(level slog.Level, output io.Writer, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = &lineHandler{
			out:     &lockedWriter{w: output},
			level:   level,
			color:   isTerminal(output),
			verbose: format == FormatVerbose,
		}
	}

	l := slog.New(&filteringHandler{handler: handler, minLevel: level})
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
	slog.SetDefault(l)
	return l
}

// GetLogger returns the logger installed by Init, initializing an info
// level simple logger on stderr first if needed.
func GetLogger() *slog.Logger {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	if l == nil {
		return Init(slog.LevelInfo, os.Stderr, FormatSimple)
	}
	return l
}

// OpenLogFile opens path for appending. The returned func closes it.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return file, func() { _ = file.Close() }, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// filteringHandler drops records logged outside this module unless the
// minimum level is debug.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel > slog.LevelDebug && !fromModule(record.PC) {
		return nil
	}
	return h.handler.Handle(ctx, record)
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

func fromModule(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	return strings.HasPrefix(fn.Name(), modulePrefix)
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// lineHandler writes one "LEVEL message key=value ..." line per record.
type lineHandler struct {
	out     *lockedWriter
	level   slog.Level
	color   bool
	verbose bool
	attrs   []slog.Attr
	group   string
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *lineHandler) Handle(_ context.Context, record slog.Record) error {
	var buf strings.Builder
	if h.verbose && !record.Time.IsZero() {
		buf.WriteString(record.Time.Format("2006/01/02 15:04:05 "))
	}
	level := levelName(record.Level)
	if h.color {
		buf.WriteString(levelColor(record.Level))
		buf.WriteString(level)
		buf.WriteString("\033[0m")
	} else {
		buf.WriteString(level)
	}
	buf.WriteByte(' ')
	buf.WriteString(record.Message)

	for _, a := range h.attrs {
		writeAttr(&buf, "", a)
	}
	record.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, h.group, a)
		return true
	})
	buf.WriteByte('\n')

	_, err := io.WriteString(h.out, buf.String())
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), qualify(h.group, attrs)...)
	return &c
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	if c.group != "" {
		c.group += "." + name
	} else {
		c.group = name
	}
	return &c
}

func qualify(group string, attrs []slog.Attr) []slog.Attr {
	if group == "" {
		return attrs
	}
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: group + "." + a.Key, Value: a.Value}
	}
	return out
}

func writeAttr(buf *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(buf, key, ga)
		}
		return
	}
	buf.WriteByte(' ')
	buf.WriteString(key)
	buf.WriteByte('=')
	buf.WriteString(a.Value.String())
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m"
	case level >= slog.LevelWarn:
		return "\033[33m"
	case level >= slog.LevelInfo:
		return "\033[36m"
	default:
		return "\033[90m"
	}
}
