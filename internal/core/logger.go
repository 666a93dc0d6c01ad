package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Logger is the minimal logging interface shared by every component.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
	InfoWithContext(ctx context.Context, msg string, fields map[string]any)
	ErrorWithContext(ctx context.Context, msg string, fields map[string]any)
	WarnWithContext(ctx context.Context, msg string, fields map[string]any)
	DebugWithContext(ctx context.Context, msg string, fields map[string]any)
}

// ComponentAwareLogger extends Logger with a component tag, so the same
// base configuration can be reused by every subsystem
// ("coordinator", "memory/kv", "resilience", "collaboration", ...).
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// LoggingConfig configures a ProductionLogger.
type LoggingConfig struct {
	Level  string // debug|info|warn|error
	Format string // json|text
	Output string // stdout|stderr
}

// DefaultLoggingConfig returns info-level JSON logging to stdout.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "json", Output: "stdout"}
}

// ProductionLogger is a structured logger writing to an io.Writer, in either
// JSON or human-readable text form, tagged with a component name.
type ProductionLogger struct {
	debug     bool
	component string
	format    string
	output    io.Writer
}

// NewProductionLogger builds a ProductionLogger for the given component.
func NewProductionLogger(cfg LoggingConfig, component string) *ProductionLogger {
	var w io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		w = os.Stderr
	}
	format := cfg.Format
	if format == "" {
		format = "json"
	}
	return &ProductionLogger{
		debug:     cfg.Level == "debug",
		component: component,
		format:    format,
		output:    w,
	}
}

func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	return &clone
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]any) {
	if p.format == "json" {
		entry := map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"level":     level,
			"component": p.component,
			"message":   msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		enc, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(p.output, "%s [%s] [%s] %s (unmarshalable fields)\n", time.Now().UTC().Format(time.RFC3339Nano), level, p.component, msg)
			return
		}
		fmt.Fprintln(p.output, string(enc))
		return
	}
	fmt.Fprintf(p.output, "%s [%s] [%s] %s %v\n", time.Now().UTC().Format(time.RFC3339Nano), level, p.component, msg, fields)
}

func (p *ProductionLogger) Info(msg string, fields map[string]any)  { p.logEvent("info", msg, fields) }
func (p *ProductionLogger) Error(msg string, fields map[string]any) { p.logEvent("error", msg, fields) }
func (p *ProductionLogger) Warn(msg string, fields map[string]any)  { p.logEvent("warn", msg, fields) }
func (p *ProductionLogger) Debug(msg string, fields map[string]any) {
	if p.debug {
		p.logEvent("debug", msg, fields)
	}
}

func (p *ProductionLogger) InfoWithContext(_ context.Context, msg string, fields map[string]any) {
	p.Info(msg, fields)
}
func (p *ProductionLogger) ErrorWithContext(_ context.Context, msg string, fields map[string]any) {
	p.Error(msg, fields)
}
func (p *ProductionLogger) WarnWithContext(_ context.Context, msg string, fields map[string]any) {
	p.Warn(msg, fields)
}
func (p *ProductionLogger) DebugWithContext(_ context.Context, msg string, fields map[string]any) {
	p.Debug(msg, fields)
}

// NoOpLogger discards everything; used as the zero-value default.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]any)                             {}
func (NoOpLogger) Error(string, map[string]any)                            {}
func (NoOpLogger) Warn(string, map[string]any)                             {}
func (NoOpLogger) Debug(string, map[string]any)                            {}
func (NoOpLogger) InfoWithContext(context.Context, string, map[string]any) {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]any) {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]any) {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]any) {}
func (n NoOpLogger) WithComponent(string) Logger                            { return n }
