package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Log levels in increasing severity order.
const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

// ProductionLogger is the default Logger implementation. It writes one line
// per entry, JSON in Kubernetes (or when configured), key=value text for
// local development.
//
// Configuration priority:
//  1. Explicit parameters (highest)
//  2. Environment variables (WAVEFLOW_LOG_LEVEL, WAVEFLOW_LOG_FORMAT)
//  3. Auto-detection (K8s environment)
//  4. Defaults (lowest)
type ProductionLogger struct {
	level       int
	format      string
	serviceName string
	output      io.Writer
	mu          sync.Mutex
}

// NewProductionLogger creates a logger for the given service. Pass empty
// strings for level/format to use environment variables and auto-detection.
func NewProductionLogger(serviceName, level, format string) *ProductionLogger {
	if level == "" {
		level = os.Getenv("WAVEFLOW_LOG_LEVEL")
	}
	if level == "" {
		level = "info"
	}
	if format == "" {
		format = os.Getenv("WAVEFLOW_LOG_FORMAT")
	}
	if format == "" {
		// JSON in K8s for log aggregation, text locally
		if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
			format = "json"
		} else {
			format = "text"
		}
	}

	return &ProductionLogger{
		level:       parseLevel(level),
		format:      format,
		serviceName: serviceName,
		output:      os.Stdout,
	}
}

// SetOutput redirects log output, primarily for tests.
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

func parseLevel(level string) int {
	switch strings.ToLower(level) {
	case "debug":
		return levelDebug
	case "warn", "warning":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func levelName(level int) string {
	switch level {
	case levelDebug:
		return "DEBUG"
	case levelWarn:
		return "WARN"
	case levelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log(levelInfo, msg, fields)
}

func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	l.log(levelError, msg, fields)
}

func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(levelWarn, msg, fields)
}

func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(levelDebug, msg, fields)
}

func (l *ProductionLogger) log(level int, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.format == "json" {
		entry := make(map[string]interface{}, len(fields)+4)
		for k, v := range fields {
			entry[k] = v
		}
		entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)
		entry["level"] = levelName(level)
		entry["service"] = l.serviceName
		entry["message"] = msg

		data, err := json.Marshal(entry)
		if err != nil {
			// Field values that cannot marshal fall back to a plain line
			fmt.Fprintf(l.output, `{"time":%q,"level":%q,"service":%q,"message":%q}`+"\n",
				time.Now().UTC().Format(time.RFC3339Nano), levelName(level), l.serviceName, msg)
			return
		}
		fmt.Fprintln(l.output, string(data))
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	b.WriteString(" ")
	b.WriteString(levelName(level))
	b.WriteString(" ")
	b.WriteString(msg)

	// Stable field order so log lines are diffable
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}

	fmt.Fprintln(l.output, b.String())
}
