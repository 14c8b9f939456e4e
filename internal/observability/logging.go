package observability

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// baseWriter is the non-OTLP sink InitLogger configured (stdout or a log
// file). EnableOTelLogs fans logs out to it alongside an OTelWriter rather
// than replacing it, so OTLP export never costs the operator their
// file/stdout logs.
var baseWriter io.Writer = os.Stdout

// InitLogger initializes zerolog with sane defaults for the chatplane
// server and worker binaries. If logPath is non-empty, logs are written to
// that file (append mode) instead of stdout. If opening the file fails, logs
// fall back to stdout, and an error is printed to stderr.
func InitLogger(logPath string, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	baseWriter = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			// When a log file is configured, write only to the file to avoid
			// interfering with interactive UIs (e.g., TUI) that use stdout.
			baseWriter = f
		} else {
			// best-effort; continue with stdout
			_, _ = fmt.Fprintf(os.Stderr, "failed to open log file %q: %v\n", logPath, err)
		}
	}
	log.Logger = log.Output(baseWriter).With().Timestamp().Logger()
	// Parse level
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl := zerolog.InfoLevel
	if level != "" {
		if l, err := zerolog.ParseLevel(level); err == nil {
			lvl = l
		}
	}
	zerolog.SetGlobalLevel(lvl)
	// Redirect the standard library logger so ALL logs are captured.
	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
}

// EnableOTelLogs fans the global logger's output out to an OTelWriter too.
// The OTelWriter emits through the global OTel log provider; InitOTel
// installs only trace and metric providers, so unless a log provider is
// installed elsewhere that global provider is a no-op and the records are
// dropped.
func EnableOTelLogs(serviceName string) {
	w := zerolog.MultiLevelWriter(baseWriter, NewOTelWriter(serviceName))
	log.Logger = log.Output(w).With().Timestamp().Logger()
}
