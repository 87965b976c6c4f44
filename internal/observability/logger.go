package observability

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

var (
	// CLILogger is used by one-shot commands (SIMPLE profile).
	CLILogger *logging.Logger

	// ServerLogger is used by the long-running serve and watch modes
	// (STRUCTURED profile).
	ServerLogger *logging.Logger
)

// InitCLILogger initializes CLILogger; verbose enables DEBUG.
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		ExitStderr(foundry.ExitLoggingFailed, "Failed to initialize CLI logger", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
}

// ServerLoggerConfig builds the structured JSON logger for a long-running
// mode ("serve" or "watch"). Every line carries the service namespace and
// the mode so check logs from both can share one sink.
func ServerLoggerConfig(serviceName, logLevel, mode string) *logging.LoggerConfig {
	static := map[string]any{"namespace": serviceName}
	if mode != "" {
		static["mode"] = mode
	}

	return &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: parseLogLevel(logLevel),
		Service:      serviceName,
		Environment:  "production",
		StaticFields: static,
		Middleware: []logging.MiddlewareConfig{
			{Name: "correlation", Enabled: true, Order: 100, Config: map[string]any{}},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:    "console",
				Format:  "json",
				Console: &logging.ConsoleSinkConfig{Stream: "stderr", Colorize: false},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

// InitServerLogger initializes ServerLogger for mode.
func InitServerLogger(serviceName, logLevel, mode string) {
	logger, err := logging.New(ServerLoggerConfig(serviceName, logLevel, mode))
	if err != nil {
		ExitStderr(foundry.ExitStructuredLoggingFailed, "Failed to initialize server logger", err)
	}
	ServerLogger = logger
}

func parseLogLevel(levelStr string) string {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

// ExitStderr reports a fatal error on stderr and exits with a foundry exit
// code. It is the fallback for failures before a logger exists.
func ExitStderr(exitCode foundry.ExitCode, msg string, err error) {
	WriteExitReport(os.Stderr, exitCode, msg, err)
	os.Exit(exitStatus(exitCode))
}

// WriteExitReport renders the fatal report ExitStderr prints.
func WriteExitReport(w io.Writer, exitCode foundry.ExitCode, msg string, err error) {
	var envelope *gferrors.ErrorEnvelope
	switch {
	case err == nil:
		fmt.Fprintf(w, "FATAL: %s\n", msg)
	case errors.As(err, &envelope):
		fmt.Fprintf(w, "FATAL: %s [%s]: %s\n", msg, envelope.Code, envelope.Message)
		if envelope.Original != nil {
			fmt.Fprintf(w, "Cause: %v\n", envelope.Original)
		}
		if envelope.CorrelationID != "" {
			fmt.Fprintf(w, "Correlation: %s\n", envelope.CorrelationID)
		}
	default:
		fmt.Fprintf(w, "FATAL: %s: %v\n", msg, err)
	}

	if info, ok := foundry.GetExitCodeInfo(exitCode); ok {
		fmt.Fprintf(w, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	} else {
		fmt.Fprintf(w, "Exit Code: %d\n", exitCode)
	}
}

func exitStatus(exitCode foundry.ExitCode) int {
	if info, ok := foundry.GetExitCodeInfo(exitCode); ok {
		return info.Code
	}
	return int(exitCode)
}
