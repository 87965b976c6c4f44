package cmd

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/namelens/domaincheck/internal/core/state"
	"github.com/namelens/domaincheck/internal/observability"
)

// ExitCodeFor maps pipeline failures to foundry exit codes so scripts can
// tell a missing secret from tampered state or a slow registry. Errors it
// does not recognize map to fallback.
func ExitCodeFor(err error, fallback foundry.ExitCode) foundry.ExitCode {
	if err == nil {
		return foundry.ExitSuccess
	}
	if code, ok := exitCodeFor(err); ok {
		return code
	}
	return fallback
}

var sentinelExitCodes = []struct {
	err  error
	code foundry.ExitCode
}{
	{state.ErrSecretRequired, foundry.ExitConfigInvalid},
	{state.ErrTampered, foundry.ExitDataCorrupt},
	{context.DeadlineExceeded, foundry.ExitOperationTimeout},
	{context.Canceled, foundry.ExitSignalInt},
}

func exitCodeFor(err error) (foundry.ExitCode, bool) {
	for _, s := range sentinelExitCodes {
		if errors.Is(err, s.err) {
			return s.code, true
		}
	}

	var envelope *gferrors.ErrorEnvelope
	if !errors.As(err, &envelope) {
		return 0, false
	}
	// Envelopes keep only the text of the wrapped cause, which is still more
	// specific than the envelope code.
	if cause, ok := envelope.Original.(string); ok && cause != "" {
		for _, s := range sentinelExitCodes {
			if strings.Contains(cause, s.err.Error()) {
				return s.code, true
			}
		}
	}
	switch envelope.Code {
	case "CONFIG_INVALID":
		return foundry.ExitConfigInvalid, true
	case "DOMAIN_INVALID", "INVALID_INPUT", "VALIDATION_FAILED":
		return foundry.ExitInvalidArgument, true
	case "STATE_TAMPERED":
		return foundry.ExitDataCorrupt, true
	case "DATABASE_ERROR":
		return foundry.ExitDatabaseUnavailable, true
	}
	return 0, false
}

// ExitWithCode logs err with its exit code metadata and exits. A nil logger
// falls back to the stderr report.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if logger == nil || !ok {
		observability.ExitStderr(exitCode, msg, err)
		return
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}
	var envelope *gferrors.ErrorEnvelope
	if errors.As(err, &envelope) {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("correlation_id", envelope.CorrelationID))
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
	}
	fields = append(fields, zap.Error(err))
	logger.Error(msg, fields...)
	_ = logger.Sync()

	os.Exit(info.Code)
}

// ExitWithCodeStderr exits before any logger is available.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	observability.ExitStderr(exitCode, msg, err)
}
