package cmd

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"

	"github.com/namelens/domaincheck/internal/core/state"
	errwrap "github.com/namelens/domaincheck/internal/errors"
)

func TestExitCodeFor(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		err  error
		want foundry.ExitCode
	}{
		{"nil", nil, foundry.ExitSuccess},
		{"missing secret", fmt.Errorf("%w: set persistence.hmac_secret", state.ErrSecretRequired), foundry.ExitConfigInvalid},
		{"tampered state", fmt.Errorf("load example.com: %w", state.ErrTampered), foundry.ExitDataCorrupt},
		{"deadline", fmt.Errorf("rdap: %w", context.DeadlineExceeded), foundry.ExitOperationTimeout},
		{"wrapped secret", errwrap.WrapConfigInvalid(ctx, fmt.Errorf("%w: run config init", state.ErrSecretRequired), "check pipeline initialization failed"), foundry.ExitConfigInvalid},
		{"wrapped tamper beats envelope code", errwrap.WrapDatabaseError(ctx, state.ErrTampered, "failed to read domain state"), foundry.ExitDataCorrupt},
		{"config envelope", errwrap.NewConfigInvalidError("bad rate limits"), foundry.ExitConfigInvalid},
		{"domain envelope", errwrap.NewDomainInvalidError("bad_domain!", nil), foundry.ExitInvalidArgument},
		{"database envelope", errwrap.WrapDatabaseError(ctx, errors.New("libsql: locked"), "open store"), foundry.ExitDatabaseUnavailable},
		{"unknown", errors.New("boom"), foundry.ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeFor(tt.err, foundry.ExitFailure))
		})
	}
}
