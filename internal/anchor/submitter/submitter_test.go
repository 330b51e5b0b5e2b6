package submitter

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attestor/internal/platform/config"
	domainerrors "attestor/pkg/domain-errors"
)

func newSubmitter(t *testing.T, cfg config.LedgerConfig) *EthSubmitter {
	t.Helper()
	s, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func fullConfig() config.LedgerConfig {
	return config.LedgerConfig{
		RPCURL:          "http://localhost:8545",
		ContractAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		PrivateKey:      "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
		ChainID:         11155111,
		SubmitTimeout:   time.Second,
	}
}

func TestSubmitMissingConfigIsConfigError(t *testing.T) {
	cases := map[string]func(*config.LedgerConfig){
		"rpc url":          func(c *config.LedgerConfig) { c.RPCURL = "" },
		"contract address": func(c *config.LedgerConfig) { c.ContractAddress = "" },
		"signing key":      func(c *config.LedgerConfig) { c.PrivateKey = "" },
		"chain id":         func(c *config.LedgerConfig) { c.ChainID = 0 },
	}
	for name, strip := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := fullConfig()
			strip(&cfg)
			s := newSubmitter(t, cfg)

			_, err := s.Submit(context.Background(),
				"0x0000000000000000000000000000000000000000000000000000000000000001", "batch-1")
			require.Error(t, err)
			assert.True(t, domainerrors.HasCode(err, domainerrors.CodeConfig), "missing %s must be a config error", name)
		})
	}
}

func TestSubmitMalformedRootIsValidationError(t *testing.T) {
	s := newSubmitter(t, fullConfig())

	for _, root := range []string{"", "0x1234", "not-hex", "0x" + string(make([]byte, 64))} {
		_, err := s.Submit(context.Background(), root, "batch-1")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeValidation), "root %q must be rejected", root)
	}
}

func TestSubmitEmptyBatchIDIsValidationError(t *testing.T) {
	s := newSubmitter(t, fullConfig())

	_, err := s.Submit(context.Background(),
		"0x0000000000000000000000000000000000000000000000000000000000000001", "")
	require.Error(t, err)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeValidation))
}
