// Package submitter anchors a batch root on an EVM ledger.
package submitter

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"attestor/internal/anchor/merkle"
	"attestor/internal/platform/config"
	domainerrors "attestor/pkg/domain-errors"
)

// anchorRegistryABI is the fragment of the registry contract this engine
// talks to: one write and the event it emits.
const anchorRegistryABI = `[
	{"type":"function","name":"anchor","stateMutability":"nonpayable","inputs":[{"name":"root","type":"bytes32"},{"name":"batchId","type":"string"}],"outputs":[]},
	{"type":"event","name":"Anchored","anonymous":false,"inputs":[{"name":"root","type":"bytes32","indexed":false},{"name":"batchId","type":"string","indexed":false}]}
]`

// fallbackGasLimit is used when gas estimation fails; anchoring writes a
// fixed-size root plus a short batch id, so the ceiling is generous.
const fallbackGasLimit = 200_000

// EthSubmitter submits batch roots to the anchoring contract. It is NOT
// idempotent: callers must invoke Submit at most once per batch, which the
// anchor state machine guarantees via one-shot batch creation.
//
// The RPC connection is dialed lazily, so missing ledger configuration only
// surfaces when an anchor is actually requested.
type EthSubmitter struct {
	cfg    config.LedgerConfig
	logger *slog.Logger

	mu     sync.Mutex
	client *ethclient.Client

	contractABI abi.ABI
}

// New constructs a submitter for the given ledger configuration.
func New(cfg config.LedgerConfig, logger *slog.Logger) (*EthSubmitter, error) {
	parsed, err := abi.JSON(strings.NewReader(anchorRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	return &EthSubmitter{cfg: cfg, logger: logger, contractABI: parsed}, nil
}

// Submit anchors root (0x-prefixed 32-byte hex) for batchID and returns the
// confirmed transaction hash.
func (s *EthSubmitter) Submit(ctx context.Context, root, batchID string) (string, error) {
	if err := s.checkConfig(); err != nil {
		return "", err
	}

	rootHash, err := merkle.ParseHash(root)
	if err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeValidation, "malformed merkle root")
	}
	if batchID == "" {
		return "", domainerrors.New(domainerrors.CodeValidation, "batch id is required")
	}

	client, err := s.dial(ctx)
	if err != nil {
		return "", err
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(s.cfg.PrivateKey, "0x"))
	if err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeConfig, "malformed ledger signing key")
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	contract := common.HexToAddress(s.cfg.ContractAddress)

	data, err := s.contractABI.Pack("anchor", [32]byte(rootHash), batchID)
	if err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeInternal, "pack anchor call")
	}

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeLedger, "fetch nonce")
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeLedger, "fetch gas price")
	}
	gasLimit, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &contract,
		Data: data,
	})
	if err != nil {
		gasLimit = fallbackGasLimit
	}

	tx := types.NewTransaction(nonce, contract, big.NewInt(0), gasLimit, gasPrice, data)
	signer := types.LatestSignerForChainID(big.NewInt(s.cfg.ChainID))
	signed, err := types.SignTx(tx, signer, key)
	if err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeInternal, "sign anchor transaction")
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeLedger, "send anchor transaction")
	}

	receipt, err := bind.WaitMined(ctx, client, signed)
	if err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeLedger, "wait for anchor confirmation")
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", domainerrors.New(domainerrors.CodeLedger,
			fmt.Sprintf("anchor transaction %s reverted", signed.Hash().Hex()))
	}

	s.softCheckEvent(ctx, receipt, rootHash, batchID)

	return signed.Hash().Hex(), nil
}

// softCheckEvent decodes the Anchored event from the receipt and compares it
// with what was submitted. The on-chain state is authoritative; a local
// decoding mismatch is logged, never fatal.
func (s *EthSubmitter) softCheckEvent(ctx context.Context, receipt *types.Receipt, root merkle.Hash, batchID string) {
	eventID := s.contractABI.Events["Anchored"].ID
	for _, entry := range receipt.Logs {
		if len(entry.Topics) == 0 || entry.Topics[0] != eventID {
			continue
		}
		values, err := s.contractABI.Unpack("Anchored", entry.Data)
		if err != nil || len(values) != 2 {
			s.logger.WarnContext(ctx, "could not decode anchored event",
				"tx", receipt.TxHash.Hex(), "error", err)
			return
		}
		emittedRoot, _ := values[0].([32]byte)
		emittedBatchID, _ := values[1].(string)
		if merkle.Hash(emittedRoot) != root || emittedBatchID != batchID {
			s.logger.WarnContext(ctx, "anchored event does not match submission",
				"tx", receipt.TxHash.Hex(),
				"submitted_root", root.Hex(),
				"emitted_root", merkle.Hash(emittedRoot).Hex(),
				"submitted_batch_id", batchID,
				"emitted_batch_id", emittedBatchID,
			)
		}
		return
	}
	s.logger.WarnContext(ctx, "no anchored event in receipt", "tx", receipt.TxHash.Hex())
}

func (s *EthSubmitter) checkConfig() error {
	var missing []string
	if s.cfg.RPCURL == "" {
		missing = append(missing, "rpc url")
	}
	if s.cfg.ContractAddress == "" {
		missing = append(missing, "contract address")
	}
	if s.cfg.PrivateKey == "" {
		missing = append(missing, "signing key")
	}
	if s.cfg.ChainID == 0 {
		missing = append(missing, "chain id")
	}
	if len(missing) > 0 {
		return domainerrors.New(domainerrors.CodeConfig,
			fmt.Sprintf("ledger not configured: missing %s", strings.Join(missing, ", ")))
	}
	return nil
}

func (s *EthSubmitter) dial(ctx context.Context) (*ethclient.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	client, err := ethclient.DialContext(ctx, s.cfg.RPCURL)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeLedger, "dial ledger rpc")
	}
	s.client = client
	return client, nil
}

// ChainID reports the configured ledger chain.
func (s *EthSubmitter) ChainID() int64 {
	return s.cfg.ChainID
}

// Close releases the RPC connection if one was dialed.
func (s *EthSubmitter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
}
