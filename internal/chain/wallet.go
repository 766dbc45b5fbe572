package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"hl-vault-engine/internal/failure"
	"hl-vault-engine/internal/metrics"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

const (
	gasLimitNumerator     = 12
	gasLimitDenominator   = 10
	defaultConfirmTimeout = 2 * time.Minute
)

// Receipt is the confirmed outcome of one submitted call.
type Receipt struct {
	Hash  common.Hash
	Block uint64
}

type Wallet struct {
	backend        Backend
	key            *ecdsa.PrivateKey
	from           common.Address
	chainID        *big.Int
	confirmTimeout time.Duration
	metrics        *metrics.Metrics
	log            *zap.Logger
}

func NewWallet(backend Backend, hexKey string, chainID int64, confirmTimeout time.Duration, m *metrics.Metrics, log *zap.Logger) (*Wallet, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if clean == "" {
		return nil, failure.Configf("private key is required")
	}
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, failure.Configf("private key: %v", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Wallet{
		backend:        backend,
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		chainID:        big.NewInt(chainID),
		confirmTimeout: confirmTimeout,
		metrics:        metrics.OrNoop(m),
		log:            log,
	}, nil
}

func (w *Wallet) Address() common.Address {
	return w.from
}

// SubmitTransaction signs and broadcasts an EIP-1559 call to contract.method.
func (w *Wallet) SubmitTransaction(ctx context.Context, contract Contract, method string, args ...any) (*types.Transaction, error) {
	if contract.ABI == nil {
		return nil, fmt.Errorf("%s: abi is required", contract.Name)
	}
	input, err := contract.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s pack: %w", contract.Name, method, err)
	}
	to := contract.Address
	nonce, err := w.backend.PendingNonceAt(ctx, w.from)
	if err != nil {
		return nil, w.txErr(contract, method, "nonce", err)
	}
	tip, err := w.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, w.txErr(contract, method, "tip", err)
	}
	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, w.txErr(contract, method, "header", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)
	gas, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      w.from,
		To:        &to,
		GasFeeCap: feeCap,
		GasTipCap: tip,
		Data:      input,
	})
	if err != nil {
		return nil, w.txErr(contract, method, "estimate gas", err)
	}
	gas = gas * gasLimitNumerator / gasLimitDenominator

	tx, err := types.SignNewTx(w.key, types.LatestSignerForChainID(w.chainID), &types.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      input,
	})
	if err != nil {
		return nil, w.txErr(contract, method, "sign", err)
	}
	if err := w.backend.SendTransaction(ctx, tx); err != nil {
		return nil, w.txErr(contract, method, "send", err)
	}
	w.metrics.TxSubmitted.Inc()
	w.log.Info("transaction submitted",
		zap.String("contract", contract.Name),
		zap.String("method", method),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("nonce", nonce),
	)
	return tx, nil
}

// AwaitConfirmation blocks until tx is mined or the confirm timeout passes.
// A broadcast transaction is always waited on: cancelling ctx does not stop
// the wait. Reverted receipts are reported as failure.ErrTransactionFailed.
func (w *Wallet) AwaitConfirmation(ctx context.Context, tx *types.Transaction) (Receipt, error) {
	timeout := w.confirmTimeout
	if timeout <= 0 {
		timeout = defaultConfirmTimeout
	}
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, w.backend, tx)
	if err != nil {
		w.metrics.TxFailed.Inc()
		return Receipt{}, fmt.Errorf("%w: wait for %s: %v", failure.ErrTransactionFailed, tx.Hash().Hex(), failure.Classify(err))
	}
	out := Receipt{Hash: tx.Hash()}
	if receipt.BlockNumber != nil {
		out.Block = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		w.metrics.TxFailed.Inc()
		return Receipt{}, fmt.Errorf("%w: %s reverted in block %d", failure.ErrTransactionFailed, out.Hash.Hex(), out.Block)
	}
	w.log.Info("transaction confirmed", zap.String("tx", out.Hash.Hex()), zap.Uint64("block", out.Block))
	return out, nil
}

// Transact submits one call and waits for its receipt.
func (w *Wallet) Transact(ctx context.Context, contract Contract, method string, args ...any) (Receipt, error) {
	tx, err := w.SubmitTransaction(ctx, contract, method, args...)
	if err != nil {
		return Receipt{}, err
	}
	return w.AwaitConfirmation(ctx, tx)
}

func (w *Wallet) txErr(contract Contract, method, stage string, err error) error {
	w.metrics.TxFailed.Inc()
	return fmt.Errorf("%w: %s.%s %s: %v", failure.ErrTransactionFailed, contract.Name, method, stage, err)
}
