package strategy

import (
	"math/big"
	"strings"

	"hl-vault-engine/internal/chain"
	"hl-vault-engine/internal/config"
	"hl-vault-engine/internal/quote"
	"hl-vault-engine/internal/sizing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

type Kind string

const (
	KindLendingLoop Kind = config.KindLendingLoop
	KindMarginHedge Kind = config.KindMarginHedge
)

// Strategy is one deployed executor and the protocol addresses it works against.
type Strategy struct {
	ID              string
	Kind            Kind
	Executor        common.Address
	Position        common.Address
	Lens            common.Address
	Pool            common.Address
	Vault           common.Address
	CollateralAsset common.Address
	DebtAsset       common.Address
	HedgeCoin       string
}

func FromConfig(cfg config.StrategyConfig) Strategy {
	return Strategy{
		ID:              cfg.ID,
		Kind:            Kind(cfg.Kind),
		Executor:        addr(cfg.Executor),
		Position:        addr(cfg.Position),
		Lens:            addr(cfg.Lens),
		Pool:            addr(cfg.Pool),
		Vault:           addr(cfg.Vault),
		CollateralAsset: addr(cfg.CollateralAsset),
		DebtAsset:       addr(cfg.DebtAsset),
		HedgeCoin:       cfg.HedgeCoin,
	}
}

func (s Strategy) executorABI() *abi.ABI {
	if s.Kind == KindLendingLoop {
		return chain.LendingExecutorABI
	}
	return chain.MarginExecutorABI
}

func (s Strategy) executor() chain.Contract {
	return chain.Contract{Name: string(s.Kind) + " executor", Address: s.Executor, ABI: s.executorABI()}
}

// TxResult describes the single transaction an operation submitted.
// Skipped operations had nothing to move and sent no transaction.
type TxResult struct {
	Method  string
	Hash    common.Hash
	Block   uint64
	Skipped bool
	Amounts *sizing.Amounts
	Quote   *quote.Quote
	Amount  *big.Int
}

func skipped(method string) TxResult {
	return TxResult{Method: method, Skipped: true}
}

func fromReceipt(method string, r chain.Receipt) TxResult {
	return TxResult{Method: method, Hash: r.Hash, Block: r.Block}
}

func addr(s string) common.Address {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}
