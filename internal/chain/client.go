// Package chain reads contract state and submits signed transactions on the
// EVM side of the venue.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Backend is the subset of ethclient.Client the engine uses.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

var _ Backend = (*ethclient.Client)(nil)

func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return client, nil
}

type Client struct {
	backend Backend
	log     *zap.Logger
}

func NewClient(backend Backend, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{backend: backend, log: log}
}

// ReadContract performs an eth_call at the latest block and unpacks the outputs.
func (c *Client) ReadContract(ctx context.Context, contract Contract, method string, args ...any) ([]any, error) {
	if contract.ABI == nil {
		return nil, fmt.Errorf("%s: abi is required", contract.Name)
	}
	input, err := contract.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s pack: %w", contract.Name, method, err)
	}
	to := contract.Address
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s.%s call: %w", contract.Name, method, err)
	}
	out, err := contract.ABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%s.%s unpack: %w", contract.Name, method, err)
	}
	c.log.Debug("contract read", zap.String("contract", contract.Name), zap.String("method", method))
	return out, nil
}

// ReadBig is ReadContract for single-integer views.
func (c *Client) ReadBig(ctx context.Context, contract Contract, method string, args ...any) (*big.Int, error) {
	out, err := c.ReadContract(ctx, contract, method, args...)
	if err != nil {
		return nil, err
	}
	return BigOutput(out, 0)
}

// TokenBalance reads an ERC20 balance in base units.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return c.ReadBig(ctx, Contract{Name: "erc20", Address: token, ABI: ERC20ABI}, "balanceOf", owner)
}
