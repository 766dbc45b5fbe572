package chain

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Contract binds an address to the ABI used to pack calls against it.
type Contract struct {
	Name    string
	Address common.Address
	ABI     *abi.ABI
}

func NewContract(name, address string, parsed *abi.ABI) Contract {
	return Contract{Name: name, Address: common.HexToAddress(address), ABI: parsed}
}

// Minimal ABIs for the calls the engine makes. Executors share the hedge venue
// primitives; transferUSDT2Core is overloaded, and go-ethereum names the second
// overload transferUSDT2Core0.
const venueMethodsJSON = `
{"type":"function","name":"transferUSDT2Core","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"transferUSDT2Core","inputs":[{"name":"amount","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"swapUSDT2USDC","inputs":[{"name":"isBuy","type":"bool"},{"name":"limitPx","type":"uint64"},{"name":"sz","type":"uint64"}],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"transferUSDCFromSpotToPerp","inputs":[{"name":"ntl","type":"uint64"},{"name":"toPerp","type":"bool"}],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"openHypeShort","inputs":[{"name":"isBuy","type":"bool"},{"name":"limitPx","type":"uint64"},{"name":"sz","type":"uint64"}],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"closeHypeShort","inputs":[{"name":"limitPx","type":"uint64"},{"name":"sz","type":"uint64"}],"outputs":[],"stateMutability":"nonpayable"}`

const marginExecutorJSON = `[` + venueMethodsJSON + `,
{"type":"function","name":"executeFullEvmFlow","inputs":[{"name":"amount","type":"uint256"},{"name":"swapData","type":"bytes"}],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"closeLeveragePosition","inputs":[{"name":"asset","type":"address"},{"name":"minOut","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"swapData","type":"bytes"}],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"partialClosePosition","inputs":[{"name":"debtToRepay","type":"uint256"},{"name":"collateralToWithdraw","type":"uint256"},{"name":"swapData","type":"bytes"}],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"borrowUSDT","inputs":[{"name":"amount","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"}
]`

const lendingExecutorJSON = `[` + venueMethodsJSON + `,
{"type":"function","name":"executeFullEvmFlow","inputs":[{"name":"asset","type":"address"},{"name":"minOut","type":"uint256"},{"name":"deadline","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"closeLeveragePosition","inputs":[{"name":"asset","type":"address"},{"name":"minOut","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"swapData","type":"bytes"}],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"partialClosePosition","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"borrowStable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"repayStable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"}
]`

const vaultJSON = `[
{"type":"function","name":"fundsForExecutor","inputs":[{"name":"asset","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
]`

const lensJSON = `[
{"type":"function","name":"getAssetData","inputs":[{"name":"position","type":"address"}],"outputs":[{"name":"","type":"tuple[]","components":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"valueInEth","type":"uint256"}]}],"stateMutability":"view"},
{"type":"function","name":"getDebtData","inputs":[{"name":"position","type":"address"}],"outputs":[{"name":"","type":"tuple[]","components":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"valueInEth","type":"uint256"}]}],"stateMutability":"view"}
]`

const poolJSON = `[
{"type":"function","name":"getUserAccountData","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"totalCollateralBase","type":"uint256"},{"name":"totalDebtBase","type":"uint256"},{"name":"availableBorrowsBase","type":"uint256"},{"name":"currentLiquidationThreshold","type":"uint256"},{"name":"ltv","type":"uint256"},{"name":"healthFactor","type":"uint256"}],"stateMutability":"view"}
]`

const erc20JSON = `[
{"type":"function","name":"balanceOf","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
]`

var (
	MarginExecutorABI  = mustParse("margin executor", marginExecutorJSON)
	LendingExecutorABI = mustParse("lending executor", lendingExecutorJSON)
	VaultABI           = mustParse("vault", vaultJSON)
	LensABI            = mustParse("lens", lensJSON)
	PoolABI            = mustParse("pool", poolJSON)
	ERC20ABI           = mustParse("erc20", erc20JSON)
)

func mustParse(name, raw string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse %s abi: %v", name, err))
	}
	return &parsed
}

// FirstAmount returns the amount field of the first tuple in a lens result,
// or zero when the list is empty.
func FirstAmount(out []any) (*big.Int, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("empty call result")
	}
	list := reflect.ValueOf(out[0])
	if list.Kind() != reflect.Slice {
		return nil, fmt.Errorf("expected tuple list, got %T", out[0])
	}
	if list.Len() == 0 {
		return new(big.Int), nil
	}
	first := list.Index(0)
	if first.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected tuple, got %s", first.Kind())
	}
	field := first.FieldByName("Amount")
	if !field.IsValid() {
		return nil, fmt.Errorf("tuple has no amount field")
	}
	amount, ok := field.Interface().(*big.Int)
	if !ok {
		return nil, fmt.Errorf("amount has type %s", field.Type())
	}
	return new(big.Int).Set(amount), nil
}

// BigOutput reads the idx-th output as an integer.
func BigOutput(out []any, idx int) (*big.Int, error) {
	if idx >= len(out) {
		return nil, fmt.Errorf("call returned %d values, want index %d", len(out), idx)
	}
	v, ok := out[idx].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("output %d has type %T", idx, out[idx])
	}
	return new(big.Int).Set(v), nil
}
