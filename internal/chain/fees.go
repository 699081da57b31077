package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/params"
)

// Fee models.
const (
	FeeModelLegacy  = "legacy"
	FeeModelEIP1559 = "eip1559"
)

// defaultPriorityFee is used when a node cannot suggest a tip.
var defaultPriorityFee = big.NewInt(1_500_000_000) // 1.5 gwei

// FeeData is the current fee market.
type FeeData struct {
	Model string
	// GasPrice is the legacy price, or base fee plus tip for EIP-1559.
	GasPrice       *big.Int
	BaseFee        *big.Int
	MaxPriorityFee *big.Int
	MaxFee         *big.Int
}

// FeeSource reads fee data from a provider.
type FeeSource interface {
	Name() string
	FeeData(ctx context.Context, p Provider) (FeeData, error)
}

// DetectFeeSource probes the latest block once. Blocks carrying
// baseFeePerGas select the EIP-1559 source; anything else, including a
// failed probe, selects the legacy source.
func DetectFeeSource(ctx context.Context, p Provider) FeeSource {
	if p == nil || !p.Available() {
		return legacyFees{}
	}
	if _, err := latestBaseFee(ctx, p); err != nil {
		return legacyFees{}
	}
	return londonFees{}
}

// ParseQuantity decodes a JSON hex quantity such as "0x1bc16d674ec80000".
func ParseQuantity(raw json.RawMessage) (*big.Int, error) {
	var q hexutil.Big
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, fmt.Errorf("decode quantity: %w", err)
	}
	return q.ToInt(), nil
}

// GweiString formats wei as gwei with up to two decimals.
func GweiString(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(wei, big.NewInt(params.GWei))
	return trimZeros(r.FloatString(2))
}

type legacyFees struct{}

func (legacyFees) Name() string { return FeeModelLegacy }

func (legacyFees) FeeData(ctx context.Context, p Provider) (FeeData, error) {
	raw, err := p.Request(ctx, "eth_gasPrice")
	if err != nil {
		return FeeData{}, err
	}
	price, err := ParseQuantity(raw)
	if err != nil {
		return FeeData{}, err
	}
	return FeeData{Model: FeeModelLegacy, GasPrice: price}, nil
}

type londonFees struct{}

func (londonFees) Name() string { return FeeModelEIP1559 }

func (londonFees) FeeData(ctx context.Context, p Provider) (FeeData, error) {
	base, err := latestBaseFee(ctx, p)
	if err != nil {
		return FeeData{}, err
	}

	tip := new(big.Int).Set(defaultPriorityFee)
	raw, err := p.Request(ctx, "eth_maxPriorityFeePerGas")
	switch {
	case err == nil:
		if suggested, perr := ParseQuantity(raw); perr == nil {
			tip = suggested
		}
	case !IsUnsupportedMethod(err):
		return FeeData{}, err
	}

	maxFee := new(big.Int).Mul(base, big.NewInt(2))
	maxFee.Add(maxFee, tip)
	return FeeData{
		Model:          FeeModelEIP1559,
		GasPrice:       new(big.Int).Add(base, tip),
		BaseFee:        base,
		MaxPriorityFee: tip,
		MaxFee:         maxFee,
	}, nil
}

func latestBaseFee(ctx context.Context, p Provider) (*big.Int, error) {
	raw, err := p.Request(ctx, "eth_getBlockByNumber", "latest", false)
	if err != nil {
		return nil, err
	}
	var block struct {
		BaseFeePerGas *hexutil.Big `json:"baseFeePerGas"`
	}
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	if block.BaseFeePerGas == nil {
		return nil, fmt.Errorf("block has no base fee")
	}
	return block.BaseFeePerGas.ToInt(), nil
}
