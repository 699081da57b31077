package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"
)

// Codec modes.
const (
	CodecBigInt  = "bigint"
	CodecDecimal = "decimal"
	CodecManual  = "manual"
)

const etherDecimals = 18

var weiPerEther = big.NewInt(params.Ether)

// Codec converts between decimal ether strings and wei.
type Codec interface {
	Name() string
	// ToWei parses a non-negative decimal ether amount.
	ToWei(ether string) (*big.Int, error)
	// FromWei formats wei as a decimal ether string without trailing zeros.
	FromWei(wei *big.Int) string
}

// ResolveCodec picks the codec for mode once at startup. Unknown modes use
// the manual string codec.
func ResolveCodec(mode string) Codec {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case CodecBigInt:
		return bigIntCodec{}
	case CodecDecimal:
		return decimalCodec{}
	default:
		return manualCodec{}
	}
}

// validAmount reports whether s is digits with at most one decimal point.
func validAmount(s string) error {
	if s == "" || s == "." {
		return fmt.Errorf("amount is empty")
	}
	dot := false
	for _, r := range s {
		switch {
		case r == '.' && !dot:
			dot = true
		case r >= '0' && r <= '9':
		default:
			return fmt.Errorf("invalid amount %q", s)
		}
	}
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 > etherDecimals {
		return fmt.Errorf("amount %q has more than %d decimal places", s, etherDecimals)
	}
	return nil
}

// bigIntCodec uses go-ethereum's unit constants with math/big.
type bigIntCodec struct{}

func (bigIntCodec) Name() string { return CodecBigInt }

func (bigIntCodec) ToWei(ether string) (*big.Int, error) {
	ether = strings.TrimSpace(ether)
	if err := validAmount(ether); err != nil {
		return nil, err
	}
	r, ok := new(big.Rat).SetString(ether)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", ether)
	}
	r.Mul(r, new(big.Rat).SetInt(weiPerEther))
	return new(big.Int).Quo(r.Num(), r.Denom()), nil
}

func (bigIntCodec) FromWei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(wei, weiPerEther)
	return trimZeros(r.FloatString(etherDecimals))
}

// decimalCodec uses shopspring/decimal fixed-precision arithmetic.
type decimalCodec struct{}

func (decimalCodec) Name() string { return CodecDecimal }

func (decimalCodec) ToWei(ether string) (*big.Int, error) {
	ether = strings.TrimSpace(ether)
	if err := validAmount(ether); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(ether)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", ether, err)
	}
	return d.Shift(etherDecimals).BigInt(), nil
}

func (decimalCodec) FromWei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}

// manualCodec shifts the decimal point by string manipulation.
type manualCodec struct{}

func (manualCodec) Name() string { return CodecManual }

func (manualCodec) ToWei(ether string) (*big.Int, error) {
	ether = strings.TrimSpace(ether)
	if err := validAmount(ether); err != nil {
		return nil, err
	}
	whole, frac, _ := strings.Cut(ether, ".")
	digits := strings.TrimLeft(whole+frac+strings.Repeat("0", etherDecimals-len(frac)), "0")
	if digits == "" {
		digits = "0"
	}
	wei, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", ether)
	}
	return wei, nil
}

func (manualCodec) FromWei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	s := wei.String()
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if len(s) <= etherDecimals {
		s = strings.Repeat("0", etherDecimals-len(s)+1) + s
	}
	split := len(s) - etherDecimals
	out := trimZeros(s[:split] + "." + s[split:])
	if negative && out != "0" {
		out = "-" + out
	}
	return out
}

// trimZeros drops trailing fractional zeros and a dangling point.
func trimZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
