package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCodec(t *testing.T) {
	assert.Equal(t, CodecBigInt, ResolveCodec("bigint").Name())
	assert.Equal(t, CodecDecimal, ResolveCodec(" Decimal ").Name())
	assert.Equal(t, CodecManual, ResolveCodec("").Name())
	assert.Equal(t, CodecManual, ResolveCodec("ethers-v6").Name())
}

func TestCodecs_ToWei(t *testing.T) {
	oneAndHalf, _ := new(big.Int).SetString("1500000000000000000", 10)
	testCases := []struct {
		in   string
		want *big.Int
	}{
		{"1.5", oneAndHalf},
		{"0", big.NewInt(0)},
		{"0.000000000000000001", big.NewInt(1)},
		{"2", new(big.Int).Mul(big.NewInt(2), weiPerEther)},
		{"0.01", big.NewInt(10_000_000_000_000_000)},
	}

	for _, codec := range []Codec{ResolveCodec(CodecBigInt), ResolveCodec(CodecDecimal), ResolveCodec(CodecManual)} {
		for _, tc := range testCases {
			t.Run(codec.Name()+"/"+tc.in, func(t *testing.T) {
				got, err := codec.ToWei(tc.in)
				require.NoError(t, err)
				assert.Equal(t, 0, tc.want.Cmp(got), "got %s", got)
			})
		}
	}
}

func TestCodecs_ToWeiRejects(t *testing.T) {
	for _, codec := range []Codec{ResolveCodec(CodecBigInt), ResolveCodec(CodecDecimal), ResolveCodec(CodecManual)} {
		for _, in := range []string{"", "-1", "abc", "1.2.3", "1e18", "0.0000000000000000001"} {
			_, err := codec.ToWei(in)
			assert.Error(t, err, "%s accepted %q", codec.Name(), in)
		}
	}
}

func TestCodecs_FromWei(t *testing.T) {
	oneAndHalf, _ := new(big.Int).SetString("1500000000000000000", 10)
	large, _ := new(big.Int).SetString("123456789000000000000000", 10)
	testCases := []struct {
		in   *big.Int
		want string
	}{
		{oneAndHalf, "1.5"},
		{big.NewInt(0), "0"},
		{big.NewInt(1), "0.000000000000000001"},
		{weiPerEther, "1"},
		{large, "123456.789"},
		{nil, "0"},
	}

	for _, codec := range []Codec{ResolveCodec(CodecBigInt), ResolveCodec(CodecDecimal), ResolveCodec(CodecManual)} {
		for _, tc := range testCases {
			assert.Equal(t, tc.want, codec.FromWei(tc.in), "%s(%v)", codec.Name(), tc.in)
		}
	}
}

func TestManualCodec_LeadingPoint(t *testing.T) {
	got, err := manualCodec{}.ToWei(".5")
	require.NoError(t, err)
	assert.Equal(t, "500000000000000000", got.String())
}

func TestNormalizeAddress(t *testing.T) {
	lower := "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	checksum := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

	assert.Equal(t, checksum, NormalizeAddress(lower))
	assert.Equal(t, checksum, NormalizeAddress("  "+checksum+" "))
	assert.Equal(t, "0xAAA", NormalizeAddress(" 0xAAA "))
	assert.NotEqual(t, NormalizeAddress("0xaaa"), NormalizeAddress("0xAAA"))

	assert.True(t, IsAddress(lower))
	assert.False(t, IsAddress("5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))
	assert.False(t, IsAddress("0xAAA"))
}

func TestGweiString(t *testing.T) {
	assert.Equal(t, "20", GweiString(big.NewInt(20_000_000_000)))
	assert.Equal(t, "1.5", GweiString(big.NewInt(1_500_000_000)))
	assert.Equal(t, "0", GweiString(nil))
}
