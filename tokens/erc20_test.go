package tokens

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackERC20(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	data, err := PackBalanceOf(owner)
	require.Nil(t, err)
	assert.Equal(t, common.FromHex("0x70a08231"), data[:4])
	assert.Equal(t, common.LeftPadBytes(owner.Bytes(), 32), data[4:])

	data, err = PackTransfer(owner, big.NewInt(5))
	require.Nil(t, err)
	assert.Equal(t, common.FromHex("0xa9059cbb"), data[:4])
	assert.Len(t, data, 68)

	data, err = PackApprove(owner, big.NewInt(5))
	require.Nil(t, err)
	assert.Equal(t, common.FromHex("0x095ea7b3"), data[:4])
}

func TestUnpackERC20(t *testing.T) {
	balance, err := UnpackBalance(common.BigToHash(big.NewInt(42)).Bytes())
	require.Nil(t, err)
	assert.Equal(t, int64(42), balance.Int64())

	_, err = UnpackBalance([]byte{1, 2})
	assert.Error(t, err)

	ok, err := UnpackBool("transfer", common.BigToHash(big.NewInt(1)).Bytes())
	require.Nil(t, err)
	assert.True(t, ok)

	ok, err = UnpackBool("transfer", nil)
	require.Nil(t, err)
	assert.True(t, ok)
}
