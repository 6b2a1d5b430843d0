package ledger

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendscope/internal/model"
	"lendscope/internal/store"
)

func newFixtures() (*store.Memory, *Lifecycle, *model.Account, *model.Market, *model.Protocol) {
	mem := store.NewMemory()
	lc := NewLifecycle(mem, nil)
	account := model.NewAccount("0xabc")
	market := model.NewMarket("0xmarket", "0xtoken", 18, 100, 1000)
	protocol := model.NewProtocol("aave-v3")
	return mem, lc, account, market, protocol
}

func ref(tx string, logIndex, block, ts uint64) EventRef {
	return EventRef{TxHash: tx, LogIndex: logIndex, BlockNumber: block, Timestamp: ts}
}

func TestIncreaseOpensPosition(t *testing.T) {
	mem, lc, account, market, protocol := newFixtures()

	pos, err := lc.ApplyIncrease(account, market, protocol, model.SideLender,
		model.EventDeposit, big.NewInt(100), decimal.NewFromInt(100), ref("0xt1", 3, 100, 1000), nil)
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.Equal(t, model.PositionID("0xabc", "0xmarket", model.SideLender, 0), pos.ID)
	assert.Equal(t, int64(0), pos.Slot)
	assert.True(t, pos.Open())
	assert.Equal(t, "0xt1", pos.HashOpened)
	assert.Equal(t, uint64(100), pos.BlockOpened)

	assert.Equal(t, int64(1), account.PositionCount)
	assert.Equal(t, int64(1), account.OpenPositionCount)
	assert.Equal(t, int64(1), market.OpenPositionCount)
	assert.Equal(t, int64(1), protocol.OpenPositionCount)
	assert.Equal(t, int64(1), account.DepositCount)

	require.Len(t, mem.PositionSnapshots(), 1)
	snap := mem.PositionSnapshots()[0]
	assert.Equal(t, pos.ID, snap.Position)
	assert.Equal(t, "100", snap.Balance.String())
}

func TestIncreaseGrowsExistingPosition(t *testing.T) {
	_, lc, account, market, protocol := newFixtures()

	_, err := lc.ApplyIncrease(account, market, protocol, model.SideLender,
		model.EventDeposit, big.NewInt(100), decimal.NewFromInt(100), ref("0xt1", 3, 100, 1000), nil)
	require.NoError(t, err)

	pos, err := lc.ApplyIncrease(account, market, protocol, model.SideLender,
		model.EventDeposit, big.NewInt(150), decimal.NewFromInt(150), ref("0xt2", 1, 101, 1010), nil)
	require.NoError(t, err)

	// the post-event balance is assigned, never summed
	assert.Equal(t, "150", pos.Balance.String())
	assert.Equal(t, int64(1), account.PositionCount)
	assert.Equal(t, int64(2), pos.DepositCount)
}

func TestDecreaseToZeroClosesAndAdvancesSlot(t *testing.T) {
	_, lc, account, market, protocol := newFixtures()

	_, err := lc.ApplyIncrease(account, market, protocol, model.SideLender,
		model.EventDeposit, big.NewInt(100), decimal.NewFromInt(100), ref("0xt1", 3, 100, 1000), nil)
	require.NoError(t, err)

	closed, err := lc.ApplyDecrease(account, market, protocol, model.SideLender,
		model.EventWithdraw, big.NewInt(0), decimal.Zero, ref("0xt2", 5, 110, 1100), nil, false)
	require.NoError(t, err)
	require.NotNil(t, closed)

	assert.False(t, closed.Open())
	assert.Equal(t, "0xt2", closed.HashClosed)
	assert.Equal(t, uint64(110), closed.BlockClosed)
	assert.Equal(t, int64(0), account.OpenPositionCount)
	assert.Equal(t, int64(1), account.ClosedPositionCount)
	assert.Equal(t, int64(1), protocol.ClosedPositionCount)

	// a fresh deposit lands in the next slot with a distinct identity
	reopened, err := lc.ApplyIncrease(account, market, protocol, model.SideLender,
		model.EventDeposit, big.NewInt(50), decimal.NewFromInt(50), ref("0xt3", 2, 120, 1200), nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), reopened.Slot)
	assert.NotEqual(t, closed.ID, reopened.ID)
	assert.True(t, reopened.Open())
	assert.Equal(t, int64(2), account.PositionCount)
	assert.Equal(t, int64(1), account.OpenPositionCount)
	assert.Equal(t, int64(1), account.ClosedPositionCount)
}

func TestPartialDecreaseKeepsPositionOpen(t *testing.T) {
	_, lc, account, market, protocol := newFixtures()

	_, err := lc.ApplyIncrease(account, market, protocol, model.SideBorrower,
		model.EventBorrow, big.NewInt(100), decimal.NewFromInt(100), ref("0xt1", 3, 100, 1000), nil)
	require.NoError(t, err)

	pos, err := lc.ApplyDecrease(account, market, protocol, model.SideBorrower,
		model.EventRepay, big.NewInt(40), decimal.NewFromInt(40), ref("0xt2", 6, 110, 1100), nil, false)
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.True(t, pos.Open())
	assert.Equal(t, "40", pos.Balance.String())
	assert.Equal(t, int64(1), account.OpenPositionCount)
	assert.Equal(t, int64(0), account.ClosedPositionCount)
	assert.Equal(t, int64(0), SlotIndex(account, market.ID, model.SideBorrower))
}

func TestDecreaseWithoutOpenPositionIsDropped(t *testing.T) {
	mem, lc, account, market, protocol := newFixtures()

	pos, err := lc.ApplyDecrease(account, market, protocol, model.SideLender,
		model.EventWithdraw, big.NewInt(0), decimal.Zero, ref("0xt1", 3, 100, 1000), nil, false)
	require.NoError(t, err)

	assert.Nil(t, pos)
	assert.Empty(t, mem.PositionSnapshots())
	assert.Equal(t, int64(0), account.WithdrawCount)
}

func TestLiquidationRepayCountsOnPosition(t *testing.T) {
	_, lc, account, market, protocol := newFixtures()

	_, err := lc.ApplyIncrease(account, market, protocol, model.SideBorrower,
		model.EventBorrow, big.NewInt(100), decimal.NewFromInt(100), ref("0xt1", 3, 100, 1000), nil)
	require.NoError(t, err)

	pos, err := lc.ApplyDecrease(account, market, protocol, model.SideBorrower,
		model.EventRepay, big.NewInt(0), decimal.Zero, ref("0xt2", 6, 110, 1100), nil, true)
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.Equal(t, int64(1), pos.RepayCount)
	assert.Equal(t, int64(1), pos.LiquidationCount)
	assert.Equal(t, int64(1), account.RepayCount)
}

func TestTransferCannotDriveTransition(t *testing.T) {
	_, lc, account, market, protocol := newFixtures()

	_, err := lc.ApplyIncrease(account, market, protocol, model.SideLender,
		model.EventTransfer, big.NewInt(10), decimal.NewFromInt(10), ref("0xt1", 3, 100, 1000), nil)
	assert.Error(t, err)
}

func TestSlotCountersIndependentPerKey(t *testing.T) {
	account := model.NewAccount("0xabc")

	AdvanceSlot(account, "0xm1", model.SideLender)
	AdvanceSlot(account, "0xm1", model.SideLender)
	AdvanceSlot(account, "0xm1", model.SideBorrower)

	assert.Equal(t, int64(2), SlotIndex(account, "0xm1", model.SideLender))
	assert.Equal(t, int64(1), SlotIndex(account, "0xm1", model.SideBorrower))
	assert.Equal(t, int64(0), SlotIndex(account, "0xm2", model.SideLender))
}
