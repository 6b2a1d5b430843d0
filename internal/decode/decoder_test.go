package decode

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendscope/internal/model"
)

var (
	reserveAddr   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	userAddr      = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	otherAddr     = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	aTokenAddr    = common.HexToAddress("0x00000000000000000000000000000000000000dd")
	debtTokenAddr = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

func testReserves() map[common.Address]ReserveTokens {
	return map[common.Address]ReserveTokens{
		reserveAddr: {AToken: aTokenAddr, DebtToken: debtTokenAddr},
	}
}

func addrTopic(a common.Address) string {
	return common.BytesToHash(a.Bytes()).Hex()
}

func words(values ...*big.Int) string {
	out := "0x"
	for _, v := range values {
		out += fmt.Sprintf("%064x", v)
	}
	return out
}

func baseRecord(topic0 string) model.LogRecord {
	return model.LogRecord{
		ChainID:     1,
		BlockNumber: 123,
		Timestamp:   1700000000,
		TxHash:      "0xt1",
		TxIndex:     2,
		LogIndex:    7,
		Address:     reserveAddr.Hex(),
		Topics:      []string{topic0},
	}
}

func TestDecodeDeposit(t *testing.T) {
	balance := func(_ context.Context, token, account common.Address, blockNumber uint64) (*big.Int, error) {
		// the position balance lives on the aToken, not the underlying
		assert.Equal(t, aTokenAddr, token)
		assert.Equal(t, userAddr, account)
		assert.Equal(t, uint64(123), blockNumber)
		return big.NewInt(500), nil
	}
	decimals := func(_ context.Context, _ common.Address) (uint8, error) {
		return 6, nil
	}
	d := NewDecoder(balance, decimals, testReserves(), nil)

	record := baseRecord(SigDeposit.Hex())
	record.Topics = append(record.Topics, addrTopic(reserveAddr), addrTopic(userAddr), words(big.NewInt(0)))
	record.Data = words(big.NewInt(0), big.NewInt(250)) // caller word, amount word

	ev, err := d.Decode(context.Background(), record)
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, model.EventDeposit, ev.Kind)
	assert.Equal(t, reserveAddr.Hex(), ev.Market)
	assert.Equal(t, userAddr.Hex(), ev.Account)
	assert.Equal(t, "250", ev.Amount)
	assert.Equal(t, "500", ev.PostBalance)
	assert.Equal(t, uint8(6), ev.TokenDecimals)
	assert.Equal(t, uint64(7), ev.LogIndex)
}

func TestDecodeBorrowCarriesRate(t *testing.T) {
	d := NewDecoder(nil, nil, testReserves(), nil)

	// Borrow data: user, amount, rateMode, borrowRate
	ray := new(big.Int).Exp(big.NewInt(10), big.NewInt(26), nil) // 0.1 in ray
	record := baseRecord(SigBorrow.Hex())
	record.Topics = append(record.Topics, addrTopic(reserveAddr), addrTopic(userAddr), words(big.NewInt(0)))
	record.Data = words(big.NewInt(0), big.NewInt(42), big.NewInt(2), ray)

	ev, err := d.Decode(context.Background(), record)
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, model.EventBorrow, ev.Kind)
	assert.Equal(t, "42", ev.Amount)
	assert.Equal(t, "0.100000000000000000", ev.BorrowRate)
	// no chain access: balance degrades to empty, decimals to 18
	assert.Equal(t, "", ev.PostBalance)
	assert.Equal(t, uint8(18), ev.TokenDecimals)
}

func TestDecodeRepayReadsDebtTokenBalance(t *testing.T) {
	balance := func(_ context.Context, token, account common.Address, _ uint64) (*big.Int, error) {
		// borrowed principal is tracked by the variable debt token
		assert.Equal(t, debtTokenAddr, token)
		assert.Equal(t, userAddr, account)
		return big.NewInt(0), nil
	}
	d := NewDecoder(balance, nil, testReserves(), nil)

	record := baseRecord(SigRepay.Hex())
	record.Topics = append(record.Topics, addrTopic(reserveAddr), addrTopic(userAddr), addrTopic(otherAddr))
	record.Data = words(big.NewInt(30), big.NewInt(0))

	ev, err := d.Decode(context.Background(), record)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "30", ev.Amount)
	assert.Equal(t, "0", ev.PostBalance)
}

func TestDecodeLiquidation(t *testing.T) {
	d := NewDecoder(nil, nil, testReserves(), nil)

	record := baseRecord(SigLiquidation.Hex())
	record.Topics = append(record.Topics, addrTopic(reserveAddr), addrTopic(otherAddr), addrTopic(userAddr))
	// debtToCover, liquidatedCollateralAmount, liquidator
	record.Data = words(big.NewInt(30), big.NewInt(50), new(big.Int).SetBytes(otherAddr.Bytes()))

	ev, err := d.Decode(context.Background(), record)
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, model.EventLiquidation, ev.Kind)
	assert.Equal(t, reserveAddr.Hex(), ev.Market)
	assert.Equal(t, userAddr.Hex(), ev.Account)
	assert.Equal(t, otherAddr.Hex(), ev.Caller)
	assert.Equal(t, "50", ev.Amount)
}

func TestDecodeTransferSkipsMintAndBurn(t *testing.T) {
	d := NewDecoder(nil, nil, testReserves(), nil)

	mint := baseRecord(SigTransfer.Hex())
	mint.Address = aTokenAddr.Hex()
	mint.Topics = append(mint.Topics, addrTopic(common.Address{}), addrTopic(userAddr))
	mint.Data = words(big.NewInt(10))

	ev, err := d.Decode(context.Background(), mint)
	require.NoError(t, err)
	assert.Nil(t, ev)

	burn := baseRecord(SigTransfer.Hex())
	burn.Address = aTokenAddr.Hex()
	burn.Topics = append(burn.Topics, addrTopic(userAddr), addrTopic(common.Address{}))
	burn.Data = words(big.NewInt(10))

	ev, err = d.Decode(context.Background(), burn)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestDecodeTransferAttributedToReserveMarket(t *testing.T) {
	balance := func(_ context.Context, token, account common.Address, _ uint64) (*big.Int, error) {
		assert.Equal(t, aTokenAddr, token)
		assert.Equal(t, userAddr, account)
		return big.NewInt(60), nil
	}
	d := NewDecoder(balance, nil, testReserves(), nil)

	record := baseRecord(SigTransfer.Hex())
	record.Address = aTokenAddr.Hex()
	record.Topics = append(record.Topics, addrTopic(userAddr), addrTopic(otherAddr))
	record.Data = words(big.NewInt(40))

	ev, err := d.Decode(context.Background(), record)
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, model.EventTransfer, ev.Kind)
	assert.Equal(t, userAddr.Hex(), ev.Account)
	assert.Equal(t, otherAddr.Hex(), ev.Caller)
	// the aToken emits the log; the event lands on the reserve's market,
	// the same one deposits use
	assert.Equal(t, reserveAddr.Hex(), ev.Market)
	assert.Equal(t, reserveAddr.Hex(), ev.Token)
	assert.Equal(t, "40", ev.Amount)
	assert.Equal(t, "60", ev.PostBalance)
}

func TestDecodeTransferOnUnmappedTokenSkipped(t *testing.T) {
	d := NewDecoder(nil, nil, testReserves(), nil)

	record := baseRecord(SigTransfer.Hex())
	record.Address = otherAddr.Hex()
	record.Topics = append(record.Topics, addrTopic(userAddr), addrTopic(otherAddr))
	record.Data = words(big.NewInt(40))

	ev, err := d.Decode(context.Background(), record)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestDecodeCollateralConfig(t *testing.T) {
	d := NewDecoder(nil, nil, nil, nil)

	record := baseRecord(SigCollateralConfig.Hex())
	record.Topics = append(record.Topics, addrTopic(reserveAddr))
	record.Data = words(big.NewInt(8000), big.NewInt(8500), big.NewInt(10500))

	ev, err := d.Decode(context.Background(), record)
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, model.EventCollateralConfig, ev.Kind)
	assert.Equal(t, reserveAddr.Hex(), ev.Market)
	assert.Equal(t, "", ev.Account)
	assert.Equal(t, int64(8000), ev.MaximumLTVBps)
	assert.Equal(t, int64(8500), ev.LiquidationThresholdBps)
	assert.Equal(t, int64(10500), ev.LiquidationBonusBps)
}

func TestParseReserves(t *testing.T) {
	reserves, err := ParseReserves(map[string]string{
		reserveAddr.Hex(): aTokenAddr.Hex() + ":" + debtTokenAddr.Hex(),
	})
	require.NoError(t, err)
	require.Len(t, reserves, 1)
	assert.Equal(t, aTokenAddr, reserves[reserveAddr].AToken)
	assert.Equal(t, debtTokenAddr, reserves[reserveAddr].DebtToken)

	// debt token is optional
	reserves, err = ParseReserves(map[string]string{
		reserveAddr.Hex(): aTokenAddr.Hex(),
	})
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, reserves[reserveAddr].DebtToken)

	_, err = ParseReserves(map[string]string{reserveAddr.Hex(): "not-an-address"})
	assert.Error(t, err)

	_, err = ParseReserves(map[string]string{"bogus": aTokenAddr.Hex()})
	assert.Error(t, err)
}

func TestCanDecodeIsCaseInsensitive(t *testing.T) {
	d := NewDecoder(nil, nil, nil, nil)

	assert.True(t, d.CanDecode(SigDeposit.Hex()))
	assert.True(t, d.CanDecode(strings.ToUpper(SigDeposit.Hex())))
	assert.False(t, d.CanDecode("0xdeadbeef"))
	assert.False(t, d.CanDecode(""))
}

func TestDecodeRejectsShortData(t *testing.T) {
	d := NewDecoder(nil, nil, nil, nil)

	record := baseRecord(SigWithdraw.Hex())
	record.Topics = append(record.Topics, addrTopic(reserveAddr), addrTopic(userAddr), addrTopic(userAddr))
	record.Data = "0x"

	_, err := d.Decode(context.Background(), record)
	assert.Error(t, err)
}

func TestPostBalanceReadFailureDegrades(t *testing.T) {
	balance := func(_ context.Context, _, _ common.Address, _ uint64) (*big.Int, error) {
		return nil, fmt.Errorf("execution reverted")
	}
	d := NewDecoder(balance, nil, testReserves(), nil)

	record := baseRecord(SigWithdraw.Hex())
	record.Topics = append(record.Topics, addrTopic(reserveAddr), addrTopic(userAddr), addrTopic(userAddr))
	record.Data = words(big.NewInt(25))

	ev, err := d.Decode(context.Background(), record)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "25", ev.Amount)
	assert.Equal(t, "", ev.PostBalance)
}

func TestPositionBalanceUnmappedReserveDegrades(t *testing.T) {
	called := false
	balance := func(_ context.Context, _, _ common.Address, _ uint64) (*big.Int, error) {
		called = true
		return big.NewInt(1), nil
	}
	d := NewDecoder(balance, nil, nil, nil)

	record := baseRecord(SigWithdraw.Hex())
	record.Topics = append(record.Topics, addrTopic(reserveAddr), addrTopic(userAddr), addrTopic(userAddr))
	record.Data = words(big.NewInt(25))

	ev, err := d.Decode(context.Background(), record)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "", ev.PostBalance)
	assert.False(t, called)
}
