package store

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendscope/internal/model"
)

func TestMemoryLoadMissing(t *testing.T) {
	mem := NewMemory()

	_, ok, err := mem.Account("0xa")
	require.NoError(t, err)
	assert.False(t, ok)

	seen, err := mem.ActiveAccount("marker")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemorySaveAndLoad(t *testing.T) {
	mem := NewMemory()

	require.NoError(t, mem.SaveAccount(model.NewAccount("0xa")))
	account, ok, err := mem.Account("0xa")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0xa", account.ID)

	require.NoError(t, mem.SavePosition(&model.Position{ID: "p1", Balance: big.NewInt(5)}))
	pos, ok, err := mem.Position("p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "5", pos.Balance.String())

	require.NoError(t, mem.SaveActiveAccount("marker"))
	seen, err := mem.ActiveAccount("marker")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestMemoryAccessorsSortByID(t *testing.T) {
	mem := NewMemory()

	require.NoError(t, mem.SaveAccount(model.NewAccount("0xc")))
	require.NoError(t, mem.SaveAccount(model.NewAccount("0xa")))
	require.NoError(t, mem.SaveAccount(model.NewAccount("0xb")))

	accounts := mem.Accounts()
	require.Len(t, accounts, 3)
	assert.Equal(t, "0xa", accounts[0].ID)
	assert.Equal(t, "0xb", accounts[1].ID)
	assert.Equal(t, "0xc", accounts[2].ID)
}
