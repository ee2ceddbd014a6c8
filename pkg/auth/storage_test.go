package auth

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"debtswitch/pkg/types"
)

func tempStorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "auth.json")
}

func testPermit(token common.Address) *types.Permit {
	return &types.Permit{
		ScopeToken:       token,
		AuthorizedAmount: big.NewInt(1000),
		Deadline:         time.Now().Add(time.Hour).Truncate(time.Second),
		Signature:        types.SignatureComponents{V: 27},
	}
}

func TestStorePermitRoundTrip(t *testing.T) {
	path := tempStorePath(t)
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")

	store, err := NewStore(path)
	require.NoError(t, err)
	require.Nil(t, store.Permit(token))

	permit := testPermit(token)
	require.NoError(t, store.SavePermit(permit))

	// Reload from disk into a fresh store
	reloaded, err := NewStore(path)
	require.NoError(t, err)

	got := reloaded.Permit(token)
	require.NotNil(t, got)
	assert.Equal(t, permit.ScopeToken, got.ScopeToken)
	assert.Equal(t, 0, permit.AuthorizedAmount.Cmp(got.AuthorizedAmount))
	assert.Equal(t, permit.Signature.V, got.Signature.V)
	assert.True(t, permit.Deadline.Equal(got.Deadline))
}

func TestStorePermitKeyIsCaseInsensitive(t *testing.T) {
	store, err := NewStore(tempStorePath(t))
	require.NoError(t, err)

	token := common.HexToAddress("0xABCDEF0123456789abcdef0123456789ABCDEF01")
	require.NoError(t, store.SavePermit(testPermit(token)))

	same := common.HexToAddress("0xabcdef0123456789ABCDEF0123456789abcdef01")
	assert.NotNil(t, store.Permit(same))
}

func TestStoreDeletePermit(t *testing.T) {
	store, err := NewStore(tempStorePath(t))
	require.NoError(t, err)

	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	require.NoError(t, store.SavePermit(testPermit(token)))
	require.NoError(t, store.DeletePermit(token))

	assert.Nil(t, store.Permit(token))
}

func TestStoreDeletePermitsExcept(t *testing.T) {
	store, err := NewStore(tempStorePath(t))
	require.NoError(t, err)

	keep := common.HexToAddress("0x1111111111111111111111111111111111111111")
	drop := common.HexToAddress("0x2222222222222222222222222222222222222222")
	require.NoError(t, store.SavePermit(testPermit(keep)))
	require.NoError(t, store.SavePermit(testPermit(drop)))

	require.NoError(t, store.DeletePermitsExcept(keep))

	assert.NotNil(t, store.Permit(keep))
	assert.Nil(t, store.Permit(drop))
}

func TestStoreForceFreshSurvivesReload(t *testing.T) {
	path := tempStorePath(t)

	store, err := NewStore(path)
	require.NoError(t, err)
	assert.False(t, store.ForceFresh())

	require.NoError(t, store.SetForceFresh(true))

	reloaded, err := NewStore(path)
	require.NoError(t, err)
	assert.True(t, reloaded.ForceFresh())

	require.NoError(t, reloaded.SetForceFresh(false))

	again, err := NewStore(path)
	require.NoError(t, err)
	assert.False(t, again.ForceFresh())
}

func TestStoreMissingFileIsEmpty(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "missing", "auth.json"))
	require.NoError(t, err)
	assert.False(t, store.ForceFresh())
	assert.Nil(t, store.Permit(common.Address{}))
}
