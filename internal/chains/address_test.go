package chains

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

func TestFamilyOf(t *testing.T) {
	assert.Equal(t, FamilyEVM, FamilyOf(vaaLib.ChainIDEthereum))
	assert.Equal(t, FamilyEVM, FamilyOf(vaaLib.ChainIDArbitrumSepolia))
	assert.Equal(t, FamilySolana, FamilyOf(vaaLib.ChainIDSolana))
	assert.Equal(t, FamilyTerra, FamilyOf(vaaLib.ChainIDTerra2))
	assert.Equal(t, FamilyAztec, FamilyOf(ChainIDAztec))
	assert.Equal(t, FamilyUnknown, FamilyOf(99))
}

func TestParseFamily(t *testing.T) {
	f, err := ParseFamily(" EVM ")
	require.NoError(t, err)
	assert.Equal(t, FamilyEVM, f)

	f, err = ParseFamily("")
	require.NoError(t, err)
	assert.Equal(t, FamilyUnknown, f)

	_, err = ParseFamily("cosmos")
	assert.Error(t, err)

	assert.Equal(t, FamilySolana, Resolve(vaaLib.ChainIDEthereum, FamilySolana))
	assert.Equal(t, FamilyEVM, Resolve(vaaLib.ChainIDEthereum, FamilyUnknown))
}

func TestEVMAddressRoundTrip(t *testing.T) {
	human := "0x3ee18B2214AFF97000D974cf647E7C347E8fa585"

	addr, err := NativeToAddress(vaaLib.ChainIDEthereum, human)
	require.NoError(t, err)
	assert.Equal(t, "0000000000000000000000003ee18b2214aff97000d974cf647e7c347e8fa585", addr.String())

	back, err := AddressToNative(vaaLib.ChainIDEthereum, addr)
	require.NoError(t, err)
	assert.True(t, strings.EqualFold(human, back))

	_, err = NativeToAddress(vaaLib.ChainIDEthereum, "not-an-address")
	assert.Error(t, err)
}

func TestSolanaAddressRoundTrip(t *testing.T) {
	human := "wormDTUJ6AWPNvk59vGQbDvGJmqbDTdgWgAqcLBCgUb"

	addr, err := NativeToAddress(vaaLib.ChainIDSolana, human)
	require.NoError(t, err)

	back, err := AddressToNative(vaaLib.ChainIDSolana, addr)
	require.NoError(t, err)
	assert.Equal(t, human, back)
}

func TestTerraAddressRoundTrip(t *testing.T) {
	human := "terra10pyejy66429refv3g35g2t7am0was7ya7kz2a4"

	addr, err := NativeToAddress(vaaLib.ChainIDTerra, human)
	require.NoError(t, err)
	assert.Equal(t, byte(0), addr[0])

	back, err := AddressToNative(vaaLib.ChainIDTerra, addr)
	require.NoError(t, err)
	assert.Equal(t, human, back)
}

func TestTerraNativeDenom(t *testing.T) {
	addr, err := NativeToAddress(vaaLib.ChainIDTerra, "uluna")
	require.NoError(t, err)
	assert.Equal(t, byte(terraNativeMarker), addr[0])

	back, err := AddressToNative(vaaLib.ChainIDTerra, addr)
	require.NoError(t, err)
	assert.Equal(t, "uluna", back)
}

func TestUnknownChainAddress(t *testing.T) {
	_, err := NativeToAddress(99, "0x01")
	assert.Error(t, err)

	_, err = AddressToNative(99, vaaLib.Address{})
	assert.Error(t, err)
}
