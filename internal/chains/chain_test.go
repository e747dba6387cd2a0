package chains

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polybuilder/polybuilder/internal/config"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry(config.NetworksConfig{
		MumbaiRPC:  "http://mumbai",
		AmoyRPC:    "http://amoy",
		PolygonRPC: "http://polygon",
	})

	assert.Equal(t, []string{"amoy", "mumbai", "polygon"}, r.Names())

	amoy, err := r.Get(Amoy)
	require.NoError(t, err)
	assert.Equal(t, int64(80002), amoy.ChainID)
	assert.Equal(t, "https://api-amoy.polygonscan.com/api", amoy.APIURL)

	mainnet, err := r.Get(Polygon)
	require.NoError(t, err)
	assert.False(t, mainnet.Testnet)
	assert.Equal(t, "https://polygonscan.com/address/0xabc#code", mainnet.CodeURL("0xabc"))
}

func TestRegistry_UnknownNetwork(t *testing.T) {
	r := DefaultRegistry(config.NetworksConfig{})

	_, err := r.Get("ropsten")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownNetwork)
}

func TestNetwork_RPC(t *testing.T) {
	n := Network{Name: Mumbai}
	_, err := n.RPC()
	assert.ErrorIs(t, err, ErrRPCNotConfigured)

	n.RPCURL = "http://localhost:8545"
	url, err := n.RPC()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", url)
}
