// Package chains describes the Polygon networks PolyBuilder can deploy to.
package chains

import (
	"errors"
	"fmt"
	"sort"

	"github.com/polybuilder/polybuilder/internal/config"
)

// Network identifiers accepted by the API.
const (
	Mumbai  = "mumbai"
	Amoy    = "amoy"
	Polygon = "polygon"
)

var (
	// ErrUnknownNetwork is returned for network names that are not registered.
	ErrUnknownNetwork = errors.New("unknown network")
	// ErrRPCNotConfigured is returned when a network has no RPC endpoint.
	ErrRPCNotConfigured = errors.New("RPC URL not configured")
)

// Network describes one deployable chain and its block explorer.
type Network struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	ChainID     int64  `json:"chainId"`
	RPCURL      string `json:"-"`
	ExplorerURL string `json:"explorerUrl"`
	APIURL      string `json:"apiUrl"`
	Currency    string `json:"currency"`
	Testnet     bool   `json:"testnet"`
}

// AddressURL returns the explorer page for an address.
func (n Network) AddressURL(address string) string {
	return fmt.Sprintf("%s/address/%s", n.ExplorerURL, address)
}

// CodeURL returns the explorer page showing verified source for an address.
func (n Network) CodeURL(address string) string {
	return n.AddressURL(address) + "#code"
}

// RPC returns the JSON-RPC endpoint or ErrRPCNotConfigured.
func (n Network) RPC() (string, error) {
	if n.RPCURL == "" {
		return "", fmt.Errorf("%w for network %s", ErrRPCNotConfigured, n.Name)
	}
	return n.RPCURL, nil
}

// Registry holds the configured networks
type Registry struct {
	networks map[string]Network
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		networks: make(map[string]Network),
	}
}

// Register adds or replaces a network
func (r *Registry) Register(n Network) {
	r.networks[n.Name] = n
}

// Get looks up a network by name
func (r *Registry) Get(name string) (Network, error) {
	n, ok := r.networks[name]
	if !ok {
		return Network{}, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
	return n, nil
}

// Names returns registered network names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.networks))
	for name := range r.networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all registered networks sorted by name
func (r *Registry) List() []Network {
	names := r.Names()
	out := make([]Network, 0, len(names))
	for _, name := range names {
		out = append(out, r.networks[name])
	}
	return out
}

// DefaultRegistry returns the Polygon networks with RPC endpoints from cfg.
func DefaultRegistry(cfg config.NetworksConfig) *Registry {
	r := NewRegistry()
	r.Register(Network{
		Name:        Mumbai,
		DisplayName: "Polygon Mumbai",
		ChainID:     80001,
		RPCURL:      cfg.MumbaiRPC,
		ExplorerURL: "https://mumbai.polygonscan.com",
		APIURL:      "https://api-testnet.polygonscan.com/api",
		Currency:    "MATIC",
		Testnet:     true,
	})
	r.Register(Network{
		Name:        Amoy,
		DisplayName: "Polygon Amoy",
		ChainID:     80002,
		RPCURL:      cfg.AmoyRPC,
		ExplorerURL: "https://amoy.polygonscan.com",
		APIURL:      "https://api-amoy.polygonscan.com/api",
		Currency:    "MATIC",
		Testnet:     true,
	})
	r.Register(Network{
		Name:        Polygon,
		DisplayName: "Polygon PoS",
		ChainID:     137,
		RPCURL:      cfg.PolygonRPC,
		ExplorerURL: "https://polygonscan.com",
		APIURL:      "https://api.polygonscan.com/api",
		Currency:    "MATIC",
	})
	return r
}
