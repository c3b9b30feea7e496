package facilitator

import (
	"fmt"
	"strings"

	"github.com/x402labs/x402-go"
)

// Router resolves which facilitator URL serves a given payment
// requirement. Bindings are consulted most-specific first: an exact
// (network, asset) binding, then a network binding, then the default.
// Networks may be bound and resolved under either their V1 slug or their
// CAIP-2 identifier; both spellings hit the same binding.
type Router struct {
	byAsset   map[assetKey]string
	byNetwork map[string]string
	fallback  string
}

type assetKey struct {
	network string
	asset   string
}

// NewRouter creates a Router with an optional default URL. An empty
// default means unbound requirements fail to resolve.
func NewRouter(defaultURL string) *Router {
	return &Router{
		byAsset:   make(map[assetKey]string),
		byNetwork: make(map[string]string),
		fallback:  defaultURL,
	}
}

// Bind routes every requirement on a network to url.
func (r *Router) Bind(network, url string) *Router {
	r.byNetwork[canonicalNetwork(network)] = url
	return r
}

// BindAsset routes requirements for one asset on a network to url. The
// asset may be a raw address or a CAIP-19 identifier.
func (r *Router) BindAsset(network, asset, url string) *Router {
	r.byAsset[assetKey{canonicalNetwork(network), canonicalAsset(asset)}] = url
	return r
}

// Resolve returns the facilitator URL for a (network, asset) pair.
// Unresolvable pairs are a configuration problem, not a payment failure.
func (r *Router) Resolve(network, asset string) (string, error) {
	n := canonicalNetwork(network)

	if url, ok := r.byAsset[assetKey{n, canonicalAsset(asset)}]; ok {
		return url, nil
	}
	if url, ok := r.byNetwork[n]; ok {
		return url, nil
	}
	if r.fallback != "" {
		return r.fallback, nil
	}
	return "", x402.NewConfigurationError(fmt.Sprintf("no facilitator bound for network %s", network))
}

// canonicalNetwork folds the two spellings of a network onto one key.
func canonicalNetwork(network string) string {
	if c, ok := x402.GetChainConfig(network); ok {
		return c.CAIP2
	}
	return strings.ToLower(network)
}

func canonicalAsset(asset string) string {
	return strings.ToLower(x402.AssetAddress(asset))
}
