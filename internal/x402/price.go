package x402

import (
	"fmt"
	"math/big"
	"strings"
)

// AssetInfo describes the default settlement token on a network.
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

const usdcDecimals = 6

var (
	usdcBase = AssetInfo{
		Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Name:     "USD Coin",
		Version:  "2",
		Decimals: usdcDecimals,
	}
	usdcBaseSepolia = AssetInfo{
		Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Name:     "USDC",
		Version:  "2",
		Decimals: usdcDecimals,
	}
)

// networkAssets maps CAIP-2 and legacy network names to their USDC contract.
var networkAssets = map[string]AssetInfo{
	"eip155:8453":  usdcBase,
	"base":         usdcBase,
	"eip155:84532": usdcBaseSepolia,
	"base-sepolia": usdcBaseSepolia,
}

// AssetForNetwork returns the default asset for network.
func AssetForNetwork(network string) (AssetInfo, error) {
	asset, ok := networkAssets[network]
	if !ok {
		return AssetInfo{}, fmt.Errorf("x402: unsupported network %q", network)
	}
	return asset, nil
}

// ParsePrice converts a human price such as "$0.001", "0.25 USDC" or "2" into
// atomic token units for the given number of decimals. Bare integers of at
// least one whole token are taken as already atomic.
func ParsePrice(price string, decimals int) (string, error) {
	s := strings.TrimSpace(price)
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSuffix(s, " USDC")
	s = strings.TrimSuffix(s, " USD")
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("x402: empty price")
	}

	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)

	if !strings.Contains(s, ".") {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok || n.Sign() < 0 {
			return "", fmt.Errorf("x402: invalid price %q", price)
		}
		if n.Cmp(unit) >= 0 {
			return n.String(), nil
		}
		return n.Mul(n, unit).String(), nil
	}

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > decimals {
		return "", fmt.Errorf("x402: price %q has more than %d decimals", price, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))
	if whole == "" {
		whole = "0"
	}

	n, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok || n.Sign() < 0 {
		return "", fmt.Errorf("x402: invalid price %q", price)
	}
	return n.String(), nil
}

// BuildRequirements resolves a route's price into exact-scheme requirements
// on network, paid to payTo.
func BuildRequirements(network, price, payTo string, maxTimeoutSeconds int) (PaymentRequirements, error) {
	asset, err := AssetForNetwork(network)
	if err != nil {
		return PaymentRequirements{}, err
	}
	amount, err := ParsePrice(price, asset.Decimals)
	if err != nil {
		return PaymentRequirements{}, err
	}
	return PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           network,
		Asset:             asset.Address,
		Amount:            amount,
		PayTo:             payTo,
		MaxTimeoutSeconds: maxTimeoutSeconds,
		Extra: map[string]any{
			"name":    asset.Name,
			"version": asset.Version,
		},
	}, nil
}
