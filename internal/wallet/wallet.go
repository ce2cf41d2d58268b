// Package wallet resolves the caller identity for write operations.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"keen-oracle/internal/oracle"
)

// ErrUnavailable indicates no wallet identity could be determined.
var ErrUnavailable = errors.New("wallet: identity unavailable")

// Provider returns the address acting on behalf of the caller.
type Provider interface {
	CurrentIdentity(ctx context.Context) (oracle.Address, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (oracle.Address, error)

// CurrentIdentity implements Provider.
func (f ProviderFunc) CurrentIdentity(ctx context.Context) (oracle.Address, error) {
	return f(ctx)
}

// Normalize trims the input and checksums it when it is a hex account address.
func Normalize(raw string) oracle.Address {
	raw = strings.TrimSpace(raw)
	if common.IsHexAddress(raw) {
		return oracle.Address(common.HexToAddress(raw).Hex())
	}
	return oracle.Address(raw)
}

// Static always answers with the same address.
type Static struct {
	address oracle.Address
}

// NewStatic builds a provider for a fixed address. An empty address yields a
// provider that is always unavailable.
func NewStatic(address string) *Static {
	return &Static{address: Normalize(address)}
}

// CurrentIdentity implements Provider.
func (s *Static) CurrentIdentity(context.Context) (oracle.Address, error) {
	if s == nil || s.address == "" {
		return "", ErrUnavailable
	}
	return s.address, nil
}

// Key derives the address from a secp256k1 private key.
type Key struct {
	key     *ecdsa.PrivateKey
	address oracle.Address
}

// NewKey parses a hex private key, with or without 0x prefix.
func NewKey(hexKey string) (*Key, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Key{
		key:     key,
		address: oracle.Address(crypto.PubkeyToAddress(key.PublicKey).Hex()),
	}, nil
}

// Address returns the derived account address.
func (k *Key) Address() oracle.Address {
	return k.address
}

// CurrentIdentity implements Provider.
func (k *Key) CurrentIdentity(context.Context) (oracle.Address, error) {
	if k == nil || k.key == nil {
		return "", ErrUnavailable
	}
	return k.address, nil
}

type identityKey struct{}

// WithIdentity attaches an address to ctx.
func WithIdentity(ctx context.Context, address oracle.Address) context.Context {
	return context.WithValue(ctx, identityKey{}, address)
}

// IdentityFrom reads an address attached by WithIdentity.
func IdentityFrom(ctx context.Context) (oracle.Address, bool) {
	address, ok := ctx.Value(identityKey{}).(oracle.Address)
	return address, ok && address != ""
}

// Context resolves the identity attached to the request context and falls
// back to another provider when none is present.
type Context struct {
	fallback Provider
}

// NewContext builds a context provider. fallback may be nil.
func NewContext(fallback Provider) *Context {
	return &Context{fallback: fallback}
}

// CurrentIdentity implements Provider.
func (c *Context) CurrentIdentity(ctx context.Context) (oracle.Address, error) {
	if address, ok := IdentityFrom(ctx); ok {
		return address, nil
	}
	if c.fallback != nil {
		return c.fallback.CurrentIdentity(ctx)
	}
	return "", ErrUnavailable
}

// FromConfig picks the key provider when a private key is set, the static
// provider otherwise.
func FromConfig(address, privateKey string) (Provider, error) {
	if strings.TrimSpace(privateKey) != "" {
		key, err := NewKey(privateKey)
		if err != nil {
			return nil, err
		}
		if address != "" && Normalize(address) != key.Address() {
			return nil, fmt.Errorf("wallet.address %s does not match private key address %s", address, key.Address())
		}
		return key, nil
	}
	return NewStatic(address), nil
}
