package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/screa/vanity-miner/pkg/types"
)

// Supported key schemes
const (
	SchemeSolana   = "solana"
	SchemeBitcoin  = "bitcoin"
	SchemeEthereum = "ethereum"
)

var ErrUnknownScheme = errors.New("unknown key scheme")

// Generator produces random keypairs. Implementations are safe for
// concurrent use when their entropy reader is.
type Generator interface {
	Generate() (types.Keypair, error)
	Scheme() string
}

// Schemes lists the supported scheme names
func Schemes() []string {
	return []string{SchemeSolana, SchemeBitcoin, SchemeEthereum}
}

// New returns the generator for scheme. A nil entropy reader means crypto/rand.
func New(scheme string, entropy io.Reader) (Generator, error) {
	if entropy == nil {
		entropy = rand.Reader
	}
	switch scheme {
	case SchemeSolana:
		return &SolanaGenerator{rand: entropy}, nil
	case SchemeBitcoin:
		return &BitcoinGenerator{secp: secpSource{rand: entropy}}, nil
	case SchemeEthereum:
		return &EthereumGenerator{secp: secpSource{rand: entropy}}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
}

// SolanaGenerator creates ed25519 keypairs with base58 addresses
type SolanaGenerator struct {
	rand io.Reader
}

func (g *SolanaGenerator) Scheme() string { return SchemeSolana }

// Generate creates a keypair whose Secret is the base58 64-byte secret key
func (g *SolanaGenerator) Generate() (types.Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(g.rand)
	if err != nil {
		return types.Keypair{}, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return types.Keypair{
		Address: SolanaAddress(pub),
		Private: priv,
		Secret:  base58.Encode(priv),
	}, nil
}

// secpSource draws secp256k1 private keys from an entropy reader
type secpSource struct {
	rand io.Reader
}

var curveOrder = btcec.S256().Params().N

func (s secpSource) privateKey() (*btcec.PrivateKey, error) {
	buf := make([]byte, 32)
	for {
		if _, err := io.ReadFull(s.rand, buf); err != nil {
			return nil, fmt.Errorf("read entropy: %w", err)
		}
		k := new(big.Int).SetBytes(buf)
		if k.Sign() == 0 || k.Cmp(curveOrder) >= 0 {
			continue
		}
		priv, _ := btcec.PrivKeyFromBytes(buf)
		return priv, nil
	}
}

// BitcoinGenerator creates secp256k1 keypairs with mainnet P2PKH addresses
type BitcoinGenerator struct {
	secp secpSource
}

func (g *BitcoinGenerator) Scheme() string { return SchemeBitcoin }

// Generate creates a keypair whose Secret is the compressed WIF
func (g *BitcoinGenerator) Generate() (types.Keypair, error) {
	priv, err := g.secp.privateKey()
	if err != nil {
		return types.Keypair{}, err
	}
	addr, err := BitcoinAddress(priv.PubKey())
	if err != nil {
		return types.Keypair{}, fmt.Errorf("encode address: %w", err)
	}
	wif, err := btcutil.NewWIF(priv, &chaincfg.MainNetParams, true)
	if err != nil {
		return types.Keypair{}, fmt.Errorf("encode wif: %w", err)
	}
	return types.Keypair{
		Address: addr,
		Private: priv.Serialize(),
		Secret:  wif.String(),
	}, nil
}

// EthereumGenerator creates secp256k1 keypairs with EIP-55 addresses
type EthereumGenerator struct {
	secp secpSource
}

func (g *EthereumGenerator) Scheme() string { return SchemeEthereum }

// Generate creates a keypair whose Secret is the hex private key
func (g *EthereumGenerator) Generate() (types.Keypair, error) {
	priv, err := g.secp.privateKey()
	if err != nil {
		return types.Keypair{}, err
	}
	raw := priv.Serialize()
	return types.Keypair{
		Address: EthereumAddress(priv.PubKey()),
		Private: raw,
		Secret:  hex.EncodeToString(raw),
	}, nil
}
