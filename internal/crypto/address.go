package crypto

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"golang.org/x/crypto/sha3"
)

// AddressLen is the length of an Ethereum address in bytes
const AddressLen = 20

// SolanaAddress encodes an ed25519 public key the way Solana displays it
func SolanaAddress(pub []byte) string {
	return base58.Encode(pub)
}

// BitcoinAddress returns the mainnet P2PKH address of a compressed public key
func BitcoinAddress(pub *btcec.PublicKey) (string, error) {
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), &chaincfg.MainNetParams)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// EthereumAddress returns the EIP-55 checksummed address of a public key
func EthereumAddress(pub *btcec.PublicKey) string {
	// Uncompressed key without the 0x04 marker.
	hash := Keccak256(pub.SerializeUncompressed()[1:])
	return AddressBytesToChecksumString(hash[12:])
}

// AddressBytesToChecksumString converts 20-byte address to EIP-55 checksummed string.
func AddressBytesToChecksumString(addr20 []byte) string {
	if len(addr20) != AddressLen {
		panic(errors.New("address must be 20 bytes"))
	}
	return toChecksumAddress(addr20)
}

// Keccak256 calculates the keccak256 hash of the input bytes
func Keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(data)
	return h.Sum(nil)
}

// toChecksumAddress converts 20-byte address to EIP-55 checksummed string.
func toChecksumAddress(addr20 []byte) string {
	hexLower := hex.EncodeToString(addr20)
	hash := Keccak256([]byte(hexLower))

	var out strings.Builder
	out.Grow(2 + 2*AddressLen)
	out.WriteString("0x")
	for i := 0; i < len(hexLower); i++ {
		c := hexLower[i]
		if c >= '0' && c <= '9' {
			out.WriteByte(c)
			continue
		}
		// each nibble of the hash decides case of corresponding hex char
		n := (hash[i/2] >> uint(4*(1-i%2))) & 0xF
		if n >= 8 {
			out.WriteByte(c - 'a' + 'A')
		} else {
			out.WriteByte(c)
		}
	}
	return out.String()
}
