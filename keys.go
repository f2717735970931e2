package blockauth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// compressedSuffix marks a hex private key whose public key serializes
// compressed. Unsuffixed hex keys serialize uncompressed, as in bitcoin's
// original key export format.
const compressedSuffix = "01"

// PrivateKey is a secp256k1 signing key. The public key is derived once at
// construction and never changes.
type PrivateKey struct {
	key    *secp256k1.PrivateKey
	public *PublicKey
}

// PublicKey is a secp256k1 public key together with the serialization form
// (compressed or not) its hex and address are derived from.
type PublicKey struct {
	key        *secp256k1.PublicKey
	compressed bool
}

// GeneratePrivateKey returns a fresh random key with a compressed public key.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newPrivateKey(key, true), nil
}

// PrivateKeyFromBytes builds a key from a 32 byte big-endian scalar. Its
// public key serializes compressed.
func PrivateKeyFromBytes(raw []byte) (*PrivateKey, error) {
	return scalarKey(raw, true)
}

func scalarKey(raw []byte, compressed bool) (*PrivateKey, error) {
	if len(raw) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", secp256k1.PrivKeyBytesLen, len(raw))
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(raw); overflow {
		return nil, errors.New("private key exceeds curve order")
	}
	if scalar.IsZero() {
		return nil, errors.New("private key is zero")
	}
	return newPrivateKey(secp256k1.NewPrivateKey(&scalar), compressed), nil
}

// ParsePrivateKey accepts a hex scalar or a WIF string. A hex scalar suffixed
// with 01 yields a compressed public key; a bare one yields an uncompressed key.
func ParsePrivateKey(encoded string) (*PrivateKey, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, errors.New("private key is empty")
	}

	hexLen := secp256k1.PrivKeyBytesLen * 2
	switch {
	case len(encoded) == hexLen && isHex(encoded):
		raw, _ := hex.DecodeString(encoded)
		return scalarKey(raw, false)
	case len(encoded) == hexLen+2 && isHex(encoded):
		if !strings.EqualFold(encoded[hexLen:], compressedSuffix) {
			return nil, fmt.Errorf("unexpected private key suffix %q", encoded[hexLen:])
		}
		raw, _ := hex.DecodeString(encoded[:hexLen])
		return scalarKey(raw, true)
	}

	wif, err := btcutil.DecodeWIF(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode wif: %w", err)
	}
	return newPrivateKey(wif.PrivKey, wif.CompressPubKey), nil
}

func newPrivateKey(key *secp256k1.PrivateKey, compressed bool) *PrivateKey {
	return &PrivateKey{
		key:    key,
		public: &PublicKey{key: key.PubKey(), compressed: compressed},
	}
}

// PublicKey returns the derived public key.
func (k *PrivateKey) PublicKey() *PublicKey {
	return k.public
}

// Hex returns the 32 byte scalar hex-encoded.
func (k *PrivateKey) Hex() string {
	return hex.EncodeToString(k.key.Serialize())
}

// WIF encodes the key in wallet import format for net.
func (k *PrivateKey) WIF(net *chaincfg.Params) (string, error) {
	if net == nil {
		net = &chaincfg.MainNetParams
	}
	wif, err := btcutil.NewWIF(k.key, net, k.public.compressed)
	if err != nil {
		return "", err
	}
	return wif.String(), nil
}

// ParsePublicKey decodes a hex SEC1 public key, compressed or uncompressed.
func ParsePublicKey(encoded string) (*PublicKey, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode public key hex: %w", err)
	}
	key, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &PublicKey{key: key, compressed: len(raw) == secp256k1.PubKeyBytesLenCompressed}, nil
}

// Bytes returns the SEC1 serialization in the key's form.
func (p *PublicKey) Bytes() []byte {
	if p.compressed {
		return p.key.SerializeCompressed()
	}
	return p.key.SerializeUncompressed()
}

// Hex returns the hex-encoded SEC1 serialization.
func (p *PublicKey) Hex() string {
	return hex.EncodeToString(p.Bytes())
}

// Address returns the pay-to-pubkey-hash address of the key on net.
func (p *PublicKey) Address(net *chaincfg.Params) (string, error) {
	if net == nil {
		net = &chaincfg.MainNetParams
	}
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(p.Bytes()), net)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
