package blockauth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// DID methods understood by ParseDID.
const (
	DIDMethodBTCAddress = "btc-addr"
	DIDMethodECDSAPub   = "ecdsa-pub"
)

const didScheme = "did"

// DID is a parsed decentralized identifier.
type DID struct {
	Method string
	ID     string
}

// String formats the identifier as did:<method>:<id>.
func (d DID) String() string {
	return didScheme + ":" + d.Method + ":" + d.ID
}

// DIDFromAddress returns the btc-addr identifier for address.
func DIDFromAddress(address string) string {
	return DID{Method: DIDMethodBTCAddress, ID: address}.String()
}

// DIDFromPublicKey returns the btc-addr identifier for the key's address on net.
func DIDFromPublicKey(key *PublicKey, net *chaincfg.Params) (string, error) {
	address, err := key.Address(net)
	if err != nil {
		return "", err
	}
	return DIDFromAddress(address), nil
}

// ParseDID splits and validates a btc-addr or ecdsa-pub identifier.
func ParseDID(value string, net *chaincfg.Params) (DID, error) {
	parts := strings.SplitN(value, ":", 3)
	if len(parts) != 3 || parts[0] != didScheme {
		return DID{}, fmt.Errorf("%q is not a did", value)
	}
	did := DID{Method: parts[1], ID: parts[2]}
	if did.ID == "" {
		return DID{}, errors.New("did has empty identifier")
	}

	switch did.Method {
	case DIDMethodBTCAddress:
		if net == nil {
			net = &chaincfg.MainNetParams
		}
		if _, err := btcutil.DecodeAddress(did.ID, net); err != nil {
			return DID{}, fmt.Errorf("did address: %w", err)
		}
	case DIDMethodECDSAPub:
		if _, err := ParsePublicKey(did.ID); err != nil {
			return DID{}, fmt.Errorf("did public key: %w", err)
		}
	default:
		return DID{}, fmt.Errorf("unsupported did method %q", did.Method)
	}
	return did, nil
}
