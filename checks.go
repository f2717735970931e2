package blockauth

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

// CheckID names a verification check.
type CheckID string

const (
	CheckExpiration    CheckID = "expiration"
	CheckIssuance      CheckID = "issuance"
	CheckSignatureKeys CheckID = "signature_keys"
	CheckIssuerKey     CheckID = "issuer_key"
	CheckIssuerAbsent  CheckID = "issuer_absent"
)

// CheckFunc is a verification predicate. It must not modify claims.
type CheckFunc func(env CheckEnv, claims *Claims, recovered []string) bool

// CheckEnv carries what checks may consult besides the token itself.
type CheckEnv struct {
	Now       time.Time
	ClockSkew time.Duration
	Network   *chaincfg.Params

	addresses *addressCache
}

// Check lists run by each message type, in order.
var (
	RequestChecks          = []CheckID{CheckExpiration, CheckIssuance, CheckSignatureKeys, CheckIssuerKey}
	AnonymousRequestChecks = []CheckID{CheckExpiration, CheckIssuance, CheckSignatureKeys, CheckIssuerAbsent}
	ResponseChecks         = []CheckID{CheckExpiration, CheckIssuance, CheckSignatureKeys, CheckIssuerKey}
)

var builtinChecks = map[CheckID]CheckFunc{
	CheckExpiration:    IsExpirationValid,
	CheckIssuance:      IsIssuanceValid,
	CheckSignatureKeys: SignersMatchPublicKeys,
	CheckIssuerKey:     PublicKeysMatchIssuer,
	CheckIssuerAbsent:  UnsignedHasNoIssuer,
}

var checkCodes = map[CheckID]ErrorCode{
	CheckExpiration:    ErrCodeExpired,
	CheckIssuance:      ErrCodeIssuedInFuture,
	CheckSignatureKeys: ErrCodeKeyMismatch,
	CheckIssuerKey:     ErrCodeIssuerMismatch,
	CheckIssuerAbsent:  ErrCodeUnexpectedIssuer,
}

// IsExpirationValid passes when now is strictly before exp.
func IsExpirationValid(env CheckEnv, claims *Claims, _ []string) bool {
	exp, err := claims.ExpiresAt.Time()
	if err != nil {
		return false
	}
	return env.Now.Before(exp.Add(env.ClockSkew))
}

// IsIssuanceValid passes when now is at or after iat.
func IsIssuanceValid(env CheckEnv, claims *Claims, _ []string) bool {
	iat, err := claims.IssuedAt.Time()
	if err != nil {
		return false
	}
	return !env.Now.Add(env.ClockSkew).Before(iat)
}

// SignersMatchPublicKeys passes when the keys that signed the token and the
// keys declared in public_keys are the same set.
func SignersMatchPublicKeys(_ CheckEnv, claims *Claims, recovered []string) bool {
	signers := toSet(recovered)
	declared := toSet(claims.PublicKeys)
	if len(signers) != len(declared) {
		return false
	}
	for key := range signers {
		if _, ok := declared[key]; !ok {
			return false
		}
	}
	return true
}

// PublicKeysMatchIssuer passes when iss identifies one of public_keys.
func PublicKeysMatchIssuer(env CheckEnv, claims *Claims, _ []string) bool {
	if claims.Issuer == nil || len(claims.PublicKeys) == 0 {
		return false
	}
	did, err := ParseDID(*claims.Issuer, env.Network)
	if err != nil {
		return false
	}
	for _, key := range claims.PublicKeys {
		switch did.Method {
		case DIDMethodECDSAPub:
			if key == did.ID {
				return true
			}
		case DIDMethodBTCAddress:
			address, err := env.address(key)
			if err == nil && address == did.ID {
				return true
			}
		}
	}
	return false
}

// UnsignedHasNoIssuer passes when the token declares keys or carries no
// issuer. An unsigned token cannot vouch for any identity.
func UnsignedHasNoIssuer(_ CheckEnv, claims *Claims, _ []string) bool {
	return len(claims.PublicKeys) > 0 || claims.Issuer == nil
}

func (env CheckEnv) address(publicKeyHex string) (string, error) {
	if env.addresses != nil {
		return env.addresses.Address(publicKeyHex)
	}
	key, err := ParsePublicKey(publicKeyHex)
	if err != nil {
		return "", err
	}
	return key.Address(env.Network)
}

type namedCheck struct {
	id CheckID
	fn CheckFunc
}

// resolveChecks maps ids to functions, preserving order.
func resolveChecks(ids []CheckID, registry map[CheckID]CheckFunc) ([]namedCheck, error) {
	out := make([]namedCheck, 0, len(ids))
	for _, id := range ids {
		fn, ok := registry[id]
		if !ok || fn == nil {
			return nil, newError(ErrCodeInvalidConfig, fmt.Errorf("unknown check %q", id))
		}
		out = append(out, namedCheck{id: id, fn: fn})
	}
	return out, nil
}

func codeForCheck(id CheckID) ErrorCode {
	if code, ok := checkCodes[id]; ok {
		return code
	}
	return ErrCodeCheckFailed
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
