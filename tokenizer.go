package blockauth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
)

const (
	maxTokenSize = 16 * 1024
	tokenType    = "JWT"
	algNone      = "none"
	sigScalarLen = 32
)

// Tokenizer turns payloads into signed, self-contained token strings and back.
// Decode performs no cryptographic checks; it returns the payload and the
// signer public keys (hex) embedded in the token, one per signature. Verify
// checks the signature attributed to one key.
type Tokenizer interface {
	Encode(payload []byte, keys ...*PrivateKey) (string, error)
	Decode(token string) (payload []byte, signers []string, err error)
	Verify(token string, key *PublicKey) error
}

// JWSTokenizer encodes ES256K JSON Web Signatures. Every signature carries its
// signer's public key hex as kid. One key produces compact serialization,
// several produce general JSON serialization, none produces an unsecured
// compact token with alg "none".
type JWSTokenizer struct{}

// NewJWSTokenizer returns the default tokenizer.
func NewJWSTokenizer() *JWSTokenizer {
	return &JWSTokenizer{}
}

func init() {
	jws.RegisterSigner(jwa.ES256K, jws.SignerFactoryFn(func() (jws.Signer, error) {
		return es256kSigner{}, nil
	}))
	jws.RegisterVerifier(jwa.ES256K, jws.VerifierFactoryFn(func() (jws.Verifier, error) {
		return es256kVerifier{}, nil
	}))
}

// Encode signs payload with every key.
func (t *JWSTokenizer) Encode(payload []byte, keys ...*PrivateKey) (string, error) {
	if len(keys) == 0 {
		return encodeUnsecured(payload)
	}

	options := make([]jws.SignOption, 0, len(keys)+1)
	if len(keys) > 1 {
		options = append(options, jws.WithJSON())
	}
	for i, key := range keys {
		if key == nil {
			return "", fmt.Errorf("key %d is nil", i)
		}
		hdrs := jws.NewHeaders()
		if err := hdrs.Set(jws.TypeKey, tokenType); err != nil {
			return "", fmt.Errorf("set typ: %w", err)
		}
		if err := hdrs.Set(jws.KeyIDKey, key.PublicKey().Hex()); err != nil {
			return "", fmt.Errorf("set kid: %w", err)
		}
		options = append(options, jws.WithKey(jwa.ES256K, key.key, jws.WithProtectedHeaders(hdrs)))
	}

	signed, err := jws.Sign(payload, options...)
	if err != nil {
		return "", fmt.Errorf("sign jws: %w", err)
	}
	return string(signed), nil
}

// Decode parses token structurally.
func (t *JWSTokenizer) Decode(token string) ([]byte, []string, error) {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return nil, nil, errors.New("token is empty")
	case len(token) > maxTokenSize:
		return nil, nil, fmt.Errorf("token exceeds %d bytes", maxTokenSize)
	}

	if !strings.HasPrefix(token, "{") {
		hdr, err := peekCompactHeader(token)
		if err != nil {
			return nil, nil, err
		}
		if hdr.Algorithm == algNone {
			payload, err := decodeUnsecured(token)
			return payload, nil, err
		}
	}

	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return nil, nil, fmt.Errorf("parse jws: %w", err)
	}
	sigs := msg.Signatures()
	if len(sigs) == 0 {
		return nil, nil, errors.New("token has no signatures")
	}
	signers := make([]string, 0, len(sigs))
	seen := make(map[string]struct{}, len(sigs))
	for i, sig := range sigs {
		hdrs := sig.ProtectedHeaders()
		if hdrs == nil {
			return nil, nil, fmt.Errorf("signature %d has no protected header", i)
		}
		if alg := hdrs.Algorithm(); alg != jwa.ES256K {
			return nil, nil, fmt.Errorf("signature %d: unsupported algorithm %q", i, alg)
		}
		kid := hdrs.KeyID()
		if kid == "" {
			return nil, nil, fmt.Errorf("signature %d has no kid", i)
		}
		if _, dup := seen[kid]; dup {
			return nil, nil, fmt.Errorf("signature %d repeats kid %s", i, kid)
		}
		seen[kid] = struct{}{}
		signers = append(signers, kid)
	}
	return msg.Payload(), signers, nil
}

// Verify checks the one signature in token whose kid is key. Signatures
// carrying other kids are left to their own keys.
func (t *JWSTokenizer) Verify(token string, key *PublicKey) error {
	if key == nil {
		return errors.New("public key is nil")
	}
	compact, err := signatureByKid(strings.TrimSpace(token), key.Hex())
	if err != nil {
		return err
	}
	if _, err := jws.Verify([]byte(compact), jws.WithKey(jwa.ES256K, key.key)); err != nil {
		return fmt.Errorf("verify with %s: %w", key.Hex(), err)
	}
	return nil
}

type compactHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ,omitempty"`
	KeyID     string `json:"kid,omitempty"`
}

// jsonSignature is one entry of a general (or the body of a flattened) JWS
// JSON serialization.
type jsonSignature struct {
	Protected string `json:"protected"`
	Signature string `json:"signature"`
}

type jsonSerialization struct {
	Payload    string          `json:"payload"`
	Signatures []jsonSignature `json:"signatures"`
	jsonSignature
}

// signatureByKid returns the compact form of the single signature in token
// whose protected kid equals kid.
func signatureByKid(token, kid string) (string, error) {
	if !strings.HasPrefix(token, "{") {
		hdr, err := peekCompactHeader(token)
		if err != nil {
			return "", err
		}
		if hdr.KeyID != kid {
			return "", fmt.Errorf("token is not signed by %s", kid)
		}
		return token, nil
	}

	var doc jsonSerialization
	if err := json.Unmarshal([]byte(token), &doc); err != nil {
		return "", fmt.Errorf("parse json serialization: %w", err)
	}
	sigs := doc.Signatures
	if len(sigs) == 0 && doc.Protected != "" {
		sigs = []jsonSignature{doc.jsonSignature}
	}
	var match *jsonSignature
	for i := range sigs {
		hdr, err := decodeProtected(sigs[i].Protected)
		if err != nil {
			return "", fmt.Errorf("signature %d: %w", i, err)
		}
		if hdr.KeyID != kid {
			continue
		}
		if match != nil {
			return "", fmt.Errorf("several signatures carry kid %s", kid)
		}
		match = &sigs[i]
	}
	if match == nil {
		return "", fmt.Errorf("token is not signed by %s", kid)
	}
	return match.Protected + "." + doc.Payload + "." + match.Signature, nil
}

func decodeProtected(encoded string) (compactHeader, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return compactHeader{}, fmt.Errorf("decode header: %w", err)
	}
	var hdr compactHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return compactHeader{}, fmt.Errorf("parse header: %w", err)
	}
	return hdr, nil
}

func peekCompactHeader(token string) (compactHeader, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return compactHeader{}, fmt.Errorf("compact token must have 3 parts, got %d", len(parts))
	}
	hdr, err := decodeProtected(parts[0])
	if err != nil {
		return compactHeader{}, err
	}
	if hdr.Algorithm == "" {
		return compactHeader{}, errors.New("header has no alg")
	}
	return hdr, nil
}

func encodeUnsecured(payload []byte) (string, error) {
	hdr, err := json.Marshal(compactHeader{Algorithm: algNone, Type: tokenType})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(hdr) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + ".", nil
}

func decodeUnsecured(token string) ([]byte, error) {
	parts := strings.Split(token, ".")
	if parts[2] != "" {
		return nil, errors.New("unsecured token carries a signature")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

// es256kSigner produces 64 byte R||S signatures over SHA-256 of the signing input.
type es256kSigner struct{}

func (es256kSigner) Algorithm() jwa.SignatureAlgorithm {
	return jwa.ES256K
}

func (es256kSigner) Sign(payload []byte, key interface{}) ([]byte, error) {
	priv, ok := key.(*secp256k1.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("es256k: expected *secp256k1.PrivateKey, got %T", key)
	}
	digest := sha256.Sum256(payload)
	// SignCompact prefixes the recovery code; JWS wants R||S only.
	compact := ecdsa.SignCompact(priv, digest[:], true)
	return compact[1:], nil
}

type es256kVerifier struct{}

func (es256kVerifier) Verify(payload, signature []byte, key interface{}) error {
	pub, ok := key.(*secp256k1.PublicKey)
	if !ok {
		return fmt.Errorf("es256k: expected *secp256k1.PublicKey, got %T", key)
	}
	if len(signature) != 2*sigScalarLen {
		return fmt.Errorf("es256k: signature must be %d bytes, got %d", 2*sigScalarLen, len(signature))
	}
	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(signature[:sigScalarLen]); overflow || r.IsZero() {
		return errors.New("es256k: invalid r")
	}
	if overflow := s.SetByteSlice(signature[sigScalarLen:]); overflow || s.IsZero() {
		return errors.New("es256k: invalid s")
	}
	digest := sha256.Sum256(payload)
	if !ecdsa.NewSignature(&r, &s).Verify(digest[:], pub) {
		return errors.New("es256k: signature mismatch")
	}
	return nil
}
