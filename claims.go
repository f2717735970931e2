// Package blockauth issues and verifies ES256K-signed auth tokens that bind a
// did:btc-addr identifier to request or response claims.
package blockauth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Claims holds the registered claims shared by every message type.
type Claims struct {
	JWTID      string   `json:"jti"`
	IssuedAt   Epoch    `json:"iat"`
	ExpiresAt  Epoch    `json:"exp"`
	Issuer     *string  `json:"iss"`
	PublicKeys []string `json:"public_keys"`
}

// RequestClaims is the payload of an auth request token.
type RequestClaims struct {
	Claims
	DomainName  string   `json:"domain_name"`
	ManifestURI string   `json:"manifest_uri"`
	RedirectURI string   `json:"redirect_uri"`
	Scopes      []string `json:"scopes"`
}

// ResponseClaims is the payload of an auth response token.
type ResponseClaims struct {
	Claims
	Username *string        `json:"username"`
	Profile  map[string]any `json:"profile"`
}

// maxEpochSeconds keeps the microsecond conversion below math.MaxInt64 after
// float64 rounding.
const maxEpochSeconds = 1 << 43

// Epoch is a point in time carried as decimal seconds since the Unix epoch.
// It is emitted as a JSON string; JSON numbers are accepted when decoding.
type Epoch string

// NewEpoch formats t with microsecond precision.
func NewEpoch(t time.Time) Epoch {
	micros := t.UnixMicro()
	sec, frac := micros/1e6, micros%1e6
	if frac < 0 {
		sec--
		frac += 1e6
	}
	return Epoch(fmt.Sprintf("%d.%06d", sec, frac))
}

// Time parses the epoch value.
func (e Epoch) Time() (time.Time, error) {
	if e == "" {
		return time.Time{}, errors.New("timestamp missing")
	}
	f, err := strconv.ParseFloat(string(e), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", string(e), err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf("timestamp %q is not finite", string(e))
	}
	if f > maxEpochSeconds || f < -maxEpochSeconds {
		return time.Time{}, fmt.Errorf("timestamp %q is out of range", string(e))
	}
	return time.UnixMicro(int64(math.Round(f * 1e6))), nil
}

// UnmarshalJSON accepts a string or a number.
func (e *Epoch) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*e = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = Epoch(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("timestamp must be a string or number: %w", err)
	}
	*e = Epoch(n.String())
	return nil
}

// IssuerString returns the issuer or "" when it is null.
func (c *Claims) IssuerString() string {
	if c.Issuer == nil {
		return ""
	}
	return *c.Issuer
}

func (c *Claims) normalize() {
	if c.PublicKeys == nil {
		c.PublicKeys = []string{}
	}
}
