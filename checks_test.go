package blockauth

import (
	"encoding/json"
	"testing"
	"time"
)

var testNow = time.Date(2026, time.March, 14, 9, 26, 53, 589793000, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func stringPtr(s string) *string { return &s }

func jsonUnmarshal(data string, v any) error {
	return json.Unmarshal([]byte(data), v)
}

func TestIsExpirationValid(t *testing.T) {
	env := CheckEnv{Now: testNow}
	cases := []struct {
		name string
		exp  Epoch
		skew time.Duration
		want bool
	}{
		{"future", NewEpoch(testNow.Add(time.Second)), 0, true},
		{"equal", NewEpoch(testNow), 0, false},
		{"past", NewEpoch(testNow.Add(-time.Minute)), 0, false},
		{"past within skew", NewEpoch(testNow.Add(-time.Second)), 5 * time.Second, true},
		{"missing", "", 0, false},
		{"garbage", "soon", 0, false},
		{"numeric integer", Epoch("9999999999"), 0, true},
		{"beyond int64 micros", Epoch("1e19"), 0, false},
		{"negative beyond int64 micros", Epoch("-1e19"), 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env.ClockSkew = tc.skew
			if got := IsExpirationValid(env, &Claims{ExpiresAt: tc.exp}, nil); got != tc.want {
				t.Fatalf("IsExpirationValid(%q) = %v, want %v", tc.exp, got, tc.want)
			}
		})
	}
}

func TestIsIssuanceValid(t *testing.T) {
	env := CheckEnv{Now: testNow}
	cases := []struct {
		name string
		iat  Epoch
		skew time.Duration
		want bool
	}{
		{"past", NewEpoch(testNow.Add(-time.Minute)), 0, true},
		{"equal", NewEpoch(testNow), 0, true},
		{"future", NewEpoch(testNow.Add(time.Microsecond)), 0, false},
		{"future within skew", NewEpoch(testNow.Add(time.Second)), 2 * time.Second, true},
		{"missing", "", 0, false},
		{"nan", "NaN", 0, false},
		{"beyond int64 micros", Epoch("1e19"), 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env.ClockSkew = tc.skew
			if got := IsIssuanceValid(env, &Claims{IssuedAt: tc.iat}, nil); got != tc.want {
				t.Fatalf("IsIssuanceValid(%q) = %v, want %v", tc.iat, got, tc.want)
			}
		})
	}
}

func TestSignersMatchPublicKeys(t *testing.T) {
	cases := []struct {
		name      string
		declared  []string
		recovered []string
		want      bool
	}{
		{"both empty", []string{}, nil, true},
		{"same", []string{"a"}, []string{"a"}, true},
		{"order insensitive", []string{"a", "b"}, []string{"b", "a"}, true},
		{"duplicates collapse", []string{"a", "a"}, []string{"a"}, true},
		{"swapped", []string{"b"}, []string{"a"}, false},
		{"extra declared", []string{"a", "b"}, []string{"a"}, false},
		{"unsigned but declared", []string{"a"}, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims := &Claims{PublicKeys: tc.declared}
			if got := SignersMatchPublicKeys(CheckEnv{}, claims, tc.recovered); got != tc.want {
				t.Fatalf("SignersMatchPublicKeys = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPublicKeysMatchIssuer(t *testing.T) {
	other := mustKey(t).PublicKey().Hex()
	env := CheckEnv{Now: testNow}
	cases := []struct {
		name   string
		issuer *string
		keys   []string
		want   bool
	}{
		{"btc-addr match", stringPtr(DIDFromAddress(keyOneAddress)), []string{keyOnePublicHex}, true},
		{"match among several", stringPtr(DIDFromAddress(keyOneAddress)), []string{other, keyOnePublicHex}, true},
		{"ecdsa-pub match", stringPtr("did:ecdsa-pub:" + keyOnePublicHex), []string{keyOnePublicHex}, true},
		{"null issuer", nil, []string{keyOnePublicHex}, false},
		{"no keys", stringPtr(DIDFromAddress(keyOneAddress)), []string{}, false},
		{"other key", stringPtr(DIDFromAddress(keyOneAddress)), []string{other}, false},
		{"uncompressed address", stringPtr(DIDFromAddress(keyOneUncompressedAdr)), []string{keyOnePublicHex}, false},
		{"not a did", stringPtr(keyOneAddress), []string{keyOnePublicHex}, false},
		{"unreadable key", stringPtr(DIDFromAddress(keyOneAddress)), []string{"zz"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims := &Claims{Issuer: tc.issuer, PublicKeys: tc.keys}
			if got := PublicKeysMatchIssuer(env, claims, nil); got != tc.want {
				t.Fatalf("PublicKeysMatchIssuer = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestUnsignedHasNoIssuer(t *testing.T) {
	victim := stringPtr(DIDFromAddress(keyOneAddress))
	cases := []struct {
		name   string
		issuer *string
		keys   []string
		want   bool
	}{
		{"unsigned without issuer", nil, []string{}, true},
		{"unsigned naming an issuer", victim, []string{}, false},
		{"unsigned with nil keys", victim, nil, false},
		{"signed", victim, []string{keyOnePublicHex}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims := &Claims{Issuer: tc.issuer, PublicKeys: tc.keys}
			if got := UnsignedHasNoIssuer(CheckEnv{}, claims, nil); got != tc.want {
				t.Fatalf("UnsignedHasNoIssuer = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPublicKeysMatchIssuer_UsesCache(t *testing.T) {
	cache := newAddressCache(nil)
	env := CheckEnv{Now: testNow, addresses: cache}
	claims := &Claims{Issuer: stringPtr(DIDFromAddress(keyOneAddress)), PublicKeys: []string{keyOnePublicHex}}

	for i := 0; i < 3; i++ {
		if !PublicKeysMatchIssuer(env, claims, nil) {
			t.Fatalf("call %d: expected issuer match", i)
		}
	}
	if cache.len() != 1 {
		t.Fatalf("expected one cached address, got %d", cache.len())
	}
}

func TestEpoch(t *testing.T) {
	e := NewEpoch(testNow)
	if e != "1773480413.589793" {
		t.Fatalf("unexpected epoch: %s", e)
	}
	parsed, err := e.Time()
	if err != nil {
		t.Fatalf("Time: %v", err)
	}
	if !parsed.Equal(testNow) {
		t.Fatalf("round trip: got %v want %v", parsed, testNow)
	}

	var claims Claims
	if err := jsonUnmarshal(`{"iat":1773480413,"exp":"1773484013.5","iss":null,"public_keys":null}`, &claims); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if claims.IssuedAt != "1773480413" || claims.ExpiresAt != "1773484013.5" || claims.Issuer != nil {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if err := jsonUnmarshal(`{"iat":true}`, &claims); err == nil {
		t.Fatal("expected error for boolean iat")
	}
}
