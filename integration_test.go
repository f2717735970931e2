package blockauth

import (
	"os"
	"strings"
	"testing"
	"time"
)

// TestExternalRequestToken verifies a request token minted by another
// implementation. BLOCKAUTH_TEST_TOKEN holds the token; BLOCKAUTH_TEST_SKEW
// optionally widens the clock tolerance.
func TestExternalRequestToken(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "true" {
		t.Skip("RUN_INTEGRATION_TESTS not set to true")
	}

	token := strings.TrimSpace(os.Getenv("BLOCKAUTH_TEST_TOKEN"))
	if token == "" {
		t.Fatal("BLOCKAUTH_TEST_TOKEN environment variable required")
	}

	var opts []Option
	if raw := strings.TrimSpace(os.Getenv("BLOCKAUTH_TEST_SKEW")); raw != "" {
		skew, err := time.ParseDuration(raw)
		if err != nil {
			t.Fatalf("parse BLOCKAUTH_TEST_SKEW: %v", err)
		}
		opts = append(opts, WithClockSkew(skew))
	}

	claims, err := ParseRequest(token, opts...)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if claims.DomainName == "" {
		t.Fatal("claims.DomainName empty")
	}
	if claims.JWTID == "" {
		t.Fatal("claims.JWTID empty")
	}
}
