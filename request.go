package blockauth

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/idna"
)

const manifestPath = "/manifest.json"

// Request is an auth request from an application identified by its domain.
// It is immutable after construction; every Payload call yields a fresh
// jti and iat.
type Request struct {
	key         *PrivateKey
	domainName  string
	manifestURI string
	redirectURI string
	scopes      []string
	expiresAt   time.Time
	message     *Message
}

type requestParams struct {
	manifestURI string
	redirectURI string
	scopes      []string
	expiresAt   time.Time
	options     []Option
}

// RequestOption customizes a Request.
type RequestOption func(*requestParams)

// WithManifestURI overrides the default domain_name + "/manifest.json".
func WithManifestURI(uri string) RequestOption {
	return func(p *requestParams) {
		p.manifestURI = uri
	}
}

// WithRedirectURI overrides the default redirect (the domain itself).
func WithRedirectURI(uri string) RequestOption {
	return func(p *requestParams) {
		p.redirectURI = uri
	}
}

// WithScopes sets the requested permission scopes. Order and duplicates are kept.
func WithScopes(scopes ...string) RequestOption {
	return func(p *requestParams) {
		p.scopes = append([]string(nil), scopes...)
	}
}

// WithExpiresAt sets an explicit expiry instead of now + TTL.
func WithExpiresAt(t time.Time) RequestOption {
	return func(p *requestParams) {
		p.expiresAt = t
	}
}

// WithRequestOptions passes Message options (clock, tokenizer, config, ...).
func WithRequestOptions(opts ...Option) RequestOption {
	return func(p *requestParams) {
		p.options = append(p.options, opts...)
	}
}

// NewRequest builds a request for domainName. A nil key yields an unsigned
// request whose iss is null and public_keys empty.
func NewRequest(key *PrivateKey, domainName string, opts ...RequestOption) (*Request, error) {
	var params requestParams
	for _, opt := range opts {
		opt(&params)
	}

	if err := validateDomain(domainName); err != nil {
		return nil, newError(ErrCodeInvalidArgument, err)
	}
	if params.manifestURI == "" {
		params.manifestURI = domainName + manifestPath
	} else if err := validateURI(params.manifestURI); err != nil {
		return nil, newError(ErrCodeInvalidArgument, fmt.Errorf("manifest_uri: %w", err))
	}
	if params.redirectURI == "" {
		params.redirectURI = domainName
	} else if err := validateURI(params.redirectURI); err != nil {
		return nil, newError(ErrCodeInvalidArgument, fmt.Errorf("redirect_uri: %w", err))
	}
	if params.scopes == nil {
		params.scopes = []string{}
	}

	message, err := NewRequestMessage(params.options...)
	if err != nil {
		return nil, err
	}
	if params.expiresAt.IsZero() {
		params.expiresAt = message.now().Add(message.cfg.TTL)
	}

	return &Request{
		key:         key,
		domainName:  domainName,
		manifestURI: params.manifestURI,
		redirectURI: params.redirectURI,
		scopes:      params.scopes,
		expiresAt:   params.expiresAt,
		message:     message,
	}, nil
}

// DomainName returns the requesting domain.
func (r *Request) DomainName() string { return r.domainName }

// ManifestURI returns the manifest location.
func (r *Request) ManifestURI() string { return r.manifestURI }

// RedirectURI returns the redirect target.
func (r *Request) RedirectURI() string { return r.redirectURI }

// Scopes returns a copy of the requested scopes.
func (r *Request) Scopes() []string { return append([]string{}, r.scopes...) }

// ExpiresAt returns the expiry applied to every token.
func (r *Request) ExpiresAt() time.Time { return r.expiresAt }

// Signed reports whether the request carries a key.
func (r *Request) Signed() bool { return r.key != nil }

// Message returns the Message the request signs with.
func (r *Request) Message() *Message { return r.message }

// Payload builds the claims. jti and iat are generated on every call.
func (r *Request) Payload() (*RequestClaims, error) {
	claims := &RequestClaims{
		Claims: Claims{
			JWTID:      uuid.NewString(),
			IssuedAt:   NewEpoch(r.message.now()),
			ExpiresAt:  NewEpoch(r.expiresAt),
			PublicKeys: []string{},
		},
		DomainName:  r.domainName,
		ManifestURI: r.manifestURI,
		RedirectURI: r.redirectURI,
		Scopes:      append([]string{}, r.scopes...),
	}
	if r.key != nil {
		public := r.key.PublicKey()
		issuer, err := DIDFromPublicKey(public, r.message.cfg.Network)
		if err != nil {
			return nil, newError(ErrCodeSigningFailed, fmt.Errorf("derive issuer: %w", err))
		}
		claims.Issuer = &issuer
		claims.PublicKeys = []string{public.Hex()}
	}
	return claims, nil
}

// Token builds a fresh payload and signs it.
func (r *Request) Token() (string, error) {
	payload, err := r.Payload()
	if err != nil {
		return "", err
	}
	if r.key == nil {
		return r.message.Sign(payload)
	}
	return r.message.Sign(payload, r.key)
}

// ParseRequest decodes token, runs the request checks and returns its claims.
// Pass WithChecks(AnonymousRequestChecks...) to accept unsigned requests.
func ParseRequest(token string, opts ...Option) (*RequestClaims, error) {
	message, err := NewRequestMessage(opts...)
	if err != nil {
		return nil, err
	}
	decoded, err := message.DecodeAndVerify(token)
	if err != nil {
		return nil, err
	}
	var claims RequestClaims
	if err := decoded.Unmarshal(&claims); err != nil {
		return nil, err
	}
	claims.normalize()
	if claims.Scopes == nil {
		claims.Scopes = []string{}
	}
	return &claims, nil
}

func validateDomain(domain string) error {
	if strings.TrimSpace(domain) == "" {
		return errors.New("domain_name is required")
	}
	if strings.ContainsAny(domain, " \t\r\n") {
		return fmt.Errorf("domain_name %q contains whitespace", domain)
	}

	host := domain
	if strings.Contains(domain, "://") {
		u, err := url.Parse(domain)
		if err != nil {
			return fmt.Errorf("domain_name: %w", err)
		}
		host = u.Host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		return fmt.Errorf("domain_name %q has no host", domain)
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if _, err := idna.Lookup.ToASCII(host); err != nil {
		return fmt.Errorf("domain_name %q: %w", domain, err)
	}
	return nil
}

func validateURI(uri string) error {
	if strings.ContainsAny(uri, " \t\r\n") {
		return fmt.Errorf("%q contains whitespace", uri)
	}
	if _, err := url.Parse(uri); err != nil {
		return err
	}
	return nil
}
