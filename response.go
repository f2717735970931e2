package blockauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Response is the signed answer a user agent returns to a requesting
// application. Unlike a Request it always carries a key.
type Response struct {
	key       *PrivateKey
	username  *string
	profile   map[string]any
	expiresAt time.Time
	message   *Message
}

type responseParams struct {
	username  *string
	profile   map[string]any
	expiresAt time.Time
	options   []Option
}

// ResponseOption customizes a Response.
type ResponseOption func(*responseParams)

// WithUsername sets the username claim.
func WithUsername(username string) ResponseOption {
	return func(p *responseParams) {
		p.username = &username
	}
}

// WithProfile sets the profile claim. The map is copied shallowly.
func WithProfile(profile map[string]any) ResponseOption {
	return func(p *responseParams) {
		if profile == nil {
			p.profile = nil
			return
		}
		p.profile = make(map[string]any, len(profile))
		for k, v := range profile {
			p.profile[k] = v
		}
	}
}

// WithResponseExpiresAt sets an explicit expiry instead of now + TTL.
func WithResponseExpiresAt(t time.Time) ResponseOption {
	return func(p *responseParams) {
		p.expiresAt = t
	}
}

// WithResponseOptions passes Message options.
func WithResponseOptions(opts ...Option) ResponseOption {
	return func(p *responseParams) {
		p.options = append(p.options, opts...)
	}
}

// NewResponse builds a response signed by key.
func NewResponse(key *PrivateKey, opts ...ResponseOption) (*Response, error) {
	if key == nil {
		return nil, newError(ErrCodeInvalidArgument, errors.New("response requires a private key"))
	}
	var params responseParams
	for _, opt := range opts {
		opt(&params)
	}
	if params.username != nil && *params.username == "" {
		return nil, newError(ErrCodeInvalidArgument, errors.New("username is empty"))
	}

	message, err := NewResponseMessage(params.options...)
	if err != nil {
		return nil, err
	}
	if params.expiresAt.IsZero() {
		params.expiresAt = message.now().Add(message.cfg.TTL)
	}
	return &Response{
		key:       key,
		username:  params.username,
		profile:   params.profile,
		expiresAt: params.expiresAt,
		message:   message,
	}, nil
}

// ExpiresAt returns the expiry applied to every token.
func (r *Response) ExpiresAt() time.Time { return r.expiresAt }

// Message returns the Message the response signs with.
func (r *Response) Message() *Message { return r.message }

// Payload builds the claims with a fresh jti and iat.
func (r *Response) Payload() (*ResponseClaims, error) {
	public := r.key.PublicKey()
	issuer, err := DIDFromPublicKey(public, r.message.cfg.Network)
	if err != nil {
		return nil, newError(ErrCodeSigningFailed, fmt.Errorf("derive issuer: %w", err))
	}
	return &ResponseClaims{
		Claims: Claims{
			JWTID:      uuid.NewString(),
			IssuedAt:   NewEpoch(r.message.now()),
			ExpiresAt:  NewEpoch(r.expiresAt),
			Issuer:     &issuer,
			PublicKeys: []string{public.Hex()},
		},
		Username: r.username,
		Profile:  r.profile,
	}, nil
}

// Token builds a fresh payload and signs it.
func (r *Response) Token() (string, error) {
	payload, err := r.Payload()
	if err != nil {
		return "", err
	}
	return r.message.Sign(payload, r.key)
}

// ParseResponse decodes token, runs the response checks and returns its claims.
func ParseResponse(token string, opts ...Option) (*ResponseClaims, error) {
	message, err := NewResponseMessage(opts...)
	if err != nil {
		return nil, err
	}
	decoded, err := message.DecodeAndVerify(token)
	if err != nil {
		return nil, err
	}
	var claims ResponseClaims
	if err := decoded.Unmarshal(&claims); err != nil {
		return nil, err
	}
	claims.normalize()
	return &claims, nil
}
