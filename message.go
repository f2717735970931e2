package blockauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"go.uber.org/zap"
)

// Message signs payloads into tokens and decodes and verifies them with an
// ordered list of checks. Requests and responses are Messages with different
// default check lists.
type Message struct {
	cfg       Config
	tokenizer Tokenizer
	clock     func() time.Time
	logger    *zap.Logger
	checks    []namedCheck
	addresses *addressCache
}

// Decoded is a token whose structure and signatures have been verified.
type Decoded struct {
	Token   string
	Payload json.RawMessage
	Claims  Claims
	// PublicKeys are the signer keys recovered from the token's signatures.
	PublicKeys []string
}

// Unmarshal decodes the full payload into v, e.g. *RequestClaims.
func (d *Decoded) Unmarshal(v any) error {
	if err := json.Unmarshal(d.Payload, v); err != nil {
		return newError(ErrCodeMalformedToken, fmt.Errorf("decode payload: %w", err))
	}
	return nil
}

type options struct {
	cfg         Config
	tokenizer   Tokenizer
	clock       func() time.Time
	logger      *zap.Logger
	custom      map[CheckID]CheckFunc
	customOrder []CheckID
}

// Option customizes a Message and the Request or Response built on it.
type Option func(*options)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithClockSkew sets the tolerance applied to iat and exp.
func WithClockSkew(skew time.Duration) Option {
	return func(o *options) {
		o.cfg.ClockSkew = skew
	}
}

// WithTTL sets the default lifetime of issued tokens.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.cfg.TTL = ttl
	}
}

// WithNetwork selects the address network for did:btc-addr identifiers.
func WithNetwork(net *chaincfg.Params) Option {
	return func(o *options) {
		o.cfg.Network = net
	}
}

// WithChecks replaces the default check list.
func WithChecks(ids ...CheckID) Option {
	return func(o *options) {
		o.cfg.Checks = append([]CheckID(nil), ids...)
	}
}

// WithCheck registers an extra named check. It runs after the configured
// list unless that list already names it.
func WithCheck(id CheckID, fn CheckFunc) Option {
	return func(o *options) {
		if o.custom == nil {
			o.custom = make(map[CheckID]CheckFunc)
		}
		if _, exists := o.custom[id]; !exists {
			o.customOrder = append(o.customOrder, id)
		}
		o.custom[id] = fn
	}
}

// WithTokenizer swaps the signing scheme.
func WithTokenizer(t Tokenizer) Option {
	return func(o *options) {
		o.tokenizer = t
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithLogger sets the logger used for decode and check failures.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// NewMessage builds a Message whose default check list is defaults.
func NewMessage(defaults []CheckID, opts ...Option) (*Message, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.validate(); err != nil {
		return nil, err
	}
	cfg := o.cfg
	cfg.normalize()

	ids := cfg.Checks
	if len(ids) == 0 {
		ids = append([]CheckID(nil), defaults...)
	}
	registry := make(map[CheckID]CheckFunc, len(builtinChecks)+len(o.custom))
	for id, fn := range builtinChecks {
		registry[id] = fn
	}
	for _, id := range o.customOrder {
		if _, builtin := builtinChecks[id]; builtin {
			return nil, newError(ErrCodeInvalidConfig, fmt.Errorf("check %q is built in", id))
		}
		registry[id] = o.custom[id]
		if !containsCheck(ids, id) {
			ids = append(ids, id)
		}
	}
	checks, err := resolveChecks(ids, registry)
	if err != nil {
		return nil, err
	}
	cfg.Checks = ids

	m := &Message{
		cfg:       cfg,
		tokenizer: o.tokenizer,
		clock:     o.clock,
		logger:    o.logger,
		checks:    checks,
		addresses: newAddressCache(cfg.Network),
	}
	if m.tokenizer == nil {
		m.tokenizer = NewJWSTokenizer()
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m, nil
}

// NewRequestMessage builds a Message that runs RequestChecks by default.
func NewRequestMessage(opts ...Option) (*Message, error) {
	return NewMessage(RequestChecks, opts...)
}

// NewResponseMessage builds a Message that runs ResponseChecks by default.
func NewResponseMessage(opts ...Option) (*Message, error) {
	return NewMessage(ResponseChecks, opts...)
}

// Config returns the effective configuration.
func (m *Message) Config() Config {
	cfg := m.cfg
	cfg.Checks = append([]CheckID(nil), m.cfg.Checks...)
	return cfg
}

// Checks returns the check list in execution order.
func (m *Message) Checks() []CheckID {
	return append([]CheckID(nil), m.cfg.Checks...)
}

// Sign serializes payload to JSON and signs it with keys. With no keys the
// token is unsecured.
func (m *Message) Sign(payload any, keys ...*PrivateKey) (string, error) {
	for i, key := range keys {
		if key == nil || key.key == nil {
			return "", newError(ErrCodeSigningFailed, fmt.Errorf("key %d is nil", i))
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", newError(ErrCodeSigningFailed, fmt.Errorf("encode payload: %w", err))
	}
	token, err := m.tokenizer.Encode(body, keys...)
	if err != nil {
		return "", newError(ErrCodeSigningFailed, err)
	}
	return token, nil
}

// Decode parses token and verifies every embedded signature against its
// embedded key. Claims are not evaluated.
func (m *Message) Decode(token string) (*Decoded, error) {
	payload, signers, err := m.tokenizer.Decode(token)
	if err != nil {
		m.logger.Debug("token decode failed", zap.Error(err))
		return nil, newError(ErrCodeMalformedToken, err)
	}

	for _, signer := range signers {
		key, err := ParsePublicKey(signer)
		if err != nil {
			m.logger.Debug("token signer key unreadable", zap.String("kid", signer), zap.Error(err))
			return nil, newError(ErrCodeMalformedToken, fmt.Errorf("signer key: %w", err))
		}
		if err := m.tokenizer.Verify(token, key); err != nil {
			m.logger.Debug("token signature rejected", zap.String("kid", signer), zap.Error(err))
			return nil, newError(ErrCodeInvalidSignature, err)
		}
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		m.logger.Debug("token claims unreadable", zap.Error(err))
		return nil, newError(ErrCodeMalformedToken, fmt.Errorf("decode claims: %w", err))
	}
	claims.normalize()

	if signers == nil {
		signers = []string{}
	}
	return &Decoded{
		Token:      token,
		Payload:    json.RawMessage(payload),
		Claims:     claims,
		PublicKeys: signers,
	}, nil
}

// Verify runs the checks in order and stops at the first failure, which is
// returned as an *Error naming the check.
func (m *Message) Verify(d *Decoded) error {
	if d == nil {
		return newError(ErrCodeMalformedToken, errors.New("decoded token is nil"))
	}
	env := CheckEnv{
		Now:       m.clock(),
		ClockSkew: m.cfg.ClockSkew,
		Network:   m.cfg.Network,
		addresses: m.addresses,
	}
	for _, check := range m.checks {
		if check.fn(env, &d.Claims, d.PublicKeys) {
			continue
		}
		m.logger.Debug("token check failed",
			zap.String("check", string(check.id)),
			zap.String("jti", d.Claims.JWTID),
			zap.String("iss", d.Claims.IssuerString()),
		)
		return checkError(check.id, codeForCheck(check.id))
	}
	return nil
}

// Valid reports whether every check passes.
func (m *Message) Valid(d *Decoded) bool {
	return m.Verify(d) == nil
}

// DecodeAndVerify decodes token and runs the checks.
func (m *Message) DecodeAndVerify(token string) (*Decoded, error) {
	d, err := m.Decode(token)
	if err != nil {
		return nil, err
	}
	if err := m.Verify(d); err != nil {
		return d, err
	}
	return d, nil
}

func (m *Message) now() time.Time {
	return m.clock()
}

func containsCheck(ids []CheckID, id CheckID) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
