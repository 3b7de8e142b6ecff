// Package jwt issues and verifies process identity tokens with
// github.com/golang-jwt/jwt/v5.
package jwt

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hivecore/pkg/auth"
	"hivecore/pkg/config"
)

const DefaultTTL = time.Hour

type Config struct {
	Secret     string        `json:"secret" yaml:"secret"`
	PrivateKey string        `json:"private_key" yaml:"private_key"`
	PublicKey  string        `json:"public_key" yaml:"public_key"`
	Algorithm  string        `json:"algorithm" yaml:"algorithm"`
	Issuer     string        `json:"issuer" yaml:"issuer"`
	Audience   string        `json:"audience" yaml:"audience"`
	TTL        time.Duration `json:"ttl" yaml:"ttl"`
}

type Options struct {
	Now func() time.Time
}

type Provider struct {
	secretKey     []byte
	privateKey    *rsa.PrivateKey
	publicKey     *rsa.PublicKey
	signingMethod jwt.SigningMethod
	issuer        string
	audience      string
	ttl           time.Duration
	now           func() time.Time
}

var _ auth.TokenIssuer = (*Provider)(nil)

type claims struct {
	Process string   `json:"proc"`
	Roles   []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func NewProvider(cfg Config, optFns ...func(o *Options)) (*Provider, error) {
	o := Options{Now: time.Now}
	for _, fn := range optFns {
		fn(&o)
	}

	p := &Provider{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		now:      o.Now,
	}
	if p.ttl <= 0 {
		p.ttl = DefaultTTL
	}

	alg := cfg.Algorithm
	if alg == "" {
		alg = "HS256"
	}
	switch alg {
	case "HS256", "HS384", "HS512":
		if cfg.Secret == "" {
			return nil, fmt.Errorf("%s requires a shared secret", alg)
		}
		p.signingMethod = jwt.GetSigningMethod(alg)
		p.secretKey = []byte(cfg.Secret)
	case "RS256":
		p.signingMethod = jwt.SigningMethodRS256
		if cfg.PrivateKey != "" {
			privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKey))
			if err != nil {
				return nil, fmt.Errorf("failed to parse private key: %w", err)
			}
			p.privateKey = privateKey
			p.publicKey = &privateKey.PublicKey
		}
		if cfg.PublicKey != "" {
			publicKey, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKey))
			if err != nil {
				return nil, fmt.Errorf("failed to parse public key: %w", err)
			}
			p.publicKey = publicKey
		}
		if p.publicKey == nil {
			return nil, errors.New("RS256 requires a private or public key")
		}
	default:
		return nil, fmt.Errorf("%w: %s", auth.ErrUnknownMethod, alg)
	}
	return p, nil
}

// FromConfig builds a provider from the ipc.secret and ipc.auth.* keys.
func FromConfig(m *config.ConfigManager, optFns ...func(o *Options)) (*Provider, error) {
	var cfg Config
	cfg.Secret, _ = m.GetString("ipc.secret")
	cfg.Algorithm, _ = m.GetString("ipc.auth.algorithm")
	cfg.Issuer, _ = m.GetString("ipc.auth.issuer")
	cfg.Audience, _ = m.GetString("ipc.auth.audience")
	cfg.PrivateKey, _ = m.GetString("ipc.auth.private_key")
	cfg.PublicKey, _ = m.GetString("ipc.auth.public_key")
	if m.Has("ipc.auth.ttl") {
		ttl, err := m.GetDuration("ipc.auth.ttl")
		if err != nil {
			return nil, err
		}
		cfg.TTL = ttl
	}
	return NewProvider(cfg, optFns...)
}

func (p *Provider) Algorithm() string { return p.signingMethod.Alg() }

// Issue signs id. The token expires after the configured TTL.
func (p *Provider) Issue(id auth.Identity) (string, error) {
	if id.Process == "" {
		return "", errors.New("identity has no process name")
	}
	if p.secretKey == nil && p.privateKey == nil {
		return "", errors.New("provider has no signing key")
	}

	now := p.now()
	c := claims{
		Process: id.Process,
		Roles:   id.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	}
	if p.audience != "" {
		c.Audience = jwt.ClaimStrings{p.audience}
	}

	token := jwt.NewWithClaims(p.signingMethod, c)
	var signed string
	var err error
	if p.secretKey != nil {
		signed, err = token.SignedString(p.secretKey)
	} else {
		signed, err = token.SignedString(p.privateKey)
	}
	if err != nil {
		return "", fmt.Errorf("failed to sign identity: %w", err)
	}
	return signed, nil
}

func (p *Provider) Verify(tokenString string) (*auth.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(p.now),
		jwt.WithExpirationRequired(),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}

	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != p.signingMethod.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		if p.secretKey != nil {
			return p.secretKey, nil
		}
		return p.publicKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", auth.ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	}
	if !token.Valid || c.Process == "" {
		return nil, auth.ErrInvalidToken
	}

	id := &auth.Identity{
		Process: c.Process,
		ID:      c.Subject,
		Roles:   c.Roles,
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id, nil
}
