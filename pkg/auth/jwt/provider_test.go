package jwt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivecore/internal/testutil"
	"hivecore/pkg/auth"
	"hivecore/pkg/config"
)

func TestIssueVerifyHS256(t *testing.T) {
	p, err := NewProvider(Config{Secret: "s3cret", Issuer: "hivecore"})
	require.NoError(t, err)
	assert.Equal(t, "HS256", p.Algorithm())

	token, err := p.Issue(auth.Identity{Process: "worker", ID: "abc", Roles: []string{"reader"}})
	require.NoError(t, err)

	id, err := p.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "worker", id.Process)
	assert.Equal(t, "abc", id.ID)
	assert.Equal(t, []string{"reader"}, id.Roles)
	assert.False(t, id.ExpiresAt.IsZero())
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	a, err := NewProvider(Config{Secret: "one"})
	require.NoError(t, err)
	b, err := NewProvider(Config{Secret: "two"})
	require.NoError(t, err)

	token, err := a.Issue(auth.Identity{Process: "worker"})
	require.NoError(t, err)

	_, err = b.Verify(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestVerifyRejectsAlgorithmSwitch(t *testing.T) {
	hs256, err := NewProvider(Config{Secret: "same"})
	require.NoError(t, err)
	hs512, err := NewProvider(Config{Secret: "same", Algorithm: "HS512"})
	require.NoError(t, err)

	token, err := hs512.Issue(auth.Identity{Process: "worker"})
	require.NoError(t, err)

	_, err = hs256.Verify(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestVerifyExpired(t *testing.T) {
	clock := testutil.NewFakeClock(time.Now())
	p, err := NewProvider(Config{Secret: "s", TTL: time.Minute}, func(o *Options) { o.Now = clock.Now })
	require.NoError(t, err)

	token, err := p.Issue(auth.Identity{Process: "worker"})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = p.Verify(token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestVerifyIssuerAndAudience(t *testing.T) {
	a, err := NewProvider(Config{Secret: "s", Issuer: "one", Audience: "cluster-a"})
	require.NoError(t, err)
	b, err := NewProvider(Config{Secret: "s", Issuer: "one", Audience: "cluster-b"})
	require.NoError(t, err)

	token, err := a.Issue(auth.Identity{Process: "worker"})
	require.NoError(t, err)

	_, err = a.Verify(token)
	require.NoError(t, err)
	_, err = b.Verify(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestRS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	signer, err := NewProvider(Config{Algorithm: "RS256", PrivateKey: string(privPEM)})
	require.NoError(t, err)
	verifier, err := NewProvider(Config{Algorithm: "RS256", PublicKey: string(pubPEM)})
	require.NoError(t, err)

	token, err := signer.Issue(auth.Identity{Process: "api"})
	require.NoError(t, err)
	id, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "api", id.Process)

	_, err = verifier.Issue(auth.Identity{Process: "api"})
	assert.Error(t, err)
}

func TestNewProviderErrors(t *testing.T) {
	_, err := NewProvider(Config{})
	assert.Error(t, err)

	_, err = NewProvider(Config{Secret: "s", Algorithm: "ES999"})
	assert.True(t, errors.Is(err, auth.ErrUnknownMethod))

	_, err = NewProvider(Config{Algorithm: "RS256"})
	assert.Error(t, err)
}

func TestIssueRequiresProcess(t *testing.T) {
	p, err := NewProvider(Config{Secret: "s"})
	require.NoError(t, err)
	_, err = p.Issue(auth.Identity{})
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	m := config.NewConfigManager()
	m.AddSource(config.NewMapSource("test", config.SourceFile, map[string]interface{}{
		"ipc.secret":         "from-config",
		"ipc.auth.algorithm": "HS384",
		"ipc.auth.ttl":       "30s",
	}))
	require.NoError(t, m.Load(context.Background()))

	p, err := FromConfig(m)
	require.NoError(t, err)
	assert.Equal(t, "HS384", p.Algorithm())
	assert.Equal(t, 30*time.Second, p.ttl)
}
