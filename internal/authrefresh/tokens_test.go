package authrefresh

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndVerifyAccessTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-signing-key"))
	userID := uuid.New()

	token, err := issuer.MintAccessToken(userID, time.Now())
	require.NoError(t, err)

	got, err := issuer.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestVerifyAccessTokenRejectsExpiredToken(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-signing-key"))
	token, err := issuer.MintAccessToken(uuid.New(), time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = issuer.VerifyAccessToken(token)
	assert.Error(t, err)
}

func TestVerifyAccessTokenRejectsWrongSigningKey(t *testing.T) {
	issuer := NewTokenIssuer([]byte("key-a"))
	token, err := issuer.MintAccessToken(uuid.New(), time.Now())
	require.NoError(t, err)

	other := NewTokenIssuer([]byte("key-b"))
	_, err = other.VerifyAccessToken(token)
	assert.Error(t, err)
}

func TestNewRefreshTokenHashMatchesHashRefreshToken(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-signing-key"))
	raw, hash := issuer.NewRefreshToken()

	assert.Equal(t, HashRefreshToken(raw), hash)
	assert.NotEmpty(t, raw)
}

func TestNewRefreshTokenIsUnpredictableAcrossCalls(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-signing-key"))
	raw1, hash1 := issuer.NewRefreshToken()
	raw2, hash2 := issuer.NewRefreshToken()

	assert.NotEqual(t, raw1, raw2)
	assert.NotEqual(t, hash1, hash2)
}
