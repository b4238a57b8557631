package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"movt.app/backend/internal/config"
)

func withSecret(t *testing.T, secret string) {
	t.Helper()
	prev := config.AppConfig
	config.AppConfig.JWTSecret = secret
	config.AppConfig.JWTTTL = time.Hour
	t.Cleanup(func() { config.AppConfig = prev })
}

func TestJWTRoundTrip(t *testing.T) {
	withSecret(t, "test-secret")

	token, err := GenerateJWT(42)
	require.NoError(t, err)
	assert.True(t, LooksLikeJWT(token))

	userID, err := ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestValidateJWTRejectsForeignSecret(t *testing.T) {
	withSecret(t, "one")
	token, err := GenerateJWT(7)
	require.NoError(t, err)

	config.AppConfig.JWTSecret = "two"
	_, err = ValidateJWT(token)
	assert.Error(t, err)
}

func TestValidateJWTRejectsExpiredAndNonNumericSubjects(t *testing.T) {
	withSecret(t, "s")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "5",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	signed, err := expired.SignedString([]byte("s"))
	require.NoError(t, err)
	_, err = ValidateJWT(signed)
	assert.Error(t, err)

	uuidSub := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "0b6f3c2e-1111-2222-3333-444455556666",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err = uuidSub.SignedString([]byte("s"))
	require.NoError(t, err)
	_, err = ValidateJWT(signed)
	assert.Error(t, err)
}

func TestLooksLikeJWT(t *testing.T) {
	assert.False(t, LooksLikeJWT("8c1e4a52-legacy-session"))
	assert.True(t, LooksLikeJWT("a.b.c"))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("s3cret!", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))
	assert.False(t, CheckPasswordHash("s3cret!", ""))

	_, err = HashPassword("abc")
	assert.Error(t, err)
}
