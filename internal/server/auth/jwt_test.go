package auth

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/duodeck/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse_Success(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")
	tok, err := GenerateToken("phone-1", secret, time.Hour)
	require.NoError(t, err)

	got, err := GetDeviceIDFromToken(tok, secret)
	require.NoError(t, err)
	assert.Equal(t, "phone-1", got)
}

func TestGetDeviceIDFromToken_Expired(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")
	tok, err := GenerateToken("d1", secret, -time.Second)
	require.NoError(t, err)

	_, err = GetDeviceIDFromToken(tok, secret)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestGetDeviceIDFromToken_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken("d2", []byte("right-secret"), time.Hour)
	require.NoError(t, err)

	_, err = GetDeviceIDFromToken(tok, []byte("wrong-secret"))
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestGetDeviceIDFromToken_Malformed(t *testing.T) {
	t.Parallel()

	_, err := GetDeviceIDFromToken("not.a.jwt", []byte("k"))
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestGetDeviceIDFromToken_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	secret := []byte("k")
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		DeviceID:         "d3",
	}).SignedString(secret)
	require.NoError(t, err)

	_, err = GetDeviceIDFromToken(tok, secret)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestGetDeviceIDFromToken_MissingDevice(t *testing.T) {
	t.Parallel()

	secret := []byte("k")
	tok, err := GenerateToken("", secret, time.Hour)
	require.NoError(t, err)

	_, err = GetDeviceIDFromToken(tok, secret)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}
