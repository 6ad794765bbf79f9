// Package auth issues and verifies the device access tokens accepted by the
// document store server.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/duodeck/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the registered claims and the device the token was minted
// for.
type Claims struct {
	jwt.RegisteredClaims
	DeviceID string `json:"device_id"`
}

// GenerateToken signs an HS256 token for deviceID valid for validity.
func GenerateToken(deviceID string, secretKey []byte, validity time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
			Subject:   deviceID,
		},
		DeviceID: deviceID,
	})
	return token.SignedString(secretKey)
}

// GetDeviceIDFromToken verifies tokenString and returns its device id.
// Expired tokens yield common.ErrTokenExpired, every other failure
// common.ErrInvalidToken.
func GetDeviceIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "", common.ErrTokenExpired
	}
	if err != nil || !token.Valid || claims.DeviceID == "" {
		return "", common.ErrInvalidToken
	}
	return claims.DeviceID, nil
}
