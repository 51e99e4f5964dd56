package utils

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maheshrc27/postcraft/internal/transfer"
)

const tokenIssuer = "postcraft"

var ErrInvalidToken = errors.New("invalid token")

func GenerateToken(secretKey, userID string, tokenDuration time.Duration) (string, error) {
	return signClaims(secretKey, newClaims(userID, tokenDuration))
}

// GenerateStateToken signs an OAuth state naming userID. The PKCE verifier
// is sealed inside it since the state passes through the destination.
func GenerateStateToken(secretKey, userID, verifier string, tokenDuration time.Duration) (string, error) {
	claims := newClaims(userID, tokenDuration)
	if verifier != "" {
		sealed, err := Encrypt([]byte(verifier), stateKey(secretKey))
		if err != nil {
			return "", fmt.Errorf("seal verifier: %w", err)
		}
		claims.Verifier = sealed
	}
	return signClaims(secretKey, claims)
}

// ParseStateToken validates an OAuth state and opens its verifier. A state
// minted without one yields an empty verifier.
func ParseStateToken(secretKey, tokenString string) (*transfer.CustomClaims, string, error) {
	claims, err := ValidateToken(secretKey, tokenString)
	if err != nil {
		return nil, "", err
	}
	if claims.Verifier == "" {
		return claims, "", nil
	}

	verifier, err := Decrypt(claims.Verifier, stateKey(secretKey))
	if err != nil {
		return nil, "", fmt.Errorf("%w: open verifier: %w", ErrInvalidToken, err)
	}
	return claims, verifier, nil
}

func stateKey(secretKey string) []byte {
	sum := sha256.Sum256([]byte("oauth-state:" + secretKey))
	return sum[:]
}

func newClaims(userID string, tokenDuration time.Duration) transfer.CustomClaims {
	now := time.Now()
	return transfer.CustomClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}
}

func signClaims(secretKey string, claims transfer.CustomClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signedToken, nil
}

func ValidateToken(secretKey, tokenString string) (*transfer.CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &transfer.CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid token signing method")
		}
		return []byte(secretKey), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*transfer.CustomClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
