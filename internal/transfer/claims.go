package transfer

import "github.com/golang-jwt/jwt/v5"

type CustomClaims struct {
	UserID string `json:"user_id"`
	// Verifier is the sealed PKCE verifier of an OAuth state token.
	Verifier string `json:"cv,omitempty"`
	jwt.RegisteredClaims
}
