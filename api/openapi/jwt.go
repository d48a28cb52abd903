package openapi

import (
	"crypto"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWT access token 的 claims，Subject 為使用者 ID
type JWT struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// ParseAndValidateJWT 以私鑰對應的公鑰驗證 EdDSA 簽章
func ParseAndValidateJWT(tokenString string, secret crypto.Signer, opts ...jwt.ParserOption) (*JWT, error) {
	const op = "ParseAndValidateJWT"
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	token, err := jwt.ParseWithClaims(tokenString, &JWT{}, func(token *jwt.Token) (interface{}, error) {
		return secret.Public(), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("[%s] token is invalid", op)
	}
	claims, ok := token.Claims.(*JWT)
	if !ok {
		return nil, fmt.Errorf("[%s] token claims are invalid", op)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("[%s] token without subject", op)
	}
	return claims, nil
}
