package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Multi-tenant invariant: TenantID must be present; every dashboard query is scoped by it.
type Claims struct {
	jwt.RegisteredClaims

	UserID      string    `json:"user_id"`
	TenantID    string    `json:"tenant_id"`
	Role        string    `json:"role"`
	TokenType   TokenType `json:"token_type"`
}
