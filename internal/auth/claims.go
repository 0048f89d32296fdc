package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the token claims the server relies on.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"` // "authenticated" or "anon"
}

// GetUserID returns the subject claim.
func (c *Claims) GetUserID() string {
	return c.Subject
}
