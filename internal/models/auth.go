package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthContext identifies the resolved caller of an operation. The workflow
// engine trusts this value and performs no credential verification itself.
type AuthContext struct {
	AccountID string
	Role      Role
}

// JWTClaims carries the authenticated account inside an access token.
type JWTClaims struct {
	AccountID string `json:"account_id"`
	Role      Role   `json:"role"`
	jwt.RegisteredClaims
}

// Context converts token claims into the AuthContext consumed by services.
func (c *JWTClaims) Context() AuthContext {
	return AuthContext{AccountID: c.AccountID, Role: c.Role}
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is returned on successful authentication.
type LoginResponse struct {
	AccessToken         string    `json:"access_token"`
	ExpiresIn           int64     `json:"expires_in"`
	IssuedAt            time.Time `json:"issued_at"`
	AccountID           string    `json:"account_id"`
	Role                Role      `json:"role"`
	ForcePasswordChange bool      `json:"force_password_change"`
}

// ChangePasswordRequest is the self-service password change payload.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6"`
}
